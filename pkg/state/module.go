// Package state keeps a SQLite ledger of sessions so that ids keep growing
// across restarts and connection history can be audited.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type EventKind string

const (
	EventConnect    EventKind = "connect"
	EventDisconnect EventKind = "disconnect"
	EventResume     EventKind = "resume"
	EventRefused    EventKind = "refused"
	EventExpire     EventKind = "expire"
)

type Entity struct {
	ID uint `gorm:"primaryKey"`
}

type Session struct {
	// The server-assigned session id.
	ID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	Created  time.Time
	LastSeen time.Time
	// "desktop", "mobile", "bot" and so on.
	DeviceType string `gorm:"size:16"`
	Resumes    uint
	Ended      *time.Time

	Events []Event `gorm:"foreignKey:SessionID"`
}

type Event struct {
	Entity
	SessionID uint64    `gorm:"not null;index"`
	Kind      EventKind `gorm:"not null;size:16"`
	At        time.Time
	// For resumes, the provisional id the connection started with.
	Detail uint64
}

var ErrNotFound = errors.New("session not found")

type Ledger struct {
	db *gorm.DB
}

func InitDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&Session{}, &Event{}); err != nil {
		return nil, err
	}

	return db, nil
}

func Open(path string) (*Ledger, error) {
	db, err := InitDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	db, err := l.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// NextID returns one past the highest session id ever recorded.
func (l *Ledger) NextID() (uint64, error) {
	var highest sql.NullInt64
	err := l.db.Model(&Session{}).Select("MAX(id)").Row().Scan(&highest)
	if err != nil {
		return 0, err
	}
	if !highest.Valid {
		return 1, nil
	}
	return uint64(highest.Int64) + 1, nil
}

func (l *Ledger) record(id uint64, kind EventKind, at time.Time, detail uint64) error {
	return l.db.Create(&Event{
		SessionID: id,
		Kind:      kind,
		At:        at,
		Detail:    detail,
	}).Error
}

func (l *Ledger) Connected(id uint64, deviceType string, at time.Time) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		ledger := Ledger{db: tx}
		err := tx.Create(&Session{
			ID:         id,
			Created:    at,
			LastSeen:   at,
			DeviceType: deviceType,
		}).Error
		if err != nil {
			return err
		}
		return ledger.record(id, EventConnect, at, 0)
	})
}

func (l *Ledger) Disconnected(id uint64, at time.Time) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		ledger := Ledger{db: tx}
		result := tx.Model(&Session{ID: id}).Update("last_seen", at)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return ledger.record(id, EventDisconnect, at, 0)
	})
}

// Resumed notes that the connection that started as provisional now
// continues session id. The provisional session is closed.
func (l *Ledger) Resumed(id uint64, provisional uint64, at time.Time) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		ledger := Ledger{db: tx}
		result := tx.Model(&Session{ID: id}).Updates(map[string]interface{}{
			"last_seen": at,
			"resumes":   gorm.Expr("resumes + 1"),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		err := tx.Model(&Session{ID: provisional}).Update("ended", at).Error
		if err != nil {
			return err
		}

		return ledger.record(id, EventResume, at, provisional)
	})
}

func (l *Ledger) Refused(previous uint64, provisional uint64, at time.Time) error {
	return l.record(provisional, EventRefused, at, previous)
}

// Expired closes a session whose resume window ran out.
func (l *Ledger) Expired(id uint64, at time.Time) error {
	return l.db.Transaction(func(tx *gorm.DB) error {
		ledger := Ledger{db: tx}
		err := tx.Model(&Session{ID: id}).Update("ended", at).Error
		if err != nil {
			return err
		}
		return ledger.record(id, EventExpire, at, 0)
	})
}

func (l *Ledger) Session(id uint64) (*Session, error) {
	var session Session
	err := l.db.Preload("Events", func(db *gorm.DB) *gorm.DB {
		return db.Order("id")
	}).First(&session, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}
