// Package ingress is the transport side of the server: it accepts WebSocket
// connections, turns frames into queued actions, and fans the server's
// outbox back out to connections.
package ingress

import (
	"context"
	"sync/atomic"
	"time"

	P "github.com/cfoust/tether/pkg/protocol"

	"github.com/mileusna/useragent"
)

// Sink is where connections deliver their traffic.
type Sink interface {
	Submit(session uint64, action P.PlayerAction) bool
	Connect(ctx context.Context, session uint64) error
	Disconnect(ctx context.Context, session uint64, clean bool) error
}

// Ledger records session history. Calls may block on storage and are
// never made from the tick goroutine.
type Ledger interface {
	Connected(id uint64, deviceType string, at time.Time) error
	Disconnected(id uint64, at time.Time) error
	Resumed(id uint64, provisional uint64, at time.Time) error
	Refused(previous uint64, provisional uint64, at time.Time) error
	Expired(id uint64, at time.Time) error
}

// IDAllocator hands out session ids. Start it from the ledger's NextID so
// ids are not reused across restarts.
type IDAllocator struct {
	next atomic.Uint64
}

func NewIDAllocator(start uint64) *IDAllocator {
	if start == 0 {
		start = 1
	}
	allocator := &IDAllocator{}
	allocator.next.Store(start)
	return allocator
}

func (a *IDAllocator) Next() uint64 {
	return a.next.Add(1) - 1
}

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// DeviceType classifies a User-Agent header.
func DeviceType(userAgent string) string {
	if userAgent == "" {
		return DeviceUnknown
	}

	ua := useragent.Parse(userAgent)
	switch {
	case ua.Bot:
		return DeviceBot
	case ua.Tablet:
		return DeviceTablet
	case ua.Mobile:
		return DeviceMobile
	case ua.Desktop:
		return DeviceDesktop
	}
	return DeviceUnknown
}
