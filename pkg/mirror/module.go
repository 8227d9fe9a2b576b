// Package mirror copies the authoritative actor table to an external store
// after every tick, off the tick's goroutine.
package mirror

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cfoust/tether/pkg/geom"
	"github.com/cfoust/tether/pkg/metrics"
	P "github.com/cfoust/tether/pkg/protocol"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

type Entry struct {
	Key   string
	Value []byte
}

type Batch struct {
	Set    []Entry
	Delete []string

	// Actor ids behind Set and Delete.
	written []uint64
	removed []uint64
}

func (b Batch) Empty() bool {
	return len(b.Set) == 0 && len(b.Delete) == 0
}

type Writer interface {
	Write(ctx context.Context, batch Batch) error
}

// Record is the stored form of one actor.
type Record struct {
	ID          uint64     `cbor:"id"`
	Tick        uint64     `cbor:"tick"`
	Position    [3]float32 `cbor:"position"`
	Velocity    [3]float32 `cbor:"velocity"`
	FacingRight bool       `cbor:"facingRight"`
	Animation   string     `cbor:"animation"`
}

func vector(v geom.Vector) [3]float32 {
	return [3]float32{v.X, v.Y, v.Z}
}

func (r Record) State() P.ActorState {
	return P.ActorState{
		ID:          r.ID,
		Position:    geom.NewVector(r.Position[0], r.Position[1], r.Position[2]),
		Velocity:    geom.NewVector(r.Velocity[0], r.Velocity[1], r.Velocity[2]),
		FacingRight: r.FacingRight,
		Animation:   r.Animation,
	}
}

func Decode(data []byte) (Record, error) {
	var record Record
	err := cbor.Unmarshal(data, &record)
	return record, err
}

type Options struct {
	KeyPrefix    string
	QueueSize    int
	MaxRetries   int
	RetryBackoff time.Duration
}

func DefaultOptions() Options {
	return Options{
		KeyPrefix:    "actor:",
		QueueSize:    128,
		MaxRetries:   3,
		RetryBackoff: 20 * time.Millisecond,
	}
}

type Stats struct {
	Queued    uint64
	Processed uint64
	Dropped   uint64
	Failed    uint64
	Retries   uint64
}

type Mirror struct {
	options Options
	writer  Writer
	queue   chan Batch
	metrics *metrics.Metrics

	// Hash of the last queued value per actor, owned by the publisher.
	hashes map[uint64]uint64
	// Removals from dropped batches.
	pending []uint64

	// Batches the writer gave up on, folded back in by the next publish.
	failedMutex deadlock.Mutex
	failed      []Batch

	queued    atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	failures  atomic.Uint64
	retries   atomic.Uint64
}

func New(writer Writer, options Options, m *metrics.Metrics) *Mirror {
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultOptions().QueueSize
	}
	if m == nil {
		m = metrics.Nop()
	}

	return &Mirror{
		options: options,
		writer:  writer,
		queue:   make(chan Batch, options.QueueSize),
		metrics: m,
		hashes:  make(map[uint64]uint64),
	}
}

func (m *Mirror) Key(id uint64) string {
	return fmt.Sprintf("%s%d:state", m.options.KeyPrefix, id)
}

// Publish queues the actors whose stored form changed and deletes the
// removed ones. It never blocks: when the queue is full the batch is
// dropped and retried implicitly on the next publish.
func (m *Mirror) Publish(tick uint64, actors []P.ActorState, removed []uint64) bool {
	m.requeueFailed()

	batch := Batch{}
	hashes := make(map[uint64]uint64, len(actors))

	for _, actor := range actors {
		// The tick is left out of the hash so unchanged actors stay quiet.
		value, err := cbor.Marshal(Record{
			ID:          actor.ID,
			Position:    vector(actor.Position),
			Velocity:    vector(actor.Velocity),
			FacingRight: actor.FacingRight,
			Animation:   actor.Animation,
		})
		if err != nil {
			log.Error().Err(err).Uint64("actor", actor.ID).Msg("failed to encode actor record")
			continue
		}

		hash := xxhash.Sum64(value)
		if previous, ok := m.hashes[actor.ID]; ok && previous == hash {
			m.metrics.MirrorWrites.WithLabelValues("skipped").Inc()
			continue
		}
		hashes[actor.ID] = hash

		value, err = cbor.Marshal(Record{
			ID:          actor.ID,
			Tick:        tick,
			Position:    vector(actor.Position),
			Velocity:    vector(actor.Velocity),
			FacingRight: actor.FacingRight,
			Animation:   actor.Animation,
		})
		if err != nil {
			continue
		}

		batch.Set = append(batch.Set, Entry{
			Key:   m.Key(actor.ID),
			Value: value,
		})
		batch.written = append(batch.written, actor.ID)
	}

	removed = append(m.pending, removed...)
	for _, id := range removed {
		batch.Delete = append(batch.Delete, m.Key(id))
	}
	batch.removed = removed

	if batch.Empty() {
		return true
	}

	select {
	case m.queue <- batch:
	default:
		m.dropped.Add(1)
		m.metrics.MirrorWrites.WithLabelValues("dropped").Inc()
		m.pending = removed
		return false
	}

	m.queued.Add(1)
	m.pending = nil
	for id, hash := range hashes {
		m.hashes[id] = hash
	}
	for _, id := range removed {
		delete(m.hashes, id)
	}
	return true
}

func (m *Mirror) write(ctx context.Context, batch Batch) {
	defer m.processed.Add(1)

	for attempt := 0; attempt <= m.options.MaxRetries; attempt++ {
		err := m.writer.Write(ctx, batch)
		if err == nil {
			m.metrics.MirrorWrites.WithLabelValues("ok").Inc()
			return
		}

		log.Debug().Err(err).Int("attempt", attempt).Msg("mirror write failed")

		if attempt == m.options.MaxRetries {
			break
		}

		m.retries.Add(1)
		select {
		case <-time.After(m.options.RetryBackoff):
		case <-ctx.Done():
			return
		}
	}

	m.failedMutex.Lock()
	m.failed = append(m.failed, batch)
	m.failedMutex.Unlock()

	m.failures.Add(1)
	m.metrics.MirrorWrites.WithLabelValues("failed").Inc()
	log.Warn().
		Int("set", len(batch.Set)).
		Int("delete", len(batch.Delete)).
		Msg("gave up on mirror write")
}

// requeueFailed makes the next publish rewrite what failed batches carried:
// their actors count as changed again and their removals are repeated.
func (m *Mirror) requeueFailed() {
	m.failedMutex.Lock()
	failed := m.failed
	m.failed = nil
	m.failedMutex.Unlock()

	for _, batch := range failed {
		for _, id := range batch.written {
			delete(m.hashes, id)
		}
		m.pending = append(m.pending, batch.removed...)
	}
}

// Run writes queued batches until ctx is done.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case batch := <-m.queue:
			m.write(ctx, batch)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Mirror) Stats() Stats {
	return Stats{
		Queued:    m.queued.Load(),
		Processed: m.processed.Load(),
		Dropped:   m.dropped.Load(),
		Failed:    m.failures.Load(),
		Retries:   m.retries.Load(),
	}
}
