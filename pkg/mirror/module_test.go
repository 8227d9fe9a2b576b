package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cfoust/tether/pkg/geom"
	P "github.com/cfoust/tether/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mutex   sync.Mutex
	fail    int
	batches []Batch
	store   map[string][]byte
}

func newFakeWriter(fail int) *fakeWriter {
	return &fakeWriter{
		fail:  fail,
		store: make(map[string][]byte),
	}
}

func (f *fakeWriter) Write(ctx context.Context, batch Batch) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.fail > 0 {
		f.fail--
		return errors.New("connection refused")
	}

	f.batches = append(f.batches, batch)
	for _, entry := range batch.Set {
		f.store[entry.Key] = entry.Value
	}
	for _, key := range batch.Delete {
		delete(f.store, key)
	}
	return nil
}

func (f *fakeWriter) get(key string) ([]byte, bool) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	value, ok := f.store[key]
	return value, ok
}

func actor(id uint64, x float32) P.ActorState {
	return P.ActorState{
		ID:          id,
		Position:    geom.NewVector(x, -240, 0),
		FacingRight: true,
		Animation:   "Run",
	}
}

func options() Options {
	options := DefaultOptions()
	options.RetryBackoff = time.Millisecond
	return options
}

func TestPublishSkipsUnchanged(t *testing.T) {
	writer := newFakeWriter(0)
	mirror := New(writer, options(), nil)

	require.True(t, mirror.Publish(1, []P.ActorState{actor(1, 0), actor(2, 0)}, nil))
	require.True(t, mirror.Publish(2, []P.ActorState{actor(1, 0), actor(2, 5)}, nil))
	require.True(t, mirror.Publish(3, []P.ActorState{actor(1, 0), actor(2, 5)}, nil))

	assert.Equal(t, uint64(2), mirror.Stats().Queued)

	first := <-mirror.queue
	assert.Len(t, first.Set, 2)
	second := <-mirror.queue
	require.Len(t, second.Set, 1)
	assert.Equal(t, "actor:2:state", second.Set[0].Key)

	record, err := Decode(second.Set[0].Value)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), record.Tick)
	assert.Equal(t, actor(2, 5), record.State())
}

func TestRunRetriesThenWrites(t *testing.T) {
	writer := newFakeWriter(2)
	mirror := New(writer, options(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mirror.Run(ctx)

	require.True(t, mirror.Publish(1, []P.ActorState{actor(7, 3)}, nil))

	require.Eventually(t, func() bool {
		return mirror.Stats().Processed == 1
	}, time.Second, time.Millisecond)

	stats := mirror.Stats()
	assert.Equal(t, uint64(2), stats.Retries)
	assert.Zero(t, stats.Failed)

	value, ok := writer.get("actor:7:state")
	require.True(t, ok)
	record, err := Decode(value)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), record.ID)

	require.True(t, mirror.Publish(2, nil, []uint64{7}))
	require.Eventually(t, func() bool {
		_, ok := writer.get("actor:7:state")
		return !ok
	}, time.Second, time.Millisecond)
}

func TestRunGivesUp(t *testing.T) {
	writer := newFakeWriter(100)
	mirror := New(writer, options(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mirror.Run(ctx)

	mirror.Publish(1, []P.ActorState{actor(1, 0)}, nil)
	require.Eventually(t, func() bool {
		return mirror.Stats().Failed == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(3), mirror.Stats().Retries)
}

func TestFailedWriteIsRepublished(t *testing.T) {
	writer := newFakeWriter(0)
	mirror := New(writer, options(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mirror.Run(ctx)

	require.True(t, mirror.Publish(1, []P.ActorState{actor(1, 0), actor(2, 0)}, nil))
	require.Eventually(t, func() bool {
		_, ok := writer.get("actor:2:state")
		return ok
	}, time.Second, time.Millisecond)

	// Every attempt at tick 2 fails.
	writer.mutex.Lock()
	writer.fail = options().MaxRetries + 1
	writer.mutex.Unlock()

	require.True(t, mirror.Publish(2, []P.ActorState{actor(1, 5)}, []uint64{2}))
	require.Eventually(t, func() bool {
		return mirror.Stats().Failed == 1
	}, time.Second, time.Millisecond)

	// Nothing moved since tick 2, but the store never saw it.
	require.True(t, mirror.Publish(3, []P.ActorState{actor(1, 5)}, nil))
	require.Eventually(t, func() bool {
		value, ok := writer.get("actor:1:state")
		if !ok {
			return false
		}
		record, err := Decode(value)
		return err == nil && record.Tick == 3
	}, time.Second, time.Millisecond)

	value, _ := writer.get("actor:1:state")
	record, err := Decode(value)
	require.NoError(t, err)
	assert.Equal(t, actor(1, 5), record.State())

	_, ok := writer.get("actor:2:state")
	assert.False(t, ok, "the failed removal is repeated")

	// Once written, the actor is quiet again.
	require.True(t, mirror.Publish(4, []P.ActorState{actor(1, 5)}, nil))
	assert.Equal(t, uint64(3), mirror.Stats().Queued)
}

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	opts := options()
	opts.QueueSize = 1
	mirror := New(newFakeWriter(0), opts, nil)

	assert.True(t, mirror.Publish(1, []P.ActorState{actor(1, 0)}, nil))
	assert.False(t, mirror.Publish(2, []P.ActorState{actor(1, 10)}, []uint64{4}))
	assert.Equal(t, uint64(1), mirror.Stats().Dropped)

	<-mirror.queue

	// The dropped change and removal go out with the next batch.
	assert.True(t, mirror.Publish(3, []P.ActorState{actor(1, 10)}, nil))
	batch := <-mirror.queue
	assert.Len(t, batch.Set, 1)
	assert.Equal(t, []string{"actor:4:state"}, batch.Delete)
}
