package snapshot

import (
	"cmp"
	"math/rand"
	"slices"
	"testing"

	"github.com/cfoust/tether/pkg/geom"
	P "github.com/cfoust/tether/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func state(id uint64, x float32) P.ActorState {
	return P.ActorState{
		ID:          id,
		Position:    geom.NewVector(x, 0, 0),
		FacingRight: true,
		Animation:   "Idle",
	}
}

func TestResyncCadence(t *testing.T) {
	channel := NewChannel(30)
	actors := []P.ActorState{state(1, 0)}

	fullTicks := make([]uint64, 0)
	for tick := uint64(1); tick <= 61; tick++ {
		// Something changes every tick so deltas are never skipped.
		out, ok, err := channel.Produce(tick, actors, actors, nil)
		require.NoError(t, err)
		require.True(t, ok)

		if out.Full {
			fullTicks = append(fullTicks, tick)
			assert.IsType(t, P.WorldSnapshot{}, out.Packet)
		} else {
			assert.IsType(t, P.WorldSnapshotDelta{}, out.Packet)
		}

		decoded, err := P.DecodeGamePacket(out.Frame)
		require.NoError(t, err)
		assert.Equal(t, out.Packet, decoded)
	}

	assert.Equal(t, []uint64{1, 31, 61}, fullTicks)

	stats := channel.Stats()
	assert.Equal(t, uint64(3), stats.FullCount)
	assert.Equal(t, uint64(58), stats.DeltaCount)
	assert.NotZero(t, stats.FullBytes)
	assert.NotZero(t, stats.DeltaBytes)
}

func TestTick31IsFullRegardlessOfChanges(t *testing.T) {
	channel := NewChannel(30)
	actors := []P.ActorState{state(1, 0), state(2, 5)}

	for tick := uint64(1); tick <= 30; tick++ {
		_, _, err := channel.Produce(tick, actors, nil, nil)
		require.NoError(t, err)
	}

	out, ok, err := channel.Produce(31, actors, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, out.Full)
	assert.Equal(t, P.WorldSnapshot{Tick: 31, Actors: actors}, out.Packet)
}

func TestEmptyDeltaIsSkipped(t *testing.T) {
	channel := NewChannel(30)
	first, ok, err := channel.Produce(1, nil, nil, nil)
	require.NoError(t, err)
	assert.True(t, ok, "the first snapshot goes out even for an empty world")
	assert.Equal(t, P.WorldSnapshot{Tick: 1, Actors: []P.ActorState{}}, first.Packet)

	decoded, err := P.DecodeGamePacket(first.Frame)
	require.NoError(t, err)
	assert.Equal(t, first.Packet, decoded)

	_, ok, err = channel.Produce(2, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), channel.Stats().Skipped)

	out, ok, err := channel.Produce(3, nil, nil, []uint64{4})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, P.WorldSnapshotDelta{Tick: 3, Changed: []P.ActorState{}, Removed: []uint64{4}}, out.Packet)

	decoded, err = P.DecodeGamePacket(out.Frame)
	require.NoError(t, err)
	assert.Equal(t, out.Packet, decoded)
}

func TestDiffer(t *testing.T) {
	differ := NewDiffer()

	changed, removed := differ.Diff([]P.ActorState{state(1, 0), state(2, 0)})
	assert.Len(t, changed, 2, "new actors are changed")
	assert.Empty(t, removed)

	changed, removed = differ.Diff([]P.ActorState{state(1, 0.005), state(2, 3)})
	require.Len(t, changed, 1)
	assert.Equal(t, uint64(2), changed[0].ID)
	assert.Empty(t, removed)

	// Sub-epsilon drift accumulates against the last reported state.
	changed, _ = differ.Diff([]P.ActorState{state(1, 0.011), state(2, 3)})
	require.Len(t, changed, 1)
	assert.Equal(t, uint64(1), changed[0].ID)

	tagged := state(2, 3)
	tagged.Animation = "Run"
	changed, removed = differ.Diff([]P.ActorState{tagged})
	assert.Equal(t, []P.ActorState{tagged}, changed)
	assert.Equal(t, []uint64{1}, removed)
}

func TestReplicaOrdering(t *testing.T) {
	replica := NewReplica()

	_, err := replica.Apply(P.WorldSnapshotDelta{Tick: 2, Changed: []P.ActorState{state(1, 1)}})
	assert.ErrorIs(t, err, ErrNoBaseline)
	assert.False(t, replica.Synchronized())

	update, err := replica.Apply(P.WorldSnapshot{Tick: 5, Actors: []P.ActorState{state(1, 0), state(2, 0)}})
	require.NoError(t, err)
	assert.True(t, update.Full)

	update, err = replica.Apply(P.WorldSnapshotDelta{Tick: 7, Changed: []P.ActorState{state(1, 9)}, Removed: []uint64{2}})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, update.Removed)

	// Reordered: arrives after 7
	_, err = replica.Apply(P.WorldSnapshotDelta{Tick: 6, Changed: []P.ActorState{state(1, 4)}})
	assert.ErrorIs(t, err, ErrStale)
	_, err = replica.Apply(P.WorldSnapshot{Tick: 7, Actors: []P.ActorState{state(1, 4)}})
	assert.ErrorIs(t, err, ErrStale)

	assert.Equal(t, []P.ActorState{state(1, 9)}, replica.Actors())
	stats := replica.Stats()
	assert.Equal(t, uint64(2), stats.Stale)
	assert.Equal(t, uint64(1), stats.Orphaned)
	assert.Equal(t, uint64(7), stats.LastTick)

	update, err = replica.Apply(P.WorldSnapshot{Tick: 8, Actors: []P.ActorState{state(3, 0)}})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, update.Removed, "a full snapshot drops actors it does not mention")
}

// truth is a toy authoritative world driven by a seeded rng.
type truth struct {
	rng    *rand.Rand
	actors map[uint64]P.ActorState
	nextID uint64
}

func (w *truth) step() {
	if len(w.actors) < 8 || w.rng.Intn(10) == 0 {
		w.nextID++
		w.actors[w.nextID] = state(w.nextID, float32(w.rng.Intn(100)))
	}

	for id, actor := range w.actors {
		switch w.rng.Intn(6) {
		case 0:
			delete(w.actors, id)
		case 1, 2:
			actor.Position.X += float32(w.rng.Intn(20)) - 10
			w.actors[id] = actor
		case 3:
			actor.FacingRight = !actor.FacingRight
			w.actors[id] = actor
		}
	}
}

func (w *truth) list() []P.ActorState {
	actors := make([]P.ActorState, 0, len(w.actors))
	for _, actor := range w.actors {
		actors = append(actors, actor)
	}
	slices.SortFunc(actors, func(a, b P.ActorState) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return actors
}

func assertConverged(t *testing.T, want, got []P.ActorState, tick uint64) {
	require.Len(t, got, len(want), "tick %d", tick)
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID, "tick %d", tick)
		assert.Equal(t, want[i].FacingRight, got[i].FacingRight, "tick %d", tick)
		assert.InDelta(t, want[i].Position.X, got[i].Position.X, DefaultPositionEpsilon, "tick %d", tick)
	}
}

func TestDeltaCompleteness(t *testing.T) {
	world := &truth{rng: rand.New(rand.NewSource(7)), actors: map[uint64]P.ActorState{}}
	channel := NewChannel(30)
	differ := NewDiffer()
	replica := NewReplica()

	for tick := uint64(1); tick <= 300; tick++ {
		world.step()
		actors := world.list()
		changed, removed := differ.Diff(actors)

		out, ok, err := channel.Produce(tick, actors, changed, removed)
		require.NoError(t, err)
		if ok {
			decoded, err := P.DecodeGamePacket(out.Frame)
			require.NoError(t, err)
			_, err = replica.Apply(decoded)
			require.NoError(t, err)
		}

		assertConverged(t, actors, replica.Actors(), tick)
	}
}

func TestResyncBound(t *testing.T) {
	const cadence = 30

	world := &truth{rng: rand.New(rand.NewSource(11)), actors: map[uint64]P.ActorState{}}
	channel := NewChannel(cadence)
	differ := NewDiffer()
	replica := NewReplica()
	drop := rand.New(rand.NewSource(3))

	for tick := uint64(1); tick <= 600; tick++ {
		world.step()
		actors := world.list()
		changed, removed := differ.Diff(actors)

		out, ok, err := channel.Produce(tick, actors, changed, removed)
		require.NoError(t, err)
		if !ok {
			continue
		}

		// Lose up to every delta but never a full snapshot.
		if !out.Full && drop.Intn(3) != 0 {
			continue
		}

		_, err = replica.Apply(out.Packet)
		require.NoError(t, err)

		if out.Full {
			assert.Equal(t, actors, replica.Actors(), "tick %d", tick)
		}
	}
}
