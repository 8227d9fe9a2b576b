package snapshot

import (
	"errors"
	"fmt"
	"slices"

	P "github.com/cfoust/tether/pkg/protocol"
)

var (
	// The snapshot is not newer than one already applied.
	ErrStale = errors.New("stale snapshot")
	// A delta arrived before any full snapshot.
	ErrNoBaseline = errors.New("delta without baseline")
)

// Update describes what an applied snapshot did to the replica.
type Update struct {
	Tick    uint64
	Full    bool
	Changed []P.ActorState
	Removed []uint64
}

type ReplicaStats struct {
	Full      uint64
	Deltas    uint64
	Stale     uint64
	Orphaned  uint64
	LastTick  uint64
	NumActors int
}

// Replica is a client's mirror of the authoritative actor table. It is not
// safe for concurrent use.
type Replica struct {
	actors   map[uint64]P.ActorState
	lastTick uint64
	hasFull  bool
	stats    ReplicaStats
}

func NewReplica() *Replica {
	return &Replica{
		actors: make(map[uint64]P.ActorState),
	}
}

// Apply folds a snapshot into the replica. Snapshots at or below the last
// applied tick and deltas without a prior full snapshot are rejected and
// leave the replica untouched.
func (r *Replica) Apply(packet P.GamePacket) (Update, error) {
	switch packet := packet.(type) {
	case P.WorldSnapshot:
		if r.hasFull && packet.Tick <= r.lastTick {
			r.stats.Stale++
			return Update{}, fmt.Errorf("full snapshot %d: %w", packet.Tick, ErrStale)
		}
		return r.applyFull(packet), nil
	case P.WorldSnapshotDelta:
		if !r.hasFull {
			r.stats.Orphaned++
			return Update{}, fmt.Errorf("delta %d: %w", packet.Tick, ErrNoBaseline)
		}
		if packet.Tick <= r.lastTick {
			r.stats.Stale++
			return Update{}, fmt.Errorf("delta %d: %w", packet.Tick, ErrStale)
		}
		return r.applyDelta(packet), nil
	}

	return Update{}, fmt.Errorf("%s is not a snapshot", packet.Type())
}

func (r *Replica) applyFull(packet P.WorldSnapshot) Update {
	next := make(map[uint64]P.ActorState, len(packet.Actors))
	for _, actor := range packet.Actors {
		next[actor.ID] = actor
	}

	var removed []uint64
	for id := range r.actors {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)

	r.actors = next
	r.hasFull = true
	r.lastTick = packet.Tick
	r.stats.Full++

	return Update{
		Tick:    packet.Tick,
		Full:    true,
		Changed: packet.Actors,
		Removed: removed,
	}
}

func (r *Replica) applyDelta(packet P.WorldSnapshotDelta) Update {
	for _, actor := range packet.Changed {
		r.actors[actor.ID] = actor
	}

	removed := make([]uint64, 0, len(packet.Removed))
	for _, id := range packet.Removed {
		if _, ok := r.actors[id]; !ok {
			continue
		}
		delete(r.actors, id)
		removed = append(removed, id)
	}

	r.lastTick = packet.Tick
	r.stats.Deltas++

	return Update{
		Tick:    packet.Tick,
		Changed: packet.Changed,
		Removed: removed,
	}
}

func (r *Replica) Synchronized() bool {
	return r.hasFull
}

func (r *Replica) LastTick() uint64 {
	return r.lastTick
}

func (r *Replica) Get(id uint64) (P.ActorState, bool) {
	actor, ok := r.actors[id]
	return actor, ok
}

// Actors returns a copy of the table ordered by id.
func (r *Replica) Actors() []P.ActorState {
	actors := make([]P.ActorState, 0, len(r.actors))
	for _, actor := range r.actors {
		actors = append(actors, actor)
	}
	slices.SortFunc(actors, func(a, b P.ActorState) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return actors
}

// Reset forgets everything, as after a reconnect.
func (r *Replica) Reset() {
	r.actors = make(map[uint64]P.ActorState)
	r.lastTick = 0
	r.hasFull = false
}

func (r *Replica) Stats() ReplicaStats {
	stats := r.stats
	stats.LastTick = r.lastTick
	stats.NumActors = len(r.actors)
	return stats
}
