package snapshot

import (
	"slices"

	P "github.com/cfoust/tether/pkg/protocol"

	fp "github.com/repeale/fp-go"
)

const (
	DefaultPositionEpsilon = 0.01
	DefaultVelocityEpsilon = 0.01
)

// Differ decides which actors changed between consecutive ticks for
// simulations that do not track it themselves.
type Differ struct {
	PositionEpsilon float64
	VelocityEpsilon float64

	last map[uint64]P.ActorState
}

func NewDiffer() *Differ {
	return &Differ{
		PositionEpsilon: DefaultPositionEpsilon,
		VelocityEpsilon: DefaultVelocityEpsilon,
		last:            make(map[uint64]P.ActorState),
	}
}

// Changed reports whether current differs observably from previous.
func (d *Differ) Changed(previous, current P.ActorState) bool {
	return previous.Position.Distance(current.Position) > d.PositionEpsilon ||
		previous.Velocity.Distance(current.Velocity) > d.VelocityEpsilon ||
		previous.FacingRight != current.FacingRight ||
		previous.Animation != current.Animation
}

// Diff compares actors against the previous call. New actors count as
// changed. Removed ids are returned in ascending order.
func (d *Differ) Diff(actors []P.ActorState) (changed []P.ActorState, removed []uint64) {
	changed = fp.Filter(func(actor P.ActorState) bool {
		previous, ok := d.last[actor.ID]
		return !ok || d.Changed(previous, actor)
	})(actors)

	current := make(map[uint64]P.ActorState, len(actors))
	for _, actor := range actors {
		current[actor.ID] = actor
	}

	for id := range d.last {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	slices.Sort(removed)

	// Only advance the baseline for actors that were reported, so slow drift
	// below the epsilon still accumulates into a change eventually.
	next := make(map[uint64]P.ActorState, len(actors))
	for _, actor := range actors {
		if previous, ok := d.last[actor.ID]; ok {
			next[actor.ID] = previous
		}
	}
	for _, actor := range changed {
		next[actor.ID] = actor
	}
	d.last = next

	if len(changed) == 0 {
		changed = nil
	}
	return changed, removed
}
