// Package interp smooths the rendered position of remote actors between
// snapshot arrivals.
package interp

import (
	"slices"
	"time"

	"github.com/cfoust/tether/pkg/geom"
	P "github.com/cfoust/tether/pkg/protocol"
)

const DefaultDuration = 100 * time.Millisecond

// Job moves an actor from Start to Target over Duration beginning at
// StartTime.
type Job struct {
	Start     geom.Vector
	Target    geom.Vector
	StartTime time.Time
	Duration  time.Duration
}

// Progress returns how far along the job is at now, clamped to [0, 1].
func (j Job) Progress(now time.Time) float64 {
	if j.Duration <= 0 {
		return 1
	}

	t := float64(now.Sub(j.StartTime)) / float64(j.Duration)
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

func (j Job) At(now time.Time) geom.Vector {
	return j.Start.Lerp(j.Target, j.Progress(now))
}

func (j Job) Done(now time.Time) bool {
	return j.Progress(now) >= 1
}

type entry struct {
	job   Job
	state P.ActorState
}

// Interpolator tracks one job per remote actor. It is not safe for
// concurrent use; the client's render loop owns it.
type Interpolator struct {
	duration time.Duration
	entries  map[uint64]*entry
}

func New(duration time.Duration) *Interpolator {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Interpolator{
		duration: duration,
		entries:  make(map[uint64]*entry),
	}
}

func (i *Interpolator) Duration() time.Duration {
	return i.duration
}

// Push records a newly received state. The new job starts wherever the
// actor is currently rendered. An actor seen for the first time appears at
// its target immediately.
func (i *Interpolator) Push(state P.ActorState, now time.Time) {
	start := state.Position
	if existing, ok := i.entries[state.ID]; ok {
		start = existing.job.At(now)
	}

	i.entries[state.ID] = &entry{
		job: Job{
			Start:     start,
			Target:    state.Position,
			StartTime: now,
			Duration:  i.duration,
		},
		state: state,
	}
}

func (i *Interpolator) Job(id uint64) (Job, bool) {
	entry, ok := i.entries[id]
	if !ok {
		return Job{}, false
	}
	return entry.job, true
}

// Position returns the rendered position of id at now.
func (i *Interpolator) Position(id uint64, now time.Time) (geom.Vector, bool) {
	entry, ok := i.entries[id]
	if !ok {
		return geom.Vector{}, false
	}
	return entry.job.At(now), true
}

// State returns the most recent state of id with its position replaced by
// the rendered one.
func (i *Interpolator) State(id uint64, now time.Time) (P.ActorState, bool) {
	entry, ok := i.entries[id]
	if !ok {
		return P.ActorState{}, false
	}

	state := entry.state
	state.Position = entry.job.At(now)
	return state, true
}

// States renders every tracked actor, ordered by id.
func (i *Interpolator) States(now time.Time) []P.ActorState {
	ids := i.IDs()
	states := make([]P.ActorState, 0, len(ids))
	for _, id := range ids {
		state, _ := i.State(id, now)
		states = append(states, state)
	}
	return states
}

func (i *Interpolator) IDs() []uint64 {
	ids := make([]uint64, 0, len(i.entries))
	for id := range i.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (i *Interpolator) Remove(id uint64) {
	delete(i.entries, id)
}

// Retain drops every actor not in ids.
func (i *Interpolator) Retain(ids []uint64) {
	keep := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	for id := range i.entries {
		if _, ok := keep[id]; !ok {
			delete(i.entries, id)
		}
	}
}

func (i *Interpolator) Len() int {
	return len(i.entries)
}

func (i *Interpolator) Clear() {
	i.entries = make(map[uint64]*entry)
}
