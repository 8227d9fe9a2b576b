// Package sim holds the platformer rules the server simulates and clients
// predict with. Both sides must step bodies through the same Rules.
package sim

import (
	"math"
	"slices"
	"time"

	"github.com/cfoust/tether/pkg/geom"
	P "github.com/cfoust/tether/pkg/protocol"
)

type Rules struct {
	Gravity      float32
	JumpVelocity float32
	MoveSpeed    float32
	GroundLevel  float32
	Spawn        geom.Vector
}

func DefaultRules() Rules {
	return Rules{
		Gravity:      800,
		JumpVelocity: 400,
		MoveSpeed:    250,
		GroundLevel:  -240,
		Spawn:        geom.NewVector(-400, -240, 0),
	}
}

// Controls is the input currently held by an actor.
type Controls struct {
	MoveX float32
	MoveY float32
	// Consumed by the next step.
	Jump bool
}

type Body struct {
	Position    geom.Vector
	Velocity    geom.Vector
	FacingRight bool
	Controls    Controls
}

func (r Rules) NewBody(position geom.Vector) *Body {
	return &Body{
		Position:    position,
		FacingRight: true,
	}
}

func (r Rules) Step(b *Body, dt time.Duration) {
	seconds := float32(dt.Seconds())

	b.Velocity.X = b.Controls.MoveX * r.MoveSpeed
	if b.Controls.Jump {
		b.Velocity.Y = r.JumpVelocity
		b.Controls.Jump = false
	}

	b.Velocity.Y -= r.Gravity * seconds
	b.Position.X += b.Velocity.X * seconds
	b.Position.Y += b.Velocity.Y * seconds

	if b.Position.Y < r.GroundLevel {
		b.Position.Y = r.GroundLevel
		if b.Velocity.Y < 0 {
			b.Velocity.Y = 0
		}
	}

	if b.Velocity.X > 0 {
		b.FacingRight = true
	} else if b.Velocity.X < 0 {
		b.FacingRight = false
	}
}

func (r Rules) Grounded(b *Body) bool {
	return b.Position.Y <= r.GroundLevel+0.5
}

func (r Rules) Animation(b *Body) string {
	if !r.Grounded(b) {
		if b.Velocity.Y > 0 {
			return "Jump"
		}
		return "Fall"
	}

	if math.Abs(float64(b.Controls.MoveX)) > 0.1 {
		if b.Controls.MoveY < -0.5 {
			return "Crouch"
		}
		return "Run"
	}

	return "Idle"
}

func (r Rules) State(id uint64, b *Body) P.ActorState {
	return P.ActorState{
		ID:          id,
		Position:    b.Position,
		Velocity:    b.Velocity,
		FacingRight: b.FacingRight,
		Animation:   r.Animation(b),
	}
}

// World is a set of bodies stepped together. It is owned by a single
// goroutine and does no locking.
type World struct {
	Rules  Rules
	bodies map[uint64]*Body
}

func NewWorld(rules Rules) *World {
	return &World{
		Rules:  rules,
		bodies: make(map[uint64]*Body),
	}
}

func (w *World) Spawn(id uint64, position geom.Vector) {
	if _, ok := w.bodies[id]; ok {
		return
	}
	w.bodies[id] = w.Rules.NewBody(position)
}

func (w *World) Despawn(id uint64) {
	delete(w.bodies, id)
}

func (w *World) Exists(id uint64) bool {
	_, ok := w.bodies[id]
	return ok
}

func (w *World) Body(id uint64) *Body {
	return w.bodies[id]
}

func (w *World) SetAxis(id uint64, x, y float32) {
	if body, ok := w.bodies[id]; ok {
		body.Controls.MoveX = x
		body.Controls.MoveY = y
	}
}

func (w *World) Trigger(id uint64, kind P.InputEventKind) {
	body, ok := w.bodies[id]
	if !ok {
		return
	}

	switch kind {
	case P.EventJump:
		body.Controls.Jump = true
	case P.EventAttack:
		// no combat rules yet
	}
}

func (w *World) Step(dt time.Duration) {
	for _, body := range w.bodies {
		w.Rules.Step(body, dt)
	}
}

func (w *World) IDs() []uint64 {
	ids := make([]uint64, 0, len(w.bodies))
	for id := range w.bodies {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Actors returns the observable state of every body, ordered by id.
func (w *World) Actors() []P.ActorState {
	ids := w.IDs()
	actors := make([]P.ActorState, len(ids))
	for i, id := range ids {
		actors[i] = w.Rules.State(id, w.bodies[id])
	}
	return actors
}
