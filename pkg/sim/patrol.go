package sim

import (
	"math/rand"
	"time"

	"github.com/cfoust/tether/pkg/geom"
	"github.com/cfoust/tether/pkg/input"
	P "github.com/cfoust/tether/pkg/protocol"
)

// Patrol walks back and forth between two x coordinates and jumps at
// random. It produces the same intent a human would.
type Patrol struct {
	Start float32
	End   float32
	// Probability of a jump on any given step.
	JumpChance float64

	direction float32
	rng       *rand.Rand
}

func NewPatrol(seed int64) *Patrol {
	return &Patrol{
		Start:      0,
		End:        500,
		JumpChance: 0.01,
		direction:  1,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (p *Patrol) Intent(now time.Time, self geom.Vector) input.Intent {
	if self.X >= p.End {
		p.direction = -1
	} else if self.X <= p.Start {
		p.direction = 1
	}

	intent := input.Intent{
		Axis: input.Axis{X: p.direction},
	}

	if p.rng.Float64() < p.JumpChance {
		intent.Events = []P.InputEventKind{P.EventJump}
	}

	return intent
}
