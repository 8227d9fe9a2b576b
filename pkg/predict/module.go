// Package predict runs the locally controlled actor ahead of the server and
// pulls it back toward authoritative state when the two disagree.
package predict

import (
	"fmt"
	"time"

	"github.com/cfoust/tether/pkg/geom"
	P "github.com/cfoust/tether/pkg/protocol"
	"github.com/cfoust/tether/pkg/sim"

	"github.com/rs/zerolog/log"
)

type Band uint8

const (
	// Error within the deadzone, nothing to do.
	BandNone Band = iota
	// Blend toward the server over several frames.
	BandBlend
	// Replace the prediction outright.
	BandSnap
)

func (b Band) String() string {
	switch b {
	case BandNone:
		return "none"
	case BandBlend:
		return "blend"
	case BandSnap:
		return "snap"
	}
	return fmt.Sprintf("Band(%d)", uint8(b))
}

type Config struct {
	CorrectionDeadzone float64
	SnapThreshold      float64
	// Fraction of the outstanding correction applied each frame.
	BlendRate float64
}

func DefaultConfig() Config {
	return Config{
		CorrectionDeadzone: 2,
		SnapThreshold:      64,
		BlendRate:          0.2,
	}
}

func (c Config) Validate() error {
	if c.CorrectionDeadzone < 0 {
		return fmt.Errorf("correction deadzone %g is negative", c.CorrectionDeadzone)
	}
	if c.CorrectionDeadzone >= c.SnapThreshold {
		return fmt.Errorf(
			"correction deadzone %g must be below snap threshold %g",
			c.CorrectionDeadzone,
			c.SnapThreshold,
		)
	}
	if c.BlendRate <= 0 || c.BlendRate > 1 {
		return fmt.Errorf("blend rate %g must be in (0, 1]", c.BlendRate)
	}
	return nil
}

// Classify maps a positional error onto a correction band.
func (c Config) Classify(err float64) Band {
	switch {
	case err <= c.CorrectionDeadzone:
		return BandNone
	case err < c.SnapThreshold:
		return BandBlend
	}
	return BandSnap
}

// Remaining corrections shorter than this are applied in one go.
const settleDistance = 1e-3

// Predictor owns the predicted body of the local actor. It is driven from
// the client's render loop and is not safe for concurrent use.
type Predictor struct {
	config Config
	rules  sim.Rules

	id   uint64
	body *sim.Body
	// Offset still to be blended into the body.
	correction geom.Vector

	// When the oldest input not yet reflected in a snapshot was sent.
	pendingSince time.Time
	pending      bool

	stats *Stats
}

func New(config Config, rules sim.Rules) *Predictor {
	return &Predictor{
		config: config,
		rules:  rules,
		stats:  NewStats(),
	}
}

func (p *Predictor) Config() Config {
	return p.config
}

func (p *Predictor) Stats() *Stats {
	return p.stats
}

// Seeded reports whether the predictor has taken the actor's state from the
// server at least once.
func (p *Predictor) Seeded() bool {
	return p.body != nil
}

func (p *Predictor) ID() uint64 {
	return p.id
}

// Seed replaces the prediction with server state.
func (p *Predictor) Seed(state P.ActorState) {
	p.id = state.ID
	p.body = p.rules.NewBody(state.Position)
	p.body.Velocity = state.Velocity
	p.body.FacingRight = state.FacingRight
	p.correction = geom.Vector{}
}

// InputSent notes that an input left the client at now.
func (p *Predictor) InputSent(now time.Time) {
	if p.pending {
		return
	}
	p.pending = true
	p.pendingSince = now
}

// Step applies the held controls to the predicted body immediately, then
// blends in part of any outstanding correction.
func (p *Predictor) Step(controls sim.Controls, dt time.Duration) {
	if p.body == nil {
		return
	}

	p.body.Controls = controls
	p.rules.Step(p.body, dt)

	if p.correction.Length() <= settleDistance {
		p.body.Position = p.body.Position.Add(p.correction)
		p.correction = geom.Vector{}
		return
	}

	portion := p.correction.Scale(p.config.BlendRate)
	p.body.Position = p.body.Position.Add(portion)
	p.correction = p.correction.Sub(portion)
}

// Reconcile compares an authoritative state of the local actor with the
// prediction and applies the matching correction. The first state received
// seeds the prediction and is not counted as a correction.
func (p *Predictor) Reconcile(server P.ActorState, now time.Time) Band {
	if p.pending {
		p.stats.RecordLatency(now.Sub(p.pendingSince))
		p.pending = false
	}

	if p.body == nil || p.id != server.ID {
		p.Seed(server)
		return BandNone
	}

	err := server.Position.Distance(p.body.Position)
	band := p.config.Classify(err)
	p.stats.Record(band)

	switch band {
	case BandNone:
		p.correction = geom.Vector{}
	case BandBlend:
		p.correction = server.Position.Sub(p.body.Position)
	case BandSnap:
		log.Debug().
			Uint64("actor", server.ID).
			Float64("error", err).
			Msg("snapped prediction to server")
		p.body.Position = server.Position
		p.body.Velocity = server.Velocity
		p.correction = geom.Vector{}
	}

	return band
}

// Correction is the offset not yet blended in.
func (p *Predictor) Correction() geom.Vector {
	return p.correction
}

// State renders the predicted actor.
func (p *Predictor) State() (P.ActorState, bool) {
	if p.body == nil {
		return P.ActorState{}, false
	}
	return p.rules.State(p.id, p.body), true
}

// Reset forgets the prediction, as after a reconnect. Stats are kept.
func (p *Predictor) Reset() {
	p.body = nil
	p.id = 0
	p.correction = geom.Vector{}
	p.pending = false
}
