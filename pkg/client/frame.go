package client

import (
	"errors"
	"slices"
	"time"

	"github.com/cfoust/tether/pkg/input"
	"github.com/cfoust/tether/pkg/interp"
	"github.com/cfoust/tether/pkg/predict"
	P "github.com/cfoust/tether/pkg/protocol"
	"github.com/cfoust/tether/pkg/sim"
	"github.com/cfoust/tether/pkg/snapshot"

	"github.com/rs/zerolog/log"
)

// frameState belongs to whichever goroutine calls Step.
type frameState struct {
	local     uint64
	replica   *snapshot.Replica
	predictor *predict.Predictor
	remotes   *interp.Interpolator
	input     *input.Channel
	sendErrs  uint64
}

func newFrameState(options Options) frameState {
	return frameState{
		replica:   snapshot.NewReplica(),
		predictor: predict.New(options.Predict, options.Rules),
		remotes:   interp.New(options.InterpolationDuration),
		input:     input.New(options.Input),
	}
}

// Frame is what the client should render.
type Frame struct {
	Status Status
	// The predicted local actor, once the server has shown it to us.
	Local    P.ActorState
	HasLocal bool
	Remotes  []P.ActorState
	// Bands chosen by reconciliations applied during this step.
	Corrections []predict.Band
}

// Step applies everything received since the last call, sends this step's
// input, and advances the local prediction by dt.
func (c *Client) Step(now time.Time, dt time.Duration, intent input.Intent) Frame {
	f := &c.frame
	frame := Frame{Status: c.Status()}

	c.drain(now, &frame)

	if frame.Status == StatusConnected {
		for _, action := range f.input.Step(now, intent) {
			if err := c.Send(action); err != nil {
				f.sendErrs++
				log.Debug().Err(err).Msg("input not sent")
				continue
			}
			f.predictor.InputSent(now)
		}
	}

	if f.predictor.Seeded() {
		f.predictor.Step(sim.Controls{
			MoveX: intent.Axis.X,
			MoveY: intent.Axis.Y,
			Jump:  slices.Contains(intent.Events, P.EventJump),
		}, dt)
	}

	frame.Local, frame.HasLocal = f.predictor.State()
	frame.Remotes = f.remotes.States(now)
	return frame
}

func (c *Client) drain(now time.Time, frame *Frame) {
	f := &c.frame
	for n := len(c.inbound); n > 0; n-- {
		packet := <-c.inbound

		switch packet := packet.(type) {
		case P.Welcome:
			if packet.ID == f.local {
				continue
			}
			f.local = packet.ID
			f.replica.Reset()
			f.predictor.Reset()
			f.remotes.Clear()
		case P.ServerMessage:
			log.Info().Str("text", packet.Text).Msg("server message")
		case P.WorldSnapshot, P.WorldSnapshotDelta:
			update, err := f.replica.Apply(packet)
			if err != nil {
				if !errors.Is(err, snapshot.ErrStale) {
					log.Debug().Err(err).Msg("snapshot rejected")
				}
				continue
			}

			for _, actor := range update.Changed {
				if actor.ID == f.local {
					frame.Corrections = append(frame.Corrections, f.predictor.Reconcile(actor, now))
					continue
				}
				f.remotes.Push(actor, now)
			}

			for _, id := range update.Removed {
				if id == f.local {
					f.predictor.Reset()
					continue
				}
				f.remotes.Remove(id)
			}
		}
	}
}

// Local is the id of the actor this client controls.
func (c *Client) Local() uint64 {
	return c.frame.local
}

// Replica, Predictor and Input are only safe to use from the goroutine
// that calls Step.
func (c *Client) Replica() *snapshot.Replica {
	return c.frame.replica
}

func (c *Client) Predictor() *predict.Predictor {
	return c.frame.predictor
}

func (c *Client) Input() *input.Channel {
	return c.frame.input
}
