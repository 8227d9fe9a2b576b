// Package input turns local player intent into the two outgoing input
// streams: a throttled state stream for continuous axes and an immediate
// event stream for edge-triggered actions. Both draw sequence numbers from
// one counter so the server can totally order a client's inputs.
package input

import (
	"math"
	"time"

	P "github.com/cfoust/tether/pkg/protocol"
)

type Config struct {
	// An axis change larger than this is sent immediately.
	Epsilon float64
	// An unchanged axis is re-sent once this much time has passed.
	ThrottleInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Epsilon:          0.01,
		ThrottleInterval: 100 * time.Millisecond,
	}
}

// Axis is a continuous movement sample, each component in [-1, 1].
type Axis struct {
	X float32
	Y float32
}

func (a Axis) distance(o Axis) float64 {
	dx := float64(a.X) - float64(o.X)
	dy := float64(a.Y) - float64(o.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// Intent is everything a human or a bot wants to do during one local step.
type Intent struct {
	Axis   Axis
	Events []P.InputEventKind
}

type Stats struct {
	StatesSent       uint64
	StatesSuppressed uint64
	EventsSent       uint64
}

type Channel struct {
	config Config

	sequence   P.Sequence
	lastSent   Axis
	lastSentAt time.Time
	hasSent    bool

	stats Stats
}

func New(config Config) *Channel {
	return &Channel{
		config: config,
	}
}

func (c *Channel) next() P.Sequence {
	c.sequence = c.sequence.Next()
	return c.sequence
}

// Sequence returns the most recently issued sequence number.
func (c *Channel) Sequence() P.Sequence {
	return c.sequence
}

// Sample decides whether the current axis value needs to go out. It does
// when nothing has been sent yet, when the value moved by more than the
// epsilon, or when the throttle interval has elapsed since the last send.
func (c *Channel) Sample(now time.Time, axis Axis) (P.InputState, bool) {
	if c.hasSent &&
		axis.distance(c.lastSent) <= c.config.Epsilon &&
		now.Sub(c.lastSentAt) < c.config.ThrottleInterval {
		c.stats.StatesSuppressed++
		return P.InputState{}, false
	}

	c.hasSent = true
	c.lastSent = axis
	c.lastSentAt = now
	c.stats.StatesSent++

	return P.InputState{
		Sequence: c.next(),
		X:        axis.X,
		Y:        axis.Y,
	}, true
}

// Press emits an event immediately, regardless of the state throttle.
func (c *Channel) Press(kind P.InputEventKind) P.InputEvent {
	c.stats.EventsSent++
	return P.InputEvent{
		Sequence: c.next(),
		Kind:     kind,
	}
}

// Step runs one local simulation step worth of intent through both streams
// and returns the actions to transmit, in sequence order.
func (c *Channel) Step(now time.Time, intent Intent) []P.PlayerAction {
	actions := make([]P.PlayerAction, 0, 1+len(intent.Events))

	if state, ok := c.Sample(now, intent.Axis); ok {
		actions = append(actions, state)
	}

	for _, kind := range intent.Events {
		if !kind.Valid() {
			continue
		}
		actions = append(actions, c.Press(kind))
	}

	return actions
}

func (c *Channel) Stats() Stats {
	return c.stats
}
