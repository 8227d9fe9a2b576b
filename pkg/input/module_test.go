package input

import (
	"testing"
	"time"

	P "github.com/cfoust/tether/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frame = time.Second / 60

func TestSteadyInputIsThrottled(t *testing.T) {
	c := New(DefaultConfig())
	start := time.Unix(1000, 0)

	sent := make([]time.Time, 0)
	for i := 0; i < 120; i++ {
		now := start.Add(time.Duration(i) * frame)
		if _, ok := c.Sample(now, Axis{X: 1}); ok {
			sent = append(sent, now)
		}
	}

	// Two seconds of unchanged input at 100ms throttle
	require.NotEmpty(t, sent)
	assert.LessOrEqual(t, len(sent), 20)
	assert.GreaterOrEqual(t, len(sent), 18)

	for i := 1; i < len(sent); i++ {
		assert.GreaterOrEqual(t, sent[i].Sub(sent[i-1]), 100*time.Millisecond)
	}
}

func TestDirectionChangeIsImmediate(t *testing.T) {
	c := New(DefaultConfig())
	now := time.Unix(1000, 0)

	_, ok := c.Sample(now, Axis{X: 1})
	require.True(t, ok)

	now = now.Add(frame)
	_, ok = c.Sample(now, Axis{X: 1})
	assert.False(t, ok, "unchanged input inside the interval is suppressed")

	now = now.Add(frame)
	state, ok := c.Sample(now, Axis{X: -1})
	assert.True(t, ok, "reversal is sent right away")
	assert.Equal(t, float32(-1), state.X)

	now = now.Add(frame)
	_, ok = c.Sample(now, Axis{X: -1.005})
	assert.False(t, ok, "changes inside the epsilon are noise")
}

func TestEventsShareTheCounter(t *testing.T) {
	c := New(DefaultConfig())
	now := time.Unix(1000, 0)

	actions := c.Step(now, Intent{
		Axis:   Axis{X: 1},
		Events: []P.InputEventKind{P.EventJump, P.EventAttack},
	})
	require.Len(t, actions, 3)

	assert.Equal(t, P.InputState{Sequence: 1, X: 1}, actions[0])
	assert.Equal(t, P.InputEvent{Sequence: 2, Kind: P.EventJump}, actions[1])
	assert.Equal(t, P.InputEvent{Sequence: 3, Kind: P.EventAttack}, actions[2])

	// Events are never throttled, even when the state stream is.
	for i := 0; i < 5; i++ {
		now = now.Add(frame)
		actions = c.Step(now, Intent{
			Axis:   Axis{X: 1},
			Events: []P.InputEventKind{P.EventJump},
		})
		require.Len(t, actions, 1)
		assert.IsType(t, P.InputEvent{}, actions[0])
	}

	assert.Equal(t, P.Sequence(8), c.Sequence())
	stats := c.Stats()
	assert.Equal(t, uint64(7), stats.EventsSent)
	assert.Equal(t, uint64(1), stats.StatesSent)
	assert.Equal(t, uint64(5), stats.StatesSuppressed)
}

func TestSequencesIncrease(t *testing.T) {
	c := New(DefaultConfig())
	now := time.Unix(1000, 0)

	previous := c.Sequence()
	for i := 0; i < 50; i++ {
		now = now.Add(frame)
		intent := Intent{Axis: Axis{X: float32(i%3) - 1}}
		if i%7 == 0 {
			intent.Events = []P.InputEventKind{P.EventJump}
		}

		for _, action := range c.Step(now, intent) {
			var sequence P.Sequence
			switch action := action.(type) {
			case P.InputState:
				sequence = action.Sequence
			case P.InputEvent:
				sequence = action.Sequence
			}
			assert.True(t, sequence.After(previous))
			previous = sequence
		}
	}
}
