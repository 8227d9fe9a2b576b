package predict

import (
	"testing"
	"time"

	"github.com/cfoust/tether/pkg/geom"
	P "github.com/cfoust/tether/pkg/protocol"
	"github.com/cfoust/tether/pkg/sim"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ground = -240

func actor(x, y float32) P.ActorState {
	return P.ActorState{
		ID:          1,
		Position:    geom.NewVector(x, y, 0),
		FacingRight: true,
		Animation:   "Idle",
	}
}

func seeded(t *testing.T, x, y float32) *Predictor {
	predictor := New(DefaultConfig(), sim.DefaultRules())
	predictor.Seed(actor(x, y))
	require.True(t, predictor.Seeded())
	return predictor
}

func position(t *testing.T, predictor *Predictor) geom.Vector {
	state, ok := predictor.State()
	require.True(t, ok)
	return state.Position
}

func TestClassify(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())

	assert.Equal(t, BandNone, config.Classify(0))
	assert.Equal(t, BandNone, config.Classify(config.CorrectionDeadzone))
	assert.Equal(t, BandBlend, config.Classify(config.CorrectionDeadzone+0.001))
	assert.Equal(t, BandBlend, config.Classify(config.SnapThreshold-0.001))
	assert.Equal(t, BandSnap, config.Classify(config.SnapThreshold))
	assert.Equal(t, BandSnap, config.Classify(1e9))
}

func TestValidate(t *testing.T) {
	config := DefaultConfig()
	config.CorrectionDeadzone = config.SnapThreshold
	assert.Error(t, config.Validate())

	config = DefaultConfig()
	config.BlendRate = 0
	assert.Error(t, config.Validate())
}

func TestFirstStateSeeds(t *testing.T) {
	predictor := New(DefaultConfig(), sim.DefaultRules())
	_, ok := predictor.State()
	assert.False(t, ok)

	band := predictor.Reconcile(actor(500, ground), time.Now())
	assert.Equal(t, BandNone, band)
	assert.Equal(t, geom.NewVector(500, ground, 0), position(t, predictor))
	assert.Zero(t, predictor.Stats().Total())
}

func TestNoErrorNoCorrection(t *testing.T) {
	predictor := seeded(t, 30, 0)

	band := predictor.Reconcile(actor(30, 0), time.Now())
	assert.Equal(t, BandNone, band)
	assert.Equal(t, geom.NewVector(30, 0, 0), position(t, predictor))
	assert.Equal(t, geom.Vector{}, predictor.Correction())
}

func TestDeadzoneLeavesPrediction(t *testing.T) {
	predictor := seeded(t, 100, ground)

	band := predictor.Reconcile(actor(101, ground), time.Now())
	assert.Equal(t, BandNone, band)
	assert.Equal(t, geom.NewVector(100, ground, 0), position(t, predictor))

	predictor.Step(sim.Controls{}, 0)
	assert.Equal(t, geom.NewVector(100, ground, 0), position(t, predictor))
}

func TestBlendIsBoundedPerFrame(t *testing.T) {
	predictor := seeded(t, 0, ground)

	band := predictor.Reconcile(actor(20, ground), time.Now())
	require.Equal(t, BandBlend, band)
	assert.Equal(t, geom.NewVector(0, ground, 0), position(t, predictor), "nothing moves until the next frame")

	limit := 20 * predictor.Config().BlendRate
	previous := position(t, predictor)
	for frame := 0; frame < 200; frame++ {
		predictor.Step(sim.Controls{}, 0)
		current := position(t, predictor)
		assert.LessOrEqual(t, previous.Distance(current), limit+1e-4)
		previous = current
	}

	assert.InDelta(t, 20, previous.X, 1e-2)
	assert.Equal(t, geom.Vector{}, predictor.Correction())
}

func TestSnapReplacesPrediction(t *testing.T) {
	predictor := seeded(t, 0, ground)

	server := actor(300, ground)
	server.Velocity = geom.NewVector(250, 0, 0)
	band := predictor.Reconcile(server, time.Now())
	require.Equal(t, BandSnap, band)

	state, _ := predictor.State()
	assert.Equal(t, server.Position, state.Position)
	assert.Equal(t, server.Velocity, state.Velocity)
	assert.Equal(t, geom.Vector{}, predictor.Correction())
}

func TestPredictionMatchesServerRules(t *testing.T) {
	rules := sim.DefaultRules()
	world := sim.NewWorld(rules)
	world.Spawn(1, rules.Spawn)

	predictor := New(DefaultConfig(), rules)
	predictor.Seed(world.Actors()[0])

	dt := time.Second / 60
	for i := 0; i < 60; i++ {
		world.SetAxis(1, 1, 0)
		world.Step(dt)
		predictor.Step(sim.Controls{MoveX: 1}, dt)
	}

	server := world.Actors()[0]
	assert.Equal(t, BandNone, predictor.Reconcile(server, time.Now()))
	assert.Equal(t, server.Position, position(t, predictor))
}

func TestFirstCorrectionLatency(t *testing.T) {
	predictor := seeded(t, 0, ground)
	start := time.Unix(100, 0)

	predictor.InputSent(start)
	predictor.InputSent(start.Add(10 * time.Millisecond))
	predictor.Reconcile(actor(0, ground), start.Add(40*time.Millisecond))
	// No input outstanding, nothing recorded.
	predictor.Reconcile(actor(0, ground), start.Add(90*time.Millisecond))

	report := predictor.Stats().Report()
	assert.Equal(t, 1, report.Samples)
	assert.InDelta(t, 40, report.LatencyP50Ms, 1e-9)
}

func TestReport(t *testing.T) {
	stats := NewStats()
	for i := 1; i <= 100; i++ {
		stats.RecordLatency(time.Duration(i) * time.Millisecond)
	}

	stats.Record(BandNone)
	stats.Record(BandNone)
	stats.Record(BandBlend)
	stats.Record(BandSnap)

	report := stats.Report()
	assert.Equal(t, 100, report.Samples)
	assert.InDelta(t, 51, report.LatencyP50Ms, 1e-9)
	assert.InDelta(t, 95, report.LatencyP95Ms, 1e-9)
	assert.InDelta(t, 28.866, report.JitterMs, 1e-3)
	assert.InDelta(t, 50, report.CorrectionPct, 1e-9)
	assert.InDelta(t, 25, report.SnapPct, 1e-9)

	assert.Equal(t, Report{}, NewStats().Report())
}
