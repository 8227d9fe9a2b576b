package protocol

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/cfoust/tether/pkg/geom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func actor(id uint64, x, y float32) ActorState {
	return ActorState{
		ID:          id,
		Position:    geom.NewVector(x, y, 0),
		Velocity:    geom.NewVector(1.5, -2, 0),
		FacingRight: id%2 == 0,
		Animation:   "Run",
	}
}

func gamePackets() []GamePacket {
	return []GamePacket{
		Welcome{ID: 42, Message: "Connected to tether"},
		Welcome{},
		WorldSnapshot{Tick: 10, Actors: []ActorState{actor(1, 30, 0), actor(2, -5.25, 12)}},
		WorldSnapshot{Tick: math.MaxUint64, Actors: []ActorState{}},
		WorldSnapshotDelta{Tick: 11, Changed: []ActorState{actor(1, 31, 0)}, Removed: []uint64{2, 9999}},
		WorldSnapshotDelta{Tick: 12, Changed: []ActorState{}, Removed: []uint64{3}},
		WorldSnapshotDelta{Tick: 13, Changed: []ActorState{actor(7, 0, 0)}, Removed: []uint64{}},
		WorldSnapshotDelta{Tick: 14, Changed: []ActorState{}, Removed: []uint64{}},
		ServerMessage{Text: "héllo, wörld"},
		ServerMessage{},
		Pong{ID: 7},
	}
}

func playerActions() []PlayerAction {
	return []PlayerAction{
		Ping{ID: 99},
		ResumeSession{PreviousID: 9},
		InputState{Sequence: 1, X: 1, Y: 0},
		InputState{Sequence: math.MaxUint32, X: -0.5, Y: 0.75},
		InputEvent{Sequence: 2, Kind: EventJump},
		InputEvent{Sequence: 3, Kind: EventAttack},
	}
}

func TestGamePacketRoundTrip(t *testing.T) {
	for _, before := range gamePackets() {
		frame, err := Encode(before)
		require.NoError(t, err)

		after, err := DecodeGamePacket(frame)
		require.NoError(t, err, "%T", before)
		assert.Equal(t, before, after, "should yield same result")
	}
}

func TestPlayerActionRoundTrip(t *testing.T) {
	for _, before := range playerActions() {
		frame, err := Encode(before)
		require.NoError(t, err)

		after, err := DecodePlayerAction(frame)
		require.NoError(t, err, "%T", before)
		assert.Equal(t, before, after, "should yield same result")
	}
}

func TestTruncatedFramesAreMalformed(t *testing.T) {
	for _, packet := range gamePackets() {
		frame, err := Encode(packet)
		require.NoError(t, err)

		for i := 0; i < len(frame); i++ {
			_, err := DecodeGamePacket(frame[:i])
			assert.ErrorIs(t, err, ErrMalformed, "%T truncated to %d", packet, i)
		}
	}

	for _, action := range playerActions() {
		frame, err := Encode(action)
		require.NoError(t, err)

		for i := 0; i < len(frame); i++ {
			_, err := DecodePlayerAction(frame[:i])
			assert.ErrorIs(t, err, ErrMalformed, "%T truncated to %d", action, i)
		}
	}
}

func TestTrailingBytes(t *testing.T) {
	frame, err := Encode(Pong{ID: 1})
	require.NoError(t, err)

	_, err = DecodeGamePacket(append(frame, 0))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnsupportedVersion(t *testing.T) {
	frame, err := Encode(Ping{ID: 1})
	require.NoError(t, err)
	frame[0] = Version + 1

	_, err = DecodePlayerAction(frame)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
	assert.NotErrorIs(t, err, ErrMalformed)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
}

func TestAlphabetsAreClosed(t *testing.T) {
	// A client message is not a valid server message and vice versa.
	frame, err := Encode(Ping{ID: 1})
	require.NoError(t, err)
	_, err = DecodeGamePacket(frame)
	assert.ErrorIs(t, err, ErrUnknownMessage)

	frame, err = Encode(Pong{ID: 1})
	require.NoError(t, err)
	_, err = DecodePlayerAction(frame)
	assert.ErrorIs(t, err, ErrUnknownMessage)

	_, err = DecodePlayerAction([]byte{Version, 0xEE})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestInvalidFields(t *testing.T) {
	frame, err := Encode(InputEvent{Sequence: 1, Kind: EventJump})
	require.NoError(t, err)
	frame[len(frame)-1] = 0x7F
	_, err = DecodePlayerAction(frame)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Encode(InputEvent{Sequence: 1, Kind: 0})
	assert.Error(t, err)

	_, err = Encode(InputState{Sequence: 1, X: float32(math.NaN())})
	assert.Error(t, err)

	// Hand-built state with a NaN axis.
	p := Packet{Version, byte(N_INPUT_STATE)}
	p.PutUint32(1)
	p.PutUint32(math.Float32bits(float32(math.Inf(1))))
	p.PutFloat(0)
	_, err = DecodePlayerAction(p)
	assert.ErrorIs(t, err, ErrMalformed)

	// A list length far larger than the frame.
	p = Packet{Version, byte(N_SNAPSHOT)}
	p.PutUint64(1)
	p.PutUint32(math.MaxUint32)
	_, err = DecodeGamePacket(p)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRandomBytesNeverPanic(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		frame := make([]byte, rng.Intn(64))
		rng.Read(frame)
		if len(frame) > 0 && rng.Intn(2) == 0 {
			frame[0] = Version
		}

		assert.NotPanics(t, func() {
			DecodeGamePacket(frame)
			DecodePlayerAction(frame)
		})
	}
}

func TestSequenceWraparound(t *testing.T) {
	assert.True(t, Sequence(2).After(1))
	assert.False(t, Sequence(1).After(2))
	assert.False(t, Sequence(5).After(5))

	last := Sequence(math.MaxUint32)
	assert.Equal(t, Sequence(0), last.Next())
	assert.True(t, last.Next().After(last))
	assert.True(t, Sequence(3).After(last))
	assert.False(t, last.After(Sequence(3)))
}
