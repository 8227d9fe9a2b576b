package protocol

import (
	"fmt"

	"github.com/cfoust/tether/pkg/geom"
)

// Version is the leading byte of every frame. Bump it whenever the layout
// of any message changes.
const Version byte = 1

type MessageCode byte

const (
	// Server -> client
	N_WELCOME MessageCode = iota + 1
	N_SNAPSHOT
	N_SNAPSHOT_DELTA
	N_MESSAGE
	N_PONG
)

const (
	// Client -> server
	N_PING MessageCode = iota + 0x10
	N_RESUME
	N_INPUT_STATE
	N_INPUT_EVENT
)

func (c MessageCode) String() string {
	switch c {
	case N_WELCOME:
		return "N_WELCOME"
	case N_SNAPSHOT:
		return "N_SNAPSHOT"
	case N_SNAPSHOT_DELTA:
		return "N_SNAPSHOT_DELTA"
	case N_MESSAGE:
		return "N_MESSAGE"
	case N_PONG:
		return "N_PONG"
	case N_PING:
		return "N_PING"
	case N_RESUME:
		return "N_RESUME"
	case N_INPUT_STATE:
		return "N_INPUT_STATE"
	case N_INPUT_EVENT:
		return "N_INPUT_EVENT"
	}
	return fmt.Sprintf("N_UNKNOWN(%d)", byte(c))
}

type Message interface {
	Type() MessageCode
	Marshal(p *Packet) error
}

// GamePacket is the closed set of messages the server sends to clients.
type GamePacket interface {
	Message
	gamePacket()
}

// PlayerAction is the closed set of messages clients send to the server.
type PlayerAction interface {
	Message
	playerAction()
}

// ActorState is the observable state of one simulated actor.
type ActorState struct {
	ID          uint64
	Position    geom.Vector
	Velocity    geom.Vector
	FacingRight bool
	Animation   string
}

// id + position + velocity + facing + empty animation
const actorStateMinSize = 8 + 12 + 12 + 1 + 4

func (a ActorState) Marshal(p *Packet) error {
	if !finiteVector(a.Position) || !finiteVector(a.Velocity) {
		return fmt.Errorf("actor %d has a non-finite vector", a.ID)
	}
	p.PutUint64(a.ID)
	p.PutVector(a.Position)
	p.PutVector(a.Velocity)
	p.PutBool(a.FacingRight)
	p.PutString(a.Animation)
	return nil
}

func (a *ActorState) Unmarshal(p *Packet) error {
	var ok bool
	if a.ID, ok = p.GetUint64(); !ok {
		return fmt.Errorf("failed to read actor id")
	}
	if a.Position, ok = p.GetVector(); !ok {
		return fmt.Errorf("failed to read actor position")
	}
	if a.Velocity, ok = p.GetVector(); !ok {
		return fmt.Errorf("failed to read actor velocity")
	}
	if a.FacingRight, ok = p.GetBool(); !ok {
		return fmt.Errorf("failed to read actor facing")
	}
	if a.Animation, ok = p.GetString(); !ok {
		return fmt.Errorf("failed to read actor animation")
	}
	return nil
}

func finiteVector(v geom.Vector) bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// InputEventKind enumerates edge-triggered actions.
type InputEventKind byte

const (
	EventJump InputEventKind = iota + 1
	EventAttack
)

func (k InputEventKind) Valid() bool {
	switch k {
	case EventJump, EventAttack:
		return true
	}
	return false
}

func (k InputEventKind) String() string {
	switch k {
	case EventJump:
		return "Jump"
	case EventAttack:
		return "Attack"
	}
	return fmt.Sprintf("InputEventKind(%d)", byte(k))
}
