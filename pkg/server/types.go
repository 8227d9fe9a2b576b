package server

import (
	"fmt"
	"time"

	"github.com/cfoust/tether/pkg/geom"
	P "github.com/cfoust/tether/pkg/protocol"
)

// Simulation is the authoritative world the server drives. It is only ever
// touched from the tick goroutine.
type Simulation interface {
	Spawn(id uint64, position geom.Vector)
	Despawn(id uint64)
	Exists(id uint64) bool
	SetAxis(id uint64, x, y float32)
	Trigger(id uint64, kind P.InputEventKind)
	Step(dt time.Duration)
	// Every live actor, ordered by id.
	Actors() []P.ActorState
}

// Publisher receives the actor table after every tick.
type Publisher interface {
	Publish(tick uint64, actors []P.ActorState, removed []uint64) bool
}

type InboundKind uint8

const (
	InboundConnect InboundKind = iota
	InboundAction
	InboundDisconnect
)

func (k InboundKind) String() string {
	switch k {
	case InboundConnect:
		return "connect"
	case InboundAction:
		return "action"
	case InboundDisconnect:
		return "disconnect"
	}
	return fmt.Sprintf("InboundKind(%d)", uint8(k))
}

// Inbound is everything the transport hands to the simulation.
type Inbound struct {
	Kind    InboundKind
	Session uint64
	Action  P.PlayerAction
	// For disconnects: the client closed the connection on purpose, so
	// there is nothing to resume.
	Clean bool
}

type OutboundKind uint8

const (
	// Frame goes to every attached connection.
	OutboundBroadcast OutboundKind = iota
	// Frame goes to Session only.
	OutboundTarget
	// The connection registered as From now carries session To.
	OutboundRebind
	// Session From asked to resume To and was refused.
	OutboundRefused
	// Session's resume window ran out.
	OutboundExpired
)

func (k OutboundKind) String() string {
	switch k {
	case OutboundBroadcast:
		return "broadcast"
	case OutboundTarget:
		return "target"
	case OutboundRebind:
		return "rebind"
	case OutboundRefused:
		return "refused"
	case OutboundExpired:
		return "expired"
	}
	return fmt.Sprintf("OutboundKind(%d)", uint8(k))
}

// Outbound is everything the simulation hands back to the transport.
type Outbound struct {
	Kind    OutboundKind
	Session uint64
	From    uint64
	To      uint64
	Frame   []byte
	// Decoded form of Frame, kept for logging and tests.
	Packet P.GamePacket
}
