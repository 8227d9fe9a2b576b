package protocol

import (
	"fmt"
)

// N_WELCOME
type Welcome struct {
	ID      uint64
	Message string
}

func (m Welcome) Type() MessageCode { return N_WELCOME }
func (Welcome) gamePacket()         {}

func (m Welcome) Marshal(p *Packet) error {
	p.PutUint64(m.ID)
	p.PutString(m.Message)
	return nil
}

func (m *Welcome) Unmarshal(p *Packet) error {
	var ok bool
	if m.ID, ok = p.GetUint64(); !ok {
		return fmt.Errorf("failed to read id")
	}
	if m.Message, ok = p.GetString(); !ok {
		return fmt.Errorf("failed to read message")
	}
	return nil
}

// N_SNAPSHOT
type WorldSnapshot struct {
	Tick   uint64
	Actors []ActorState
}

func (m WorldSnapshot) Type() MessageCode { return N_SNAPSHOT }
func (WorldSnapshot) gamePacket()         {}

func (m WorldSnapshot) Marshal(p *Packet) error {
	p.PutUint64(m.Tick)
	return putActors(p, m.Actors)
}

func (m *WorldSnapshot) Unmarshal(p *Packet) error {
	var ok bool
	if m.Tick, ok = p.GetUint64(); !ok {
		return fmt.Errorf("failed to read tick")
	}

	actors, err := getActors(p)
	if err != nil {
		return err
	}
	m.Actors = actors
	return nil
}

// N_SNAPSHOT_DELTA
type WorldSnapshotDelta struct {
	Tick    uint64
	Changed []ActorState
	Removed []uint64
}

func (m WorldSnapshotDelta) Type() MessageCode { return N_SNAPSHOT_DELTA }
func (WorldSnapshotDelta) gamePacket()         {}

func (m WorldSnapshotDelta) Marshal(p *Packet) error {
	p.PutUint64(m.Tick)
	err := putActors(p, m.Changed)
	if err != nil {
		return err
	}

	p.PutUint32(uint32(len(m.Removed)))
	for _, id := range m.Removed {
		p.PutUint64(id)
	}
	return nil
}

func (m *WorldSnapshotDelta) Unmarshal(p *Packet) error {
	var ok bool
	if m.Tick, ok = p.GetUint64(); !ok {
		return fmt.Errorf("failed to read tick")
	}

	changed, err := getActors(p)
	if err != nil {
		return err
	}
	m.Changed = changed

	count, ok := p.GetCount(8)
	if !ok {
		return fmt.Errorf("failed to read number of removed actors")
	}
	m.Removed = make([]uint64, count)
	for i := range m.Removed {
		m.Removed[i], _ = p.GetUint64()
	}
	return nil
}

// N_MESSAGE
type ServerMessage struct {
	Text string
}

func (m ServerMessage) Type() MessageCode { return N_MESSAGE }
func (ServerMessage) gamePacket()         {}

func (m ServerMessage) Marshal(p *Packet) error {
	p.PutString(m.Text)
	return nil
}

func (m *ServerMessage) Unmarshal(p *Packet) error {
	var ok bool
	if m.Text, ok = p.GetString(); !ok {
		return fmt.Errorf("failed to read text")
	}
	return nil
}

// N_PONG
type Pong struct {
	ID uint64
}

func (m Pong) Type() MessageCode { return N_PONG }
func (Pong) gamePacket()         {}

func (m Pong) Marshal(p *Packet) error {
	p.PutUint64(m.ID)
	return nil
}

func (m *Pong) Unmarshal(p *Packet) error {
	var ok bool
	if m.ID, ok = p.GetUint64(); !ok {
		return fmt.Errorf("failed to read id")
	}
	return nil
}

// N_PING
type Ping struct {
	ID uint64
}

func (m Ping) Type() MessageCode { return N_PING }
func (Ping) playerAction()       {}

func (m Ping) Marshal(p *Packet) error {
	p.PutUint64(m.ID)
	return nil
}

func (m *Ping) Unmarshal(p *Packet) error {
	var ok bool
	if m.ID, ok = p.GetUint64(); !ok {
		return fmt.Errorf("failed to read id")
	}
	return nil
}

// N_RESUME
type ResumeSession struct {
	PreviousID uint64
}

func (m ResumeSession) Type() MessageCode { return N_RESUME }
func (ResumeSession) playerAction()       {}

func (m ResumeSession) Marshal(p *Packet) error {
	p.PutUint64(m.PreviousID)
	return nil
}

func (m *ResumeSession) Unmarshal(p *Packet) error {
	var ok bool
	if m.PreviousID, ok = p.GetUint64(); !ok {
		return fmt.Errorf("failed to read previous id")
	}
	return nil
}

// N_INPUT_STATE
type InputState struct {
	Sequence Sequence
	X        float32
	Y        float32
}

func (m InputState) Type() MessageCode { return N_INPUT_STATE }
func (InputState) playerAction()       {}

func (m InputState) Marshal(p *Packet) error {
	if !isFinite(m.X) || !isFinite(m.Y) {
		return fmt.Errorf("input axis is not finite")
	}
	p.PutUint32(uint32(m.Sequence))
	p.PutFloat(m.X)
	p.PutFloat(m.Y)
	return nil
}

func (m *InputState) Unmarshal(p *Packet) error {
	sequence, ok := p.GetUint32()
	if !ok {
		return fmt.Errorf("failed to read sequence")
	}
	m.Sequence = Sequence(sequence)
	if m.X, ok = p.GetFloat(); !ok {
		return fmt.Errorf("failed to read x")
	}
	if m.Y, ok = p.GetFloat(); !ok {
		return fmt.Errorf("failed to read y")
	}
	return nil
}

// N_INPUT_EVENT
type InputEvent struct {
	Sequence Sequence
	Kind     InputEventKind
}

func (m InputEvent) Type() MessageCode { return N_INPUT_EVENT }
func (InputEvent) playerAction()       {}

func (m InputEvent) Marshal(p *Packet) error {
	if !m.Kind.Valid() {
		return fmt.Errorf("invalid event kind %d", m.Kind)
	}
	p.PutUint32(uint32(m.Sequence))
	p.PutByte(byte(m.Kind))
	return nil
}

func (m *InputEvent) Unmarshal(p *Packet) error {
	sequence, ok := p.GetUint32()
	if !ok {
		return fmt.Errorf("failed to read sequence")
	}
	m.Sequence = Sequence(sequence)

	kind, ok := p.GetByte()
	if !ok {
		return fmt.Errorf("failed to read kind")
	}
	m.Kind = InputEventKind(kind)
	if !m.Kind.Valid() {
		return fmt.Errorf("unknown event kind %d", kind)
	}
	return nil
}

func putActors(p *Packet, actors []ActorState) error {
	p.PutUint32(uint32(len(actors)))
	for _, actor := range actors {
		err := actor.Marshal(p)
		if err != nil {
			return err
		}
	}
	return nil
}

func getActors(p *Packet) ([]ActorState, error) {
	count, ok := p.GetCount(actorStateMinSize)
	if !ok {
		return nil, fmt.Errorf("failed to read number of actors")
	}
	actors := make([]ActorState, count)
	for i := range actors {
		err := actors[i].Unmarshal(p)
		if err != nil {
			return nil, fmt.Errorf("actor %d: %w", i, err)
		}
	}
	return actors, nil
}

var (
	_ GamePacket = Welcome{}
	_ GamePacket = WorldSnapshot{}
	_ GamePacket = WorldSnapshotDelta{}
	_ GamePacket = ServerMessage{}
	_ GamePacket = Pong{}

	_ PlayerAction = Ping{}
	_ PlayerAction = ResumeSession{}
	_ PlayerAction = InputState{}
	_ PlayerAction = InputEvent{}
)
