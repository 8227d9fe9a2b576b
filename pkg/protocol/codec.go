package protocol

import (
	"errors"
	"fmt"
)

var (
	// The frame was written by a different protocol revision.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	// The message code is not part of the alphabet being decoded.
	ErrUnknownMessage = errors.New("unknown message")
	// The frame does not match the encoding of its message.
	ErrMalformed = errors.New("malformed message")
)

// DecodeError describes why a frame could not be decoded. It unwraps to one
// of ErrUnsupportedVersion, ErrUnknownMessage or ErrMalformed.
type DecodeError struct {
	Code   MessageCode
	Offset int
	Kind   error
	Reason error
}

func (e *DecodeError) Error() string {
	if e.Reason != nil {
		return fmt.Sprintf("%s at byte %d (%s): %v", e.Kind, e.Offset, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s at byte %d (%s)", e.Kind, e.Offset, e.Code)
}

func (e *DecodeError) Unwrap() error {
	return e.Kind
}

// Encode writes one message into a frame of its own.
func Encode(message Message) ([]byte, error) {
	p := make(Packet, 0, 64)
	p.PutByte(Version)
	p.PutByte(byte(message.Type()))
	err := message.Marshal(&p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", message.Type(), err)
	}
	return p, nil
}

// DecodeGamePacket decodes a frame sent by the server.
func DecodeGamePacket(frame []byte) (GamePacket, error) {
	p, code, err := readHeader(frame)
	if err != nil {
		return nil, err
	}

	var packet GamePacket
	switch code {
	case N_WELCOME:
		var m Welcome
		err = m.Unmarshal(&p)
		packet = m
	case N_SNAPSHOT:
		var m WorldSnapshot
		err = m.Unmarshal(&p)
		packet = m
	case N_SNAPSHOT_DELTA:
		var m WorldSnapshotDelta
		err = m.Unmarshal(&p)
		packet = m
	case N_MESSAGE:
		var m ServerMessage
		err = m.Unmarshal(&p)
		packet = m
	case N_PONG:
		var m Pong
		err = m.Unmarshal(&p)
		packet = m
	default:
		return nil, &DecodeError{Code: code, Offset: 1, Kind: ErrUnknownMessage}
	}

	err = checkBody(frame, p, code, err)
	if err != nil {
		return nil, err
	}
	return packet, nil
}

// DecodePlayerAction decodes a frame sent by a client.
func DecodePlayerAction(frame []byte) (PlayerAction, error) {
	p, code, err := readHeader(frame)
	if err != nil {
		return nil, err
	}

	var action PlayerAction
	switch code {
	case N_PING:
		var m Ping
		err = m.Unmarshal(&p)
		action = m
	case N_RESUME:
		var m ResumeSession
		err = m.Unmarshal(&p)
		action = m
	case N_INPUT_STATE:
		var m InputState
		err = m.Unmarshal(&p)
		action = m
	case N_INPUT_EVENT:
		var m InputEvent
		err = m.Unmarshal(&p)
		action = m
	default:
		return nil, &DecodeError{Code: code, Offset: 1, Kind: ErrUnknownMessage}
	}

	err = checkBody(frame, p, code, err)
	if err != nil {
		return nil, err
	}
	return action, nil
}

func readHeader(frame []byte) (Packet, MessageCode, error) {
	p := Packet(frame)
	version, ok := p.GetByte()
	if !ok {
		return nil, 0, &DecodeError{Kind: ErrMalformed, Reason: fmt.Errorf("empty frame")}
	}
	if version != Version {
		return nil, 0, &DecodeError{
			Kind:   ErrUnsupportedVersion,
			Reason: fmt.Errorf("got version %d, want %d", version, Version),
		}
	}

	code, ok := p.GetByte()
	if !ok {
		return nil, 0, &DecodeError{Offset: 1, Kind: ErrMalformed, Reason: fmt.Errorf("missing message code")}
	}
	return p, MessageCode(code), nil
}

func checkBody(frame []byte, rest Packet, code MessageCode, err error) error {
	offset := len(frame) - len(rest)
	if err != nil {
		return &DecodeError{Code: code, Offset: offset, Kind: ErrMalformed, Reason: err}
	}
	if len(rest) != 0 {
		return &DecodeError{
			Code:   code,
			Offset: offset,
			Kind:   ErrMalformed,
			Reason: fmt.Errorf("%d trailing bytes", len(rest)),
		}
	}
	return nil
}
