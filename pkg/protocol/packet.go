package protocol

import (
	"encoding/binary"
	"math"

	"github.com/cfoust/tether/pkg/geom"
)

// Packet is a frame being written or read. Reads consume from the front.
type Packet []byte

func (p *Packet) PutByte(v byte) {
	*p = append(*p, v)
}

func (p *Packet) PutBool(v bool) {
	if v {
		p.PutByte(1)
	} else {
		p.PutByte(0)
	}
}

func (p *Packet) PutUint32(v uint32) {
	*p = binary.LittleEndian.AppendUint32(*p, v)
}

func (p *Packet) PutUint64(v uint64) {
	*p = binary.LittleEndian.AppendUint64(*p, v)
}

func (p *Packet) PutFloat(v float32) {
	p.PutUint32(math.Float32bits(v))
}

// PutString writes a length-prefixed UTF-8 string.
func (p *Packet) PutString(s string) {
	p.PutUint32(uint32(len(s)))
	*p = append(*p, s...)
}

func (p *Packet) PutVector(v geom.Vector) {
	p.PutFloat(v.X)
	p.PutFloat(v.Y)
	p.PutFloat(v.Z)
}

func (p *Packet) GetByte() (byte, bool) {
	if len(*p) < 1 {
		return 0, false
	}
	b := (*p)[0]
	*p = (*p)[1:]
	return b, true
}

// GetBool only accepts 0 and 1.
func (p *Packet) GetBool() (bool, bool) {
	b, ok := p.GetByte()
	if !ok || b > 1 {
		return false, false
	}
	return b == 1, true
}

func (p *Packet) GetUint32() (uint32, bool) {
	if len(*p) < 4 {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(*p)
	*p = (*p)[4:]
	return v, true
}

func (p *Packet) GetUint64() (uint64, bool) {
	if len(*p) < 8 {
		return 0, false
	}
	v := binary.LittleEndian.Uint64(*p)
	*p = (*p)[8:]
	return v, true
}

// GetFloat rejects NaN and infinities; no valid message carries them.
func (p *Packet) GetFloat() (float32, bool) {
	bits, ok := p.GetUint32()
	if !ok {
		return 0, false
	}
	v := math.Float32frombits(bits)
	if !isFinite(v) {
		return 0, false
	}
	return v, true
}

func (p *Packet) GetString() (string, bool) {
	length, ok := p.GetUint32()
	if !ok || uint64(length) > uint64(len(*p)) {
		return "", false
	}
	s := string((*p)[:length])
	*p = (*p)[length:]
	return s, true
}

func (p *Packet) GetVector() (geom.Vector, bool) {
	var v geom.Vector
	var ok bool
	if v.X, ok = p.GetFloat(); !ok {
		return v, false
	}
	if v.Y, ok = p.GetFloat(); !ok {
		return v, false
	}
	if v.Z, ok = p.GetFloat(); !ok {
		return v, false
	}
	return v, true
}

// GetCount reads a list length and checks that that many elements of at
// least minSize bytes could still follow.
func (p *Packet) GetCount(minSize int) (int, bool) {
	count, ok := p.GetUint32()
	if !ok {
		return 0, false
	}
	if minSize > 0 && uint64(count)*uint64(minSize) > uint64(len(*p)) {
		return 0, false
	}
	return int(count), true
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
