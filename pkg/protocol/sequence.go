package protocol

// Sequence numbers tag every input a client sends. They wrap on overflow,
// so ordering uses serial-number arithmetic rather than plain comparison.
type Sequence uint32

func (s Sequence) Next() Sequence {
	return s + 1
}

// After reports whether s was issued later than o. It is correct as long as
// the two are less than 2^31 apart.
func (s Sequence) After(o Sequence) bool {
	return int32(uint32(s)-uint32(o)) > 0
}
