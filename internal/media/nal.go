package media

// NalUnit is the atomic emission unit on the output byte stream. Bytes holds
// the unit body without any framing.
type NalUnit struct {
	Bytes []byte
}

// Len returns the serialized size including the start code.
func (u NalUnit) Len() int { return len(StartCode) + len(u.Bytes) }

// AppendAnnexB appends the start code and the unit body to dst.
func (u NalUnit) AppendAnnexB(dst []byte) []byte {
	dst = append(dst, StartCode[:]...)
	return append(dst, u.Bytes...)
}
