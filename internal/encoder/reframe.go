package encoder

import (
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/smazurov/screencapture/internal/media"
)

const lengthFieldSize = 4

// UnitScanner walks a buffer of 4-byte big-endian length-prefixed records.
// Returned units alias the input buffer.
type UnitScanner struct {
	buf  []byte
	off  int
	unit media.NalUnit
	err  error
}

// NewUnitScanner returns a scanner over buf.
func NewUnitScanner(buf []byte) *UnitScanner {
	return &UnitScanner{buf: buf}
}

// Scan advances to the next record. It returns false at the end of the
// buffer or when the remaining bytes do not form a complete record.
func (s *UnitScanner) Scan() bool {
	if s.err != nil {
		return false
	}
	remaining := len(s.buf) - s.off
	if remaining == 0 {
		return false
	}
	if remaining < lengthFieldSize {
		s.err = fmt.Errorf("%w: %d trailing bytes at offset %d", ErrMalformedTail, remaining, s.off)
		return false
	}
	n := binary.BigEndian.Uint32(s.buf[s.off:])
	if uint64(n) > uint64(remaining-lengthFieldSize) {
		s.err = fmt.Errorf("%w: record of %d bytes at offset %d, %d available",
			ErrMalformedTail, n, s.off, remaining-lengthFieldSize)
		return false
	}
	start := s.off + lengthFieldSize
	end := start + int(n)
	s.unit = media.NalUnit{Bytes: s.buf[start:end:end]}
	s.off = end
	return true
}

// Unit returns the record found by the last successful Scan.
func (s *UnitScanner) Unit() media.NalUnit { return s.unit }

// Err returns ErrMalformedTail, wrapped, when scanning stopped early.
func (s *UnitScanner) Err() error { return s.err }

// Remaining returns the number of unconsumed bytes.
func (s *UnitScanner) Remaining() int { return len(s.buf) - s.off }

// Units yields every complete record in buf. A malformed tail ends the
// sequence without error; use UnitScanner to observe it.
func Units(buf []byte) iter.Seq[media.NalUnit] {
	return func(yield func(media.NalUnit) bool) {
		s := NewUnitScanner(buf)
		for s.Scan() {
			if !yield(s.Unit()) {
				return
			}
		}
	}
}

// AppendAnnexB appends every complete record of buf to dst with a start
// code in place of its length field. It returns the extended buffer, the
// number of units converted and ErrMalformedTail if trailing bytes were
// skipped.
func AppendAnnexB(dst, buf []byte) ([]byte, int, error) {
	s := NewUnitScanner(buf)
	n := 0
	for s.Scan() {
		dst = s.Unit().AppendAnnexB(dst)
		n++
	}
	return dst, n, s.Err()
}
