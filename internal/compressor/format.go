package compressor

import (
	"errors"
	"fmt"
)

// ErrParameterSetIndex is returned for an index past the available sets.
var ErrParameterSetIndex = errors.New("parameter set index out of range")

type parameterSet struct {
	data []byte
	err  error
}

// FormatDescription describes the compressed stream of a sample and carries
// its out-of-band parameter sets in codec order (H.264: SPS, PPS; HEVC: VPS,
// SPS, PPS).
type FormatDescription struct {
	Codec               CodecType
	Width               int
	Height              int
	NALUnitHeaderLength int

	sets []parameterSet
}

// NewFormatDescription creates a description with 4-byte NAL length fields.
func NewFormatDescription(codec CodecType, width, height int, sets ...[]byte) *FormatDescription {
	fd := &FormatDescription{Codec: codec, Width: width, Height: height, NALUnitHeaderLength: 4}
	for _, s := range sets {
		fd.AddParameterSet(s, nil)
	}
	return fd
}

// AddParameterSet appends a parameter set, or the error that prevented the
// backend from reading it.
func (fd *FormatDescription) AddParameterSet(data []byte, err error) {
	fd.sets = append(fd.sets, parameterSet{data: data, err: err})
}

// ParameterSetCount returns the number of parameter set slots.
func (fd *FormatDescription) ParameterSetCount() int {
	return len(fd.sets)
}

// ParameterSet returns the parameter set at index.
func (fd *FormatDescription) ParameterSet(index int) ([]byte, error) {
	if index < 0 || index >= len(fd.sets) {
		return nil, fmt.Errorf("%w: %d of %d", ErrParameterSetIndex, index, len(fd.sets))
	}
	ps := fd.sets[index]
	if ps.err != nil {
		return nil, ps.err
	}
	if len(ps.data) == 0 {
		return nil, fmt.Errorf("parameter set %d is empty", index)
	}
	return ps.data, nil
}
