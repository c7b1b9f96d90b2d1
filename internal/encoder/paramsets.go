package encoder

import (
	"fmt"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/media"
)

// ParameterSetEmitter extracts the out-of-band parameter sets of a sample's
// format description in codec order.
type ParameterSetEmitter struct {
	codec  Codec
	layout []ParameterSetKind
}

// NewParameterSetEmitter resolves the parameter set layout for codec.
func NewParameterSetEmitter(codec Codec) (*ParameterSetEmitter, error) {
	v, err := codec.variant()
	if err != nil {
		return nil, err
	}
	return &ParameterSetEmitter{codec: codec, layout: v.layout}, nil
}

// Codec returns the codec the emitter was built for.
func (e *ParameterSetEmitter) Codec() Codec { return e.codec }

// Extract returns every parameter set, or none. A failure at any index
// discards the sets already read.
func (e *ParameterSetEmitter) Extract(fd *compressor.FormatDescription) ([]ParameterSet, error) {
	if fd == nil {
		return nil, fmt.Errorf("%w: sample has no format description", ErrParameterSetExtraction)
	}
	sets := make([]ParameterSet, 0, len(e.layout))
	for i, kind := range e.layout {
		data, err := fd.ParameterSet(i)
		if err != nil {
			return nil, fmt.Errorf("%w: %s at index %d: %w", ErrParameterSetExtraction, kind, i, err)
		}
		sets = append(sets, ParameterSet{Kind: kind, Bytes: data})
	}
	return sets, nil
}

// AppendAnnexB appends the start-code framed parameter sets to dst. On error
// dst is returned unchanged.
func (e *ParameterSetEmitter) AppendAnnexB(dst []byte, fd *compressor.FormatDescription) ([]byte, int, error) {
	sets, err := e.Extract(fd)
	if err != nil {
		return dst, 0, err
	}
	for _, ps := range sets {
		dst = media.NalUnit{Bytes: ps.Bytes}.AppendAnnexB(dst)
	}
	return dst, len(sets), nil
}
