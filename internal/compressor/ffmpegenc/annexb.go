package ffmpegenc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/AlexxIT/go2rtc/pkg/h264"
	"github.com/AlexxIT/go2rtc/pkg/h265"

	"github.com/smazurov/screencapture/internal/compressor"
)

// Access unit delimiter types. go2rtc names the slice and parameter set
// types but not these.
const (
	h264NALUTypeAUD = 9
	h265NALUTypeAUD = 35
)

// maxAccessUnit bounds a single NAL unit read from the encoder.
const maxAccessUnit = 64 << 20

var startCode3 = []byte{0, 0, 1}

// splitNALUnits is a bufio.SplitFunc yielding Annex B NAL unit bodies
// without their start codes.
func splitNALUnits(data []byte, atEOF bool) (advance int, token []byte, err error) {
	i := bytes.Index(data, startCode3)
	if i < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return 0, nil, nil
	}
	body := data[i+len(startCode3):]
	j := bytes.Index(body, startCode3)
	if j < 0 {
		if !atEOF {
			// Skip leading garbage, wait for the next start code
			return i, nil, nil
		}
		return len(data), bytes.TrimRight(body, "\x00"), nil
	}
	// A 4-byte start code leaves its leading zero on the previous unit
	return i + len(startCode3) + j, bytes.TrimRight(body[:j], "\x00"), nil
}

// accessUnitReader groups the NAL units of an AUD-delimited stream into
// access units.
type accessUnitReader struct {
	scanner *bufio.Scanner
	codec   compressor.CodecType
	pending [][]byte
}

func newAccessUnitReader(r io.Reader, codec compressor.CodecType) *accessUnitReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), maxAccessUnit)
	scanner.Split(splitNALUnits)
	return &accessUnitReader{scanner: scanner, codec: codec}
}

// Next returns the units of the next complete access unit, without the
// delimiter. The final unit is returned once the stream ends; after that
// Next returns io.EOF or the read error.
func (r *accessUnitReader) Next() ([][]byte, error) {
	for r.scanner.Scan() {
		unit := r.scanner.Bytes()
		if len(unit) == 0 {
			continue
		}
		if isAUD(r.codec, unit) {
			if len(r.pending) > 0 {
				au := r.pending
				r.pending = nil
				return au, nil
			}
			continue
		}
		r.pending = append(r.pending, bytes.Clone(unit))
	}
	if len(r.pending) > 0 {
		au := r.pending
		r.pending = nil
		return au, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func isAUD(codec compressor.CodecType, unit []byte) bool {
	switch codec {
	case compressor.CodecTypeHEVC:
		return (unit[0]>>1)&0x3F == h265NALUTypeAUD
	default:
		return unit[0]&0x1F == h264NALUTypeAUD
	}
}

// packer turns access units into length-prefixed samples. In-band
// parameter sets are moved to the format description.
type packer struct {
	codec  compressor.CodecType
	width  int
	height int
	sets   map[byte][]byte
	format *compressor.FormatDescription
}

func newPacker(codec compressor.CodecType, width, height int) *packer {
	return &packer{codec: codec, width: width, height: height, sets: make(map[byte][]byte)}
}

// layout lists the parameter set types in format description order.
func (p *packer) layout() []byte {
	if p.codec == compressor.CodecTypeHEVC {
		return []byte{h265.NALUTypeVPS, h265.NALUTypeSPS, h265.NALUTypePPS}
	}
	return []byte{h264.NALUTypeSPS, h264.NALUTypePPS}
}

func (p *packer) nalType(record []byte) byte {
	if p.codec == compressor.CodecTypeHEVC {
		return h265.NALUType(record)
	}
	return h264.NALUType(record)
}

func (p *packer) isParameterSet(typ byte) bool {
	for _, t := range p.layout() {
		if t == typ {
			return true
		}
	}
	return false
}

// pack returns the sample data of one access unit. ok is false when the
// unit carries no picture.
func (p *packer) pack(units [][]byte) (data []byte, format *compressor.FormatDescription, keyFrame, ok bool) {
	changed := p.format == nil
	for _, unit := range units {
		record := binary.BigEndian.AppendUint32(make([]byte, 0, 4+len(unit)), uint32(len(unit)))
		record = append(record, unit...)

		typ := p.nalType(record)
		if p.isParameterSet(typ) {
			if !bytes.Equal(p.sets[typ], unit) {
				p.sets[typ] = unit
				changed = true
			}
			continue
		}
		data = append(data, record...)
	}

	if changed {
		p.format = p.describe()
	}
	if len(data) == 0 {
		return nil, p.format, false, false
	}

	if p.codec == compressor.CodecTypeHEVC {
		keyFrame = h265.IsKeyframe(data)
	} else {
		keyFrame = h264.IsKeyframe(data)
	}
	return data, p.format, keyFrame, true
}

func (p *packer) describe() *compressor.FormatDescription {
	fd := compressor.NewFormatDescription(p.codec, p.width, p.height)
	for _, typ := range p.layout() {
		if set, ok := p.sets[typ]; ok {
			fd.AddParameterSet(set, nil)
		} else {
			fd.AddParameterSet(nil, errMissingParameterSet)
		}
	}
	return fd
}
