package ffmpegenc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/smazurov/screencapture/internal/compressor"
)

var (
	h264AUD = []byte{0x09, 0xF0}
	h264SPS = []byte{0x67, 0x64, 0x00, 0x1F, 0xAC}
	h264PPS = []byte{0x68, 0xEE, 0x3C, 0x80}
	h264IDR = []byte{0x65, 0x88, 0x84, 0x21}
	h264P   = []byte{0x41, 0x9A, 0x02, 0x03}
	h264SEI = []byte{0x06, 0x05, 0x01, 0x80}

	hevcAUD  = []byte{0x46, 0x01, 0x50}
	hevcVPS  = []byte{0x40, 0x01, 0x0C}
	hevcSPS  = []byte{0x42, 0x01, 0x01}
	hevcPPS  = []byte{0x44, 0x01, 0xC1}
	hevcIDR  = []byte{0x26, 0x01, 0xAF}
	hevcTail = []byte{0x02, 0x01, 0xD0}
)

// stream joins units with 4-byte start codes.
func stream(units ...[]byte) []byte {
	var b []byte
	for _, u := range units {
		b = append(b, 0, 0, 0, 1)
		b = append(b, u...)
	}
	return b
}

// avcc joins units as length-prefixed records.
func avcc(units ...[]byte) []byte {
	var b []byte
	for _, u := range units {
		b = binary.BigEndian.AppendUint32(b, uint32(len(u)))
		b = append(b, u...)
	}
	return b
}

func readAll(t *testing.T, r *accessUnitReader) [][][]byte {
	t.Helper()
	var aus [][][]byte
	for {
		au, err := r.Next()
		if errors.Is(err, io.EOF) {
			return aus
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		aus = append(aus, au)
	}
}

func TestSplitNALUnits(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  [][]byte
	}{
		{
			name:  "four byte start codes",
			input: stream(h264SPS, h264PPS, h264IDR),
			want:  [][]byte{h264SPS, h264PPS, h264IDR},
		},
		{
			name:  "three byte start codes",
			input: append(append([]byte{0, 0, 1}, h264SPS...), append([]byte{0, 0, 1}, h264P...)...),
			want:  [][]byte{h264SPS, h264P},
		},
		{
			name:  "leading garbage and trailing zeros",
			input: append(append([]byte{0xAB, 0xCD}, stream(h264IDR)...), 0, 0, 0),
			want:  [][]byte{h264IDR},
		},
		{
			name:  "no start code",
			input: []byte{1, 2, 3},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][]byte
			data := tt.input
			for len(data) > 0 {
				advance, token, err := splitNALUnits(data, true)
				if err != nil {
					t.Fatal(err)
				}
				if advance == 0 {
					t.Fatal("no progress at EOF")
				}
				if len(token) > 0 {
					got = append(got, bytes.Clone(token))
				}
				data = data[advance:]
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d units %x, want %d", len(got), got, len(tt.want))
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("unit %d = %x, want %x", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitNALUnitsWaitsForNextStartCode(t *testing.T) {
	advance, token, err := splitNALUnits(append([]byte{0, 0, 1}, h264IDR...), false)
	if err != nil || token != nil || advance != 0 {
		t.Errorf("split of unterminated unit = (%d, %x, %v), want to request more data", advance, token, err)
	}
}

func TestAccessUnitReaderGroupsByDelimiter(t *testing.T) {
	input := stream(
		h264AUD, h264SPS, h264PPS, h264SEI, h264IDR,
		h264AUD, h264P,
		h264AUD, h264P,
	)
	r := newAccessUnitReader(bytes.NewReader(input), compressor.CodecTypeH264)
	aus := readAll(t, r)

	if len(aus) != 3 {
		t.Fatalf("got %d access units, want 3", len(aus))
	}
	if len(aus[0]) != 4 {
		t.Errorf("first access unit has %d units, want 4 (delimiter dropped)", len(aus[0]))
	}
	if !bytes.Equal(aus[2][0], h264P) {
		t.Errorf("last access unit = %x, want %x", aus[2][0], h264P)
	}
}

func TestAccessUnitReaderHEVC(t *testing.T) {
	input := stream(hevcAUD, hevcVPS, hevcSPS, hevcPPS, hevcIDR, hevcAUD, hevcTail)
	r := newAccessUnitReader(bytes.NewReader(input), compressor.CodecTypeHEVC)
	aus := readAll(t, r)
	if len(aus) != 2 || len(aus[0]) != 4 || len(aus[1]) != 1 {
		t.Fatalf("access units = %x", aus)
	}
}

func TestAccessUnitReaderUnitsAreCopied(t *testing.T) {
	input := stream(h264AUD, h264IDR, h264AUD, h264P)
	r := newAccessUnitReader(bytes.NewReader(input), compressor.CodecTypeH264)
	first, err := r.Next()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first[0], h264IDR) {
		t.Errorf("first unit changed to %x after reading on", first[0])
	}
}

func TestPackerH264(t *testing.T) {
	p := newPacker(compressor.CodecTypeH264, 16, 16)

	data, format, key, ok := p.pack([][]byte{h264SPS, h264PPS, h264SEI, h264IDR})
	if !ok || !key {
		t.Fatalf("IDR access unit: ok=%v key=%v", ok, key)
	}
	if want := avcc(h264SEI, h264IDR); !bytes.Equal(data, want) {
		t.Errorf("data = %x, want %x (parameter sets moved out)", data, want)
	}
	if format.ParameterSetCount() != 2 {
		t.Fatalf("parameter sets = %d, want 2", format.ParameterSetCount())
	}
	if sps, err := format.ParameterSet(0); err != nil || !bytes.Equal(sps, h264SPS) {
		t.Errorf("SPS = %x, %v", sps, err)
	}
	if pps, err := format.ParameterSet(1); err != nil || !bytes.Equal(pps, h264PPS) {
		t.Errorf("PPS = %x, %v", pps, err)
	}

	data, format2, key, ok := p.pack([][]byte{h264P})
	if !ok || key {
		t.Fatalf("P access unit: ok=%v key=%v", ok, key)
	}
	if !bytes.Equal(data, avcc(h264P)) {
		t.Errorf("data = %x", data)
	}
	if format2 != format {
		t.Error("format description replaced although parameter sets did not change")
	}

	if _, _, _, ok := p.pack([][]byte{h264SPS, h264PPS}); ok {
		t.Error("access unit without picture reported ok")
	}
}

func TestPackerMissingParameterSets(t *testing.T) {
	p := newPacker(compressor.CodecTypeH264, 16, 16)
	_, format, key, ok := p.pack([][]byte{h264IDR})
	if !ok || !key {
		t.Fatalf("ok=%v key=%v", ok, key)
	}
	if _, err := format.ParameterSet(0); !errors.Is(err, errMissingParameterSet) {
		t.Errorf("ParameterSet(0) error = %v, want errMissingParameterSet", err)
	}
}

func TestPackerHEVC(t *testing.T) {
	p := newPacker(compressor.CodecTypeHEVC, 16, 16)

	data, format, key, ok := p.pack([][]byte{hevcVPS, hevcSPS, hevcPPS, hevcIDR})
	if !ok || !key {
		t.Fatalf("IDR access unit: ok=%v key=%v", ok, key)
	}
	if !bytes.Equal(data, avcc(hevcIDR)) {
		t.Errorf("data = %x", data)
	}
	for i, want := range [][]byte{hevcVPS, hevcSPS, hevcPPS} {
		got, err := format.ParameterSet(i)
		if err != nil || !bytes.Equal(got, want) {
			t.Errorf("parameter set %d = %x, %v; want %x", i, got, err, want)
		}
	}

	if _, _, key, _ := p.pack([][]byte{hevcTail}); key {
		t.Error("trailing picture classified as key frame")
	}
}
