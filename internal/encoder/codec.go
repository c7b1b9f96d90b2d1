package encoder

import (
	"fmt"
	"strings"

	"github.com/smazurov/screencapture/internal/compressor"
)

// Codec selects the compressed video format.
type Codec string

// Supported codecs.
const (
	CodecH264 Codec = "h264"
	CodecHEVC Codec = "hevc"
)

// ParseCodec accepts codec names and their four character codes.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "h264", "avc", "avc1":
		return CodecH264, nil
	case "hevc", "h265", "hvc1":
		return CodecHEVC, nil
	case "prores422", "prores4444", "apcn", "ap4h":
		return "", fmt.Errorf("codec %q is not supported by the elementary stream pipeline", name)
	}
	return "", fmt.Errorf("unknown video codec %q", name)
}

// ParameterSetKind names an out-of-band parameter record.
type ParameterSetKind int

// Parameter set kinds.
const (
	VPS ParameterSetKind = iota
	SPS
	PPS
)

func (k ParameterSetKind) String() string {
	switch k {
	case VPS:
		return "VPS"
	case SPS:
		return "SPS"
	case PPS:
		return "PPS"
	}
	return fmt.Sprintf("ParameterSetKind(%d)", int(k))
}

// ParameterSet is one extracted parameter record.
type ParameterSet struct {
	Kind  ParameterSetKind
	Bytes []byte
}

// codecVariant is the per-codec data resolved once at configuration time.
type codecVariant struct {
	codec        Codec
	codecType    compressor.CodecType
	layout       []ParameterSetKind
	profileLevel string
}

var (
	h264Variant = codecVariant{
		codec:        CodecH264,
		codecType:    compressor.CodecTypeH264,
		layout:       []ParameterSetKind{SPS, PPS},
		profileLevel: "H264_High_AutoLevel",
	}
	hevcVariant = codecVariant{
		codec:        CodecHEVC,
		codecType:    compressor.CodecTypeHEVC,
		layout:       []ParameterSetKind{VPS, SPS, PPS},
		profileLevel: "HEVC_Main_AutoLevel",
	}
)

func (c Codec) variant() (codecVariant, error) {
	switch c {
	case CodecH264:
		return h264Variant, nil
	case CodecHEVC:
		return hevcVariant, nil
	}
	return codecVariant{}, fmt.Errorf("unknown video codec %q", string(c))
}

// Type returns the compressor codec type.
func (c Codec) Type() compressor.CodecType {
	v, err := c.variant()
	if err != nil {
		return ""
	}
	return v.codecType
}

// Layout returns the parameter set kinds in emission order.
func (c Codec) Layout() []ParameterSetKind {
	v, err := c.variant()
	if err != nil {
		return nil
	}
	out := make([]ParameterSetKind, len(v.layout))
	copy(out, v.layout)
	return out
}
