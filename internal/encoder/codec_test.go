package encoder

import (
	"slices"
	"testing"
	"time"

	"github.com/smazurov/screencapture/internal/compressor"
)

func TestParseCodec(t *testing.T) {
	tests := []struct {
		input   string
		want    Codec
		wantErr bool
	}{
		{"h264", CodecH264, false},
		{"AVC1", CodecH264, false},
		{" hevc ", CodecHEVC, false},
		{"h265", CodecHEVC, false},
		{"hvc1", CodecHEVC, false},
		{"prores422", "", true},
		{"vp9", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCodec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCodec(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCodec(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCodecLayout(t *testing.T) {
	if got := CodecH264.Layout(); !slices.Equal(got, []ParameterSetKind{SPS, PPS}) {
		t.Errorf("h264 layout = %v", got)
	}
	if got := CodecHEVC.Layout(); !slices.Equal(got, []ParameterSetKind{VPS, SPS, PPS}) {
		t.Errorf("hevc layout = %v", got)
	}
	if got := Codec("vp9").Layout(); got != nil {
		t.Errorf("unknown codec layout = %v, want nil", got)
	}

	// The returned slice is a copy.
	layout := CodecHEVC.Layout()
	layout[0] = PPS
	if CodecHEVC.Layout()[0] != VPS {
		t.Error("layout was modified through the returned slice")
	}
}

func TestCodecType(t *testing.T) {
	if CodecH264.Type() != compressor.CodecTypeH264 {
		t.Errorf("h264 type = %q", CodecH264.Type())
	}
	if CodecHEVC.Type() != compressor.CodecTypeHEVC {
		t.Errorf("hevc type = %q", CodecHEVC.Type())
	}
}

func TestBitrateForArea(t *testing.T) {
	tests := []struct {
		width, height uint32
		want          uint64
	}{
		{1920, 1080, 1920 * 1080 * 4},
		{3840, 2160, 3840 * 2160 * 4},
		{64, 64, minBitrate},
	}
	for _, tt := range tests {
		if got := BitrateForArea(tt.width, tt.height); got != tt.want {
			t.Errorf("BitrateForArea(%d, %d) = %d, want %d", tt.width, tt.height, got, tt.want)
		}
	}
}

func TestConfigProperties(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetBitrate = 8_000_000
	props := cfg.properties(1280, 720, h264Variant)

	if props.Width != 1280 || props.Height != 720 {
		t.Errorf("size = %dx%d", props.Width, props.Height)
	}
	if props.Codec != compressor.CodecTypeH264 {
		t.Errorf("codec = %q", props.Codec)
	}
	if props.AllowFrameReordering {
		t.Error("frame reordering must be disabled")
	}
	if !props.Realtime {
		t.Error("realtime should be on by default")
	}
	if props.AverageBitRate != 8_000_000 {
		t.Errorf("bitrate = %d", props.AverageBitRate)
	}
	if props.DataRateLimit.Bytes != 1_500_000 || props.DataRateLimit.Period != time.Second {
		t.Errorf("data rate limit = %+v, want 1.5MB per second", props.DataRateLimit)
	}
	if props.MaxKeyFrameInterval != DefaultMaxKeyFrameInterval {
		t.Errorf("key frame interval = %d", props.MaxKeyFrameInterval)
	}

	derived := Config{Codec: CodecHEVC}.properties(1920, 1080, hevcVariant)
	if derived.AverageBitRate != int64(BitrateForArea(1920, 1080)) {
		t.Errorf("derived bitrate = %d", derived.AverageBitRate)
	}
	if derived.ExpectedFrameRate != DefaultFrameRate || derived.PixelFormat == "" {
		t.Errorf("defaults not applied: %+v", derived)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"unknown codec", Config{Codec: "vp9"}, true},
		{"width without height", Config{Codec: CodecH264, Width: 640}, true},
		{"bad pixel format", Config{Codec: CodecH264, PixelFormat: "yuyv"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStateTransitions(t *testing.T) {
	legal := [][2]State{
		{StateUninitialized, StateReady},
		{StateUninitialized, StateClosed},
		{StateReady, StateEncoding},
		{StateReady, StateDraining},
		{StateEncoding, StateDraining},
		{StateDraining, StateClosed},
	}
	for from := StateUninitialized; from <= StateClosed; from++ {
		for to := StateUninitialized; to <= StateClosed; to++ {
			want := slices.Contains(legal, [2]State{from, to})
			if got := from.canTransition(to); got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}
