package ffmpeg

import (
	"strings"
	"testing"
)

const encodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ..S... = Slice-level multithreading
 ...X.. = Codec is experimental
 ....B. = Supports draw_horiz_band
 .....D = Supports direct rendering method 1
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_videotoolbox    VideoToolbox H.264 Encoder (codec h264)
 V....D libx265              libx265 H.265 / HEVC (codec hevc)
 V....D hevc_videotoolbox    VideoToolbox H.265 Encoder (codec hevc)
 V....D prores_videotoolbox  VideoToolbox ProRes Encoder (codec prores)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestParseEncoderList(t *testing.T) {
	encoders, err := ParseEncoderList(strings.NewReader(encodersOutput))
	if err != nil {
		t.Fatalf("ParseEncoderList() error: %v", err)
	}
	if len(encoders) != 6 {
		t.Fatalf("got %d encoders, want 6: %+v", len(encoders), encoders)
	}

	first := encoders[0]
	if first.Name != "libx264" || first.Codec != "h264" || !first.Video || first.Hardware {
		t.Errorf("first encoder = %+v", first)
	}
	if first.Description != "libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10" {
		t.Errorf("description = %q", first.Description)
	}

	aac := encoders[5]
	if aac.Video || aac.Codec != "" {
		t.Errorf("aac = %+v, want audio encoder without codec", aac)
	}
}

func TestVideoEncodersFor(t *testing.T) {
	encoders, err := ParseEncoderList(strings.NewReader(encodersOutput))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		codec string
		want  []string
	}{
		{"h264", []string{"h264_videotoolbox", "libx264"}},
		{"hevc", []string{"hevc_videotoolbox", "libx265"}},
		{"av1", nil},
	}
	for _, tt := range tests {
		got := VideoEncodersFor(encoders, tt.codec)
		var names []string
		for _, e := range got {
			names = append(names, e.Name)
		}
		if strings.Join(names, ",") != strings.Join(tt.want, ",") {
			t.Errorf("VideoEncodersFor(%q) = %v, want %v", tt.codec, names, tt.want)
		}
	}
}

func TestIsHardwareEncoder(t *testing.T) {
	tests := map[string]bool{
		"h264_videotoolbox": true,
		"hevc_nvenc":        true,
		"h264_vaapi":        true,
		"libx264":           false,
		"libx265":           false,
	}
	for enc, want := range tests {
		if got := IsHardwareEncoder(enc); got != want {
			t.Errorf("IsHardwareEncoder(%q) = %v, want %v", enc, got, want)
		}
	}
}
