package ffmpeg

import "testing"

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		line      string
		wantLevel string
		wantMsg   string
	}{
		{"[info] Input #0, rawvideo, from 'pipe:0':", "info", "Input #0, rawvideo, from 'pipe:0':"},
		{"[error] pipe:0: End of file", "error", "pipe:0: End of file"},
		{"[libx264 @ 0x7f8] [warning] frame MB size mismatch", "warning", "[libx264 @ 0x7f8] frame MB size mismatch"},
		{"[h264_metadata @ 0x1] [debug] inserted AUD", "debug", "[h264_metadata @ 0x1] inserted AUD"},
		{"[libx264 @ 0x7f8] using cpu capabilities", "info", "[libx264 @ 0x7f8] using cpu capabilities"},
		{"[avfoundation @ 0x2] [verbose] selected screen 1", "verbose", "[avfoundation @ 0x2] selected screen 1"},
		{"[warning] thread queue full\r", "warning", "thread queue full"},
		{"frame=  120 fps= 60 q=-0.0 size=N/A", "debug", "frame=  120 fps= 60 q=-0.0 size=N/A"},
		{"[sometag] not a level", "info", "[sometag] not a level"},
		{"plain line", "info", "plain line"},
		{"[x", "info", "[x"},
		{"", "info", ""},
	}
	for _, tt := range tests {
		level, msg := ParseLogLevel(tt.line)
		if level != tt.wantLevel || msg != tt.wantMsg {
			t.Errorf("ParseLogLevel(%q) = (%q, %q), want (%q, %q)", tt.line, level, msg, tt.wantLevel, tt.wantMsg)
		}
	}
}
