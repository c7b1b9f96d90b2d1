package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/cobra"
)

// testOptions mirrors the shape of the record command options.
type testOptions struct {
	Config string `help:"Config file path"`

	Codec    string   `toml:"encoder.codec" env:"ENCODER_CODEC"`
	Width    uint32   `toml:"encoder.width" env:"ENCODER_WIDTH"`
	Bitrate  uint64   `toml:"encoder.target_bitrate" env:"ENCODER_TARGET_BITRATE"`
	Realtime bool     `toml:"encoder.realtime" env:"ENCODER_REALTIME"`
	FPS      int      `toml:"source.fps" env:"SOURCE_FPS"`
	Scale    float64  `toml:"source.scale" env:"SOURCE_SCALE"`
	Options  []string `toml:"ffmpeg.options" env:"FFMPEG_OPTIONS"`
	Output   string   `toml:"sink.output" env:"SINK_OUTPUT"`
	Inputs   string   `toml:"ffmpeg.inputs"`
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "screencapture.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleConfig = `
[encoder]
codec = "hevc"
width = 1280
target_bitrate = 4000000
realtime = true

[source]
fps = 30
scale = 0.5

[ffmpeg]
options = ["genpts", "low_latency"]
inputs = ["genpts", "wallclock_ts"]

[sink]
output = "capture.h265"
`

func TestLoadConfigFromTOML(t *testing.T) {
	opts := &testOptions{Config: writeFile(t, sampleConfig)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	want := testOptions{
		Config:   opts.Config,
		Codec:    "hevc",
		Width:    1280,
		Bitrate:  4_000_000,
		Realtime: true,
		FPS:      30,
		Scale:    0.5,
		Options:  []string{"genpts", "low_latency"},
		Output:   "capture.h265",
		Inputs:   "genpts,wallclock_ts",
	}
	if !reflect.DeepEqual(*opts, want) {
		t.Errorf("options = %+v, want %+v", *opts, want)
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	t.Setenv("SCREENCAPTURE_ENCODER_CODEC", "h264")
	t.Setenv("SCREENCAPTURE_ENCODER_WIDTH", "640")
	t.Setenv("SCREENCAPTURE_ENCODER_REALTIME", "false")
	t.Setenv("SCREENCAPTURE_FFMPEG_OPTIONS", "genpts, wallclock_ts")

	opts := &testOptions{Config: writeFile(t, sampleConfig)}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatal(err)
	}
	if opts.Codec != "h264" || opts.Width != 640 || opts.Realtime {
		t.Errorf("env did not override file: %+v", opts)
	}
	if !reflect.DeepEqual(opts.Options, []string{"genpts", "wallclock_ts"}) {
		t.Errorf("Options = %v", opts.Options)
	}
	if opts.FPS != 30 {
		t.Errorf("FPS = %d, want file value 30", opts.FPS)
	}
}

func TestLoadConfigCLIWins(t *testing.T) {
	t.Setenv("SCREENCAPTURE_ENCODER_CODEC", "h264")

	opts := &testOptions{Config: writeFile(t, sampleConfig)}
	cmd := &cobra.Command{}
	cmd.Flags().StringVar(&opts.Codec, "codec", "", "")
	cmd.Flags().IntVar(&opts.FPS, "fps", 0, "")
	if err := cmd.Flags().Parse([]string{"--codec", "hevc", "--fps", "15"}); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatal(err)
	}
	if opts.Codec != "hevc" || opts.FPS != 15 {
		t.Errorf("CLI values overwritten: codec=%q fps=%d", opts.Codec, opts.FPS)
	}
	if opts.Width != 1280 {
		t.Errorf("Width = %d, want file value", opts.Width)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "invalid toml", content: "[encoder\ncodec ="},
		{name: "negative unsigned", content: "[encoder]\nwidth = -1\n"},
		{name: "bad env number", content: "", env: map[string]string{"SCREENCAPTURE_SOURCE_FPS": "fast"}},
		{name: "bad env bool", content: "", env: map[string]string{"SCREENCAPTURE_ENCODER_REALTIME": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := &testOptions{Config: writeFile(t, tt.content)}
			if err := LoadConfig(opts, nil); err == nil {
				t.Error("LoadConfig succeeded")
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: filepath.Join(t.TempDir(), "missing.toml"), Codec: "h264"}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig should not fail for a missing file: %v", err)
	}
	if opts.Codec != "h264" {
		t.Errorf("default overwritten: %q", opts.Codec)
	}
}

type encoderSection struct {
	Codec    string `toml:"codec"`
	Width    uint32 `toml:"width"`
	Height   uint32 `toml:"height"`
	Realtime bool   `toml:"realtime"`
}

func TestLoadSection(t *testing.T) {
	path := writeFile(t, sampleConfig)
	defaults := encoderSection{Codec: "h264", Height: 720}

	got, err := LoadSection(path, "encoder", defaults)
	if err != nil {
		t.Fatal(err)
	}
	want := encoderSection{Codec: "hevc", Width: 1280, Height: 720, Realtime: true}
	if got != want {
		t.Errorf("LoadSection = %+v, want %+v", got, want)
	}

	missing, err := LoadSection(path, "nope", defaults)
	if err != nil || missing != defaults {
		t.Errorf("missing section = %+v, %v; want defaults", missing, err)
	}

	if _, err := LoadSection(filepath.Join(t.TempDir(), "gone.toml"), "encoder", defaults); err == nil {
		t.Error("LoadSection of a missing file succeeded")
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeFile(t, `
[logging]
level = "warn"
format = "json"
journal = true
encoder = "debug"
ffmpeg = "error"
sink = "debug"
`)
	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" || cfg.Format != "json" || !cfg.Journal {
		t.Errorf("level/format/journal = %s/%s/%v", cfg.Level, cfg.Format, cfg.Journal)
	}
	if len(cfg.Modules) != 3 || cfg.Modules["encoder"] != "debug" || cfg.Modules["ffmpeg"] != "error" {
		t.Errorf("modules = %v", cfg.Modules)
	}

	if def := LoadLoggingConfig(""); def.Level != "info" || def.Format != "text" {
		t.Errorf("defaults = %+v", def)
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Codec":         "codec",
		"LoggingLevel":  "logging-level",
		"MetricsAddr":   "metrics-addr",
		"TargetBitrate": "target-bitrate",
		"FPS":           "fps",
		"HTTPAddr":      "http-addr",
		"CropX":         "crop-x",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"encoder": map[string]any{"codec": "h264", "rate": map[string]any{"max": int64(5)}},
		"top":     "value",
	}
	tests := []struct {
		path string
		want any
	}{
		{"top", "value"},
		{"encoder.codec", "h264"},
		{"encoder.rate.max", int64(5)},
		{"encoder.missing", nil},
		{"top.deeper", nil},
	}
	for _, tt := range tests {
		if got := getNestedValue(data, tt.path); got != tt.want {
			t.Errorf("getNestedValue(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
