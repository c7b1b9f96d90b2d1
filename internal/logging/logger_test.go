package logging

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

// reset drops every cached logger and sends output to w.
func reset(t *testing.T, w *bytes.Buffer) {
	t.Helper()
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig = Config{}
	isInitialized = false
	if w != nil {
		output = w
	}
	mutex.Unlock()
	t.Cleanup(func() {
		mutex.Lock()
		output = os.Stderr
		mutex.Unlock()
	})
}

func enabled(l *slog.Logger, level slog.Level) bool {
	return l.Handler().Enabled(context.Background(), level)
}

func TestModuleLevels(t *testing.T) {
	reset(t, nil)
	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"encoder": "debug", "ffmpeg": "warn", "source": "bogus"},
	})

	tests := []struct {
		module string
		debug  bool
		info   bool
		warn   bool
	}{
		{"encoder", true, true, true},
		{"ffmpeg", false, false, true},
		{"source", false, true, true},
		{"compressor", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			l := GetLogger(tt.module)
			if got := enabled(l, slog.LevelDebug); got != tt.debug {
				t.Errorf("debug = %v, want %v", got, tt.debug)
			}
			if got := enabled(l, slog.LevelInfo); got != tt.info {
				t.Errorf("info = %v, want %v", got, tt.info)
			}
			if got := enabled(l, slog.LevelWarn); got != tt.warn {
				t.Errorf("warn = %v, want %v", got, tt.warn)
			}
		})
	}
}

func TestModuleOutput(t *testing.T) {
	var buf bytes.Buffer
	reset(t, &buf)
	Initialize(Config{Level: "warn", Format: "text", Modules: map[string]string{"encoder": "debug"}})

	GetLogger("encoder").Debug("frame encoded", "pts", 3)
	GetLogger("sink").Info("chunk written")

	out := buf.String()
	if !strings.Contains(out, "frame encoded") || !strings.Contains(out, "module=encoder") {
		t.Errorf("encoder debug line missing: %q", out)
	}
	if strings.Contains(out, "chunk written") {
		t.Errorf("sink info line should be filtered: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	reset(t, &buf)
	Initialize(Config{Level: "info", Format: "json"})
	GetLogger("sink").Info("bytes written", "count", 42)

	out := buf.String()
	for _, want := range []string{`"msg":"bytes written"`, `"module":"sink"`, `"count":42`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %q", want, out)
		}
	}
}

func TestLoggerBeforeInitialize(t *testing.T) {
	reset(t, nil)
	early := GetLogger("compressor")
	if enabled(early, slog.LevelDebug) {
		t.Fatal("loggers default to info before Initialize")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"compressor": "debug"}})

	// The early logger shares its level var with the rebuilt one.
	if !enabled(early, slog.LevelDebug) {
		t.Error("early logger did not pick up the module level")
	}
	if !enabled(GetLogger("compressor"), slog.LevelDebug) {
		t.Error("rebuilt logger did not pick up the module level")
	}
}

func TestSetModuleLevel(t *testing.T) {
	reset(t, nil)
	l := GetLogger("source")
	if !SetModuleLevel("source", "debug") {
		t.Fatal("valid level rejected")
	}
	if !enabled(l, slog.LevelDebug) {
		t.Error("debug should be enabled after SetModuleLevel")
	}
	if SetModuleLevel("source", "loud") {
		t.Error("invalid level accepted")
	}
	if !SetModuleLevel("fresh", "error") || enabled(GetLogger("fresh"), slog.LevelWarn) {
		t.Error("SetModuleLevel should create the module logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"DEBUG", slog.LevelDebug, true},
		{"Info", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"trace", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseLevel(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("journal down") }

func TestMultiHandler(t *testing.T) {
	var debug, info bytes.Buffer
	multi := NewMultiHandler(
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)
	l := slog.New(multi).WithGroup("enc").With("codec", "hevc")

	l.Debug("low")
	l.Info("high")

	if strings.Count(debug.String(), "enc.codec=hevc") != 2 {
		t.Errorf("debug handler output: %q", debug.String())
	}
	if strings.Contains(info.String(), "low") || !strings.Contains(info.String(), "high") {
		t.Errorf("info handler output: %q", info.String())
	}
	if multi.Enabled(context.Background(), slog.LevelDebug-1) {
		t.Error("no handler accepts levels below debug")
	}
}

func TestMultiHandlerJoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	text := slog.NewTextHandler(&buf, nil)
	multi := NewMultiHandler(text, failingHandler{text})

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "session created", 0)
	err := multi.Handle(context.Background(), r)
	if err == nil || !strings.Contains(err.Error(), "journal down") {
		t.Errorf("Handle error = %v", err)
	}
	if !strings.Contains(buf.String(), "session created") {
		t.Error("healthy handler skipped after a failing one")
	}
}

func TestJournalFields(t *testing.T) {
	h := NewJournalHandler(slog.LevelInfo).
		WithAttrs([]slog.Attr{slog.String("module", "encoder")}).(*JournalHandler).
		WithGroup("session").(*JournalHandler)

	fields := map[string]string{}
	for k, v := range h.fields {
		fields[k] = v
	}
	putField(fields, h.prefix, slog.Int("width", 1920))
	putField(fields, h.prefix, slog.Group("codec", slog.String("name", "h264"), slog.Float64("bitrate", 2.5)))
	putField(fields, h.prefix, slog.Attr{})

	want := map[string]string{
		"MODULE":                "encoder",
		"SESSION_WIDTH":         "1920",
		"SESSION_CODEC_NAME":    "h264",
		"SESSION_CODEC_BITRATE": "2.5",
	}
	if len(fields) != len(want) {
		t.Errorf("fields = %v", fields)
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %q, want %q", k, fields[k], v)
		}
	}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("journal handler ignores its level")
	}
}

func TestJournalPriority(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  journal.Priority
	}{
		{slog.LevelDebug, journal.PriDebug},
		{slog.LevelInfo, journal.PriInfo},
		{slog.LevelWarn, journal.PriWarning},
		{slog.LevelError, journal.PriErr},
		{slog.LevelError + 4, journal.PriErr},
	}
	for _, tt := range tests {
		if got := priority(tt.level); got != tt.want {
			t.Errorf("priority(%v) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestConsoleAttached(t *testing.T) {
	devNull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Skip(err)
	}
	defer devNull.Close()
	file, err := os.Create(t.TempDir() + "/log")
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	tests := []struct {
		name string
		w    io.Writer
		want bool
	}{
		{"buffer", &bytes.Buffer{}, true},
		{"regular file", file, true},
		{"dev null", devNull, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mutex.Lock()
			prev := output
			output = tt.w
			mutex.Unlock()
			defer func() { output = prev }()

			if got := consoleAttached(); got != tt.want {
				t.Errorf("consoleAttached() = %v, want %v", got, tt.want)
			}
		})
	}
}
