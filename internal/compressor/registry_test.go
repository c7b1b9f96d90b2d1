package compressor

import (
	"errors"
	"strings"
	"testing"
)

type stubFactory struct {
	name      string
	hardware  bool
	available bool
	codecs    []CodecType
}

func (s stubFactory) Name() string        { return s.name }
func (s stubFactory) Hardware() bool      { return s.hardware }
func (s stubFactory) Available() bool     { return s.available }
func (s stubFactory) Codecs() []CodecType { return s.codecs }
func (s stubFactory) New(Properties, OutputHandler) (Compressor, error) {
	return nil, errors.New("not implemented")
}

func TestRegistrySelectPrefersHardware(t *testing.T) {
	r := NewRegistry()
	r.Register(stubFactory{name: "soft", available: true, codecs: []CodecType{CodecTypeH264, CodecTypeHEVC}})
	r.Register(stubFactory{name: "hw", hardware: true, available: true, codecs: []CodecType{CodecTypeH264}})

	f, err := r.Select("auto", CodecTypeH264)
	if err != nil {
		t.Fatal(err)
	}
	if f.Name() != "hw" {
		t.Errorf("Select(auto, h264) = %s, want hw", f.Name())
	}

	f, err = r.Select("", CodecTypeHEVC)
	if err != nil {
		t.Fatal(err)
	}
	if f.Name() != "soft" {
		t.Errorf("Select(\"\", hevc) = %s, want soft", f.Name())
	}
}

func TestRegistrySelectByName(t *testing.T) {
	r := NewRegistry()
	r.Register(stubFactory{name: "hw", hardware: true, available: false, codecs: []CodecType{CodecTypeH264}})
	r.Register(stubFactory{name: "soft", available: true, codecs: []CodecType{CodecTypeH264}})

	tests := []struct {
		name    string
		backend string
		codec   CodecType
		wantErr string
	}{
		{"unknown backend", "nope", CodecTypeH264, "unknown compressor backend"},
		{"unavailable backend", "hw", CodecTypeH264, "not available"},
		{"unsupported codec", "soft", CodecTypeHEVC, "does not support"},
		{"ok", "soft", CodecTypeH264, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Select(tt.backend, tt.codec)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRegistryNoBackend(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Select("auto", CodecTypeH264); err == nil {
		t.Error("expected error from empty registry")
	}
}

func TestFormatDescriptionParameterSet(t *testing.T) {
	extractErr := errors.New("boom")
	fd := NewFormatDescription(CodecTypeHEVC, 64, 64, []byte{0x40}, []byte{0x42})
	fd.AddParameterSet(nil, extractErr)

	if fd.ParameterSetCount() != 3 {
		t.Fatalf("count = %d, want 3", fd.ParameterSetCount())
	}
	if ps, err := fd.ParameterSet(1); err != nil || ps[0] != 0x42 {
		t.Errorf("ParameterSet(1) = %x, %v", ps, err)
	}
	if _, err := fd.ParameterSet(2); !errors.Is(err, extractErr) {
		t.Errorf("ParameterSet(2) error = %v, want %v", err, extractErr)
	}
	if _, err := fd.ParameterSet(3); !errors.Is(err, ErrParameterSetIndex) {
		t.Errorf("ParameterSet(3) error = %v, want ErrParameterSetIndex", err)
	}
}

func TestStatusOf(t *testing.T) {
	err := &StatusError{Op: "create", Status: -12902}
	wrapped := errors.Join(errors.New("context"), err)
	if got := StatusOf(wrapped); got != -12902 {
		t.Errorf("StatusOf = %d, want -12902", got)
	}
	if got := StatusOf(nil); got != StatusOK {
		t.Errorf("StatusOf(nil) = %d, want 0", got)
	}
	if got := StatusOf(errors.New("plain")); got != StatusSessionFail {
		t.Errorf("StatusOf(plain) = %d, want %d", got, StatusSessionFail)
	}
}

func TestInfoFlagsDropped(t *testing.T) {
	if !(InfoAsynchronous | InfoFrameDropped).Dropped() {
		t.Error("expected dropped")
	}
	if InfoAsynchronous.Dropped() {
		t.Error("asynchronous flag alone is not a drop")
	}
}
