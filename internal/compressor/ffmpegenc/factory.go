// Package ffmpegenc is a portable compressor backend that runs an ffmpeg
// encoder as a subprocess. Raw frames are written to its stdin, the Annex B
// stream on its stdout is split into access units and re-packed as
// length-prefixed samples with out-of-band parameter sets.
package ffmpegenc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/ffmpeg"
	"github.com/smazurov/screencapture/internal/logging"
	"github.com/smazurov/screencapture/internal/process"
)

// Name is the backend name used in configuration.
const Name = "ffmpeg"

var errMissingParameterSet = errors.New("parameter set not seen in stream")

// Config selects encoders and instrumentation for the backend.
type Config struct {
	// Encoders maps a codec to an ffmpeg encoder. Missing codecs use
	// DefaultEncoders.
	Encoders map[compressor.CodecType]string
	// Options are input options applied to the raw frame demuxer.
	Options []ffmpeg.OptionType
	// PipelineID labels progress metrics.
	PipelineID string
	// ProgressDir holds the progress sockets. Empty disables progress
	// collection.
	ProgressDir string
	Logger      *slog.Logger
}

// DefaultEncoders returns the platform encoder per codec.
func DefaultEncoders() map[compressor.CodecType]string {
	if runtime.GOOS == "darwin" {
		return map[compressor.CodecType]string{
			compressor.CodecTypeH264: "h264_videotoolbox",
			compressor.CodecTypeHEVC: "hevc_videotoolbox",
		}
	}
	return map[compressor.CodecType]string{
		compressor.CodecTypeH264: "libx264",
		compressor.CodecTypeHEVC: "libx265",
	}
}

// Factory creates ffmpeg encoder sessions.
type Factory struct {
	cfg      Config
	encoders map[compressor.CodecType]string
	logger   *slog.Logger

	// buildCommand is replaced in tests.
	buildCommand func(*ffmpeg.EncodeParams) (string, error)

	available func() bool
	sessions  sync.WaitGroup
}

// NewFactory creates the backend.
func NewFactory(cfg Config) *Factory {
	encoders := DefaultEncoders()
	for codec, enc := range cfg.Encoders {
		if enc != "" {
			encoders[codec] = enc
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetLogger("compressor")
	}
	if cfg.PipelineID == "" {
		cfg.PipelineID = "default"
	}
	return &Factory{
		cfg:          cfg,
		encoders:     encoders,
		logger:       logger.With("backend", Name),
		buildCommand: ffmpeg.BuildEncodeCommand,
		available: sync.OnceValue(func() bool {
			_, err := exec.LookPath("ffmpeg")
			return err == nil
		}),
	}
}

// Name implements compressor.Factory.
func (f *Factory) Name() string { return Name }

// Hardware reports whether the H.264 encoder runs on dedicated hardware.
func (f *Factory) Hardware() bool {
	return ffmpeg.IsHardwareEncoder(f.encoders[compressor.CodecTypeH264])
}

// Available reports whether ffmpeg is on PATH.
func (f *Factory) Available() bool { return f.available() }

// Codecs implements compressor.Factory.
func (f *Factory) Codecs() []compressor.CodecType {
	codecs := make([]compressor.CodecType, 0, len(f.encoders))
	for codec := range f.encoders {
		codecs = append(codecs, codec)
	}
	slices.Sort(codecs)
	return codecs
}

// Encoder returns the ffmpeg encoder used for codec.
func (f *Factory) Encoder(codec compressor.CodecType) string {
	return f.encoders[codec]
}

// New implements compressor.Factory. The subprocess starts in Prepare.
func (f *Factory) New(props compressor.Properties, handler compressor.OutputHandler) (compressor.Compressor, error) {
	encoder, ok := f.encoders[props.Codec]
	if !ok {
		return nil, &compressor.StatusError{
			Op:     "create",
			Status: compressor.StatusUnsupported,
			Err:    fmt.Errorf("no ffmpeg encoder for %s", props.Codec),
		}
	}
	if props.PixelFormat.FrameSize(props.Width, props.Height) == 0 {
		return nil, &compressor.StatusError{
			Op:     "create",
			Status: compressor.StatusUnsupported,
			Err:    fmt.Errorf("unsupported pixel format %q or size %dx%d", props.PixelFormat, props.Width, props.Height),
		}
	}

	params := &ffmpeg.EncodeParams{
		Width:       props.Width,
		Height:      props.Height,
		PixelFormat: string(props.PixelFormat),
		FPS:         props.ExpectedFrameRate,
		Encoder:     encoder,
		Codec:       outputCodec(props.Codec),
		Profile:     profile(props.ProfileLevel),
		Bitrate:     props.AverageBitRate,
		GOP:         props.MaxKeyFrameInterval,
		Realtime:    props.Realtime,
		Options:     f.cfg.Options,
	}
	if limit := props.DataRateLimit; limit.Bytes > 0 && limit.Period > 0 {
		params.MaxRate = int64(float64(limit.Bytes*8) / limit.Period.Seconds())
		params.BufferSize = params.MaxRate
	}
	if f.cfg.ProgressDir != "" {
		params.ProgressSocket = filepath.Join(f.cfg.ProgressDir,
			fmt.Sprintf("screencapture-%s-encode.sock", f.cfg.PipelineID))
	}

	command, err := f.buildCommand(params)
	if err != nil {
		return nil, &compressor.StatusError{Op: "create", Status: compressor.StatusUnsupported, Err: err}
	}

	return newSession(f, props, params, command, handler), nil
}

// Wait blocks until every session created by the factory has released its
// subprocess.
func (f *Factory) Wait() {
	f.sessions.Wait()
}

// outputCodec maps a codec type to ffmpeg's elementary stream muxer.
func outputCodec(codec compressor.CodecType) string {
	if codec == compressor.CodecTypeHEVC {
		return "hevc"
	}
	return "h264"
}

// profile extracts the profile from a profile/level name such as
// "H264_High_AutoLevel".
func profile(profileLevel string) string {
	parts := strings.Split(profileLevel, "_")
	if len(parts) < 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}

// ListEncoders runs `ffmpeg -encoders` and parses the result.
func ListEncoders(ctx context.Context, logger *slog.Logger) ([]ffmpeg.Encoder, error) {
	if logger == nil {
		logger = logging.GetLogger("ffmpeg")
	}
	p := process.NewProcess("encoders", ffmpeg.BuildEncodersListCommand(), process.Pipes{Stdout: true}, logger)
	p.SetLogParser(logger, ffmpeg.ParseLogLevel)
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	stdout, err := p.Stdout()
	if err != nil {
		p.Kill()
		return nil, err
	}
	defer stdout.Close()

	type result struct {
		encoders []ffmpeg.Encoder
		err      error
	}
	done := make(chan result, 1)
	go func() {
		encoders, err := ffmpeg.ParseEncoderList(stdout)
		done <- result{encoders, err}
	}()

	select {
	case <-ctx.Done():
		p.Kill()
		return nil, ctx.Err()
	case res := <-done:
		if code := p.Wait(); code != 0 {
			return nil, fmt.Errorf("ffmpeg -encoders exited with code %d", code)
		}
		return res.encoders, res.err
	}
}
