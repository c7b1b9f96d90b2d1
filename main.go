package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/screencapture/cmd"
	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/compressor/ffmpegenc"
	"github.com/smazurov/screencapture/internal/config"
	"github.com/smazurov/screencapture/internal/encoder"
	"github.com/smazurov/screencapture/internal/events"
	"github.com/smazurov/screencapture/internal/ffmpeg"
	"github.com/smazurov/screencapture/internal/logging"
	"github.com/smazurov/screencapture/internal/media"
	"github.com/smazurov/screencapture/internal/metrics/exporters"
	"github.com/smazurov/screencapture/internal/sink"
	"github.com/smazurov/screencapture/internal/source"
	"github.com/smazurov/screencapture/internal/systemd"
	"github.com/smazurov/screencapture/internal/version"
)

// Default capture size when neither the encoder nor the source sets one.
const (
	defaultWidth  = 1920
	defaultHeight = 1080
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"screencapture.toml"`

	// Encoder settings
	Codec       string `help:"Video codec (h264, hevc)" default:"h264" toml:"encoder.codec" env:"ENCODER_CODEC"`
	Width       int    `help:"Frame width, 0 keeps the source size" default:"0" toml:"encoder.width" env:"ENCODER_WIDTH"`
	Height      int    `help:"Frame height, 0 keeps the source size" default:"0" toml:"encoder.height" env:"ENCODER_HEIGHT"`
	Bitrate     int    `help:"Target bitrate in bits per second, 0 derives it from the frame area" default:"0" toml:"encoder.target_bitrate" env:"ENCODER_TARGET_BITRATE"`
	KeyInterval int    `help:"Maximum number of frames between key frames" default:"60" toml:"encoder.max_keyframe_interval" env:"ENCODER_MAX_KEYFRAME_INTERVAL"`
	Realtime    bool   `help:"Favor latency over compression" default:"true" toml:"encoder.realtime" env:"ENCODER_REALTIME"`
	PixelFormat string `help:"Pixel format of captured frames (nv12, bgra)" default:"nv12" toml:"encoder.pixel_format" env:"ENCODER_PIXEL_FORMAT"`
	Backend     string `help:"Compressor backend (auto, videotoolbox, ffmpeg)" default:"auto" toml:"encoder.backend" env:"ENCODER_BACKEND"`

	// Capture settings
	Source      string `help:"Frame source (grab, testpattern, raw)" default:"grab" toml:"source.type" env:"SOURCE_TYPE"`
	FPS         int    `help:"Capture frame rate" default:"60" toml:"source.fps" env:"SOURCE_FPS"`
	Frames      int    `help:"Stop after this many test pattern frames, 0 runs until interrupted" default:"0" toml:"source.frames" env:"SOURCE_FRAMES"`
	Input       string `help:"ffmpeg grab input (avfoundation, x11grab), empty selects the platform input" default:"" toml:"source.input" env:"SOURCE_INPUT"`
	Device      string `help:"Screen to capture: avfoundation screen index or X11 display" default:"" toml:"source.device" env:"SOURCE_DEVICE"`
	RawFile     string `help:"Raw frame file for the raw source, - reads stdin" default:"-" toml:"source.raw_file" env:"SOURCE_RAW_FILE"`
	CropX       int    `help:"Left edge of the capture rectangle" default:"0" toml:"source.crop_x" env:"SOURCE_CROP_X"`
	CropY       int    `help:"Top edge of the capture rectangle" default:"0" toml:"source.crop_y" env:"SOURCE_CROP_Y"`
	CropWidth   int    `help:"Width of the capture rectangle, 0 captures the whole screen" default:"0" toml:"source.crop_width" env:"SOURCE_CROP_WIDTH"`
	CropHeight  int    `help:"Height of the capture rectangle, 0 captures the whole screen" default:"0" toml:"source.crop_height" env:"SOURCE_CROP_HEIGHT"`
	ShowCursor  bool   `help:"Draw the mouse cursor" default:"true" toml:"source.show_cursor" env:"SOURCE_SHOW_CURSOR"`
	ShowClicks  bool   `help:"Highlight mouse clicks, implies --show-cursor" default:"false" toml:"source.show_clicks" env:"SOURCE_SHOW_CLICKS"`
	AudioDevice string `help:"Audio device to capture (not supported, accepted for compatibility)" default:"" toml:"source.audio_device" env:"SOURCE_AUDIO_DEVICE"`

	// ffmpeg settings
	FFmpegH264Encoder string `name:"ffmpeg-h264-encoder" help:"ffmpeg encoder for h264 on the ffmpeg backend" default:"" toml:"ffmpeg.h264_encoder" env:"FFMPEG_H264_ENCODER"`
	FFmpegHEVCEncoder string `name:"ffmpeg-hevc-encoder" help:"ffmpeg encoder for hevc on the ffmpeg backend" default:"" toml:"ffmpeg.hevc_encoder" env:"FFMPEG_HEVC_ENCODER"`
	FFmpegOptions     string `name:"ffmpeg-options" help:"Comma separated ffmpeg input options (genpts, low_latency, ...)" default:"" toml:"ffmpeg.options" env:"FFMPEG_OPTIONS"`
	ProgressDir       string `help:"Directory for ffmpeg progress sockets, empty disables progress metrics" default:"" toml:"ffmpeg.progress_dir" env:"FFMPEG_PROGRESS_DIR"`

	// Output settings
	Output string `help:"Elementary stream output file, - writes to stdout" short:"o" default:"-" toml:"sink.output" env:"SINK_OUTPUT"`
	Copy   string `help:"Also write the stream to this file" default:"" toml:"sink.copy" env:"SINK_COPY"`

	// Runtime settings
	MetricsAddr string `help:"Serve Prometheus metrics on this address, empty disables" default:"" toml:"metrics.addr" env:"METRICS_ADDR"`
	Watch       bool   `help:"Restart the encoder when the config file changes" default:"true" toml:"config.watch" env:"CONFIG_WATCH"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingJournal    bool   `help:"Also log to the systemd journal when available" default:"false" toml:"logging.journal" env:"LOGGING_JOURNAL"`
	LoggingEncoder    string `help:"Encoder logging level" default:"info" toml:"logging.encoder" env:"LOGGING_ENCODER"`
	LoggingCompressor string `help:"Compressor backend logging level" default:"info" toml:"logging.compressor" env:"LOGGING_COMPRESSOR"`
	LoggingSource     string `help:"Frame source logging level" default:"info" toml:"logging.source" env:"LOGGING_SOURCE"`
	LoggingFFmpeg     string `name:"logging-ffmpeg" help:"ffmpeg subprocess logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
}

// encoderConfig converts the flat options into an encoder configuration.
func (o *Options) encoderConfig() (encoder.Config, error) {
	cfg := encoder.DefaultConfig()
	codec, err := encoder.ParseCodec(o.Codec)
	if err != nil {
		return cfg, err
	}
	pixelFormat, err := media.ParsePixelFormat(o.PixelFormat)
	if err != nil {
		return cfg, err
	}
	for name, v := range map[string]int{
		"width": o.Width, "height": o.Height, "bitrate": o.Bitrate,
		"key-interval": o.KeyInterval, "fps": o.FPS,
	} {
		if v < 0 {
			return cfg, fmt.Errorf("%s must not be negative, got %d", name, v)
		}
	}

	cfg.Codec = codec
	cfg.PixelFormat = pixelFormat
	cfg.Width = uint32(o.Width)
	cfg.Height = uint32(o.Height)
	cfg.TargetBitrate = uint64(o.Bitrate)
	cfg.Realtime = o.Realtime
	if o.KeyInterval > 0 {
		cfg.MaxKeyFrameInterval = uint32(o.KeyInterval)
	}
	if o.FPS > 0 {
		cfg.FrameRate = uint32(o.FPS)
	}
	return cfg, cfg.Validate()
}

// frameFormat returns the format the source produces for cfg.
func (o *Options) frameFormat(cfg encoder.Config) source.Format {
	width, height := int(cfg.Width), int(cfg.Height)
	if width == 0 {
		width, height = defaultWidth, defaultHeight
	}
	return source.Format{
		PixelFormat: cfg.PixelFormat,
		Width:       width,
		Height:      height,
		FPS:         int(cfg.FrameRate),
	}
}

// loggingConfig takes module levels without a flag (sink, config, main)
// from the [logging] table and the rest from the options.
func (o *Options) loggingConfig() logging.Config {
	cfg := config.LoadLoggingConfig(o.Config)
	cfg.Level = o.LoggingLevel
	cfg.Format = o.LoggingFormat
	cfg.Journal = o.LoggingJournal
	cfg.Modules["encoder"] = o.LoggingEncoder
	cfg.Modules["compressor"] = o.LoggingCompressor
	cfg.Modules["source"] = o.LoggingSource
	cfg.Modules["ffmpeg"] = o.LoggingFFmpeg
	return cfg
}

// ffmpegOptions parses the comma separated input options.
func (o *Options) ffmpegOptions() ([]ffmpeg.OptionType, error) {
	if strings.TrimSpace(o.FFmpegOptions) == "" {
		return nil, nil
	}
	keys := strings.Split(o.FFmpegOptions, ",")
	for i := range keys {
		keys[i] = strings.TrimSpace(keys[i])
	}
	options, err := ffmpeg.ParseOptions(keys)
	if err != nil {
		return nil, err
	}
	return options, ffmpeg.ValidateOptions(options)
}

// ffmpegEncoders merges the [ffmpeg.encoders] table with the per-codec
// flags, the flags taking precedence.
func (o *Options) ffmpegEncoders() (map[compressor.CodecType]string, error) {
	table, err := config.LoadSection(o.Config, "ffmpeg.encoders", map[string]string{})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	encoders := make(map[compressor.CodecType]string, len(table))
	for name, enc := range table {
		codec, parseErr := encoder.ParseCodec(name)
		if parseErr != nil {
			return nil, fmt.Errorf("[ffmpeg.encoders]: %w", parseErr)
		}
		encoders[codec.Type()] = enc
	}
	if o.FFmpegH264Encoder != "" {
		encoders[compressor.CodecTypeH264] = o.FFmpegH264Encoder
	}
	if o.FFmpegHEVCEncoder != "" {
		encoders[compressor.CodecTypeHEVC] = o.FFmpegHEVCEncoder
	}
	return encoders, nil
}

// newSource builds the configured frame source.
func (o *Options) newSource(format source.Format, options []ffmpeg.OptionType, logger *slog.Logger) (source.Source, io.Closer, error) {
	switch o.Source {
	case "testpattern":
		return &source.TestPattern{Format: format, Frames: o.Frames, Paced: true, Logger: logger}, nil, nil

	case "raw":
		if o.Width == 0 {
			return nil, nil, errors.New("the raw source needs --width and --height")
		}
		if o.RawFile == "" || o.RawFile == sink.Stdout {
			return &source.Reader{Format: format, Input: os.Stdin, Label: "stdin", Logger: logger}, nil, nil
		}
		f, err := os.Open(o.RawFile)
		if err != nil {
			return nil, nil, err
		}
		return &source.Reader{Format: format, Input: f, Logger: logger}, f, nil

	case "grab", "":
		input := source.DefaultInput()
		if o.Input != "" {
			input = ffmpeg.Input(o.Input)
		}
		return &source.Grabber{
			ID:     pipelineID,
			Format: format,
			Params: ffmpeg.GrabParams{
				Input:  input,
				Device: o.Device,
				Crop: ffmpeg.Crop{
					X: o.CropX, Y: o.CropY,
					Width: o.CropWidth, Height: o.CropHeight,
				},
				ShowCursor: o.ShowCursor || o.ShowClicks,
				ShowClicks: o.ShowClicks,
				Options:    options,
			},
			ProgressDir: o.ProgressDir,
			Logger:      logger,
		}, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown source %q", o.Source)
}

// openSink opens the output and the optional copy.
func (o *Options) openSink(logger *slog.Logger) (io.Writer, func() error, error) {
	primary, err := sink.Open(o.Output, logger)
	if err != nil {
		return nil, nil, err
	}
	if o.Copy == "" {
		return primary, primary.Close, nil
	}

	copyOut, err := sink.Open(o.Copy, logger)
	if err != nil {
		primary.Close()
		return nil, nil, err
	}
	tee := sink.NewTee(logger)
	tee.Add(primary.Name(), primary)
	tee.Add(copyOut.Name(), copyOut)
	tee.SetOnRemoved(func(name string, err error) {
		logger.Error("Output dropped", "output", name, "error", err)
	})
	closeAll := func() error {
		return errors.Join(primary.Close(), copyOut.Close())
	}
	return tee, closeAll, nil
}

func main() {
	var cli humacli.CLI

	// Create Huma CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Stdout carries the video stream
		logging.SetOutput(os.Stderr)
		logging.Initialize(opts.loggingConfig())

		logger := logging.GetLogger("main")

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		notifier := systemd.NewNotifier(false)

		hooks.OnStart(func() {
			defer close(done)
			logger.Info("Starting screencapture", "version", version.Get().String(), "source", opts.Source, "output", opts.Output)
			if err := record(ctx, opts, cli.Root(), notifier, logger); err != nil {
				logger.Error("Recording failed", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Stopping capture")
			if _, err := notifier.Stopping(); err != nil {
				logger.Debug("Failed to notify systemd", "error", err)
			}
			cancel()
			<-done
		})
	})

	cli.Root().Use = "screencapture"
	cli.Root().Short = "Capture the screen to an H.264/HEVC elementary stream"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(cmd.CreateCodecsCmd())
	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateReframeCmd())

	// Run the CLI
	cli.Run()
}

// record runs one capture until ctx is cancelled or the source ends.
func record(ctx context.Context, opts *Options, root *cobra.Command, notifier *systemd.Notifier, logger *slog.Logger) error {
	cfg, err := opts.encoderConfig()
	if err != nil {
		return err
	}
	if opts.AudioDevice != "" {
		logger.Warn("Audio capture is not supported, ignoring audio device", "device", opts.AudioDevice)
	}

	options, err := opts.ffmpegOptions()
	if err != nil {
		return err
	}
	encoders, err := opts.ffmpegEncoders()
	if err != nil {
		return err
	}

	bus := events.New()
	unsubscribe := logEvents(bus, logger)
	defer unsubscribe()

	ffmpegFactory := ffmpegenc.Config{
		Encoders:    encoders,
		Options:     options,
		PipelineID:  pipelineID,
		ProgressDir: opts.ProgressDir,
		Logger:      logging.GetLogger("compressor"),
	}
	registry := cmd.NewRegistry(ffmpegFactory)

	src, srcCloser, err := opts.newSource(opts.frameFormat(cfg), options, logging.GetLogger("source"))
	if err != nil {
		return err
	}
	if srcCloser != nil {
		defer srcCloser.Close()
	}

	out, closeSink, err := opts.openSink(logging.GetLogger("sink"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeSink(); closeErr != nil {
			logger.Warn("Failed to close output", "error", closeErr)
		}
	}()

	if opts.MetricsAddr != "" {
		server := &http.Server{
			Addr:              opts.MetricsAddr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Starting metrics server", "addr", opts.MetricsAddr)
			if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", serveErr)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
				logger.Warn("Error stopping metrics server", "error", shutdownErr)
			}
		}()
	}

	rec := newRecorder(cfg, registry, opts.Backend, src, out, bus, logging.GetLogger("encoder"))

	if opts.Watch && opts.Config != "" {
		if _, statErr := os.Stat(opts.Config); statErr == nil {
			stopWatch, watchErr := watchConfig(opts, root, rec, bus, logging.GetLogger("config"))
			if watchErr != nil {
				logger.Warn("Config watcher not started", "error", watchErr)
			} else {
				defer stopWatch()
			}
		}
	}

	if _, err := notifier.Ready(); err != nil {
		logger.Debug("Failed to notify systemd", "error", err)
	}
	if _, err := notifier.Status("Recording %s from %s", cfg.Codec, src.Name()); err != nil {
		logger.Debug("Failed to notify systemd", "error", err)
	}
	return rec.Run(ctx)
}

// watchConfig restarts the encoder whenever the encoder settings in the
// config file change. Flags set on the command line keep their values.
func watchConfig(opts *Options, root *cobra.Command, rec *recorder, bus *events.Bus, logger *slog.Logger) (func(), error) {
	loader := func(path string) (encoder.Config, error) {
		next := *opts
		next.Config = path
		if err := config.LoadConfig(&next, root); err != nil {
			return encoder.Config{}, err
		}
		return next.encoderConfig()
	}

	watcher := config.NewWatcher(opts.Config, loader, logger,
		config.WithChangeFilter(rec.Config(), func(prev, next encoder.Config) bool { return prev != next }),
		config.WithErrorHandler[encoder.Config](func(err error) {
			logger.Warn("Ignoring invalid config change", "error", err)
		}),
	)
	watcher.OnReload(func(cfg encoder.Config) {
		err := rec.Reload(cfg)
		if err != nil {
			logger.Error("Encoder restart failed", "error", err)
		}
		bus.Publish(events.ConfigReloadedEvent{
			Path:      opts.Config,
			Restarted: err == nil,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	})
	if err := watcher.Start(); err != nil {
		return nil, err
	}
	return func() {
		if err := watcher.Stop(); err != nil {
			logger.Warn("Error stopping config watcher", "error", err)
		}
	}, nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporters.HTTPHandler())
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, version.Get().String())
	})
	return mux
}

// logEvents logs pipeline events that are not logged where they happen.
func logEvents(bus *events.Bus, logger *slog.Logger) func() {
	unsubs := []func(){
		bus.Subscribe(func(e events.SessionStateChangedEvent) {
			logger.Debug("Encoder session state changed", "session", e.SessionID, "from", e.From, "to", e.To)
		}),
		bus.Subscribe(func(e events.ParameterSetsEmittedEvent) {
			logger.Debug("Parameter sets written", "pipeline", e.PipelineID)
		}),
		bus.Subscribe(func(e events.PipelineStoppedEvent) {
			logger.Info("Pipeline drained", "frames", e.Frames, "samples", e.Samples, "bytes", e.Bytes)
		}),
		bus.Subscribe(func(e events.ConfigReloadedEvent) {
			logger.Info("Config reloaded", "path", e.Path, "restarted", e.Restarted)
		}),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
