package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/smazurov/screencapture/internal/ffmpeg"
	"github.com/smazurov/screencapture/internal/logging"
	"github.com/smazurov/screencapture/internal/media"
	"github.com/smazurov/screencapture/internal/metrics"
	"github.com/smazurov/screencapture/internal/metrics/collectors"
	"github.com/smazurov/screencapture/internal/process"
)

// Grabber captures a display through an ffmpeg subprocess that writes raw
// frames of Format to its stdout.
type Grabber struct {
	// ID labels the subprocess and its progress metrics.
	ID     string
	Format Format
	Params ffmpeg.GrabParams
	// ProgressDir holds the progress socket. Empty disables progress
	// metrics.
	ProgressDir string
	Logger      *slog.Logger

	// buildCommand is replaced in tests.
	buildCommand func(*ffmpeg.GrabParams) (string, error)
}

// Name implements Source.
func (g *Grabber) Name() string { return "grab" }

// Command returns the ffmpeg command line the grabber runs.
func (g *Grabber) Command() (*ffmpeg.GrabParams, string, error) {
	params := g.Params
	params.Width = g.Format.Width
	params.Height = g.Format.Height
	params.FPS = g.Format.FPS
	params.PixelFormat = string(g.Format.PixelFormat)
	if g.ProgressDir != "" {
		params.ProgressSocket = filepath.Join(g.ProgressDir, fmt.Sprintf("screencapture-%s-grab.sock", g.id()))
	}

	build := g.buildCommand
	if build == nil {
		build = ffmpeg.BuildGrabCommand
	}
	cmd, err := build(&params)
	if err != nil {
		return nil, "", err
	}
	return &params, cmd, nil
}

func (g *Grabber) id() string {
	if g.ID != "" {
		return g.ID
	}
	return "default"
}

// Run implements Source. Cancelling ctx stops ffmpeg gracefully.
func (g *Grabber) Run(ctx context.Context, emit EmitFunc) error {
	if err := g.Format.Validate(); err != nil {
		return fmt.Errorf("grabber: %w", err)
	}
	logger := g.Logger
	if logger == nil {
		logger = logging.GetLogger("source")
	}
	logger = logger.With("source", g.Name(), "input", g.Params.Input)

	params, cmd, err := g.Command()
	if err != nil {
		return fmt.Errorf("build grab command: %w", err)
	}
	logger.Debug("Starting display grab", "command", cmd)

	if params.ProgressSocket != "" {
		collector := collectors.NewFFmpegCollector(params.ProgressSocket, g.id(), metrics.RoleGrab)
		if err := collector.Start(ctx); err != nil {
			logger.Warn("Failed to start progress collector", "socket", params.ProgressSocket, "error", err)
		} else {
			defer collector.Stop()
		}
	}

	proc := process.NewProcess(g.id()+"-grab", cmd, process.Pipes{Stdout: true}, logger)
	proc.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)
	if err := proc.Start(); err != nil {
		metrics.IncSourceErrors(g.Name())
		return fmt.Errorf("start ffmpeg grab: %w", err)
	}
	stdout, err := proc.Stdout()
	if err != nil {
		proc.Kill()
		return err
	}

	// Reads block inside ffmpeg's pipe, so cancellation stops the process.
	release := context.AfterFunc(ctx, func() { proc.Stop() })
	defer release()

	var stoppedByEmit bool
	reader := &Reader{Format: g.Format, Input: stdout, Label: g.Name(), Logger: logger}
	readErr := reader.Run(ctx, func(f media.RawFrame) error {
		err := emit(f)
		stoppedByEmit = err != nil
		return err
	})

	if readErr == nil && !stoppedByEmit && ctx.Err() == nil {
		// ffmpeg closed its output on its own.
		if code := proc.Wait(); code != 0 {
			metrics.IncSourceErrors(g.Name())
			return fmt.Errorf("%w: ffmpeg grab exited with code %d", errGrabFailed, code)
		}
		return nil
	}

	// Closing our end unblocks an ffmpeg stuck writing a frame nobody reads.
	stdout.Close()
	code := proc.Stop()
	logger.Debug("Display grab stopped", "exit_code", code)
	return readErr
}

var errGrabFailed = errors.New("display grab failed")
