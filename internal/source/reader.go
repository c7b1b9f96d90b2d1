package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/smazurov/screencapture/internal/logging"
	"github.com/smazurov/screencapture/internal/media"
	"github.com/smazurov/screencapture/internal/metrics"
)

// Reader reads tightly packed raw frames of a fixed format. Timestamps are
// derived from the frame index.
type Reader struct {
	Format Format
	Input  io.Reader
	// Label names the source in logs and metrics. Defaults to "raw".
	Label  string
	Logger *slog.Logger
}

// Name implements Source.
func (r *Reader) Name() string {
	if r.Label != "" {
		return r.Label
	}
	return "raw"
}

// Run implements Source. A clean end of input between frames returns nil;
// a truncated final frame is an error.
func (r *Reader) Run(ctx context.Context, emit EmitFunc) error {
	if err := r.Format.Validate(); err != nil {
		return fmt.Errorf("raw reader: %w", err)
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.GetLogger("source")
	}
	logger = logger.With("source", r.Name())

	data := make([]byte, r.Format.FrameSize())
	frame, err := media.NewFrame(r.Format.PixelFormat, r.Format.Width, r.Format.Height, data)
	if err != nil {
		return err
	}

	for n := int64(0); ; n++ {
		if ctx.Err() != nil {
			return nil
		}

		if err := frame.Lock(false); err != nil {
			metrics.IncSourceErrors(r.Name())
			return fmt.Errorf("frame %d: %w", n, err)
		}
		_, err := io.ReadFull(r.Input, data)
		frame.Unlock(false)

		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case errors.Is(err, io.EOF):
			logger.Debug("Input ended", "frames", n)
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			metrics.IncSourceErrors(r.Name())
			return fmt.Errorf("truncated frame %d: %w", n, err)
		case err != nil:
			metrics.IncSourceErrors(r.Name())
			return fmt.Errorf("read frame %d: %w", n, err)
		}

		pts, duration := r.Format.timestamp(n)
		metrics.IncSourceFrames(r.Name())
		if err := emit(media.RawFrame{
			Buffer:   frame,
			Width:    r.Format.Width,
			Height:   r.Format.Height,
			PTS:      pts,
			Duration: duration,
		}); err != nil {
			return emitStopped(err)
		}
	}
}
