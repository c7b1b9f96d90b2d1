package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/screencapture/internal/logging"
	"github.com/smazurov/screencapture/internal/media"
	"github.com/smazurov/screencapture/internal/metrics"
)

// Bar colours of the test pattern, as Y, Cb, Cr and B, G, R.
var patternBars = []struct{ y, cb, cr, b, g, r byte }{
	{235, 128, 128, 235, 235, 235}, // white
	{210, 16, 146, 16, 235, 235},   // yellow
	{170, 166, 16, 235, 235, 16},   // cyan
	{145, 54, 34, 16, 235, 16},     // green
	{106, 202, 222, 235, 16, 235},  // magenta
	{81, 90, 240, 16, 16, 235},     // red
	{41, 240, 110, 235, 16, 16},    // blue
	{16, 128, 128, 16, 16, 16},     // black
}

// TestPattern generates scrolling colour bars.
type TestPattern struct {
	Format Format
	// Frames limits the number of frames; zero runs until cancelled.
	Frames int
	// Paced emits frames at the wall clock rate of Format.FPS.
	Paced  bool
	Logger *slog.Logger
}

// Name implements Source.
func (p *TestPattern) Name() string { return "testpattern" }

// Run implements Source.
func (p *TestPattern) Run(ctx context.Context, emit EmitFunc) error {
	if err := p.Format.Validate(); err != nil {
		return fmt.Errorf("test pattern: %w", err)
	}
	logger := p.Logger
	if logger == nil {
		logger = logging.GetLogger("source")
	}

	frame, err := media.NewFrame(p.Format.PixelFormat, p.Format.Width, p.Format.Height, make([]byte, p.Format.FrameSize()))
	if err != nil {
		return err
	}

	var tick <-chan time.Time
	if p.Paced {
		ticker := time.NewTicker(time.Second / time.Duration(p.Format.FPS))
		defer ticker.Stop()
		tick = ticker.C
	}

	logger.Info("Test pattern started", "format", p.Format.PixelFormat,
		"width", p.Format.Width, "height", p.Format.Height, "fps", p.Format.FPS)

	for n := int64(0); p.Frames == 0 || n < int64(p.Frames); n++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		if err := frame.Lock(false); err != nil {
			metrics.IncSourceErrors(p.Name())
			return fmt.Errorf("test pattern frame %d: %w", n, err)
		}
		drawBars(frame, int(n))
		frame.Unlock(false)

		pts, duration := p.Format.timestamp(n)
		metrics.IncSourceFrames(p.Name())
		if err := emit(media.RawFrame{
			Buffer:   frame,
			Width:    p.Format.Width,
			Height:   p.Format.Height,
			PTS:      pts,
			Duration: duration,
		}); err != nil {
			return emitStopped(err)
		}
	}
	return nil
}

// drawBars fills f with vertical bars shifted left by offset pixels.
func drawBars(f *media.Frame, offset int) {
	w, h := f.Width(), f.Height()
	barWidth := max(w/len(patternBars), 1)
	bar := func(x int) int { return ((x + offset) / barWidth) % len(patternBars) }

	planes, strides := f.Planes()
	switch f.Format() {
	case media.PixelFormatNV12:
		luma, chroma := planes[0], planes[1]
		for y := 0; y < h; y++ {
			row := luma[y*strides[0]:]
			for x := 0; x < w; x++ {
				row[x] = patternBars[bar(x)].y
			}
		}
		for y := 0; y < (h+1)/2; y++ {
			row := chroma[y*strides[1]:]
			for x := 0; x < (w+1)/2; x++ {
				c := patternBars[bar(2*x)]
				row[2*x], row[2*x+1] = c.cb, c.cr
			}
		}
	case media.PixelFormatBGRA:
		for y := 0; y < h; y++ {
			row := planes[0][y*strides[0]:]
			for x := 0; x < w; x++ {
				c := patternBars[bar(x)]
				row[4*x], row[4*x+1], row[4*x+2], row[4*x+3] = c.b, c.g, c.r, 0xFF
			}
		}
	}
}
