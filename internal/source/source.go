// Package source produces raw frames for the encoder pipeline: a synthetic
// test pattern, a reader over tightly packed raw video, and an ffmpeg
// display grabber built on the reader.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/smazurov/screencapture/internal/media"
)

// ErrStopped is returned by Emit functions that want the source to stop
// without reporting a failure.
var ErrStopped = errors.New("source stopped")

// EmitFunc receives every frame. The frame is only valid for the call.
type EmitFunc func(media.RawFrame) error

// Source produces frames until its input ends, ctx is cancelled or emit
// returns an error.
type Source interface {
	Name() string
	Run(ctx context.Context, emit EmitFunc) error
}

// Format describes the frames a source produces.
type Format struct {
	PixelFormat media.PixelFormat
	Width       int
	Height      int
	FPS         int
}

// Validate checks that frames of f can be allocated.
func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if _, err := media.ParsePixelFormat(string(f.PixelFormat)); err != nil {
		return err
	}
	if f.FPS <= 0 {
		return fmt.Errorf("invalid frame rate %d", f.FPS)
	}
	return nil
}

// FrameSize returns the byte size of one packed frame.
func (f Format) FrameSize() int {
	return f.PixelFormat.FrameSize(f.Width, f.Height)
}

// timestamp returns the presentation time of frame n.
func (f Format) timestamp(n int64) (pts, duration media.Time) {
	duration = media.FrameDuration(f.FPS)
	return media.NewTime(n*duration.Value, duration.Scale), duration
}

// emitStopped maps ErrStopped to a clean stop.
func emitStopped(err error) error {
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}
