// Package media defines the frame, timestamp and NAL unit types that flow
// from a frame source through the encoder pipeline to a sink.
package media

import (
	"errors"
	"fmt"
	"sync"
)

// StartCode is the 4-byte Annex B delimiter written before every NAL unit.
var StartCode = [4]byte{0x00, 0x00, 0x00, 0x01}

// PixelFormat identifies the memory layout of a raw frame.
type PixelFormat string

// Supported pixel formats.
const (
	PixelFormatNV12 PixelFormat = "nv12" // Y plane + interleaved CbCr plane, 4:2:0
	PixelFormatBGRA PixelFormat = "bgra" // single packed plane, 4 bytes per pixel
)

// FrameSize returns the number of bytes one tightly packed frame occupies.
func (f PixelFormat) FrameSize(width, height int) int {
	switch f {
	case PixelFormatNV12:
		return width*height + 2*((width+1)/2)*((height+1)/2)
	case PixelFormatBGRA:
		return width * height * 4
	default:
		return 0
	}
}

// PlaneSize is the visible extent of one plane.
type PlaneSize struct {
	RowBytes int
	Rows     int
}

// PlaneSizes returns the visible row width and row count of every plane.
func (f PixelFormat) PlaneSizes(width, height int) []PlaneSize {
	switch f {
	case PixelFormatNV12:
		return []PlaneSize{
			{RowBytes: width, Rows: height},
			{RowBytes: 2 * ((width + 1) / 2), Rows: (height + 1) / 2},
		}
	case PixelFormatBGRA:
		return []PlaneSize{{RowBytes: width * 4, Rows: height}}
	default:
		return nil
	}
}

// AppendPacked appends the visible pixels of buf to dst without row
// padding. The caller holds the buffer lock.
func AppendPacked(dst []byte, buf PixelBuffer) ([]byte, error) {
	sizes := buf.Format().PlaneSizes(buf.Width(), buf.Height())
	planes, strides := buf.Planes()
	if len(sizes) == 0 || len(planes) != len(sizes) || len(strides) != len(sizes) {
		return dst, fmt.Errorf("unexpected plane layout for %s", buf.Format())
	}
	for i, size := range sizes {
		for row := 0; row < size.Rows; row++ {
			off := row * strides[i]
			if off+size.RowBytes > len(planes[i]) {
				return dst, fmt.Errorf("plane %d too short for row %d", i, row)
			}
			dst = append(dst, planes[i][off:off+size.RowBytes]...)
		}
	}
	return dst, nil
}

// ParsePixelFormat converts a user supplied name into a PixelFormat.
func ParsePixelFormat(name string) (PixelFormat, error) {
	switch PixelFormat(name) {
	case PixelFormatNV12, PixelFormatBGRA:
		return PixelFormat(name), nil
	}
	return "", fmt.Errorf("unsupported pixel format %q", name)
}

// ErrBufferLocked is returned when a writer tries to take a buffer that is
// currently handed off to an encoder.
var ErrBufferLocked = errors.New("pixel buffer is locked")

// PixelBuffer is a borrowed raw image. Encoders read it only between
// Lock and Unlock.
type PixelBuffer interface {
	Lock(readOnly bool) error
	Unlock(readOnly bool)
	Format() PixelFormat
	Width() int
	Height() int
	// Planes returns the plane memory and the row stride of each plane.
	Planes() (planes [][]byte, strides []int)
}

// RawFrame is one captured picture. It is only valid for the duration of
// a single submission.
type RawFrame struct {
	Buffer   PixelBuffer
	Width    int
	Height   int
	PTS      Time
	Duration Time
}

// Frame is an in-memory PixelBuffer backed by a single byte slice.
type Frame struct {
	mu     sync.RWMutex
	format PixelFormat
	width  int
	height int
	data   []byte
}

// NewFrame wraps data as a tightly packed frame of the given format.
func NewFrame(format PixelFormat, width, height int, data []byte) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if want := format.FrameSize(width, height); want == 0 || len(data) < want {
		return nil, fmt.Errorf("frame data too short for %s %dx%d: have %d bytes, need %d",
			format, width, height, len(data), want)
	}
	return &Frame{format: format, width: width, height: height, data: data}, nil
}

// Lock takes the frame lock. Read-only locks may be shared.
func (f *Frame) Lock(readOnly bool) error {
	if readOnly {
		f.mu.RLock()
		return nil
	}
	if !f.mu.TryLock() {
		return ErrBufferLocked
	}
	return nil
}

// Unlock releases a lock taken with the same readOnly value.
func (f *Frame) Unlock(readOnly bool) {
	if readOnly {
		f.mu.RUnlock()
		return
	}
	f.mu.Unlock()
}

// Format returns the pixel format.
func (f *Frame) Format() PixelFormat { return f.format }

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.width }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.height }

// Bytes returns the backing memory. Callers must hold a lock.
func (f *Frame) Bytes() []byte { return f.data }

// Planes implements PixelBuffer.
func (f *Frame) Planes() ([][]byte, []int) {
	switch f.format {
	case PixelFormatNV12:
		ySize := f.width * f.height
		chromaStride := 2 * ((f.width + 1) / 2)
		return [][]byte{f.data[:ySize], f.data[ySize:f.format.FrameSize(f.width, f.height)]},
			[]int{f.width, chromaStride}
	default:
		return [][]byte{f.data[:f.format.FrameSize(f.width, f.height)]}, []int{f.width * 4}
	}
}
