// Package compressor abstracts a platform video compressor: a session that
// accepts raw frames and later reports compressed, length-prefixed samples
// on its own output context.
package compressor

import (
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/screencapture/internal/media"
)

// CodecType is the four character code of a compressed video format.
type CodecType string

// Supported codec types.
const (
	CodecTypeH264 CodecType = "avc1"
	CodecTypeHEVC CodecType = "hvc1"
)

// AttachmentNotSync marks a sample that is not independently decodable.
const AttachmentNotSync = "NotSync"

// InfoFlags are reported with every output.
type InfoFlags uint32

// Output info flags.
const (
	InfoAsynchronous InfoFlags = 1 << 0
	InfoFrameDropped InfoFlags = 1 << 1
)

// Dropped reports whether the encoder dropped the frame.
func (f InfoFlags) Dropped() bool { return f&InfoFrameDropped != 0 }

// Status is a platform status code. Zero means success.
type Status int32

// StatusOK is the success status.
const StatusOK Status = 0

// Common statuses reported by backends that do not have native codes.
const (
	StatusUnsupported Status = -12900
	StatusSessionFail Status = -12903
	StatusEncodeFail  Status = -12902
)

// OK reports whether the status signals success.
func (s Status) OK() bool { return s == StatusOK }

// StatusError carries a non-success platform status.
type StatusError struct {
	Op     string
	Status Status
	Err    error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusOf extracts the platform status from err, or StatusSessionFail when
// err carries none.
func StatusOf(err error) Status {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	if err == nil {
		return StatusOK
	}
	return StatusSessionFail
}

// DataRateLimit is a soft ceiling of Bytes per Period.
type DataRateLimit struct {
	Bytes  int64
	Period time.Duration
}

// Properties configure a compression session at creation time.
type Properties struct {
	Width                int
	Height               int
	Codec                CodecType
	PixelFormat          media.PixelFormat
	ProfileLevel         string
	Realtime             bool
	AllowFrameReordering bool
	MaxKeyFrameInterval  int
	ExpectedFrameRate    int
	AverageBitRate       int64
	DataRateLimit        DataRateLimit
}

// Sample is one compressed frame. Data is a concatenation of records, each a
// 4-byte big-endian length followed by that many bytes.
type Sample struct {
	Format      *FormatDescription
	Data        []byte
	DataReady   bool
	Attachments map[string]bool
	PTS         media.Time
	Duration    media.Time
}

// Output is delivered once per accepted frame on the compressor's output
// context.
type Output struct {
	Status Status
	Flags  InfoFlags
	Sample *Sample
}

// OutputHandler receives outputs. Implementations are invoked from a single
// goroutine per session, in submission order.
type OutputHandler func(Output)

// Compressor is one compression session.
type Compressor interface {
	// Prepare allocates encoder resources before the first frame.
	Prepare() error
	// EncodeFrame hands off a frame. The frame buffer is locked by the
	// caller for the duration of the call.
	EncodeFrame(frame media.RawFrame) error
	// CompleteFrames blocks until every submitted frame has been delivered
	// to the output handler.
	CompleteFrames() error
	// Invalidate releases the session. No outputs are delivered afterwards.
	Invalidate() error
}

// Factory creates compression sessions for one backend.
type Factory interface {
	Name() string
	Hardware() bool
	Available() bool
	Codecs() []CodecType
	New(props Properties, handler OutputHandler) (Compressor, error)
}

// Supports reports whether f can encode codec.
func Supports(f Factory, codec CodecType) bool {
	for _, c := range f.Codecs() {
		if c == codec {
			return true
		}
	}
	return false
}
