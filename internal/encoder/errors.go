package encoder

import (
	"errors"
	"fmt"

	"github.com/smazurov/screencapture/internal/compressor"
)

// Pipeline errors. Only ErrSessionCreateFailed is fatal; the frame level
// errors are logged and the stream continues.
var (
	ErrSessionCreateFailed    = errors.New("encoder session creation failed")
	ErrSessionClosed          = errors.New("encoder session closed")
	ErrFrameDropped           = errors.New("frame dropped by encoder")
	ErrNonSuccessStatus       = errors.New("encoder reported non-success status")
	ErrSampleNotReady         = errors.New("compressed sample not ready")
	ErrParameterSetExtraction = errors.New("parameter set extraction failed")
	ErrMalformedTail          = errors.New("malformed length-prefixed tail")
	ErrAlreadyStarted         = errors.New("capture already started, call Stop first")
	ErrNotStarted             = errors.New("capture not started")
	ErrStopped                = errors.New("capture already stopped")
)

// SessionError reports a failed session operation together with the
// platform status.
type SessionError struct {
	Op     string
	Status compressor.Status
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("encoder session %s failed (status %d): %v", e.Op, e.Status, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *SessionError) Unwrap() []error {
	if e.Op == "create" {
		return []error{ErrSessionCreateFailed, e.Err}
	}
	return []error{e.Err}
}
