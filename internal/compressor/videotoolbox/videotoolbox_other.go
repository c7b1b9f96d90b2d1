//go:build !darwin || !cgo

package videotoolbox

import (
	"errors"
	"log/slog"

	"github.com/smazurov/screencapture/internal/compressor"
)

var errUnavailable = errors.New("videotoolbox requires macOS and cgo")

func available() bool { return false }

func newSession(compressor.Properties, compressor.OutputHandler, *slog.Logger) (compressor.Compressor, error) {
	return nil, &compressor.StatusError{Op: "create", Status: compressor.StatusUnsupported, Err: errUnavailable}
}
