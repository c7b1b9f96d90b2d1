// Package videotoolbox is the macOS hardware compressor backend built on
// VTCompressionSession. On other platforms, or without cgo, the backend
// reports itself unavailable.
package videotoolbox

import (
	"log/slog"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/logging"
)

// Name is the backend name used in configuration.
const Name = "videotoolbox"

// Factory creates VideoToolbox compression sessions.
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates the backend.
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = logging.GetLogger("compressor")
	}
	return &Factory{logger: logger.With("backend", Name)}
}

// Name implements compressor.Factory.
func (f *Factory) Name() string { return Name }

// Hardware implements compressor.Factory.
func (f *Factory) Hardware() bool { return true }

// Available reports whether VideoToolbox can be used in this build.
func (f *Factory) Available() bool { return available() }

// Codecs implements compressor.Factory.
func (f *Factory) Codecs() []compressor.CodecType {
	return []compressor.CodecType{compressor.CodecTypeH264, compressor.CodecTypeHEVC}
}

// New creates a session. Outputs are delivered on VideoToolbox's own
// thread.
func (f *Factory) New(props compressor.Properties, handler compressor.OutputHandler) (compressor.Compressor, error) {
	return newSession(props, handler, f.logger)
}
