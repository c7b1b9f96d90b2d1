// Package cmd holds the cobra subcommands attached to the record root.
package cmd

import (
	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/compressor/ffmpegenc"
	"github.com/smazurov/screencapture/internal/compressor/videotoolbox"
	"github.com/smazurov/screencapture/internal/logging"
)

// NewRegistry registers every compressor backend, the native hardware
// encoder first.
func NewRegistry(ffmpegCfg ffmpegenc.Config) *compressor.Registry {
	registry := compressor.NewRegistry()
	registry.Register(videotoolbox.NewFactory(logging.GetLogger("compressor")))
	registry.Register(ffmpegenc.NewFactory(ffmpegCfg))
	return registry
}
