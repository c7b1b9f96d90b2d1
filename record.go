package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/encoder"
	"github.com/smazurov/screencapture/internal/events"
	"github.com/smazurov/screencapture/internal/media"
	"github.com/smazurov/screencapture/internal/metrics"
	"github.com/smazurov/screencapture/internal/source"
)

// pipelineID labels the capture pipeline in logs, metrics and events.
const pipelineID = "capture"

// recorder feeds one frame source into an encoder pipeline. The pipeline
// can be replaced while frames keep flowing.
type recorder struct {
	registry *compressor.Registry
	backend  string
	source   source.Source
	sink     io.Writer
	bus      *events.Bus
	logger   *slog.Logger

	// mu is held for reading by every submission and for writing while
	// the pipeline is swapped, so a swap waits for the frame in flight.
	mu       sync.RWMutex
	pipeline *encoder.Pipeline
	cfg      encoder.Config
}

func newRecorder(
	cfg encoder.Config,
	registry *compressor.Registry,
	backend string,
	src source.Source,
	sink io.Writer,
	bus *events.Bus,
	logger *slog.Logger,
) *recorder {
	return &recorder{
		registry: registry,
		backend:  backend,
		source:   src,
		sink:     sink,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
	}
}

// newPipeline builds a pipeline for cfg on the configured backend.
func (r *recorder) newPipeline(cfg encoder.Config) (*encoder.Pipeline, error) {
	factory, err := r.registry.Select(r.backend, cfg.Codec.Type())
	if err != nil {
		return nil, err
	}
	r.logger.Info("Using compressor backend", "backend", factory.Name(), "hardware", factory.Hardware(), "codec", cfg.Codec)
	return encoder.New(cfg, encoder.Options{
		ID:      pipelineID,
		Factory: factory,
		Sink:    r.sink,
		Bus:     r.bus,
	})
}

// Run records until the source ends, ctx is cancelled or the encoder
// session cannot be created. The pipeline is always drained, and its
// Prometheus series removed, before Run returns.
func (r *recorder) Run(ctx context.Context) error {
	p, err := r.newPipeline(r.cfg)
	if err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}
	r.mu.Lock()
	r.pipeline = p
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.source.Run(gctx, r.submit)
	})
	runErr := g.Wait()

	var stopErr error
	r.mu.Lock()
	if r.pipeline != nil {
		stopErr = r.pipeline.Stop()
		r.pipeline = nil
	}
	r.mu.Unlock()
	metrics.DeletePipelineMetrics(pipelineID)

	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(runErr, stopErr)
}

// submit passes a frame to the current pipeline. Frame level errors are
// logged by the pipeline; only a failed session creation ends capture.
func (r *recorder) submit(frame media.RawFrame) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.pipeline == nil {
		return source.ErrStopped
	}
	err := r.pipeline.Submit(frame)
	if errors.Is(err, encoder.ErrSessionCreateFailed) {
		return err
	}
	return nil
}

// Reload drains the running pipeline and continues on a new one built
// from cfg. An invalid cfg leaves the running pipeline untouched.
func (r *recorder) Reload(cfg encoder.Config) error {
	next, err := r.newPipeline(cfg)
	if err != nil {
		return fmt.Errorf("new encoder config rejected: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pipeline == nil {
		return errors.New("not recording")
	}

	r.logger.Info("Restarting encoder with new config", "codec", cfg.Codec, "width", cfg.Width, "height", cfg.Height)
	if stopErr := r.pipeline.Stop(); stopErr != nil {
		r.logger.Warn("Previous encoder did not drain cleanly", "error", stopErr)
	}
	if err := next.Start(); err != nil {
		r.pipeline = nil
		return err
	}
	r.pipeline = next
	r.cfg = cfg
	return nil
}

// Config returns the encoder configuration in effect.
func (r *recorder) Config() encoder.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}
