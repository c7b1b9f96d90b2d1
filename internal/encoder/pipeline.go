// Package encoder turns raw frames into an Annex B elementary stream. A
// Pipeline owns one compression session, submits frames to it, classifies
// the asynchronous outputs and writes start-code framed NAL units, with the
// parameter sets in front of every key frame, to a sink.
package encoder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/events"
	"github.com/smazurov/screencapture/internal/logging"
	"github.com/smazurov/screencapture/internal/media"
	"github.com/smazurov/screencapture/internal/metrics"
)

// DefaultSampleBuffer is the number of samples queued between the output
// context and the emitter.
const DefaultSampleBuffer = 8

// Options wire a pipeline to its surroundings.
type Options struct {
	// ID labels logs, metrics and events. Defaults to "default".
	ID      string
	Factory compressor.Factory
	Sink    io.Writer
	Bus     *events.Bus
	Logger  *slog.Logger
	// SampleBuffer bounds the sample queue. Defaults to DefaultSampleBuffer.
	SampleBuffer int
}

// Pipeline is the encoder session manager, frame submitter, completion
// handler and emitter assembled for one capture.
type Pipeline struct {
	id       string
	cfg      Config
	bus      *events.Bus
	logger   *slog.Logger
	counters *metrics.Counters

	manager   *SessionManager
	submitter *Submitter
	handler   *completionHandler
	emitter   *emitter
	group     *errgroup.Group

	mu      sync.Mutex
	started bool
	stopped bool

	errs      chan error
	fatalOnce sync.Once
}

// New validates cfg and assembles a pipeline. No session exists until the
// first frame is submitted after Start.
func New(cfg Config, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid encoder config: %w", err)
	}
	if opts.Factory == nil {
		return nil, errors.New("no compressor backend")
	}
	if !compressor.Supports(opts.Factory, cfg.Codec.Type()) {
		return nil, fmt.Errorf("compressor backend %s does not support %s", opts.Factory.Name(), cfg.Codec)
	}
	if opts.Sink == nil {
		return nil, errors.New("no sink")
	}
	if opts.ID == "" {
		opts.ID = "default"
	}
	if opts.SampleBuffer <= 0 {
		opts.SampleBuffer = DefaultSampleBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("encoder")
	}
	logger = logger.With("pipeline", opts.ID)

	params, err := NewParameterSetEmitter(cfg.Codec)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		id:       opts.ID,
		cfg:      cfg,
		bus:      opts.Bus,
		logger:   logger,
		counters: metrics.NewCounters(opts.ID),
		errs:     make(chan error, 1),
	}
	p.handler = newCompletionHandler(opts.SampleBuffer, p.counters, opts.ID, opts.Bus, logger)
	p.emitter = &emitter{
		sink:       opts.Sink,
		params:     params,
		pipelineID: opts.ID,
		counters:   p.counters,
		bus:        opts.Bus,
		logger:     logger,
	}
	p.manager = NewSessionManager(opts.Factory, cfg, p.handler.handle, logger)
	p.manager.OnStateChange(p.stateChanged)
	p.submitter = NewSubmitter(p.manager, cfg.Codec, p.counters, logger, p.fail)
	return p, nil
}

// ID returns the pipeline label.
func (p *Pipeline) ID() string { return p.id }

// Config returns the encoder configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// State returns the session state.
func (p *Pipeline) State() State { return p.manager.State() }

// Errors delivers the fatal error that stopped capture, at most once.
func (p *Pipeline) Errors() <-chan error { return p.errs }

// Start begins accepting frames.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	p.counters.SetSessionState(int(StateUninitialized))

	p.group = &errgroup.Group{}
	p.group.Go(func() error {
		return p.emitter.run(p.handler.samples)
	})
	p.submitter.start()
	p.logger.Info("Capture started", "codec", p.cfg.Codec, "realtime", p.cfg.Realtime)
	return nil
}

// Submit hands one frame to the encoder. Frames submitted before Start or
// after Stop are discarded.
func (p *Pipeline) Submit(frame media.RawFrame) error {
	return p.submitter.Submit(frame)
}

// Stop stops accepting frames, drains every in-flight frame through the
// sink and closes the session. Calling Stop again is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.submitter.stop()
	closeErr := p.manager.CloseSession()
	p.handler.close()
	runErr := p.group.Wait()

	stats := p.Stats()
	p.logger.Info("Capture stopped",
		"frames", stats.FramesSubmitted,
		"samples", stats.Samples(),
		"dropped", stats.FramesDropped,
		"bytes", stats.Bytes)
	p.bus.Publish(events.PipelineStoppedEvent{
		PipelineID: p.id,
		Frames:     stats.FramesSubmitted,
		Samples:    stats.Samples(),
		Bytes:      stats.Bytes,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
	return errors.Join(closeErr, runErr)
}

// Stats returns the counters of this pipeline. A pipeline built with the
// same ID starts from zero.
func (p *Pipeline) Stats() metrics.PipelineMetrics {
	return p.counters.Snapshot()
}

// ParameterSetsSent reports whether parameter sets were written at least
// once.
func (p *Pipeline) ParameterSetsSent() bool {
	return p.emitter.paramSetsSent.Load()
}

// fail is called by the submitter, under its lock, when no session can be
// created. Capture is already off.
func (p *Pipeline) fail(err error) {
	p.fatalOnce.Do(func() {
		status := compressor.StatusOf(err)
		var se *SessionError
		if errors.As(err, &se) {
			status = se.Status
		}
		p.logger.Error("Capture stopped after fatal error", "status", status, "error", err)
		p.errs <- err
		p.bus.Publish(events.PipelineErrorEvent{
			PipelineID: p.id,
			Error:      err.Error(),
			Status:     int32(status),
			Timestamp:  time.Now().Format(time.RFC3339),
		})
	})
}

func (p *Pipeline) stateChanged(sessionID uint64, from, to State) {
	p.counters.SetSessionState(int(to))
	p.bus.Publish(events.SessionStateChangedEvent{
		PipelineID: p.id,
		SessionID:  sessionID,
		From:       from.String(),
		To:         to.String(),
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}
