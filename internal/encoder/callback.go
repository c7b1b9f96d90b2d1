package encoder

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/events"
	"github.com/smazurov/screencapture/internal/media"
	"github.com/smazurov/screencapture/internal/metrics"
)

// CompressedSample is a classified encoder output ready for emission.
type CompressedSample struct {
	Format     *compressor.FormatDescription
	Payload    []byte
	IsKeyFrame bool
	PTS        media.Time
}

// classify validates one output and decides whether it is a key frame. A
// sample without the not-sync attachment, or with it set to false, is a key
// frame.
func classify(out compressor.Output) (CompressedSample, error) {
	if !out.Status.OK() {
		return CompressedSample{}, fmt.Errorf("%w: %d", ErrNonSuccessStatus, out.Status)
	}
	if out.Flags.Dropped() {
		return CompressedSample{}, ErrFrameDropped
	}
	if out.Sample == nil || !out.Sample.DataReady {
		return CompressedSample{}, ErrSampleNotReady
	}
	return CompressedSample{
		Format:     out.Sample.Format,
		Payload:    out.Sample.Data,
		IsKeyFrame: !out.Sample.Attachments[compressor.AttachmentNotSync],
		PTS:        out.Sample.PTS,
	}, nil
}

// completionHandler runs on the compressor's output context. It classifies
// outputs and queues accepted samples for the emitter goroutine.
type completionHandler struct {
	mu         sync.RWMutex
	closed     bool
	samples    chan CompressedSample
	pipelineID string
	counters   *metrics.Counters
	bus        *events.Bus
	logger     *slog.Logger
}

func newCompletionHandler(buffer int, counters *metrics.Counters, pipelineID string, bus *events.Bus, logger *slog.Logger) *completionHandler {
	return &completionHandler{
		samples:    make(chan CompressedSample, buffer),
		pipelineID: pipelineID,
		counters:   counters,
		bus:        bus,
		logger:     logger,
	}
}

// handle is the compressor.OutputHandler. It blocks when the queue is full.
func (h *completionHandler) handle(out compressor.Output) {
	sample, err := classify(out)
	if err != nil {
		h.reject(err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.logger.Warn("Sample delivered after shutdown, discarding", "pts", sample.PTS)
		return
	}
	h.samples <- sample
}

func (h *completionHandler) reject(err error) {
	switch {
	case errors.Is(err, ErrFrameDropped):
		h.logger.Debug("Encoder dropped frame")
		h.counters.IncFramesDropped("dropped")
	case errors.Is(err, ErrSampleNotReady):
		h.logger.Debug("Sample not ready, skipping")
		h.counters.IncFramesDropped("not_ready")
	default:
		h.logger.Warn("Encoder output rejected", "error", err)
		h.counters.IncFramesDropped("status")
	}
	h.bus.Publish(events.FrameDroppedEvent{
		PipelineID: h.pipelineID,
		Reason:     err.Error(),
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

// close stops accepting samples and ends the emitter loop. The session must
// be invalidated first.
func (h *completionHandler) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.samples)
	}
}

// emitter writes samples to the sink in arrival order. It owns the output
// stream; nothing else writes to the sink.
type emitter struct {
	sink       io.Writer
	params     *ParameterSetEmitter
	pipelineID string
	counters   *metrics.Counters
	bus        *events.Bus
	logger     *slog.Logger

	paramSetsSent atomic.Bool
	buf           []byte
}

// run drains samples until the channel is closed.
func (e *emitter) run(samples <-chan CompressedSample) error {
	for sample := range samples {
		e.emit(sample)
	}
	if f, ok := e.sink.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush sink: %w", err)
		}
	}
	return nil
}

// emit writes one sample: the parameter sets first when it is a key frame,
// then every complete record of the payload, start-code framed. The sample
// is written with a single Write.
func (e *emitter) emit(sample CompressedSample) {
	buf := e.buf[:0]
	units := 0

	if sample.IsKeyFrame {
		var n int
		var err error
		buf, n, err = e.params.AppendAnnexB(buf, sample.Format)
		if err != nil {
			e.logger.Warn("Key frame emitted without parameter sets", "pts", sample.PTS, "error", err)
			e.counters.IncStreamError("parameter_sets")
		} else {
			units += n
			if !e.paramSetsSent.Swap(true) {
				e.logger.Info("Parameter sets emitted", "codec", e.params.Codec(), "count", n)
				e.bus.Publish(events.ParameterSetsEmittedEvent{
					PipelineID: e.pipelineID,
					Codec:      string(e.params.Codec()),
					Count:      n,
					Timestamp:  time.Now().Format(time.RFC3339),
				})
			}
		}
	}

	buf, n, err := AppendAnnexB(buf, sample.Payload)
	units += n
	if err != nil {
		e.logger.Warn("Discarding malformed sample tail", "pts", sample.PTS, "error", err)
		e.counters.IncStreamError("malformed_tail")
	}
	e.buf = buf

	if len(buf) == 0 {
		return
	}
	if _, err := e.sink.Write(buf); err != nil {
		e.logger.Error("Failed to write sample", "pts", sample.PTS, "error", err)
		e.counters.IncStreamError("sink_write")
		return
	}
	e.counters.AddSampleEmitted(sample.IsKeyFrame, units, len(buf))
}
