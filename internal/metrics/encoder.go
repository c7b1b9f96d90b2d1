// Package metrics provides Prometheus metrics for the capture pipeline and
// the ffmpeg processes it drives.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "screencapture"

var (
	framesSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "frames_submitted_total",
		Help:      "Raw frames handed to the encoder session",
	}, []string{"pipeline"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "frames_dropped_total",
		Help:      "Frames that produced no output, by reason",
	}, []string{"pipeline", "reason"})

	samplesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "samples_emitted_total",
		Help:      "Compressed samples written to the sink",
	}, []string{"pipeline", "kind"})

	nalUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "nal_units_total",
		Help:      "NAL units written to the sink, parameter sets included",
	}, []string{"pipeline"})

	bytesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "bytes_written_total",
		Help:      "Annex B bytes written to the sink",
	}, []string{"pipeline"})

	streamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "errors_total",
		Help:      "Non-fatal stream errors, by kind",
	}, []string{"pipeline", "kind"})

	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "encoder",
		Name:      "session_state",
		Help:      "Current encoder session state (0 uninitialized, 1 ready, 2 encoding, 3 draining, 4 closed)",
	}, []string{"pipeline"})
)

// PipelineMetrics holds current counter values for a pipeline.
type PipelineMetrics struct {
	FramesSubmitted uint64
	FramesDropped   uint64
	KeyFrames       uint64
	DeltaFrames     uint64
	NALUnits        uint64
	Bytes           uint64
	Errors          uint64
	State           int
}

// Samples returns the number of compressed samples emitted.
func (m PipelineMetrics) Samples() uint64 { return m.KeyFrames + m.DeltaFrames }

// Counters counts for one pipeline instance. Every update also feeds the
// Prometheus series labelled with the pipeline ID, which keep accumulating
// across instances that share an ID.
type Counters struct {
	pipelineID string

	mu sync.Mutex
	m  PipelineMetrics
}

// NewCounters returns zeroed counters for pipelineID.
func NewCounters(pipelineID string) *Counters {
	return &Counters{pipelineID: pipelineID}
}

// IncFramesSubmitted counts one frame handed to the session.
func (c *Counters) IncFramesSubmitted() {
	framesSubmitted.WithLabelValues(c.pipelineID).Inc()
	c.update(func(m *PipelineMetrics) { m.FramesSubmitted++ })
}

// IncFramesDropped counts one frame without output.
func (c *Counters) IncFramesDropped(reason string) {
	framesDropped.WithLabelValues(c.pipelineID, reason).Inc()
	c.update(func(m *PipelineMetrics) { m.FramesDropped++ })
}

// AddSampleEmitted counts one emitted sample and the units and bytes it
// produced.
func (c *Counters) AddSampleEmitted(keyFrame bool, units, bytes int) {
	kind := "delta"
	if keyFrame {
		kind = "key"
	}
	samplesEmitted.WithLabelValues(c.pipelineID, kind).Inc()
	nalUnits.WithLabelValues(c.pipelineID).Add(float64(units))
	bytesWritten.WithLabelValues(c.pipelineID).Add(float64(bytes))
	c.update(func(m *PipelineMetrics) {
		if keyFrame {
			m.KeyFrames++
		} else {
			m.DeltaFrames++
		}
		m.NALUnits += uint64(units)
		m.Bytes += uint64(bytes)
	})
}

// IncStreamError counts a non-fatal error such as a malformed tail or a
// failed parameter set extraction.
func (c *Counters) IncStreamError(kind string) {
	streamErrors.WithLabelValues(c.pipelineID, kind).Inc()
	c.update(func(m *PipelineMetrics) { m.Errors++ })
}

// SetSessionState records the session state ordinal.
func (c *Counters) SetSessionState(state int) {
	sessionState.WithLabelValues(c.pipelineID).Set(float64(state))
	c.update(func(m *PipelineMetrics) { m.State = state })
}

// Snapshot returns the current values.
func (c *Counters) Snapshot() PipelineMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}

func (c *Counters) update(fn func(*PipelineMetrics)) {
	c.mu.Lock()
	fn(&c.m)
	c.mu.Unlock()
}

// DeletePipelineMetrics removes the Prometheus series of a pipeline.
func DeletePipelineMetrics(pipelineID string) {
	framesSubmitted.DeleteLabelValues(pipelineID)
	framesDropped.DeletePartialMatch(prometheus.Labels{"pipeline": pipelineID})
	samplesEmitted.DeletePartialMatch(prometheus.Labels{"pipeline": pipelineID})
	nalUnits.DeleteLabelValues(pipelineID)
	bytesWritten.DeleteLabelValues(pipelineID)
	streamErrors.DeletePartialMatch(prometheus.Labels{"pipeline": pipelineID})
	sessionState.DeleteLabelValues(pipelineID)
}
