package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sourceFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "frames_total",
		Help:      "Raw frames produced by a frame source",
	}, []string{"source"})

	sourceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "source",
		Name:      "errors_total",
		Help:      "Frame source failures",
	}, []string{"source"})

	sinkBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "bytes_total",
		Help:      "Bytes accepted by a sink",
	}, []string{"sink"})

	sinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "write_errors_total",
		Help:      "Failed sink writes",
	}, []string{"sink"})
)

// IncSourceFrames counts one frame produced by source.
func IncSourceFrames(source string) {
	sourceFrames.WithLabelValues(source).Inc()
}

// IncSourceErrors counts a failure of source.
func IncSourceErrors(source string) {
	sourceErrors.WithLabelValues(source).Inc()
}

// AddSinkBytes counts bytes written to sink.
func AddSinkBytes(sink string, n int) {
	sinkBytes.WithLabelValues(sink).Add(float64(n))
}

// IncSinkErrors counts a failed write to sink.
func IncSinkErrors(sink string) {
	sinkErrors.WithLabelValues(sink).Inc()
}
