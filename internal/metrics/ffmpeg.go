package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FFmpeg process roles.
const (
	RoleEncode = "encode"
	RoleGrab   = "grab"
)

var (
	ffmpegLabels = []string{"pipeline", "role"}

	ffmpegFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "fps",
		Help:      "Current FFmpeg processing FPS",
	}, ffmpegLabels)

	ffmpegFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "frames",
		Help:      "Frames processed by the FFmpeg process",
	}, ffmpegLabels)

	ffmpegDroppedFrames = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "dropped_frames_total",
		Help:      "Total dropped frames",
	}, ffmpegLabels)

	ffmpegSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ffmpeg",
		Name:      "processing_speed",
		Help:      "FFmpeg processing speed multiplier",
	}, ffmpegLabels)

	ffmpegCache   = make(map[ffmpegKey]*FFmpegProcessMetrics)
	ffmpegCacheMu sync.RWMutex
)

type ffmpegKey struct {
	pipeline string
	role     string
}

// FFmpegProcessMetrics holds the last progress report of one process.
type FFmpegProcessMetrics struct {
	FPS           float64
	Frames        float64
	DroppedFrames float64
	Speed         float64
}

// FFmpegProgress is one parsed progress block.
type FFmpegProgress struct {
	FPS           *float64
	Frames        *float64
	DroppedFrames *float64
	Speed         *float64
}

// RecordFFmpegProgress applies the fields present in p.
func RecordFFmpegProgress(pipelineID, role string, p FFmpegProgress) {
	if p.FPS != nil {
		ffmpegFPS.WithLabelValues(pipelineID, role).Set(*p.FPS)
	}
	if p.Frames != nil {
		ffmpegFrames.WithLabelValues(pipelineID, role).Set(*p.Frames)
	}
	if p.DroppedFrames != nil {
		ffmpegDroppedFrames.WithLabelValues(pipelineID, role).Set(*p.DroppedFrames)
	}
	if p.Speed != nil {
		ffmpegSpeed.WithLabelValues(pipelineID, role).Set(*p.Speed)
	}

	ffmpegCacheMu.Lock()
	defer ffmpegCacheMu.Unlock()
	key := ffmpegKey{pipelineID, role}
	m, ok := ffmpegCache[key]
	if !ok {
		m = &FFmpegProcessMetrics{}
		ffmpegCache[key] = m
	}
	if p.FPS != nil {
		m.FPS = *p.FPS
	}
	if p.Frames != nil {
		m.Frames = *p.Frames
	}
	if p.DroppedFrames != nil {
		m.DroppedFrames = *p.DroppedFrames
	}
	if p.Speed != nil {
		m.Speed = *p.Speed
	}
}

// DeleteFFmpegMetrics removes the metrics of one process.
func DeleteFFmpegMetrics(pipelineID, role string) {
	ffmpegFPS.DeleteLabelValues(pipelineID, role)
	ffmpegFrames.DeleteLabelValues(pipelineID, role)
	ffmpegDroppedFrames.DeleteLabelValues(pipelineID, role)
	ffmpegSpeed.DeleteLabelValues(pipelineID, role)

	ffmpegCacheMu.Lock()
	delete(ffmpegCache, ffmpegKey{pipelineID, role})
	ffmpegCacheMu.Unlock()
}

// GetFFmpegMetrics returns the last values reported by one process.
func GetFFmpegMetrics(pipelineID, role string) *FFmpegProcessMetrics {
	ffmpegCacheMu.RLock()
	defer ffmpegCacheMu.RUnlock()
	if m, ok := ffmpegCache[ffmpegKey{pipelineID, role}]; ok {
		dup := *m
		return &dup
	}
	return nil
}
