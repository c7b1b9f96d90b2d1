package events

// Event type constants for kelindar/event.
const (
	TypeSessionStateChanged uint32 = iota + 1
	TypePipelineError
	TypeFrameDropped
	TypeParameterSetsEmitted
	TypePipelineStopped
	TypeConfigReloaded
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStateChangedEvent is published on every encoder session state
// transition.
type SessionStateChangedEvent struct {
	PipelineID string `json:"pipeline_id"`
	SessionID  uint64 `json:"session_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for SessionStateChangedEvent.
func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// PipelineErrorEvent is published when the pipeline hits a fatal error and
// stops capturing.
type PipelineErrorEvent struct {
	PipelineID string `json:"pipeline_id"`
	Error      string `json:"error"`
	Status     int32  `json:"status"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for PipelineErrorEvent.
func (e PipelineErrorEvent) Type() uint32 { return TypePipelineError }

// FrameDroppedEvent reports a frame the encoder did not produce output for.
type FrameDroppedEvent struct {
	PipelineID string `json:"pipeline_id"`
	Reason     string `json:"reason"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for FrameDroppedEvent.
func (e FrameDroppedEvent) Type() uint32 { return TypeFrameDropped }

// ParameterSetsEmittedEvent is published the first time a pipeline writes
// parameter sets.
type ParameterSetsEmittedEvent struct {
	PipelineID string `json:"pipeline_id"`
	Codec      string `json:"codec"`
	Count      int    `json:"count"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for ParameterSetsEmittedEvent.
func (e ParameterSetsEmittedEvent) Type() uint32 { return TypeParameterSetsEmitted }

// PipelineStoppedEvent is published after a pipeline drained and closed.
type PipelineStoppedEvent struct {
	PipelineID string `json:"pipeline_id"`
	Frames     uint64 `json:"frames"`
	Samples    uint64 `json:"samples"`
	Bytes      uint64 `json:"bytes"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for PipelineStoppedEvent.
func (e PipelineStoppedEvent) Type() uint32 { return TypePipelineStopped }

// ConfigReloadedEvent is published when the config file changed on disk.
type ConfigReloadedEvent struct {
	Path      string `json:"path"`
	Restarted bool   `json:"restarted"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for ConfigReloadedEvent.
func (e ConfigReloadedEvent) Type() uint32 { return TypeConfigReloaded }
