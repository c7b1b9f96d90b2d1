package media

import (
	"fmt"
	"time"
)

// VideoTimescale is the timescale used for frame timestamps unless a source
// supplies its own.
const VideoTimescale int32 = 600

// Time is a rational timestamp: Value / Scale seconds. A zero Scale marks an
// invalid time.
type Time struct {
	Value int64
	Scale int32
}

// InvalidTime is the zero Time.
var InvalidTime = Time{}

// NewTime builds a Time from a value and timescale.
func NewTime(value int64, scale int32) Time {
	return Time{Value: value, Scale: scale}
}

// FrameDuration returns the duration of one frame at fps using VideoTimescale.
func FrameDuration(fps int) Time {
	if fps <= 0 {
		return InvalidTime
	}
	return Time{Value: int64(VideoTimescale) / int64(fps), Scale: VideoTimescale}
}

// FromDuration converts a time.Duration to the given scale.
func FromDuration(d time.Duration, scale int32) Time {
	return Time{Value: int64(d) * int64(scale) / int64(time.Second), Scale: scale}
}

// Valid reports whether the time carries a timescale.
func (t Time) Valid() bool { return t.Scale > 0 }

// Seconds returns the time as floating point seconds.
func (t Time) Seconds() float64 {
	if !t.Valid() {
		return 0
	}
	return float64(t.Value) / float64(t.Scale)
}

// Duration converts the time to a time.Duration.
func (t Time) Duration() time.Duration {
	if !t.Valid() {
		return 0
	}
	return time.Duration(t.Value * int64(time.Second) / int64(t.Scale))
}

// Add returns t+o expressed in t's timescale.
func (t Time) Add(o Time) Time {
	if !t.Valid() {
		return o
	}
	if !o.Valid() {
		return t
	}
	if t.Scale == o.Scale {
		return Time{Value: t.Value + o.Value, Scale: t.Scale}
	}
	return Time{Value: t.Value + o.Value*int64(t.Scale)/int64(o.Scale), Scale: t.Scale}
}

// Rescale converts t to another timescale, truncating.
func (t Time) Rescale(scale int32) Time {
	if !t.Valid() || scale <= 0 {
		return InvalidTime
	}
	return Time{Value: t.Value * int64(scale) / int64(t.Scale), Scale: scale}
}

func (t Time) String() string {
	if !t.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%d/%d", t.Value, t.Scale)
}
