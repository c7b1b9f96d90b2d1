// Package compressortest provides a scripted in-memory compressor for tests.
package compressortest

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/media"
)

// Script produces the output for the n-th submitted frame (zero based).
type Script func(n int, frame media.RawFrame) compressor.Output

// Factory creates fake compressors.
type Factory struct {
	NameValue  string
	CreateErr  error
	PrepareErr error
	Script     Script
	Delay      time.Duration

	mu       sync.Mutex
	sessions []*Compressor
	props    []compressor.Properties
}

// Name implements compressor.Factory.
func (f *Factory) Name() string {
	if f.NameValue == "" {
		return "fake"
	}
	return f.NameValue
}

// Hardware implements compressor.Factory.
func (f *Factory) Hardware() bool { return false }

// Available implements compressor.Factory.
func (f *Factory) Available() bool { return true }

// Codecs implements compressor.Factory.
func (f *Factory) Codecs() []compressor.CodecType {
	return []compressor.CodecType{compressor.CodecTypeH264, compressor.CodecTypeHEVC}
}

// New implements compressor.Factory.
func (f *Factory) New(props compressor.Properties, handler compressor.OutputHandler) (compressor.Compressor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props = append(f.props, props)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	c := &Compressor{
		props:      props,
		handler:    handler,
		script:     f.Script,
		delay:      f.Delay,
		prepareErr: f.PrepareErr,
		queue:      make(chan job, 256),
	}
	go c.deliver()
	f.sessions = append(f.sessions, c)
	return c, nil
}

// Sessions returns every compressor created so far.
func (f *Factory) Sessions() []*Compressor {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Compressor, len(f.sessions))
	copy(out, f.sessions)
	return out
}

// Properties returns the properties passed to every New call.
func (f *Factory) Properties() []compressor.Properties {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]compressor.Properties, len(f.props))
	copy(out, f.props)
	return out
}

type job struct {
	n     int
	frame media.RawFrame
}

// Compressor is a fake compression session. Outputs are delivered on a
// dedicated goroutine in submission order.
type Compressor struct {
	props      compressor.Properties
	handler    compressor.OutputHandler
	script     Script
	delay      time.Duration
	prepareErr error

	queue   chan job
	pending sync.WaitGroup
	count   int

	prepared      atomic.Bool
	invalidated   atomic.Bool
	completeCalls atomic.Int32
	delivered     atomic.Int32
	lockedSeen    atomic.Int32
	closeOnce     sync.Once
}

// ErrInvalidated is returned by EncodeFrame after Invalidate.
var ErrInvalidated = errors.New("fake compressor invalidated")

// Prepare implements compressor.Compressor.
func (c *Compressor) Prepare() error {
	if c.prepareErr != nil {
		return c.prepareErr
	}
	c.prepared.Store(true)
	return nil
}

// EncodeFrame implements compressor.Compressor.
func (c *Compressor) EncodeFrame(frame media.RawFrame) error {
	if c.invalidated.Load() {
		return ErrInvalidated
	}
	// A write lock must fail while the submitter holds the buffer.
	if frame.Buffer != nil {
		if err := frame.Buffer.Lock(false); err != nil {
			c.lockedSeen.Add(1)
		} else {
			frame.Buffer.Unlock(false)
		}
	}
	c.pending.Add(1)
	c.queue <- job{n: c.count, frame: frame}
	c.count++
	return nil
}

// CompleteFrames implements compressor.Compressor.
func (c *Compressor) CompleteFrames() error {
	c.completeCalls.Add(1)
	c.pending.Wait()
	return nil
}

// Invalidate implements compressor.Compressor.
func (c *Compressor) Invalidate() error {
	c.invalidated.Store(true)
	c.closeOnce.Do(func() { close(c.queue) })
	return nil
}

func (c *Compressor) deliver() {
	for j := range c.queue {
		if c.delay > 0 {
			time.Sleep(c.delay)
		}
		if c.script != nil && !c.invalidated.Load() {
			c.handler(c.script(j.n, j.frame))
			c.delivered.Add(1)
		}
		c.pending.Done()
	}
}

// Props returns the creation properties.
func (c *Compressor) Props() compressor.Properties { return c.props }

// Prepared reports whether Prepare succeeded.
func (c *Compressor) Prepared() bool { return c.prepared.Load() }

// Invalidated reports whether Invalidate was called.
func (c *Compressor) Invalidated() bool { return c.invalidated.Load() }

// CompleteCalls returns how many times CompleteFrames ran.
func (c *Compressor) CompleteCalls() int { return int(c.completeCalls.Load()) }

// Delivered returns the number of outputs handed to the handler.
func (c *Compressor) Delivered() int { return int(c.delivered.Load()) }

// LockedSubmissions returns how many frames arrived with their buffer locked.
func (c *Compressor) LockedSubmissions() int { return int(c.lockedSeen.Load()) }

// LengthPrefixed builds a sample payload from unit bodies.
func LengthPrefixed(units ...[]byte) []byte {
	var out []byte
	for _, u := range units {
		out = binary.BigEndian.AppendUint32(out, uint32(len(u)))
		out = append(out, u...)
	}
	return out
}

// KeyFrame builds a successful sync sample.
func KeyFrame(fd *compressor.FormatDescription, units ...[]byte) compressor.Output {
	return compressor.Output{
		Status: compressor.StatusOK,
		Flags:  compressor.InfoAsynchronous,
		Sample: &compressor.Sample{
			Format:      fd,
			Data:        LengthPrefixed(units...),
			DataReady:   true,
			Attachments: map[string]bool{},
		},
	}
}

// DeltaFrame builds a successful non-sync sample.
func DeltaFrame(fd *compressor.FormatDescription, units ...[]byte) compressor.Output {
	out := KeyFrame(fd, units...)
	out.Sample.Attachments[compressor.AttachmentNotSync] = true
	return out
}

// Dropped builds a dropped-frame notification.
func Dropped() compressor.Output {
	return compressor.Output{Status: compressor.StatusOK, Flags: compressor.InfoAsynchronous | compressor.InfoFrameDropped}
}

// Failed builds an output with a non-success status.
func Failed(status compressor.Status) compressor.Output {
	return compressor.Output{Status: status, Flags: compressor.InfoAsynchronous}
}

// Sequence returns a Script that replays outputs in order and reports
// further frames as delta frames with a single one-byte unit.
func Sequence(outputs ...compressor.Output) Script {
	return func(n int, _ media.RawFrame) compressor.Output {
		if n < len(outputs) {
			return outputs[n]
		}
		return DeltaFrame(nil, []byte{0x41})
	}
}
