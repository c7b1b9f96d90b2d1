package sink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/smazurov/screencapture/internal/logging"
)

// ErrNoOutputs is returned once every output of a Tee has failed or been
// removed.
var ErrNoOutputs = errors.New("sink has no outputs")

type teeOutput struct {
	name string
	w    io.Writer
}

// Tee copies the stream to several outputs. An output that fails is
// dropped and the others keep receiving data.
type Tee struct {
	mu        sync.RWMutex
	outputs   []teeOutput
	logger    *slog.Logger
	onRemoved func(name string, err error)
}

// NewTee creates an empty tee.
func NewTee(logger *slog.Logger) *Tee {
	if logger == nil {
		logger = logging.GetLogger("sink")
	}
	return &Tee{logger: logger}
}

// SetOnRemoved sets the callback invoked when a failing output is dropped.
func (t *Tee) SetOnRemoved(callback func(name string, err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRemoved = callback
}

// Add registers an output, replacing one with the same name.
func (t *Tee) Add(name string, w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Writers iterate a snapshot, so the slice is never modified in place.
	outputs := make([]teeOutput, 0, len(t.outputs)+1)
	for _, o := range t.outputs {
		if o.name == name {
			t.logger.Info("Replacing sink output", "output", name)
			continue
		}
		outputs = append(outputs, o)
	}
	t.outputs = append(outputs, teeOutput{name: name, w: w})
	t.logger.Debug("Sink output added", "output", name)
}

// Remove drops an output by name.
func (t *Tee) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(name)
}

func (t *Tee) removeLocked(name string) bool {
	for i, o := range t.outputs {
		if o.name == name {
			outputs := make([]teeOutput, 0, len(t.outputs)-1)
			outputs = append(outputs, t.outputs[:i]...)
			t.outputs = append(outputs, t.outputs[i+1:]...)
			return true
		}
	}
	return false
}

// Outputs returns the names of the current outputs.
func (t *Tee) Outputs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, len(t.outputs))
	for i, o := range t.outputs {
		names[i] = o.name
	}
	return names
}

// Write implements io.Writer.
func (t *Tee) Write(p []byte) (int, error) {
	t.mu.RLock()
	outputs := t.outputs
	t.mu.RUnlock()

	if len(outputs) == 0 {
		return 0, ErrNoOutputs
	}

	type failure struct {
		name string
		err  error
	}
	var failed []failure
	for _, o := range outputs {
		n, err := o.w.Write(p)
		if err == nil && n < len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			failed = append(failed, failure{o.name, err})
		}
	}
	if len(failed) == 0 {
		return len(p), nil
	}

	t.mu.Lock()
	for _, f := range failed {
		if t.removeLocked(f.name) {
			t.logger.Warn("Dropping failed sink output", "output", f.name, "error", f.err)
		}
	}
	remaining := len(t.outputs)
	callback := t.onRemoved
	t.mu.Unlock()

	// Notify after unlock so the callback may call back into the tee.
	if callback != nil {
		for _, f := range failed {
			callback(f.name, f.err)
		}
	}
	if remaining == 0 {
		return 0, errors.Join(ErrNoOutputs, failed[0].err)
	}
	return len(p), nil
}

// Flush flushes every output that supports it.
func (t *Tee) Flush() error {
	t.mu.RLock()
	outputs := t.outputs
	t.mu.RUnlock()

	var errs []error
	for _, o := range outputs {
		f, ok := o.w.(interface{ Flush() error })
		if !ok {
			continue
		}
		if err := f.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", o.name, err))
		}
	}
	return errors.Join(errs...)
}
