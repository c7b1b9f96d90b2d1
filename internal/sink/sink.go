// Package sink holds the byte sinks the encoder writes its Annex B stream
// to: a counting writer over stdout or a file, and a fan-out tee.
package sink

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/smazurov/screencapture/internal/logging"
	"github.com/smazurov/screencapture/internal/metrics"
)

// Stdout is the path that selects standard output.
const Stdout = "-"

// Writer forwards writes to an underlying writer and accounts for them.
// Writes are not buffered.
type Writer struct {
	name   string
	w      io.Writer
	closer io.Closer
	logger *slog.Logger

	mu       sync.Mutex
	bytes    atomic.Uint64
	failed   bool
	closed   bool
	writeErr error
}

// NewWriter wraps w. The sink does not close w.
func NewWriter(name string, w io.Writer, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = logging.GetLogger("sink")
	}
	return &Writer{name: name, w: w, logger: logger.With("sink", name)}
}

// Open returns a sink for path, standard output for Stdout. A file is
// created or truncated and closed with the sink.
func Open(path string, logger *slog.Logger) (*Writer, error) {
	if path == "" || path == Stdout {
		return NewWriter("stdout", os.Stdout, logger), nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink %s: %w", path, err)
	}
	w := NewWriter(path, f, logger)
	w.closer = f
	return w, nil
}

// Name returns the sink label.
func (w *Writer) Name() string { return w.name }

// Write implements io.Writer. The first failure is logged; later writes
// keep failing with the same error.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	if w.failed {
		return 0, w.writeErr
	}

	n, err := w.w.Write(p)
	w.bytes.Add(uint64(n))
	metrics.AddSinkBytes(w.name, n)
	if err != nil {
		w.failed = true
		w.writeErr = err
		metrics.IncSinkErrors(w.name)
		w.logger.Error("Sink write failed", "bytes", w.bytes.Load(), "error", err)
	}
	return n, err
}

// Bytes returns the number of bytes written.
func (w *Writer) Bytes() uint64 { return w.bytes.Load() }

// Err returns the first write error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeErr
}

// Flush commits written data to stable storage when the sink is a file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	type syncer interface{ Sync() error }
	type flusher interface{ Flush() error }
	switch u := w.w.(type) {
	case flusher:
		return u.Flush()
	case syncer:
		if w.closer == nil {
			// Pipes and terminals reject fsync.
			return nil
		}
		return u.Sync()
	}
	return nil
}

// Close flushes and closes an owned file.
func (w *Writer) Close() error {
	flushErr := w.Flush()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.logger.Debug("Sink closed", "bytes", w.bytes.Load())
	if w.closer == nil {
		return flushErr
	}
	return errors.Join(flushErr, w.closer.Close())
}
