package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smazurov/screencapture/internal/media"
	"github.com/smazurov/screencapture/internal/metrics"
)

// Submitter accepts raw frames from the capture source. Submissions are
// serialized; frames arriving while capture is off are discarded.
type Submitter struct {
	mu         sync.Mutex
	capturing  atomic.Bool
	manager    *SessionManager
	codec      Codec
	counters   *metrics.Counters
	logger     *slog.Logger
	onFatal    func(error)
}

// NewSubmitter creates a submitter that is not capturing. onFatal is called
// once a session cannot be created.
func NewSubmitter(manager *SessionManager, codec Codec, counters *metrics.Counters, logger *slog.Logger, onFatal func(error)) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	if counters == nil {
		counters = metrics.NewCounters("default")
	}
	return &Submitter{
		manager:    manager,
		codec:      codec,
		counters:   counters,
		logger:     logger,
		onFatal:    onFatal,
	}
}

// Capturing reports whether frames are currently accepted.
func (s *Submitter) Capturing() bool { return s.capturing.Load() }

func (s *Submitter) start() { s.capturing.Store(true) }

// stop turns capture off and waits for an in-flight submission to return.
func (s *Submitter) stop() {
	s.capturing.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
}

// Submit hands one frame to the encoder session, creating the session from
// the frame's dimensions on first use. The frame buffer is locked read-only
// for the duration of the hand-off. It returns nil without encoding when
// capture is off.
func (s *Submitter) Submit(frame media.RawFrame) error {
	if !s.capturing.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.capturing.Load() {
		return nil
	}
	if frame.Buffer == nil {
		return errors.New("frame has no pixel buffer")
	}

	session, err := s.manager.EnsureSession(uint32(frame.Width), uint32(frame.Height), s.codec)
	if err != nil {
		if errors.Is(err, ErrSessionCreateFailed) {
			s.capturing.Store(false)
			if s.onFatal != nil {
				s.onFatal(err)
			}
		}
		return err
	}

	if err := frame.Buffer.Lock(true); err != nil {
		s.counters.IncStreamError("buffer_lock")
		return fmt.Errorf("lock pixel buffer: %w", err)
	}
	err = s.manager.encode(session, frame)
	frame.Buffer.Unlock(true)

	if err != nil {
		s.counters.IncStreamError("encode")
		s.logger.Warn("Frame submission failed", "pts", frame.PTS, "error", err)
		return err
	}
	s.counters.IncFramesSubmitted()
	return nil
}
