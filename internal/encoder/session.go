package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/media"
)

// Session is one live compression session.
type Session struct {
	id      uint64
	width   uint32
	height  uint32
	variant codecVariant
	backend string
	comp    compressor.Compressor
}

// ID returns the session sequence number, starting at 1.
func (s *Session) ID() uint64 { return s.id }

// Width returns the encoded width.
func (s *Session) Width() uint32 { return s.width }

// Height returns the encoded height.
func (s *Session) Height() uint32 { return s.height }

// Codec returns the session codec.
func (s *Session) Codec() Codec { return s.variant.codec }

// Backend returns the compressor backend name.
func (s *Session) Backend() string { return s.backend }

// StateChangeFunc observes session state transitions.
type StateChangeFunc func(sessionID uint64, from, to State)

// SessionManager owns the lifecycle of at most one compression session. The
// session is created lazily from the first frame's dimensions.
type SessionManager struct {
	mu       sync.Mutex
	factory  compressor.Factory
	cfg      Config
	handler  compressor.OutputHandler
	logger   *slog.Logger
	onChange StateChangeFunc

	state         State
	session       *Session
	nextID        uint64
	warnedResize  bool
	createFailure error
}

// NewSessionManager creates a manager in the uninitialized state. handler
// receives every output of the session it creates.
func NewSessionManager(factory compressor.Factory, cfg Config, handler compressor.OutputHandler, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		factory: factory,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
	}
}

// OnStateChange registers the transition observer. It is called with the
// manager lock held and must not call back into the manager.
func (m *SessionManager) OnStateChange(fn StateChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// State returns the current state.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the live session, or nil.
func (m *SessionManager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// EnsureSession returns the existing session or creates one for the given
// dimensions. Creation failure is terminal: the manager moves to closed and
// every later call returns the same error.
func (m *SessionManager) EnsureSession(width, height uint32, codec Codec) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateReady, StateEncoding:
		s := m.session
		if (s.width != width || s.height != height || s.variant.codec != codec) && !m.warnedResize {
			m.warnedResize = true
			m.logger.Warn("Frame does not match session, keeping existing session",
				"session_id", s.id,
				"session_size", fmt.Sprintf("%dx%d", s.width, s.height),
				"frame_size", fmt.Sprintf("%dx%d", width, height),
				"session_codec", s.variant.codec,
				"frame_codec", codec)
		}
		return s, nil
	case StateDraining:
		return nil, ErrSessionClosed
	case StateClosed:
		if m.createFailure != nil {
			return nil, m.createFailure
		}
		return nil, ErrSessionClosed
	}

	if width == 0 || height == 0 {
		return nil, m.failCreate(&SessionError{
			Op:     "create",
			Status: compressor.StatusUnsupported,
			Err:    fmt.Errorf("invalid dimensions %dx%d", width, height),
		})
	}

	v, err := codec.variant()
	if err != nil {
		return nil, m.failCreate(&SessionError{Op: "create", Status: compressor.StatusUnsupported, Err: err})
	}

	props := m.cfg.properties(width, height, v)
	comp, err := m.factory.New(props, m.handler)
	if err != nil {
		return nil, m.failCreate(&SessionError{Op: "create", Status: compressor.StatusOf(err), Err: err})
	}
	if err := comp.Prepare(); err != nil {
		if invErr := comp.Invalidate(); invErr != nil {
			m.logger.Warn("Failed to invalidate unprepared session", "error", invErr)
		}
		return nil, m.failCreate(&SessionError{Op: "create", Status: compressor.StatusOf(err), Err: err})
	}

	m.nextID++
	m.session = &Session{
		id:      m.nextID,
		width:   width,
		height:  height,
		variant: v,
		backend: m.factory.Name(),
		comp:    comp,
	}
	m.setState(StateReady)
	m.logger.Info("Encoder session created",
		"session_id", m.session.id,
		"backend", m.factory.Name(),
		"codec", codec,
		"width", width,
		"height", height,
		"bitrate", props.AverageBitRate,
		"max_keyframe_interval", props.MaxKeyFrameInterval,
		"realtime", props.Realtime)
	return m.session, nil
}

func (m *SessionManager) failCreate(err *SessionError) error {
	m.createFailure = err
	m.setState(StateClosed)
	m.logger.Error("Encoder session creation failed", "status", err.Status, "error", err.Err)
	return err
}

// encode hands frame to the live session. The caller holds the frame
// buffer lock.
func (m *SessionManager) encode(s *Session, frame media.RawFrame) error {
	m.mu.Lock()
	if m.session != s || (m.state != StateReady && m.state != StateEncoding) {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	if m.state == StateReady {
		m.setState(StateEncoding)
	}
	m.mu.Unlock()

	if err := s.comp.EncodeFrame(frame); err != nil {
		return &SessionError{Op: "encode", Status: compressor.StatusOf(err), Err: err}
	}
	return nil
}

// CloseSession drains every in-flight frame and invalidates the session.
// It is a no-op when no session exists.
func (m *SessionManager) CloseSession() error {
	m.mu.Lock()
	s := m.session
	if s == nil || m.state == StateDraining || m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.setState(StateDraining)
	m.mu.Unlock()

	// Outputs still arrive while draining; the handler must not block on
	// the manager lock.
	completeErr := s.comp.CompleteFrames()
	if completeErr != nil {
		completeErr = &SessionError{Op: "complete", Status: compressor.StatusOf(completeErr), Err: completeErr}
	}
	invalidateErr := s.comp.Invalidate()
	if invalidateErr != nil {
		invalidateErr = &SessionError{Op: "invalidate", Status: compressor.StatusOf(invalidateErr), Err: invalidateErr}
	}

	m.mu.Lock()
	m.setState(StateClosed)
	m.session = nil
	m.mu.Unlock()

	m.logger.Info("Encoder session closed", "session_id", s.id)
	return errors.Join(completeErr, invalidateErr)
}

func (m *SessionManager) setState(to State) {
	from := m.state
	if from == to {
		return
	}
	if !from.canTransition(to) {
		m.logger.Error("Illegal session state transition", "from", from, "to", to)
		return
	}
	m.state = to
	var id uint64
	if m.session != nil {
		id = m.session.id
	}
	m.logger.Debug("Session state changed", "session_id", id, "from", from, "to", to)
	if m.onChange != nil {
		m.onChange(id, from, to)
	}
}
