package ffmpegenc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/ffmpeg"
	"github.com/smazurov/screencapture/internal/logging"
	"github.com/smazurov/screencapture/internal/media"
	"github.com/smazurov/screencapture/internal/metrics"
	"github.com/smazurov/screencapture/internal/metrics/collectors"
	"github.com/smazurov/screencapture/internal/process"
)

var (
	errNotPrepared = errors.New("session not prepared")
	errInputClosed = errors.New("session input closed")
	errInvalidated = errors.New("session invalidated")
)

type timing struct {
	pts      media.Time
	duration media.Time
}

// session is one ffmpeg subprocess. Frames are written to stdin on the
// caller's goroutine; a reader goroutine delivers outputs in order.
type session struct {
	factory *Factory
	props   compressor.Properties
	params  *ffmpeg.EncodeParams
	command string
	handler compressor.OutputHandler
	logger  *slog.Logger

	proc      *process.Process
	stdin     io.WriteCloser
	collector *collectors.FFmpegCollector
	buf       []byte

	mu          sync.Mutex
	pending     []timing
	prepared    bool
	inputClosed bool
	invalid     bool

	readerDone chan struct{}
	closeInput sync.Once
	release    sync.Once
	lastError  atomic.Value // string
}

func newSession(f *Factory, props compressor.Properties, params *ffmpeg.EncodeParams, command string, handler compressor.OutputHandler) *session {
	return &session{
		factory:    f,
		props:      props,
		params:     params,
		command:    command,
		handler:    handler,
		logger:     f.logger.With("encoder", params.Encoder),
		readerDone: make(chan struct{}),
	}
}

// Prepare starts the progress collector and the encoder subprocess.
func (s *session) Prepare() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prepared {
		return nil
	}
	if s.invalid {
		return s.statusError("prepare", compressor.StatusSessionFail, errInvalidated)
	}

	if s.params.ProgressSocket != "" {
		s.collector = collectors.NewFFmpegCollector(s.params.ProgressSocket, s.factory.cfg.PipelineID, metrics.RoleEncode)
		if err := s.collector.Start(context.Background()); err != nil {
			// Progress is instrumentation only
			s.logger.Warn("Failed to start progress collector", "socket", s.params.ProgressSocket, "error", err)
			s.collector = nil
		}
	}

	proc := process.NewProcess(s.factory.cfg.PipelineID+"-encode", s.command,
		process.Pipes{Stdin: true, Stdout: true}, s.logger)
	proc.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)
	proc.SetOutputHandler(s)
	if err := proc.Start(); err != nil {
		s.stopCollector()
		return s.statusError("prepare", compressor.StatusSessionFail, err)
	}
	stdin, err := proc.Stdin()
	if err != nil {
		proc.Kill()
		s.stopCollector()
		return s.statusError("prepare", compressor.StatusSessionFail, err)
	}
	stdout, err := proc.Stdout()
	if err != nil {
		proc.Kill()
		s.stopCollector()
		return s.statusError("prepare", compressor.StatusSessionFail, err)
	}

	s.proc = proc
	s.stdin = stdin
	s.prepared = true
	s.factory.sessions.Add(1)
	go s.readLoop(stdout)
	return nil
}

// HandleLine keeps the last error ffmpeg printed for error reports.
func (s *session) HandleLine(_, line string) {
	if level, msg := ffmpeg.ParseLogLevel(line); level == "error" || level == "fatal" {
		s.lastError.Store(msg)
	}
}

// EncodeFrame writes the visible pixels of frame to the encoder.
func (s *session) EncodeFrame(frame media.RawFrame) error {
	if frame.Width != s.props.Width || frame.Height != s.props.Height {
		return s.statusError("encode", compressor.StatusEncodeFail,
			fmt.Errorf("frame size %dx%d does not match session %dx%d", frame.Width, frame.Height, s.props.Width, s.props.Height))
	}
	if frame.Buffer.Format() != s.props.PixelFormat {
		return s.statusError("encode", compressor.StatusEncodeFail,
			fmt.Errorf("pixel format %s does not match session %s", frame.Buffer.Format(), s.props.PixelFormat))
	}

	data, err := media.AppendPacked(s.buf[:0], frame.Buffer)
	if err != nil {
		return s.statusError("encode", compressor.StatusEncodeFail, err)
	}
	s.buf = data

	s.mu.Lock()
	switch {
	case !s.prepared:
		s.mu.Unlock()
		return s.statusError("encode", compressor.StatusSessionFail, errNotPrepared)
	case s.invalid:
		s.mu.Unlock()
		return s.statusError("encode", compressor.StatusSessionFail, errInvalidated)
	case s.inputClosed:
		s.mu.Unlock()
		return s.statusError("encode", compressor.StatusSessionFail, errInputClosed)
	}
	// Queued before the write so the reader always finds the timing of an
	// output it has already received.
	s.pending = append(s.pending, timing{pts: frame.PTS, duration: frame.Duration})
	s.mu.Unlock()

	if _, err := s.stdin.Write(data); err != nil {
		s.mu.Lock()
		s.pending = s.pending[:len(s.pending)-1]
		s.mu.Unlock()
		return s.statusError("encode", compressor.StatusEncodeFail, err)
	}
	return nil
}

// CompleteFrames closes the encoder input and blocks until every frame
// written so far has been delivered. The session accepts no frames
// afterwards.
func (s *session) CompleteFrames() error {
	s.mu.Lock()
	if !s.prepared {
		s.mu.Unlock()
		return nil
	}
	s.inputClosed = true
	s.mu.Unlock()

	s.closeStdin()
	<-s.readerDone
	if code := s.proc.Wait(); code != 0 {
		s.mu.Lock()
		invalid := s.invalid
		s.mu.Unlock()
		if !invalid {
			return s.statusError("complete", compressor.StatusEncodeFail, fmt.Errorf("ffmpeg exited with code %d", code))
		}
	}
	return nil
}

// Invalidate stops the subprocess. No outputs are delivered once it
// returns.
func (s *session) Invalidate() error {
	s.mu.Lock()
	s.invalid = true
	prepared := s.prepared
	s.mu.Unlock()

	if !prepared {
		return nil
	}
	s.closeStdin()
	s.proc.Stop()
	<-s.readerDone
	s.release.Do(func() {
		s.stopCollector()
		s.factory.sessions.Done()
	})
	return nil
}

func (s *session) closeStdin() {
	s.closeInput.Do(func() {
		if err := s.stdin.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.logger.Debug("Failed to close encoder input", "error", err)
		}
	})
}

func (s *session) stopCollector() {
	if s.collector == nil {
		return
	}
	if err := s.collector.Stop(); err != nil {
		s.logger.Debug("Failed to stop progress collector", "error", err)
	}
}

// readLoop delivers one output per access unit. Frames still pending when
// the stream ends are reported as failed.
func (s *session) readLoop(stdout io.ReadCloser) {
	defer close(s.readerDone)
	defer stdout.Close()

	reader := newAccessUnitReader(stdout, s.props.Codec)
	pk := newPacker(s.props.Codec, s.props.Width, s.props.Height)

	for {
		units, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error("Failed to read encoder output", "error", err)
			}
			break
		}

		data, format, keyFrame, ok := pk.pack(units)
		if !ok {
			s.logger.Debug("Skipping access unit without picture", "units", len(units))
			continue
		}

		t, ok := s.popTiming()
		if !ok {
			s.logger.Warn("Encoder produced output without a pending frame")
			t = timing{pts: media.InvalidTime, duration: media.InvalidTime}
		}

		attachments := map[string]bool{}
		if !keyFrame {
			attachments[compressor.AttachmentNotSync] = true
		}
		s.deliver(compressor.Output{
			Status: compressor.StatusOK,
			Flags:  compressor.InfoAsynchronous,
			Sample: &compressor.Sample{
				Format:      format,
				Data:        data,
				DataReady:   true,
				Attachments: attachments,
				PTS:         t.pts,
				Duration:    t.duration,
			},
		})
	}

	for {
		t, ok := s.popTiming()
		if !ok {
			return
		}
		s.logger.Warn("Encoder ended without output for frame", "pts", t.pts, "last_error", s.lastErrorLine())
		s.deliver(compressor.Output{Status: compressor.StatusEncodeFail, Flags: compressor.InfoAsynchronous})
	}
}

func (s *session) popTiming() (timing, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return timing{}, false
	}
	t := s.pending[0]
	s.pending = s.pending[1:]
	return t, true
}

func (s *session) deliver(out compressor.Output) {
	s.mu.Lock()
	invalid := s.invalid
	s.mu.Unlock()
	if invalid {
		return
	}
	s.handler(out)
}

func (s *session) lastErrorLine() string {
	if v, ok := s.lastError.Load().(string); ok {
		return v
	}
	return ""
}

func (s *session) statusError(op string, status compressor.Status, err error) error {
	if line := s.lastErrorLine(); line != "" && !strings.Contains(err.Error(), line) {
		err = fmt.Errorf("%w (ffmpeg: %s)", err, line)
	}
	return &compressor.StatusError{Op: op, Status: status, Err: err}
}
