// Package collectors gathers progress reports from ffmpeg processes.
package collectors

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/smazurov/screencapture/internal/metrics"
)

// FFmpegCollector listens on a unix socket for the key=value blocks ffmpeg
// writes with `-progress unix://<socket>` and records them as gauges for
// one pipeline role.
type FFmpegCollector struct {
	socketPath string
	pipelineID string
	role       string
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	stopped  bool
}

func NewFFmpegCollector(socketPath, pipelineID, role string) *FFmpegCollector {
	return &FFmpegCollector{
		socketPath: socketPath,
		pipelineID: pipelineID,
		role:       role,
		logger:     slog.With("component", "ffmpeg_progress", "pipeline", pipelineID, "role", role),
		conns:      make(map[net.Conn]struct{}),
	}
}

// ProgressURL is the value for ffmpeg's -progress option.
func (f *FFmpegCollector) ProgressURL() string {
	return "unix://" + f.socketPath
}

// Start listens on the socket, replacing a stale socket file. The
// collector stops when ctx ends or Stop is called.
func (f *FFmpegCollector) Start(ctx context.Context) error {
	if err := os.Remove(f.socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		f.logger.Warn("Failed to remove stale progress socket", "error", err)
	}
	ln, err := net.Listen("unix", f.socketPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.listener = ln
	f.mu.Unlock()

	f.wg.Add(1)
	go f.serve(ln)
	context.AfterFunc(ctx, func() { f.Stop() })
	return nil
}

// Stop closes the socket and open connections and drops the role's
// gauges. It is safe to call more than once.
func (f *FFmpegCollector) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	var err error
	if f.listener != nil {
		err = f.listener.Close()
	}
	for c := range f.conns {
		c.Close()
	}
	f.mu.Unlock()

	f.wg.Wait()
	if rmErr := os.Remove(f.socketPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		f.logger.Debug("Failed to remove progress socket", "error", rmErr)
	}
	metrics.DeleteFFmpegMetrics(f.pipelineID, f.role)
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (f *FFmpegCollector) serve(ln net.Listener) {
	defer f.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				f.logger.Warn("Progress socket accept failed", "error", err)
			}
			return
		}
		if !f.track(conn) {
			conn.Close()
			return
		}
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			defer f.untrack(conn)
			ParseProgress(conn, func(p metrics.FFmpegProgress) {
				metrics.RecordFFmpegProgress(f.pipelineID, f.role, p)
			})
		}()
	}
}

func (f *FFmpegCollector) track(c net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return false
	}
	f.conns[c] = struct{}{}
	return true
}

func (f *FFmpegCollector) untrack(c net.Conn) {
	f.mu.Lock()
	delete(f.conns, c)
	f.mu.Unlock()
	c.Close()
}

// ParseProgress reads progress blocks until r is exhausted and calls report
// at each block's progress= line.
func ParseProgress(r io.Reader, report func(metrics.FFmpegProgress)) {
	var p metrics.FFmpegProgress
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "fps":
			p.FPS = parseFloat(value)
		case "frame":
			p.Frames = parseFloat(value)
		case "drop_frames":
			p.DroppedFrames = parseFloat(value)
		case "speed":
			p.Speed = parseFloat(strings.TrimSuffix(value, "x"))
		case "progress":
			report(p)
			p = metrics.FFmpegProgress{}
		}
	}
}

// parseFloat returns nil for values ffmpeg reports as N/A.
func parseFloat(s string) *float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}
