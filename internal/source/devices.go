package source

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/smazurov/screencapture/internal/ffmpeg"
	"github.com/smazurov/screencapture/internal/logging"
	"github.com/smazurov/screencapture/internal/process"
)

// DefaultInput returns the grab input of the running platform.
func DefaultInput() ffmpeg.Input {
	if runtime.GOOS == "darwin" {
		return ffmpeg.InputAVFoundation
	}
	return ffmpeg.InputX11Grab
}

type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) HandleLine(_, line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

// ListDevices asks ffmpeg for the capture devices of input. ffmpeg exits
// with an error after listing, so only start failures are reported.
func ListDevices(ctx context.Context, input ffmpeg.Input, logger *slog.Logger) ([]ffmpeg.Device, error) {
	if logger == nil {
		logger = logging.GetLogger("source")
	}
	cmd, err := ffmpeg.BuildDeviceListCommand(input)
	if err != nil {
		return nil, err
	}

	collector := &lineCollector{}
	proc := process.NewProcess("devices", cmd, process.Pipes{}, logger)
	proc.SetLogParser(logging.GetLogger("ffmpeg"), func(line string) (string, string) { return "debug", line })
	proc.SetOutputHandler(collector)
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		proc.Kill()
		return nil, ctx.Err()
	}

	collector.mu.Lock()
	defer collector.mu.Unlock()
	return ffmpeg.ParseDeviceList(collector.lines), nil
}
