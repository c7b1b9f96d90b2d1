package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/screencapture/internal/logging"
)

// ErrNoPipe is returned when a stream that was not piped is requested, or
// before Start.
var ErrNoPipe = errors.New("stream is not piped")

// ExitKilled is reported when the process had to be force killed.
const ExitKilled = 137

// OutputHandler receives stderr lines from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns the log level and message.
// Used to extract structured log info from process output (ffmpeg).
type LogParser func(line string) (level, msg string)

// Pipes selects which standard streams are handed to the caller. Streams
// that are not piped are discarded, stderr is always logged.
type Pipes struct {
	Stdin  bool
	Stdout bool
}

// Process manages the lifecycle of one subprocess whose stdin and stdout
// may carry data.
type Process struct {
	id            string
	command       string
	pipes         Pipes
	logger        logging.Logger
	processLogger logging.Logger // logger for process output (nil = use logger)
	logParser     LogParser      // parses process output for log level (nil = no parsing)
	outputHandler OutputHandler

	gracefulTimeout time.Duration // timeout for graceful shutdown before force kill
	killTimeout     time.Duration // timeout after Kill() before giving up

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	done     chan struct{}
	exitCode int
	info     Info
	stopOnce sync.Once
	stopCode int
}

// NewProcess creates a process that is not yet running.
func NewProcess(id, command string, pipes Pipes, logger logging.Logger) *Process {
	return &Process{
		id:              id,
		command:         command,
		pipes:           pipes,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		done:            make(chan struct{}),
		info:            Info{ID: id, State: StateIdle},
	}
}

// SetLogParser sets a custom logger and log parser for process output.
// The logger is used for process output (e.g., module="ffmpeg").
func (p *Process) SetLogParser(logger logging.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetOutputHandler registers a receiver for every stderr line.
func (p *Process) SetOutputHandler(h OutputHandler) {
	p.outputHandler = h
}

// SetTimeouts overrides the graceful stop and kill timeouts.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	p.gracefulTimeout = graceful
	p.killTimeout = kill
}

// Command returns the command line.
func (p *Process) Command() string {
	return p.command
}

// Info returns a snapshot of the process state.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

func (p *Process) setState(state State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.info.State = state
	if err != nil {
		p.info.LastError = err
	}
}

// Start launches the subprocess. Output streaming and the exit watcher run
// in background goroutines.
func (p *Process) Start() error {
	p.mu.Lock()
	if p.cmd != nil {
		p.mu.Unlock()
		return fmt.Errorf("process %s already started", p.id)
	}
	p.info.State = StateStarting
	p.mu.Unlock()

	err := p.startProcess()
	if err != nil {
		p.setState(StateError, err)
		return err
	}
	return nil
}

func (p *Process) startProcess() error {
	args, err := parseCommand(p.command)
	if err != nil {
		p.logger.Error("Failed to parse command", "error", err)
		return err
	}
	if len(args) == 0 {
		p.logger.Error("Empty command")
		return fmt.Errorf("empty command")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdin io.WriteCloser
	if p.pipes.Stdin {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			p.logger.Error("Failed to create stdin pipe", "error", err)
			return err
		}
	}

	// os.Pipe keeps the read ends open past Wait so no buffered output is
	// lost when the process exits before the reader drains it.
	var stdoutR, stdoutW *os.File
	if p.pipes.Stdout {
		stdoutR, stdoutW, err = os.Pipe()
		if err != nil {
			p.logger.Error("Failed to create stdout pipe", "error", err)
			return err
		}
		cmd.Stdout = stdoutW
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeFiles(stdoutR, stdoutW)
		p.logger.Error("Failed to create stderr pipe", "error", err)
		return err
	}
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeFiles(stdoutR, stdoutW, stderrR, stderrW)
		p.logger.Error("Failed to start process", "error", err, "command", p.command)
		return err
	}
	// The child holds its own copies of the write ends.
	closeFiles(stdoutW, stderrW)

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = stdin
	if stdoutR != nil {
		p.stdout = stdoutR
	}
	p.info.State = StateRunning
	p.info.PID = cmd.Process.Pid
	p.info.StartedAt = time.Now()
	p.mu.Unlock()

	p.logger.Info("Process started", "id", p.id, "pid", cmd.Process.Pid, "command", p.command)

	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		defer stderrR.Close()
		p.streamOutput(stderrR, "stderr")
	}()

	go func() {
		waitErr := cmd.Wait()
		<-outputDone
		code, unexpected := exitStatus(waitErr)
		if unexpected {
			p.logger.Error("Process wait failed", "id", p.id, "error", waitErr)
		}
		p.mu.Lock()
		p.exitCode = code
		p.info.ExitCode = code
		if p.info.State != StateStopping && code != 0 {
			p.info.State = StateError
			p.info.LastError = fmt.Errorf("exit code %d", code)
		} else {
			p.info.State = StateIdle
		}
		p.mu.Unlock()
		p.logger.Info("Process exited", "id", p.id, "exit_code", code)
		close(p.done)
	}()
	return nil
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

// Stdin returns the write end of the child's stdin.
func (p *Process) Stdin() (io.WriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdin == nil {
		return nil, ErrNoPipe
	}
	return p.stdin, nil
}

// Stdout returns the read end of the child's stdout. It reaches EOF once
// the process exits.
func (p *Process) Stdout() (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdout == nil {
		return nil, ErrNoPipe
	}
	return p.stdout, nil
}

// Done is closed once the process has exited and its stderr is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() int {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Run blocks until the process exits or ctx is cancelled, in which case
// the process is stopped gracefully.
func (p *Process) Run(ctx context.Context) int {
	if err := p.Start(); err != nil {
		return 1
	}
	select {
	case <-ctx.Done():
		p.logger.Info("Context cancelled, shutting down process")
		return p.Stop()
	case <-p.done:
		return p.Wait()
	}
}

// Stop sends SIGINT, waits for the graceful timeout, then kills the
// process. It returns the exit code, ExitKilled after a forced kill.
// Calling Stop again returns the first result.
func (p *Process) Stop() int {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		started := p.cmd != nil
		if started && p.info.State == StateRunning {
			p.info.State = StateStopping
		}
		p.mu.Unlock()
		if !started {
			p.stopCode = 0
			return
		}
		p.interrupt()
		p.stopCode = p.awaitExit(p.gracefulTimeout)
	})
	return p.stopCode
}

// Kill terminates the process immediately.
func (p *Process) Kill() int {
	p.mu.Lock()
	cmd := p.cmd
	if cmd != nil && p.info.State == StateRunning {
		p.info.State = StateStopping
	}
	p.mu.Unlock()
	if cmd == nil {
		return 0
	}
	return p.awaitExit(0)
}

// exitStatus maps a Wait error to an exit code. unexpected is true when
// the process did not report an exit status at all.
func exitStatus(err error) (code int, unexpected bool) {
	if err == nil {
		return 0, false
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1, true
	}
	if code := exitErr.ExitCode(); code >= 0 {
		return code, false
	}
	// Killed by a signal.
	return ExitKilled, false
}

// interrupt asks the process to finish. ffmpeg flushes its output on SIGINT.
func (p *Process) interrupt() {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil || p.exited() {
		return
	}
	p.logger.Info("Interrupting process", "id", p.id, "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("Failed to interrupt process", "id", p.id, "error", err)
	}
}

func (p *Process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// awaitExit gives the process grace to exit on its own, then kills its
// whole process group.
func (p *Process) awaitExit(grace time.Duration) int {
	if p.exited() {
		return p.Wait()
	}
	if grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.done:
			return p.Wait()
		case <-timer.C:
			p.logger.Warn("Process ignored interrupt, killing", "id", p.id, "grace", grace)
		}
	}

	p.mu.Lock()
	pid := p.cmd.Process.Pid
	proc := p.cmd.Process
	p.mu.Unlock()
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Error("Failed to kill process", "id", p.id, "error", err)
		}
	}

	select {
	case <-p.done:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process still running after kill", "id", p.id, "pid", pid)
	}
	return ExitKilled
}

// streamOutput forwards each stderr line to the output handler and logs it
// at the level the parser assigns.
func (p *Process) streamOutput(r io.Reader, source string) {
	logger := p.logger
	if p.processLogger != nil {
		logger = p.processLogger
	}
	logAt := map[string]func(string, ...any){
		"fatal":   logger.Error,
		"error":   logger.Error,
		"warning": logger.Warn,
		"debug":   logger.Debug,
		"trace":   logger.Debug,
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}
		level, msg := "info", line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}
		log, ok := logAt[level]
		if !ok {
			log = logger.Info
		}
		log(msg, "id", p.id)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Warn("Output stream failed", "id", p.id, "source", source, "error", err)
	}
}

// parseCommand splits a command line on unquoted blanks. Single or double
// quotes group words and a backslash takes the next rune literally.
func parseCommand(command string) ([]string, error) {
	var (
		args  []string
		word  strings.Builder
		inArg bool
		quote rune
		esc   bool
	)
	for _, r := range command {
		switch {
		case esc:
			word.WriteRune(r)
			esc = false
		case r == '\\':
			esc, inArg = true, true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				word.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote, inArg = r, true
		case r == ' ' || r == '\t' || r == '\n':
			if inArg {
				args = append(args, word.String())
				word.Reset()
				inArg = false
			}
		default:
			word.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unclosed %c quote in command", quote)
	}
	if inArg {
		args = append(args, word.String())
	}
	return args, nil
}
