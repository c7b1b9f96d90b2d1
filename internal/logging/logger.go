package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logger is the subset of *slog.Logger that helpers depend on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config selects the global level and format and per-module overrides.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Journal bool              `toml:"journal"`
	Modules map[string]string `toml:"modules"`
}

var (
	mutex           sync.RWMutex
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    Config
	globalLevelVar  = new(slog.LevelVar)
	isInitialized   bool

	output io.Writer = os.Stderr
)

// Initialize applies config to every module logger, including ones handed
// out earlier, and installs the slog default.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true
	globalLevelVar.Set(levelOr(config.Level, slog.LevelInfo))

	for module, lv := range moduleLevelVars {
		lv.Set(moduleLevel(module))
		moduleLoggers[module] = newModuleLogger(module, config, lv)
	}
	slog.SetDefault(slog.New(createHandler(config, globalLevelVar)))
}

// SetOutput redirects console logs for loggers built afterwards. Call it
// before Initialize.
func SetOutput(w io.Writer) {
	mutex.Lock()
	output = w
	mutex.Unlock()
}

// SetModuleLevel changes one module's level while running. It reports
// false for an unknown level name.
func SetModuleLevel(module, level string) bool {
	parsed, ok := parseLevel(level)
	if !ok {
		return false
	}
	GetLogger(module)
	mutex.RLock()
	moduleLevelVars[module].Set(parsed)
	mutex.RUnlock()
	return true
}

// GetLogger returns the logger of module, tagged with a module attribute.
// Loggers are cached, and a logger fetched before Initialize still follows
// the level configured later.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, ok := moduleLoggers[module]
	mutex.RUnlock()
	if ok {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	lv := new(slog.LevelVar)
	cfg := Config{Format: "text"}
	lv.Set(slog.LevelInfo)
	if isInitialized {
		cfg = globalConfig
		lv.Set(moduleLevel(module))
	}
	logger = newModuleLogger(module, cfg, lv)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = lv
	return logger
}

func newModuleLogger(module string, cfg Config, level slog.Leveler) *slog.Logger {
	return slog.New(createHandler(cfg, level)).With("module", module)
}

// moduleLevel resolves a module's level from globalConfig. Callers hold
// mutex.
func moduleLevel(module string) slog.Level {
	global := levelOr(globalConfig.Level, slog.LevelInfo)
	return levelOr(globalConfig.Modules[module], global)
}

// createHandler builds the console handler and adds the journal when
// requested and reachable. With no usable console only the journal is used.
func createHandler(config Config, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	var console slog.Handler = slog.NewTextHandler(output, opts)
	if config.Format == "json" {
		console = slog.NewJSONHandler(output, opts)
	}

	if !config.Journal || !IsJournalAvailable() {
		return console
	}
	journal := NewJournalHandler(level)
	if !consoleAttached() {
		return journal
	}
	return NewMultiHandler(console, journal)
}

// consoleAttached is false when output is a file that discards or cannot
// be inspected, such as /dev/null under systemd.
func consoleAttached() bool {
	f, ok := output.(*os.File)
	if !ok {
		return true
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	if mode&os.ModeCharDevice != 0 {
		null, err := os.Stat(os.DevNull)
		return err != nil || !os.SameFile(fi, null)
	}
	return mode&(os.ModeNamedPipe|os.ModeSocket) != 0 || mode.IsRegular()
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return 0, false
}

func levelOr(level string, fallback slog.Level) slog.Level {
	if l, ok := parseLevel(level); ok {
		return l
	}
	return fallback
}
