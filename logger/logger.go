package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/teranos/roslyn-wrapper/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultFileName is the log file created inside the log directory.
const DefaultFileName = "roslyn_wrapper.log"

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// Flag to track if JSON output is enabled
	JSONOutput bool

	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	mu   sync.Mutex
	sink *os.File
)

func init() {
	// Initialize with a safe no-op logger at package load time
	// This prevents nil pointer panics if logger is used before Initialize() is called
	Logger = zap.NewNop().Sugar()
}

// Options selects where and how the wrapper logs.
// Stdout is never a valid destination: it carries the protocol stream.
type Options struct {
	// Level is one of off, error, warn, info, debug
	Level string
	// Path is the log file. Empty means log to stderr.
	Path string
	// JSON switches from the console encoder to JSON lines
	JSON bool
}

// Initialize sets up the global logger.
// If the log file cannot be opened the logger falls back to stderr and the
// open error is returned alongside a working logger.
func Initialize(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	lvl, off, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}
	closeSinkLocked()

	if off {
		Logger = zap.NewNop().Sugar()
		return nil
	}
	level.SetLevel(lvl)
	JSONOutput = opts.JSON

	var ws zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	var openErr error
	if opts.Path != "" {
		f, err := openLogFile(opts.Path)
		if err != nil {
			openErr = errors.Wrapf(err, "failed to open log file %s, logging to stderr", opts.Path)
		} else {
			sink = f
			ws = zapcore.Lock(f)
		}
	}

	Logger = zap.New(zapcore.NewCore(newEncoder(opts.JSON), ws, level)).Sugar()
	return openErr
}

func newEncoder(jsonOutput bool) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if jsonOutput {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " "
	return zapcore.NewConsoleEncoder(cfg)
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func closeSinkLocked() {
	if sink != nil {
		_ = Logger.Sync()
		_ = sink.Close()
		sink = nil
	}
}

// ParseLevel maps a level name to a zap level. The second return value is
// true for "off" (and its alias "none").
func ParseLevel(name string) (zapcore.Level, bool, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zapcore.InfoLevel, false, nil
	case "off", "none":
		return zapcore.InfoLevel, true, nil
	case "error":
		return zapcore.ErrorLevel, false, nil
	case "warn", "warning":
		return zapcore.WarnLevel, false, nil
	case "debug", "trace":
		return zapcore.DebugLevel, false, nil
	default:
		return zapcore.InfoLevel, false, errors.Newf("unknown log level %q (want off, error, warn, info or debug)", name)
	}
}

// SetLevel changes the level of the running logger.
// "off" is not accepted here; the sink was chosen at Initialize time.
func SetLevel(name string) error {
	lvl, off, err := ParseLevel(name)
	if err != nil {
		return err
	}
	if off {
		return errors.New("log level off can only be set at startup")
	}
	level.SetLevel(lvl)
	return nil
}

// CurrentLevel returns the active level of the global logger.
func CurrentLevel() zapcore.Level {
	return level.Level()
}

// Cleanup flushes any buffered log entries and closes the log file
func Cleanup() {
	mu.Lock()
	defer mu.Unlock()
	if Logger != nil {
		Logger.Sync()
	}
	closeSinkLocked()
}
