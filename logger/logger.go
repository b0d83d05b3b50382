package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// Flag to track if JSON output is enabled
	JSONOutput bool
	// LogFile is the path of the file log for the current process, if any
	LogFile string
	// Verbosity is the -v count the logger was initialized with
	Verbosity int

	closeLogFile func() error
)

func init() {
	// Safe no-op logger so packages can log before Initialize runs
	Logger = zap.NewNop().Sugar()
}

// Options controls how Initialize builds the global logger.
type Options struct {
	JSONOutput bool   // machine-readable JSON on stderr instead of console text
	Verbosity  int    // -v count, see VerbosityToLevel
	Directory  string // when set, every entry is also written as JSON to a file here
}

// Initialize sets up the global logger.
//
// Console output goes to stderr so stdout stays clean for reports and tables.
// When opts.Directory is set, a second core writes debug-level JSON to
// <dir>/mintdoi-<timestamp>.log regardless of verbosity.
func Initialize(opts Options) error {
	JSONOutput = opts.JSONOutput
	Verbosity = opts.Verbosity
	level := VerbosityToLevel(opts.Verbosity)

	var consoleEncoder zapcore.Encoder
	if opts.JSONOutput {
		consoleEncoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), level),
	}

	if opts.Directory != "" {
		fileCore, err := newFileCore(opts.Directory)
		if err != nil {
			return err
		}
		cores = append(cores, fileCore)
	}

	Logger = zap.New(zapcore.NewTee(cores...)).Sugar()
	return nil
}

func newFileCore(dir string) (zapcore.Core, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("mintdoi-%s.log", time.Now().UTC().Format("20060102T150405Z")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	LogFile = path
	closeLogFile = f.Close

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.DebugLevel), nil
}

// Cleanup flushes any buffered log entries and closes the log file
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
	if closeLogFile != nil {
		_ = closeLogFile()
		closeLogFile = nil
	}
}

// Infow logs an info message with structured fields
func Infow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, keysAndValues...)
	}
}

// Errorw logs an error message with structured fields
func Errorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Errorw(msg, keysAndValues...)
	}
}

// Warnw logs a warning message with structured fields
func Warnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, keysAndValues...)
	}
}

// Debugw logs a debug message with structured fields
func Debugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Debugw(msg, keysAndValues...)
	}
}
