// Package logging provides leveled component loggers on top of zap.
package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel defines logging levels.
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String returns the level name.
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a config string to a LogLevel. Unknown values map to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case TRACE, DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config configures the process-wide logging backend.
type Config struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

// DefaultConfig returns console-only logging at INFO.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 7,
		Compress:   true,
		Console:    true,
	}
}

// Logger is a component logger. The zero value is not usable; obtain one via
// GetComponentLogger or NewLogger.
type Logger struct {
	component string
	sugar     *zap.SugaredLogger
	level     LogLevel
}

var (
	baseMu   sync.RWMutex
	base     *zap.Logger
	minLevel = INFO
	closers  []func() error

	defaultLogger *Logger
)

func init() {
	base = newConsoleCore(INFO)
	defaultLogger = &Logger{component: "server", sugar: base.Sugar(), level: INFO}
}

func newConsoleCore(level LogLevel) *zap.Logger {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "component",
		MessageKey:       "msg",
		EncodeTime:       zapcore.TimeEncoderOfLayout("15:04:05.000"),
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level.zapLevel()))
}

// Init configures the backend: console output and an optional rotated file.
// Component loggers created before Init keep working and pick up the new
// backend on their next lookup through the manager.
func Init(cfg Config) error {
	level := ParseLevel(cfg.Level)

	var cores []zapcore.Core
	if cfg.Console {
		cores = append(cores, newConsoleCore(level).Core())
	}
	var closeFns []func() error
	if cfg.File != "" {
		writer := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		fileEnc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:     "ts",
			LevelKey:    "level",
			NameKey:     "component",
			MessageKey:  "msg",
			EncodeTime:  zapcore.ISO8601TimeEncoder,
			EncodeLevel: zapcore.LowercaseLevelEncoder,
			EncodeName:  zapcore.FullNameEncoder,
		})
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(writer), level.zapLevel()))
		closeFns = append(closeFns, writer.Close)
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewNopCore())
	}

	logger := zap.New(zapcore.NewTee(cores...))

	baseMu.Lock()
	base = logger
	minLevel = level
	closers = closeFns
	defaultLogger = &Logger{component: "server", sugar: logger.Sugar(), level: level}
	baseMu.Unlock()

	GetLoggerManager().rebind()
	return nil
}

// Close flushes buffered entries and closes rotated files.
func Close() error {
	baseMu.Lock()
	defer baseMu.Unlock()

	_ = base.Sync()
	var lastErr error
	for _, c := range closers {
		if err := c(); err != nil {
			lastErr = err
		}
	}
	closers = nil
	return lastErr
}

// NewLogger creates a logger bound to the current backend.
func NewLogger(component string) (*Logger, error) {
	if component == "" {
		return nil, fmt.Errorf("empty component name")
	}
	baseMu.RLock()
	defer baseMu.RUnlock()
	return &Logger{component: component, sugar: base.Named(component).Sugar(), level: minLevel}, nil
}

// Close is kept for the manager; the backend is closed by the package-level Close.
func (l *Logger) Close() error {
	return l.sugar.Sync()
}

// Component returns the component name.
func (l *Logger) Component() string { return l.component }

// Trace logs at TRACE. Trace entries are emitted through zap's debug level.
func (l *Logger) Trace(format string, args ...interface{}) {
	if l.level > TRACE {
		return
	}
	l.sugar.Debugf("[trace] "+format, args...)
}

// Debug logs at DEBUG.
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs at INFO.
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs at WARN.
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs at ERROR.
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

func current() *Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return defaultLogger
}

// Trace logs through the default logger.
func Trace(format string, args ...interface{}) { current().Trace(format, args...) }

// Debug logs through the default logger.
func Debug(format string, args ...interface{}) { current().Debug(format, args...) }

// Info logs through the default logger.
func Info(format string, args ...interface{}) { current().Info(format, args...) }

// Warn logs through the default logger.
func Warn(format string, args ...interface{}) { current().Warn(format, args...) }

// Error logs through the default logger.
func Error(format string, args ...interface{}) { current().Error(format, args...) }

// HexDump returns a hex dump of at most 256 bytes of data.
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}
	size := len(data)
	if size > 256 {
		size = 256
	}
	return hex.Dump(data[:size])
}

// LogProtocolError logs a frame that failed to decode.
func LogProtocolError(l *Logger, peer string, err error, data []byte) {
	l.Error("Protocol error from %s: %v", peer, err)
	if len(data) > 0 {
		l.Debug("Raw data (%d bytes):\n%s", len(data), HexDump(data))
	}
}
