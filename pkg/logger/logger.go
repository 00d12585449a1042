package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// ParseLevel accepts debug, info, warn/warning and error, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// callerSkip resolves the caller field to the code calling the package-level
// helpers.
var callerSkip = zerolog.CallerSkipFrameCount + 3

// Logger is a printf-style front for a zerolog.Logger writing JSON lines.
type Logger struct {
	mu sync.RWMutex
	zl zerolog.Logger
}

func New() *Logger {
	return &Logger{
		zl: zerolog.New(os.Stdout).
			Level(zerolog.InfoLevel).
			With().
			Timestamp().
			CallerWithSkipFrameCount(callerSkip).
			Logger(),
	}
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.zl = l.zl.Level(level.zerologLevel())
	l.mu.Unlock()
}

// SetOutput redirects every level to w. Tests use io.Discard.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.zl = l.zl.Output(w)
	l.mu.Unlock()
}

func (l *Logger) output(level zerolog.Level, format string, v ...interface{}) {
	l.mu.RLock()
	zl := l.zl
	l.mu.RUnlock()
	zl.WithLevel(level).Msgf(format, v...)
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.output(zerolog.InfoLevel, format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.output(zerolog.WarnLevel, format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.output(zerolog.ErrorLevel, format, v...)
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.output(zerolog.DebugLevel, format, v...)
}

// Fatal logs at fatal level regardless of the threshold, then exits.
func (l *Logger) Fatal(format string, v ...interface{}) {
	l.output(zerolog.FatalLevel, format, v...)
	os.Exit(1)
}

// Global logger instance
var GlobalLogger = New()

// Convenience functions
func Info(format string, v ...interface{}) {
	GlobalLogger.Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	GlobalLogger.Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	GlobalLogger.Error(format, v...)
}

func Debug(format string, v ...interface{}) {
	GlobalLogger.Debug(format, v...)
}

func Fatal(format string, v ...interface{}) {
	GlobalLogger.Fatal(format, v...)
}

func SetLevel(level Level) {
	GlobalLogger.SetLevel(level)
}

func SetOutput(w io.Writer) {
	GlobalLogger.SetOutput(w)
}
