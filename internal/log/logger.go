// SPDX-License-Identifier: MIT

// Package log is the process wide leveled logger. Components obtain a
// prefixed logger with For("Graph") and log through it; the level is global
// and may be changed at any time (it is read atomically on every call).
//
// Nothing in this package may be called from the real-time audio callback.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
)

// Level is the severity of a log message.
type Level uint32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name. Unknown names return
// LevelInfo and false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	default:
		return LevelInfo, false
	}
}

var (
	currentLevel atomic.Uint32
	output       atomic.Pointer[stdlog.Logger]
)

func init() {
	SetLevel(LevelInfo)
	SetOutput(os.Stderr)
}

// SetLevel sets the global level.
func SetLevel(level Level) {
	currentLevel.Store(uint32(level))
}

// GetLevel returns the global level.
func GetLevel() Level {
	return Level(currentLevel.Load())
}

// SetOutput redirects all log output. The TUI uses this to keep log lines
// off the terminal it draws on; tests use it to capture output.
func SetOutput(w io.Writer) {
	output.Store(stdlog.New(w, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds))
}

func enabled(level Level) bool {
	return level >= GetLevel()
}

func emit(level Level, prefix, msg string) {
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	// Pad INFO/WARN so messages line up with DEBUG/ERROR.
	if level == LevelInfo || level == LevelWarn {
		output.Load().Printf("[%s]  %s", level, msg)
		return
	}
	output.Load().Printf("[%s] %s", level, msg)
}

// Logger is a component scoped view of the global logger.
type Logger struct {
	prefix string
}

// For returns a logger whose messages are prefixed with component.
func For(component string) *Logger {
	return &Logger{prefix: component}
}

func (l *Logger) Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		emit(LevelDebug, l.prefix, fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		emit(LevelInfo, l.prefix, fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Warnf(format string, v ...any) {
	if enabled(LevelWarn) {
		emit(LevelWarn, l.prefix, fmt.Sprintf(format, v...))
	}
}

func (l *Logger) Errorf(format string, v ...any) {
	if enabled(LevelError) {
		emit(LevelError, l.prefix, fmt.Sprintf(format, v...))
	}
}

// --- Package level helpers (no component prefix) ---

var root = &Logger{}

// Debugf logs a formatted debug message.
func Debugf(format string, v ...any) { root.Debugf(format, v...) }

// Infof logs a formatted info message.
func Infof(format string, v ...any) { root.Infof(format, v...) }

// Warnf logs a formatted warning.
func Warnf(format string, v ...any) { root.Warnf(format, v...) }

// Errorf logs a formatted error.
func Errorf(format string, v ...any) { root.Errorf(format, v...) }

// Fatalf logs regardless of level and exits the process.
func Fatalf(format string, v ...any) {
	output.Load().Fatalf("[%s] %s", LevelFatal, fmt.Sprintf(format, v...))
}
