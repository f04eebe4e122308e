// SPDX-License-Identifier: GPL-3.0-or-later

// Package logger is a slog wrapper used by all rpkimon components.
package logger

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

var isTerminal = isatty.IsTerminal(os.Stderr.Fd())

var base = newLogger()

// Logger is a structured logger with formatted convenience methods.
type Logger struct {
	sl *slog.Logger
}

// New creates a new Logger.
func New() *Logger {
	return base
}

func newLogger() *Logger {
	if isTerminal {
		return &Logger{sl: slog.New(withCallDepth(defaultCallDepth, newTerminalHandler()))}
	}
	return &Logger{sl: slog.New(withCallDepth(defaultCallDepth, newTextHandler()))}
}

// With returns a Logger that includes the given attributes in each output.
func (l *Logger) With(args ...any) *Logger {
	if l == nil {
		return New().With(args...)
	}
	return &Logger{sl: l.sl.With(args...)}
}

func (l *Logger) Error(a ...any)                 { l.log(slog.LevelError, fmt.Sprint(a...)) }
func (l *Logger) Warning(a ...any)               { l.log(slog.LevelWarn, fmt.Sprint(a...)) }
func (l *Logger) Info(a ...any)                  { l.log(slog.LevelInfo, fmt.Sprint(a...)) }
func (l *Logger) Debug(a ...any)                 { l.log(slog.LevelDebug, fmt.Sprint(a...)) }
func (l *Logger) Errorf(format string, a ...any) { l.log(slog.LevelError, sprintf(format, a...)) }
func (l *Logger) Warningf(format string, a ...any) {
	l.log(slog.LevelWarn, sprintf(format, a...))
}
func (l *Logger) Infof(format string, a ...any)  { l.log(slog.LevelInfo, sprintf(format, a...)) }
func (l *Logger) Debugf(format string, a ...any) { l.log(slog.LevelDebug, sprintf(format, a...)) }

func (l *Logger) log(level slog.Level, msg string) {
	if l == nil {
		base.log(level, msg)
		return
	}
	l.sl.Log(nil, level, msg) //nolint:staticcheck // context is unused by the handlers
}

func sprintf(format string, a ...any) string {
	msg := fmt.Sprintf(format, a...)
	return strings.TrimRight(msg, "\n")
}
