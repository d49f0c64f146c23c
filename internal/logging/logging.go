// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging wraps github.com/charmbracelet/log to give every component
// two call shapes: quick printf-style package functions for one-off messages,
// and a component-scoped structured logger for the long-running services.
package logging

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

var base = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// SetLevel adjusts the minimum logged level for the whole process.
func SetLevel(level string) {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return
	}
	base.SetLevel(lvl)
}

// Debug logs a printf-style debug message.
func Debug(format string, args ...any) { base.Debugf(format, args...) }

// Info logs a printf-style info message.
func Info(format string, args ...any) { base.Infof(format, args...) }

// Warn logs a printf-style warning message.
func Warn(format string, args ...any) { base.Warnf(format, args...) }

// Error logs a printf-style error message.
func Error(format string, args ...any) { base.Errorf(format, args...) }

// Logger is a component-scoped structured logger.
type Logger struct {
	l *charmlog.Logger
}

// WithComponent returns a Logger that tags every line with the given component name.
func WithComponent(name string) *Logger {
	return &Logger{l: base.With("component", name)}
}

// WithError returns a derived Logger with the error attached as a field.
func (lg *Logger) WithError(err error) *Logger {
	return &Logger{l: lg.l.With("error", err)}
}

// With returns a derived Logger with the given key/value pairs attached.
func (lg *Logger) With(kv ...any) *Logger {
	return &Logger{l: lg.l.With(kv...)}
}

// Debug logs a structured debug message with optional key/value pairs.
func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }

// Info logs a structured info message with optional key/value pairs.
func (lg *Logger) Info(msg string, kv ...any) { lg.l.Info(msg, kv...) }

// Warn logs a structured warning message with optional key/value pairs.
func (lg *Logger) Warn(msg string, kv ...any) { lg.l.Warn(msg, kv...) }

// Error logs a structured error message with optional key/value pairs.
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Error(msg, kv...) }
