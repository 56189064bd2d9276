// Package logging wraps logrus with the field conventions used across the
// provenance service: every component logger carries a "component" field,
// and request-scoped loggers additionally carry "request_id".
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a thin wrapper so callers depend on this package, not logrus
// directly.
type Logger struct {
	*logrus.Logger
}

// Config controls logger construction.
type Config struct {
	Level  string
	Format string // "text" or "json"
	Output string // "stdout", "stderr", or a file path
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	l := logrus.New()

	switch strings.ToLower(cfg.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if lvl, err := logrus.ParseLevel(cfg.Level); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}

	l.SetOutput(resolveOutput(cfg.Output))

	return &Logger{Logger: l}
}

// NewDefault returns an info-level, text-formatted logger writing to
// stdout. Used by components constructed without an injected logger; the
// component name is not attached to the logger, so callers tag entries
// via Entry.
func NewDefault(component string) *Logger {
	l := New(Config{Level: "info", Format: "text", Output: "stdout"})
	return l.WithComponent(component)
}

// WithComponent returns a Logger whose embedded *logrus.Logger is the same
// instance as l's. Because logrus.Logger doesn't carry persistent fields,
// the component name is not recorded; component tagging happens at call
// sites through Entry instead of mutating shared state.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger}
}

// Entry returns a logrus.Entry pre-tagged with "component", the unit most
// callers actually want.
func (l *Logger) Entry(component string) *logrus.Entry {
	return l.Logger.WithField("component", component)
}

func resolveOutput(output string) io.Writer {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return os.Stdout
		}
		return f
	}
}
