// Package logging defines the pluggable logging interface used throughout
// the hub. The shape is carried over from a hardware driver's minimal
// Logger interface; the default implementation here is backed by
// charmbracelet/log instead of the standard library's log package, giving
// every component structured key/value fields.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

// Logger is the logging surface every component depends on. kv are
// alternating key/value pairs appended as structured fields.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

// charmLogger adapts a *log.Logger to the Logger interface.
type charmLogger struct {
	l *log.Logger
}

// New creates a Logger writing structured output to stderr.
func New() Logger {
	return &charmLogger{l: log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
	})}
}

func (c *charmLogger) Debug(msg string, kv ...any) { c.l.Debug(msg, kv...) }
func (c *charmLogger) Info(msg string, kv ...any)  { c.l.Info(msg, kv...) }
func (c *charmLogger) Warn(msg string, kv ...any)  { c.l.Warn(msg, kv...) }
func (c *charmLogger) Error(msg string, kv ...any) { c.l.Error(msg, kv...) }

func (c *charmLogger) With(kv ...any) Logger {
	return &charmLogger{l: c.l.With(kv...)}
}

// nopLogger discards everything; used in tests that don't care about logs.
type nopLogger struct{}

// Nop returns a Logger that discards all messages.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any)    {}
func (nopLogger) Info(string, ...any)     {}
func (nopLogger) Warn(string, ...any)     {}
func (nopLogger) Error(string, ...any)    {}
func (nopLogger) With(...any) Logger      { return nopLogger{} }
