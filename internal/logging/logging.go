// Package logging wraps logrus the way infrastructure/logging/logger.go
// does: a Logger struct embedding *logrus.Logger, constructed with a
// service name, level, and format, carrying a trace ID through
// context-shaped fields rather than a context.Context (the kernel's
// tick loop has no context boundary to hang one on).
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a configured *logrus.Logger with a fixed service name
// field, mirroring the teacher's infrastructure/logging.Logger.
type Logger struct {
	*logrus.Logger
	service string
}

// New constructs a Logger for service, at the given level ("debug",
// "info", "warn", "error") and format ("json" or "text").
func New(service, level, format string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	if lvl, err := logrus.ParseLevel(level); err == nil {
		base.SetLevel(lvl)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
	if format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return &Logger{Logger: base, service: service}
}

// Nop returns a Logger that discards everything, for callers that
// don't configure logging explicitly (e.g. unit tests).
func Nop() *Logger {
	l := New("nop", "panic", "text")
	l.SetOutput(io.Discard)
	return l
}

// WithTrace returns an entry tagged with the given trace id and the
// logger's fixed service name, mirroring the teacher's ContextKey
// convention without requiring a context.Context.
func (l *Logger) WithTrace(traceID string) *logrus.Entry {
	return l.WithFields(logrus.Fields{"service": l.service, "trace_id": traceID})
}

// WithField is re-exposed so callers get the service field
// automatically merged in.
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service, key: value})
}
