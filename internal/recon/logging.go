package recon

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Logger writes to three streams: ops (actionable warnings, errors,
// lifecycle events), diag (per-frame diagnostics, tuning context) and trace
// (per-iteration telemetry). A nil stream is silent. A nil *Logger is valid
// and discards everything.
type Logger struct {
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

// NewLogger creates a Logger whose streams share the given prefix.
func NewLogger(prefix string, w LogWriters) *Logger {
	return &Logger{
		ops:   newStream(prefix, w.Ops, log.InfoLevel),
		diag:  newStream(prefix, w.Diag, log.InfoLevel),
		trace: newStream(prefix, w.Trace, log.DebugLevel),
	}
}

// NopLogger returns a Logger with every stream disabled.
func NopLogger() *Logger {
	return &Logger{}
}

// newStream creates a logger for a given writer, or returns nil if w is nil.
func newStream(prefix string, w io.Writer, level log.Level) *log.Logger {
	if w == nil {
		return nil
	}
	l := log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		ReportTimestamp: true,
		TimeFormat:      time.StampMicro,
	})
	l.SetLevel(level)
	return l
}

// With returns a child Logger that adds key/value pairs to every record.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	if l == nil {
		return nil
	}
	child := &Logger{}
	if l.ops != nil {
		child.ops = l.ops.With(keyvals...)
	}
	if l.diag != nil {
		child.diag = l.diag.With(keyvals...)
	}
	if l.trace != nil {
		child.trace = l.trace.With(keyvals...)
	}
	return child
}

// Opsf logs to the ops stream.
func (l *Logger) Opsf(format string, args ...interface{}) {
	if l == nil || l.ops == nil {
		return
	}
	l.ops.Infof(format, args...)
}

// Warnf logs a warning to the ops stream.
func (l *Logger) Warnf(format string, args ...interface{}) {
	if l == nil || l.ops == nil {
		return
	}
	l.ops.Warnf(format, args...)
}

// Diagf logs to the diag stream.
func (l *Logger) Diagf(format string, args ...interface{}) {
	if l == nil || l.diag == nil {
		return
	}
	l.diag.Infof(format, args...)
}

// Tracef logs to the trace stream.
func (l *Logger) Tracef(format string, args ...interface{}) {
	if l == nil || l.trace == nil {
		return
	}
	l.trace.Debugf(format, args...)
}
