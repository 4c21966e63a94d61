package jls

import "github.com/zerodha/logf"

// Logger is the logging sink every pkg/jls façade writes through,
// satisfying spec.md §7 ("logging is emitted via a registered callback
// receiving formatted text with level, file, and line"). Any type with
// these four methods can be plugged in via Opts.Logger; most callers
// just use the default NewLogfLogger adapter.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// logfAdapter wraps the teacher's zerodha/logf.Logger to satisfy Logger.
type logfAdapter struct {
	l logf.Logger
}

func (a logfAdapter) Debug(msg string, kv ...any) { a.l.Debug(msg, kv...) }
func (a logfAdapter) Info(msg string, kv ...any)  { a.l.Info(msg, kv...) }
func (a logfAdapter) Warn(msg string, kv ...any)  { a.l.Warn(msg, kv...) }
func (a logfAdapter) Error(msg string, kv ...any) { a.l.Error(msg, kv...) }

// NewLogfLogger builds the default Logger: a logf.Logger with
// EnableCaller on (file:line on every line, per spec.md §7), at
// DebugLevel when debug is set.
func NewLogfLogger(debug bool) Logger {
	opts := logf.Opts{EnableCaller: true}
	if debug {
		opts.Level = logf.DebugLevel
	}
	return logfAdapter{l: logf.New(opts)}
}

// NoopLogger discards everything. Pass it as Opts.Logger to silence a
// Writer entirely — a nil Opts.Logger instead selects NewLogfLogger,
// the default.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// initLogger resolves Opts.Debug/Opts.Logger to a concrete Logger,
// generalizing the teacher's pkg/barrel.initLogger (fixed
// logf.Logger, debug-gated level) to let embedders override the sink
// entirely, per spec.md §7's callback requirement.
func initLogger(debug bool, override Logger) Logger {
	if override != nil {
		return override
	}
	return NewLogfLogger(debug)
}
