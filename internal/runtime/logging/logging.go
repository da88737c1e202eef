// Package logging defines the logger the handler writes its own diagnostics
// to. It is backed by a watermill LoggerAdapter and never feeds records back
// into the shipping pipeline.
package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// ServiceLogger is the logging contract used for the handler's own
// diagnostics.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// slog has no trace level; watermill logs trace one step below debug.
var slogLevels = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogServiceLogger wraps a slog.Logger.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("logtower: slog logger cannot be nil")
	}
	return adapter{watermill.NewSlogLoggerWithLevelMapping(log, slogLevels)}
}

// NewWatermillServiceLogger wraps an existing watermill LoggerAdapter.
func NewWatermillServiceLogger(logger watermill.LoggerAdapter) ServiceLogger {
	if logger == nil {
		panic("logtower: watermill logger cannot be nil")
	}
	return adapter{logger}
}

// NewNopServiceLogger returns a logger that discards everything.
func NewNopServiceLogger() ServiceLogger {
	return adapter{watermill.NopLogger{}}
}

type adapter struct {
	inner watermill.LoggerAdapter
}

func (a adapter) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return a
	}
	return adapter{a.inner.With(watermill.LogFields(fields))}
}

func (a adapter) Debug(msg string, fields LogFields) { a.inner.Debug(msg, convert(fields)) }
func (a adapter) Info(msg string, fields LogFields)  { a.inner.Info(msg, convert(fields)) }
func (a adapter) Trace(msg string, fields LogFields) { a.inner.Trace(msg, convert(fields)) }

func (a adapter) Error(msg string, err error, fields LogFields) {
	a.inner.Error(msg, err, convert(fields))
}

func convert(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}
