// Package mlog provides logging with log levels and structured fields on top
// of log/slog.
//
// Each Log instance adds a "pkg" field identifying the originating package.
// Protocol traces are written at levels below debug: LevelTrace for regular
// protocol lines, LevelTraceauth for lines carrying credentials and
// LevelTracedata for bulk message data, so tracing can be enabled without
// logging secrets or large payloads.
package mlog

import (
	"context"
	"log/slog"
	"os"
)

// Extra log levels, below slog.LevelDebug. More negative is more detailed.
const (
	LevelTrace     slog.Level = -8
	LevelTraceauth slog.Level = -12
	LevelTracedata slog.Level = -16
)

// Levels maps the log level names accepted on the command line.
var Levels = map[string]slog.Level{
	"error":     slog.LevelError,
	"warn":      slog.LevelWarn,
	"info":      slog.LevelInfo,
	"debug":     slog.LevelDebug,
	"trace":     LevelTrace,
	"traceauth": LevelTraceauth,
	"tracedata": LevelTracedata,
}

// NewWithLevel returns a Log writing text lines to stderr at the given
// minimum level. For command-line tooling.
func NewWithLevel(pkg string, level slog.Level) Log {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return New(pkg, slog.New(h))
}

// Log wraps an slog.Logger with convenience functions for logging with an
// error and for writing protocol traces.
type Log struct {
	*slog.Logger
}

// New returns a Log for a package. If elog is nil, slog.Default() is used.
func New(pkg string, elog *slog.Logger) Log {
	if elog == nil {
		elog = slog.Default()
	}
	return Log{elog.With(slog.String("pkg", pkg))}
}

// WithPkg returns a copy of the log with a different pkg field.
func (l Log) WithPkg(pkg string) Log {
	return Log{l.Logger.With(slog.String("pkg", pkg))}
}

// Trace logs protocol data at a trace level. The data is logged as a single
// message with the given prefix, e.g. "CR: " for client reads.
func (l Log) Trace(level slog.Level, prefix string, data []byte) {
	if !l.Logger.Enabled(context.Background(), level) {
		return
	}
	l.Logger.Log(context.Background(), level, prefix+string(data))
}

func (l Log) Debug(msg string, attrs ...slog.Attr) {
	l.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

func (l Log) Debugx(msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append([]slog.Attr{slog.Any("err", err)}, attrs...)
	}
	l.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

func (l Log) Info(msg string, attrs ...slog.Attr) {
	l.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
}

func (l Log) Infox(msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append([]slog.Attr{slog.Any("err", err)}, attrs...)
	}
	l.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
}

func (l Log) Error(msg string, attrs ...slog.Attr) {
	l.Logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

func (l Log) Errorx(msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append([]slog.Attr{slog.Any("err", err)}, attrs...)
	}
	l.Logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// Check logs an error at error level if err is non-nil.
func (l Log) Check(err error, msg string, attrs ...slog.Attr) {
	if err != nil {
		l.Errorx(msg, err, attrs...)
	}
}

// Fatalx logs the error and exits the program. For command-line tooling only.
func (l Log) Fatalx(msg string, err error, attrs ...slog.Attr) {
	l.Errorx(msg, err, attrs...)
	os.Exit(2)
}
