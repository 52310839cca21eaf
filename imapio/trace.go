package imapio

import (
	"io"
	"log/slog"

	"github.com/pes10k/gimap/mlog"
)

// TraceWriter logs all writes before passing them on, for protocol traces.
type TraceWriter struct {
	log    mlog.Log
	prefix string
	w      io.Writer
	level  slog.Level
}

// NewTraceWriter wraps w into a writer that logs all writes to log at trace
// level, prefixed with prefix.
func NewTraceWriter(log mlog.Log, prefix string, w io.Writer) *TraceWriter {
	return &TraceWriter{log, prefix, w, mlog.LevelTrace}
}

func (w *TraceWriter) Write(buf []byte) (int, error) {
	w.log.Trace(w.level, w.prefix, buf)
	return w.w.Write(buf)
}

// SetTrace changes the level data is logged at, e.g. to mark credentials or
// bulk data.
func (w *TraceWriter) SetTrace(level slog.Level) {
	w.level = level
}

// TraceReader logs all successful reads, for protocol traces.
type TraceReader struct {
	log    mlog.Log
	prefix string
	r      io.Reader
	level  slog.Level
}

// NewTraceReader wraps r into a reader that logs all reads to log at trace
// level, prefixed with prefix.
func NewTraceReader(log mlog.Log, prefix string, r io.Reader) *TraceReader {
	return &TraceReader{log, prefix, r, mlog.LevelTrace}
}

func (r *TraceReader) Read(buf []byte) (int, error) {
	n, err := r.r.Read(buf)
	if n > 0 {
		r.log.Trace(r.level, r.prefix, buf[:n])
	}
	return n, err
}

func (r *TraceReader) SetTrace(level slog.Level) {
	r.level = level
}
