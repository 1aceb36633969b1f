// Package testutil provides shared test helpers, currently a capturing
// slog handler for asserting on structured log output.
package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogRecord is a captured log record.
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

type logBuffer struct {
	mu      sync.Mutex
	records []LogRecord
}

// CaptureHandler is a slog.Handler that buffers records for assertions.
// Handlers derived via WithAttrs share the same buffer.
type CaptureHandler struct {
	buf   *logBuffer
	attrs []slog.Attr
}

// NewCaptureHandler creates an empty capturing handler.
func NewCaptureHandler() *CaptureHandler {
	return &CaptureHandler{buf: &logBuffer{}}
}

// Logger returns a slog.Logger writing into the handler.
func (h *CaptureHandler) Logger() *slog.Logger {
	return slog.New(h)
}

// Handle implements slog.Handler.
func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	h.buf.records = append(h.buf.records, LogRecord{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	return nil
}

// Enabled implements slog.Handler; every level is captured.
func (h *CaptureHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

// WithAttrs implements slog.Handler.
func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CaptureHandler{
		buf:   h.buf,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

// WithGroup implements slog.Handler; groups are flattened for test purposes.
func (h *CaptureHandler) WithGroup(string) slog.Handler {
	return h
}

// Records returns a copy of all captured records.
func (h *CaptureHandler) Records() []LogRecord {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	out := make([]LogRecord, len(h.buf.records))
	copy(out, h.buf.records)
	return out
}

// ContainsMessage reports whether any record's message contains msg.
func (h *CaptureHandler) ContainsMessage(msg string) bool {
	for _, r := range h.Records() {
		if strings.Contains(r.Message, msg) {
			return true
		}
	}
	return false
}

// ContainsAttr reports whether any record carries the given attribute key.
func (h *CaptureHandler) ContainsAttr(key string) bool {
	for _, r := range h.Records() {
		if _, ok := r.Attrs[key]; ok {
			return true
		}
	}
	return false
}
