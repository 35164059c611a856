// Package logging configures slog and keeps recent log entries in memory so
// they can be served over the API
package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEntry is a captured log record
type LogEntry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// RingBuffer stores the most recent log entries
type RingBuffer struct {
	entries []LogEntry
	size    int
	head    int
	count   int
	mu      sync.RWMutex

	subscribers map[chan LogEntry]struct{}
	subMu       sync.RWMutex
}

// NewRingBuffer creates a ring buffer holding size entries
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		entries:     make([]LogEntry, size),
		size:        size,
		subscribers: make(map[chan LogEntry]struct{}),
	}
}

// Add appends an entry, overwriting the oldest when full
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}
	rb.mu.Unlock()

	rb.subMu.RLock()
	for ch := range rb.subscribers {
		select {
		case ch <- entry:
		default:
		}
	}
	rb.subMu.RUnlock()
}

// Filter selects entries returned by Recent
type Filter struct {
	// MinLevel drops entries below this level
	MinLevel slog.Level
	// Component keeps only entries of one component when set
	Component string
}

func (f Filter) match(e LogEntry) bool {
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	return ParseLevel(e.Level) >= f.MinLevel
}

// Recent returns up to n of the newest entries matching f, oldest first
func (rb *RingBuffer) Recent(n int, f Filter) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}

	out := make([]LogEntry, 0, n)
	// walk backwards from the newest entry
	for i := 0; i < rb.count && len(out) < n; i++ {
		e := rb.entries[(rb.head-1-i+rb.size)%rb.size]
		if f.match(e) {
			out = append(out, e)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len returns the number of stored entries
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Subscribe returns a channel receiving new entries
func (rb *RingBuffer) Subscribe() chan LogEntry {
	ch := make(chan LogEntry, 100)
	rb.subMu.Lock()
	rb.subscribers[ch] = struct{}{}
	rb.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription
func (rb *RingBuffer) Unsubscribe(ch chan LogEntry) {
	rb.subMu.Lock()
	_, ok := rb.subscribers[ch]
	delete(rb.subscribers, ch)
	rb.subMu.Unlock()
	if ok {
		close(ch)
	}
}

// StreamHandler is a slog handler that captures records to a ring buffer
// before passing them to another handler
type StreamHandler struct {
	buffer *RingBuffer
	next   slog.Handler
	attrs  []slog.Attr
}

// NewStreamHandler wraps next so every record is also stored in buffer
func NewStreamHandler(buffer *RingBuffer, next slog.Handler) *StreamHandler {
	return &StreamHandler{buffer: buffer, next: next}
}

// Enabled implements slog.Handler
func (h *StreamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler
func (h *StreamHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   make(map[string]interface{}),
	}

	add := func(a slog.Attr) {
		if a.Key == "component" {
			entry.Component = a.Value.String()
			return
		}
		entry.Attrs[a.Key] = a.Value.Any()
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})
	if len(entry.Attrs) == 0 {
		entry.Attrs = nil
	}

	h.buffer.Add(entry)
	return h.next.Handle(ctx, r)
}

// WithAttrs implements slog.Handler
func (h *StreamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &StreamHandler{buffer: h.buffer, next: h.next.WithAttrs(attrs), attrs: merged}
}

// WithGroup implements slog.Handler
func (h *StreamHandler) WithGroup(name string) slog.Handler {
	return &StreamHandler{buffer: h.buffer, next: h.next.WithGroup(name), attrs: h.attrs}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing JSON (or text when format is "text") to w.
// When buffer is non-nil records are captured there too.
func New(w io.Writer, level, format string, buffer *RingBuffer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	if buffer != nil {
		handler = NewStreamHandler(buffer, handler)
	}
	return slog.New(handler)
}
