// Package clientmetrics counts wire-level traffic for one backend stream.
package clientmetrics

import (
	"context"
	"sync"
	"time"
)

type contextKey struct{}

// NewContext returns a copy of ctx carrying m, so transports opened deeper in
// the call chain report into the caller's counters.
func NewContext(ctx context.Context, m *StreamMetrics) context.Context {
	return context.WithValue(ctx, contextKey{}, m)
}

// FromContext returns the metrics stored in ctx, or nil.
func FromContext(ctx context.Context) *StreamMetrics {
	m, _ := ctx.Value(contextKey{}).(*StreamMetrics)
	return m
}

// StreamMetrics tracks what a single backend stream delivered: raw bytes,
// payload events, fragments that reached the runner and payloads dropped as
// malformed. A nil *StreamMetrics is valid and records nothing.
type StreamMetrics struct {
	mu        sync.Mutex
	openedAt  time.Time
	bytesRecv int64
	events    int64
	fragments int64
	dropped   int64
}

// New creates a StreamMetrics instance.
func New() *StreamMetrics {
	return &StreamMetrics{}
}

// MarkOpened records when the transport started delivering data.
func (m *StreamMetrics) MarkOpened() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openedAt.IsZero() {
		m.openedAt = time.Now()
	}
}

// AddBytes adds n raw bytes read from the transport.
func (m *StreamMetrics) AddBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytesRecv += int64(n)
}

// IncrementEvents counts one decoded payload event.
func (m *StreamMetrics) IncrementEvents() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events++
}

// IncrementFragments counts one text fragment handed to the consumer.
func (m *StreamMetrics) IncrementFragments() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fragments++
}

// IncrementDropped counts one payload skipped as malformed.
func (m *StreamMetrics) IncrementDropped() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	OpenDuration  time.Duration
	BytesReceived int64
	Events        int64
	Fragments     int64
	Dropped       int64
}

// Snapshot returns a consistent snapshot of all counters.
func (m *StreamMetrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var open time.Duration
	if !m.openedAt.IsZero() {
		open = time.Since(m.openedAt)
	}
	return Snapshot{
		OpenDuration:  open,
		BytesReceived: m.bytesRecv,
		Events:        m.events,
		Fragments:     m.fragments,
		Dropped:       m.dropped,
	}
}
