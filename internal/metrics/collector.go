package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/chorus/internal/clientmetrics"
)

// Observation is one settled target.
type Observation struct {
	Target     string
	FirstChunk time.Duration // zero when no fragment arrived
	Total      time.Duration
	Err        error
	Aborted    bool
	// Stream holds the wire counters of the target's stream.
	Stream clientmetrics.Snapshot
}

// LatencyStats summarises one histogram.
type LatencyStats struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"-"`
	Max   time.Duration `json:"-"`
	Mean  time.Duration `json:"-"`
	P50   time.Duration `json:"-"`
	P90   time.Duration `json:"-"`
	P99   time.Duration `json:"-"`

	P50Ms float64 `json:"p50_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// TargetStats is the aggregate for one target.
type TargetStats struct {
	Target     string         `json:"target"`
	Successes  int64          `json:"successes"`
	Failures   int64          `json:"failures"`
	Aborted    int64          `json:"aborted"`
	FirstChunk LatencyStats   `json:"first_chunk"`
	Total      LatencyStats   `json:"total"`
	Errors     map[string]int `json:"errors,omitempty"`

	BytesReceived int64 `json:"bytes_received"`
	Events        int64 `json:"events"`
	Fragments     int64 `json:"fragments"`
	// Dropped counts payloads skipped as malformed.
	Dropped int64 `json:"dropped"`
}

type targetStats struct {
	firstChunk   *latency
	total        *latency
	successes    int64
	failures     int64
	aborted      int64
	errorsByType map[string]int64
	wire         clientmetrics.Snapshot
}

// Collector records settled targets in a thread-safe manner.
type Collector struct {
	mu      sync.Mutex
	targets map[string]*targetStats
}

func NewCollector() *Collector {
	return &Collector{targets: make(map[string]*targetStats)}
}

// Record adds one observation.
func (c *Collector) Record(o Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts, ok := c.targets[o.Target]
	if !ok {
		ts = &targetStats{
			firstChunk:   newLatency(),
			total:        newLatency(),
			errorsByType: make(map[string]int64),
		}
		c.targets[o.Target] = ts
	}

	switch {
	case o.Aborted:
		ts.aborted++
	case o.Err != nil:
		ts.failures++
		ts.errorsByType[ErrorKind(o.Err)]++
	default:
		ts.successes++
	}
	ts.wire.BytesReceived += o.Stream.BytesReceived
	ts.wire.Events += o.Stream.Events
	ts.wire.Fragments += o.Stream.Fragments
	ts.wire.Dropped += o.Stream.Dropped
	if o.FirstChunk > 0 {
		ts.firstChunk.record(o.FirstChunk)
	}
	if !o.Aborted {
		ts.total.record(o.Total)
	}
}

// Stats returns the per-target aggregates sorted by target.
func (c *Collector) Stats() []TargetStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TargetStats, 0, len(c.targets))
	for name, ts := range c.targets {
		s := TargetStats{
			Target:     name,
			Successes:  ts.successes,
			Failures:   ts.failures,
			Aborted:    ts.aborted,
			FirstChunk: ts.firstChunk.stats(),
			Total:      ts.total.stats(),

			BytesReceived: ts.wire.BytesReceived,
			Events:        ts.wire.Events,
			Fragments:     ts.wire.Fragments,
			Dropped:       ts.wire.Dropped,
		}
		if len(ts.errorsByType) > 0 {
			s.Errors = make(map[string]int, len(ts.errorsByType))
			for k, v := range ts.errorsByType {
				s.Errors[k] = int(v)
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

type latency struct {
	hist *hdrhistogram.Histogram
	sum  time.Duration
	min  time.Duration
	max  time.Duration
}

func newLatency() *latency {
	// Track latencies from 1µs up to 10 minutes with 3 significant figures.
	return &latency{hist: hdrhistogram.New(1, 600_000_000, 3)}
}

func (l *latency) record(d time.Duration) {
	if d <= 0 {
		return
	}
	us := d.Microseconds()
	if us < l.hist.LowestTrackableValue() {
		us = l.hist.LowestTrackableValue()
	}
	if us > l.hist.HighestTrackableValue() {
		us = l.hist.HighestTrackableValue()
	}
	_ = l.hist.RecordValue(us)
	l.sum += d
	if l.min == 0 || d < l.min {
		l.min = d
	}
	if d > l.max {
		l.max = d
	}
}

func (l *latency) stats() LatencyStats {
	s := LatencyStats{Count: l.hist.TotalCount(), Min: l.min, Max: l.max}
	if s.Count == 0 {
		return s
	}
	s.Mean = time.Duration(int64(l.sum) / s.Count)
	s.P50 = time.Duration(l.hist.ValueAtQuantile(50)) * time.Microsecond
	s.P90 = time.Duration(l.hist.ValueAtQuantile(90)) * time.Microsecond
	s.P99 = time.Duration(l.hist.ValueAtQuantile(99)) * time.Microsecond
	s.P50Ms = float64(s.P50) / float64(time.Millisecond)
	s.P99Ms = float64(s.P99) / float64(time.Millisecond)
	return s
}
