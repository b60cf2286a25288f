// Package results turns settled target states into the per-race summary and
// the record persisted in the response cache.
package results

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/chorus/internal/cache"
	"github.com/torosent/chorus/internal/runner"
)

// ErrorInfo is the user-facing form of a target failure.
type ErrorInfo struct {
	Message string
	Code    string
}

// Outcome is one target's final result. Text is set only for targets that
// completed; Error only for targets that failed.
type Outcome struct {
	Target       runner.Target
	Status       runner.Status
	Text         *string
	Error        *ErrorInfo
	ElapsedMs    int64
	FirstChunkMs int64
}

// Summary aggregates a settled race.
type Summary struct {
	RaceID     string
	Outcomes   []Outcome
	Successful int
	Total      int
	Elapsed    time.Duration
	Cached     bool
}

// NewRaceID returns a sortable unique race identifier.
func NewRaceID() string {
	return ulid.Make().String()
}

// Aggregate builds the summary for states, kept in their original order.
func Aggregate(raceID string, states []runner.State, elapsed time.Duration) Summary {
	s := Summary{
		RaceID:   raceID,
		Outcomes: make([]Outcome, 0, len(states)),
		Total:    len(states),
		Elapsed:  elapsed,
	}
	for _, st := range states {
		o := Outcome{
			Target:       st.Target,
			Status:       st.Status,
			ElapsedMs:    st.Elapsed().Milliseconds(),
			FirstChunkMs: st.FirstChunkLatency().Milliseconds(),
		}
		switch st.Status {
		case runner.StatusDone:
			text := st.Text
			o.Text = &text
			s.Successful++
		case runner.StatusErrored:
			o.Error = ErrorInfoFrom(st.Err)
		}
		s.Outcomes = append(s.Outcomes, o)
	}
	return s
}

// ErrorInfoFrom extracts a message and, when the error carries one, a code.
func ErrorInfoFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	info := &ErrorInfo{Message: err.Error()}
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		info.Code = coded.Code()
	}
	return info
}

// Line renders the trailing summary.
func (s Summary) Line() string {
	line := fmt.Sprintf("[%d/%d models responded in %.1fs]", s.Successful, s.Total, s.Elapsed.Seconds())
	if s.Cached {
		line += " (cached)"
	}
	return line
}

// Record converts the summary into a cache entry under key.
func (s Summary) Record(key string) cache.Entry {
	entry := cache.Entry{
		Key:       key,
		RaceID:    s.RaceID,
		CreatedAt: time.Now().UTC(),
		ElapsedMs: s.Elapsed.Milliseconds(),
		Responses: make([]cache.Response, 0, len(s.Outcomes)),
	}
	for _, o := range s.Outcomes {
		r := cache.Response{
			Provider:  o.Target.Provider,
			Model:     o.Target.Model,
			Text:      o.Text,
			ElapsedMs: o.ElapsedMs,
		}
		if o.Error != nil {
			msg := o.Error.Message
			r.Error = &msg
			r.Code = o.Error.Code
		}
		entry.Responses = append(entry.Responses, r)
	}
	return entry
}

// FromRecord rebuilds a summary from a cache entry. Entries written before
// failures stopped being cached may still hold errored responses; callers
// should check Complete before replaying.
func FromRecord(entry cache.Entry) Summary {
	s := Summary{
		RaceID:   entry.RaceID,
		Outcomes: make([]Outcome, 0, len(entry.Responses)),
		Total:    len(entry.Responses),
		Elapsed:  time.Duration(entry.ElapsedMs) * time.Millisecond,
		Cached:   true,
	}
	for _, r := range entry.Responses {
		o := Outcome{
			Target:    runner.Target{Provider: r.Provider, Model: r.Model},
			Status:    runner.StatusErrored,
			Text:      r.Text,
			ElapsedMs: r.ElapsedMs,
		}
		if r.Text != nil {
			o.Status = runner.StatusDone
			s.Successful++
		}
		if r.Error != nil {
			o.Error = &ErrorInfo{Message: *r.Error, Code: r.Code}
		}
		s.Outcomes = append(s.Outcomes, o)
	}
	return s
}

// Complete reports whether every target answered.
func (s Summary) Complete() bool {
	return s.Total > 0 && s.Successful == s.Total
}

// Cacheable reports whether the summary is worth persisting. Failures and
// aborts are transient, so only races where every target answered qualify;
// a stored failure would otherwise be replayed for the whole TTL.
func (s Summary) Cacheable() bool {
	if !s.Complete() {
		return false
	}
	for _, o := range s.Outcomes {
		if o.Status != runner.StatusDone {
			return false
		}
	}
	return true
}
