package runner

import (
	"fmt"
	"strings"
	"time"
)

// Target names one provider/model pair.
type Target struct {
	Provider string
	Model    string
}

func (t Target) String() string {
	return t.Provider + "/" + t.Model
}

// ParseTarget parses "provider/model". The model part may itself contain
// slashes, as OpenRouter model ids do.
func ParseTarget(s string) (Target, error) {
	provider, model, ok := strings.Cut(strings.TrimSpace(s), "/")
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	if !ok || provider == "" || model == "" {
		return Target{}, fmt.Errorf("invalid target %q: want provider/model", s)
	}
	return Target{Provider: provider, Model: model}, nil
}

// Status is the lifecycle position of a target.
type Status int

const (
	StatusPending Status = iota
	StatusStreaming
	StatusDone
	StatusErrored
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusStreaming:
		return "streaming"
	case StatusDone:
		return "done"
	case StatusErrored:
		return "errored"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s >= StatusDone
}

// canMove reports whether s -> next is a legal transition.
func (s Status) canMove(next Status) bool {
	switch s {
	case StatusPending:
		return next != StatusPending
	case StatusStreaming:
		return next.Terminal()
	default:
		return false
	}
}

// State is a point-in-time copy of a target's progress.
type State struct {
	Target       Target
	Status       Status
	Text         string
	StartedAt    time.Time
	FirstChunkAt time.Time
	FinishedAt   time.Time
	Err          error
}

// FirstChunkLatency is the time from start to the first fragment, or zero if
// none arrived.
func (s State) FirstChunkLatency() time.Duration {
	if s.StartedAt.IsZero() || s.FirstChunkAt.IsZero() {
		return 0
	}
	return s.FirstChunkAt.Sub(s.StartedAt)
}

// Elapsed is the time from start to settle, or to now while in flight.
func (s State) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
