package runner

import (
	"testing"
	"time"
)

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	all := []Status{StatusPending, StatusStreaming, StatusDone, StatusErrored, StatusAborted}
	for _, from := range all {
		for _, to := range all {
			got := from.canMove(to)
			want := false
			switch from {
			case StatusPending:
				want = to != StatusPending
			case StatusStreaming:
				want = to.Terminal()
			}
			if got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestMoveNeverLeavesTerminal(t *testing.T) {
	r := New(nil, Target{Provider: "p", Model: "m"}, Options{})
	if !r.move(StatusDone, nil) {
		t.Fatal("pending -> done refused")
	}
	if r.move(StatusErrored, errTest) || r.move(StatusAborted, nil) || r.move(StatusStreaming, nil) {
		t.Fatal("terminal status was overwritten")
	}
	if s := r.Snapshot(); s.Status != StatusDone || s.Err != nil {
		t.Fatalf("state = %+v", s)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")

func TestParseTarget(t *testing.T) {
	cases := []struct {
		in      string
		want    Target
		wantErr bool
	}{
		{"openai/gpt-4o", Target{"openai", "gpt-4o"}, false},
		{" Anthropic/claude-sonnet ", Target{"anthropic", "claude-sonnet"}, false},
		{"openrouter/meta-llama/llama-3-70b", Target{"openrouter", "meta-llama/llama-3-70b"}, false},
		{"gpt-4o", Target{}, true},
		{"/m", Target{}, true},
		{"p/", Target{}, true},
	}
	for _, tc := range cases {
		got, err := ParseTarget(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseTarget(%q) err = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseTarget(%q) = %+v, want %+v", tc.in, got, tc.want)
		}
	}
	if s := (Target{"openai", "gpt-4o"}).String(); s != "openai/gpt-4o" {
		t.Fatalf("String = %q", s)
	}
}

func TestStateLatencies(t *testing.T) {
	start := time.Now()
	s := State{StartedAt: start, FirstChunkAt: start.Add(40 * time.Millisecond), FinishedAt: start.Add(time.Second)}
	if s.FirstChunkLatency() != 40*time.Millisecond {
		t.Fatalf("first chunk = %v", s.FirstChunkLatency())
	}
	if s.Elapsed() != time.Second {
		t.Fatalf("elapsed = %v", s.Elapsed())
	}
	if (State{}).FirstChunkLatency() != 0 || (State{}).Elapsed() != 0 {
		t.Fatal("zero state should report zero durations")
	}
}
