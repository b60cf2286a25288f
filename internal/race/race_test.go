package race_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/chorus/internal/backend"
	"github.com/torosent/chorus/internal/metrics"
	"github.com/torosent/chorus/internal/output"
	"github.com/torosent/chorus/internal/race"
	"github.com/torosent/chorus/internal/runner"
	"github.com/torosent/chorus/internal/stream"
)

type step struct {
	delay time.Duration
	text  string
}

// scripted is an event-stream backend that writes its steps with delays.
type scripted struct {
	family stream.Family
	steps  []step
	raw    string // written verbatim before the steps
	err    error
	opened atomic.Int32
}

func (s *scripted) Name() string { return "scripted" }
func (s *scripted) Family() stream.Family {
	if s.family == "" {
		return stream.FamilyEventStream
	}
	return s.family
}

func (s *scripted) Open(ctx context.Context, _ backend.Request) (io.Closer, error) {
	s.opened.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	pr, pw := io.Pipe()
	go func() {
		if s.raw != "" {
			if _, err := io.WriteString(pw, s.raw); err != nil {
				return
			}
		}
		for _, st := range s.steps {
			select {
			case <-time.After(st.delay):
			case <-ctx.Done():
				pw.CloseWithError(ctx.Err())
				return
			}
			line := fmt.Sprintf("data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":%q}}\n\n", st.text)
			if _, err := io.WriteString(pw, line); err != nil {
				return
			}
		}
		_, _ = io.WriteString(pw, "data: [DONE]\n\n")
		pw.Close()
	}()
	return pr, nil
}

type backends map[string]backend.Backend

func (b backends) Get(key string) (backend.Backend, error) {
	if be, ok := b[key]; ok {
		return be, nil
	}
	return nil, fmt.Errorf("%w %q", backend.ErrUnknownProvider, key)
}

func targets(names ...string) []runner.Target {
	out := make([]runner.Target, len(names))
	for i, n := range names {
		out[i] = runner.Target{Provider: n, Model: "m" + n[len(n)-1:]}
	}
	return out
}

func assertOrder(t *testing.T, out string, parts ...string) {
	t.Helper()
	pos := 0
	for _, p := range parts {
		idx := strings.Index(out[pos:], p)
		if idx < 0 {
			t.Fatalf("expected %q after offset %d in output:\n%s", p, pos, out)
		}
		pos += idx + len(p)
	}
}

func TestScenarioAFirstFragmentWinsLeadership(t *testing.T) {
	reg := backends{
		"p1": &scripted{steps: []step{{100 * time.Millisecond, "Hel"}, {0, "lo"}}},
		"p2": &scripted{steps: []step{{50 * time.Millisecond, "Bonjour"}}},
	}
	var buf bytes.Buffer
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{})

	summary, err := o.Run(context.Background(), nil, targets("p1", "p2"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "p2 (m2):") {
		t.Fatalf("expected p2 to lead, got:\n%s", out)
	}
	assertOrder(t, out, "p2 (m2):", "Bonjour", "p1 (m1):", "Hello", "[2/2 models responded in")
	if strings.Count(out, "p2 (m2):") != 1 {
		t.Fatalf("leader header printed more than once:\n%s", out)
	}
	if summary.Successful != 2 || summary.Total != 2 {
		t.Fatalf("summary = %d/%d", summary.Successful, summary.Total)
	}
	if summary.Outcomes[0].Target.Provider != "p1" {
		t.Fatal("outcomes must keep original target order")
	}
}

func TestScenarioBTransportErrorDoesNotAbortRace(t *testing.T) {
	reg := backends{
		"p1": &scripted{steps: []step{{10 * time.Millisecond, "one"}}},
		"p2": &scripted{err: &backend.HTTPError{Provider: "p2", StatusCode: 500, Body: "boom"}},
		"p3": &scripted{steps: []step{{30 * time.Millisecond, "three"}}},
	}
	var buf bytes.Buffer
	collector := metrics.NewCollector()
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{Collector: collector})

	summary, err := o.Run(context.Background(), nil, targets("p1", "p2", "p3"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	assertOrder(t, out, "p1 (m1):", "one", "p2 (m2):", "error: p2: HTTP 500: boom", "p3 (m3):", "three", "[2/3 models responded in")

	if summary.Successful != 2 || summary.Total != 3 {
		t.Fatalf("summary = %d/%d", summary.Successful, summary.Total)
	}
	if summary.Outcomes[1].Error == nil || summary.Outcomes[1].Error.Code != "500" {
		t.Fatalf("outcome 2 = %+v", summary.Outcomes[1])
	}
	if len(collector.Stats()) != 3 {
		t.Fatalf("collector saw %d targets", len(collector.Stats()))
	}
}

func TestCollectorCountsDroppedPayloads(t *testing.T) {
	reg := backends{
		"p1": &scripted{raw: "data: {not json\n\n", steps: []step{{0, "ok"}}},
		"p2": &scripted{steps: []step{{0, "fine"}}},
	}
	var buf bytes.Buffer
	collector := metrics.NewCollector()
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{Collector: collector})

	if _, err := o.Run(context.Background(), nil, targets("p1", "p2")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stats := collector.Stats()
	if len(stats) != 2 {
		t.Fatalf("collector saw %d targets", len(stats))
	}
	byTarget := map[string]metrics.TargetStats{}
	for _, s := range stats {
		byTarget[s.Target] = s
	}
	if got := byTarget["p1/m1"]; got.Dropped != 1 || got.Fragments != 1 || got.Events != 2 {
		t.Errorf("p1 stream counters = %+v", got)
	}
	if got := byTarget["p2/m2"]; got.Dropped != 0 || got.Fragments != 1 {
		t.Errorf("p2 stream counters = %+v", got)
	}
}

type failingWriter struct{}

var errClosedPipe = errors.New("write |1: broken pipe")

func (failingWriter) Write([]byte) (int, error) { return 0, errClosedPipe }

func TestOutputFailureEndsRace(t *testing.T) {
	slow := &scripted{steps: []step{{5 * time.Second, "late"}}}
	reg := backends{
		"p1": &scripted{steps: []step{{0, "one"}}},
		"p2": slow,
	}
	o := race.New(reg, output.NewPrinter(failingWriter{}, false), race.Options{})

	start := time.Now()
	_, err := o.Run(context.Background(), nil, targets("p1", "p2"))
	if !errors.Is(err, errClosedPipe) {
		t.Fatalf("Run error = %v, want the write error", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("race kept running for %s after output failed", elapsed)
	}
}

func TestSingleOutputFailureStopsStream(t *testing.T) {
	reg := backends{"p1": &scripted{steps: []step{{0, "one"}, {5 * time.Second, "two"}}}}
	o := race.New(reg, output.NewPrinter(failingWriter{}, false), race.Options{})

	start := time.Now()
	_, err := o.Single(context.Background(), nil, targets("p1")[0])
	if !errors.Is(err, errClosedPipe) {
		t.Fatalf("Single error = %v, want the write error", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("stream kept running for %s after output failed", elapsed)
	}
}

func TestScenarioCCancelBeforeAnyFragment(t *testing.T) {
	reg := backends{
		"p1": &scripted{steps: []step{{time.Second, "late"}}},
		"p2": &scripted{steps: []step{{time.Second, "later"}}},
	}
	var buf bytes.Buffer
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	start := time.Now()
	summary, err := o.Run(ctx, nil, targets("p1", "p2"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Run took %v after cancellation", elapsed)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
	if summary.Total != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
}

func TestCancelMidRaceStopsWithoutSummary(t *testing.T) {
	reg := backends{
		"p1": &scripted{steps: []step{{5 * time.Millisecond, "live"}, {time.Second, "never"}}},
		"p2": &scripted{steps: []step{{20 * time.Millisecond, "buffered"}, {time.Second, "never"}}},
	}
	var buf bytes.Buffer
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{})

	cause := errors.New("interrupted")
	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(60*time.Millisecond, func() { cancel(cause) })

	_, err := o.Run(ctx, nil, targets("p1", "p2"))
	if !errors.Is(err, context.Canceled) || !errors.Is(err, cause) {
		t.Fatalf("err = %v, want canceled with cause", err)
	}
	out := buf.String()
	if !strings.Contains(out, "live") {
		t.Fatalf("leader text missing: %q", out)
	}
	if strings.Contains(out, "buffered") || strings.Contains(out, "models responded") {
		t.Fatalf("unflushed text or summary printed: %q", out)
	}
}

func TestBlankFragmentsFlushAfterLeaderHeader(t *testing.T) {
	reg := backends{
		"p1": &scripted{steps: []step{{0, "\n"}, {10 * time.Millisecond, "text"}}},
	}
	var buf bytes.Buffer
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{})

	if _, err := o.Run(context.Background(), nil, targets("p1")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "p1 (m1):") {
		t.Fatalf("blank fragment printed before header: %q", buf.String())
	}
	assertOrder(t, buf.String(), "p1 (m1):", "\n\ntext")
}

func TestAllErroredRaceHasNoLeader(t *testing.T) {
	reg := backends{
		"p1": &scripted{err: errors.New("dial tcp: refused")},
		"p2": &scripted{err: &backend.HTTPError{Provider: "p2", StatusCode: 401}},
	}
	var buf bytes.Buffer
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{})

	summary, err := o.Run(context.Background(), nil, targets("p1", "p2"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertOrder(t, buf.String(), "p1 (m1):", "error: dial tcp: refused", "p2 (m2):", "error: p2: HTTP 401", "[0/2 models responded in")
	if summary.Successful != 0 {
		t.Fatalf("successful = %d", summary.Successful)
	}
}

func TestTimeoutAbortsOnlySlowTarget(t *testing.T) {
	reg := backends{
		"p1": &scripted{steps: []step{{5 * time.Millisecond, "fast"}}},
		"p2": &scripted{steps: []step{{time.Second, "slow"}}},
	}
	var buf bytes.Buffer
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{
		Runner: runner.Options{Timeout: 80 * time.Millisecond},
	})

	summary, err := o.Run(context.Background(), nil, targets("p1", "p2"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertOrder(t, buf.String(), "p1 (m1):", "fast", "p2 (m2):", "[aborted]", "[1/2 models responded in")
	if summary.Outcomes[1].Status != runner.StatusAborted {
		t.Fatalf("p2 status = %s", summary.Outcomes[1].Status)
	}
}

func TestSystemErrorIsReturnedAfterRendering(t *testing.T) {
	reg := backends{
		"p1": &scripted{steps: []step{{0, "ok"}}},
		// An iterator-tagged backend handing out a byte stream is a wiring defect.
		"p2": &scripted{family: stream.FamilyIterator, steps: []step{{0, "x"}}},
	}
	var buf bytes.Buffer
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{})

	_, err := o.Run(context.Background(), nil, targets("p1", "p2"))
	if !errors.Is(err, stream.ErrUnsupportedTransport) {
		t.Fatalf("err = %v, want ErrUnsupportedTransport", err)
	}
	if !strings.Contains(buf.String(), "[1/2 models responded in") {
		t.Fatalf("race not rendered: %q", buf.String())
	}
}

func TestBeforeOutputRunsOnceBeforeFirstByte(t *testing.T) {
	reg := backends{
		"p1": &scripted{steps: []step{{0, "a"}, {0, "b"}}},
		"p2": &scripted{steps: []step{{5 * time.Millisecond, "c"}}},
	}
	var buf bytes.Buffer
	calls := 0
	lenAtCall := -1
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{
		BeforeOutput: func() {
			calls++
			lenAtCall = buf.Len()
		},
	})
	if _, err := o.Run(context.Background(), nil, targets("p1", "p2")); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 || lenAtCall != 0 {
		t.Fatalf("BeforeOutput calls = %d, buffer length at call = %d", calls, lenAtCall)
	}
}

func TestRunValidatesTargets(t *testing.T) {
	reg := backends{"p1": &scripted{}}
	o := race.New(reg, output.NewPrinter(io.Discard, false), race.Options{})

	if _, err := o.Run(context.Background(), nil, nil); !errors.Is(err, race.ErrNoTargets) {
		t.Fatalf("err = %v, want ErrNoTargets", err)
	}
	dup := []runner.Target{{Provider: "p1", Model: "m"}, {Provider: "p1", Model: "m"}}
	if _, err := o.Run(context.Background(), nil, dup); !errors.Is(err, race.ErrDuplicateTarget) {
		t.Fatalf("err = %v, want ErrDuplicateTarget", err)
	}
	if _, err := o.Run(context.Background(), nil, targets("p9")); !errors.Is(err, backend.ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
	if reg["p1"].(*scripted).opened.Load() != 0 {
		t.Fatal("no backend may be opened when validation fails")
	}
}

func TestSingleStreamsWithoutSummary(t *testing.T) {
	reg := backends{"p1": &scripted{steps: []step{{0, " "}, {0, "solo"}}}}
	var buf bytes.Buffer
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{})

	summary, err := o.Single(context.Background(), nil, runner.Target{Provider: "p1", Model: "m1"})
	if err != nil {
		t.Fatalf("Single: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "p1 (m1):") || !strings.HasSuffix(out, " solo\n") {
		t.Fatalf("output = %q", out)
	}
	if strings.Contains(out, "models responded") {
		t.Fatalf("single path printed a summary: %q", out)
	}
	if summary.Successful != 1 || *summary.Outcomes[0].Text != " solo" {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestSingleShowsError(t *testing.T) {
	reg := backends{"p1": &scripted{err: &backend.HTTPError{Provider: "p1", StatusCode: 429}}}
	var buf bytes.Buffer
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{})

	if _, err := o.Single(context.Background(), nil, runner.Target{Provider: "p1", Model: "m1"}); err != nil {
		t.Fatalf("Single: %v", err)
	}
	want := "p1 (m1):\nerror: p1: HTTP 429\n"
	if buf.String() != want {
		t.Fatalf("output = %q, want %q", buf.String(), want)
	}
}

func TestSingleCancelled(t *testing.T) {
	reg := backends{"p1": &scripted{steps: []step{{time.Second, "late"}}}}
	var buf bytes.Buffer
	o := race.New(reg, output.NewPrinter(&buf, false), race.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	if _, err := o.Single(ctx, nil, runner.Target{Provider: "p1", Model: "m1"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
