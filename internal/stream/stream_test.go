package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/torosent/chorus/internal/clientmetrics"
)

type trackingBody struct {
	io.Reader
	closed int
}

func (b *trackingBody) Close() error {
	b.closed++
	return nil
}

func newBody(s string) *trackingBody {
	return &trackingBody{Reader: strings.NewReader(s)}
}

// sliceIterator replays canned events.
type sliceIterator struct {
	events [][]byte
	closed int
}

func (it *sliceIterator) Recv(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(it.events) == 0 {
		return nil, io.EOF
	}
	ev := it.events[0]
	it.events = it.events[1:]
	return ev, nil
}

func (it *sliceIterator) Close() error {
	it.closed++
	return nil
}

// dualTransport satisfies both the reader and the iterator shape.
type dualTransport struct {
	*trackingBody
	recvCalls int
}

func (d *dualTransport) Recv(ctx context.Context) ([]byte, error) {
	d.recvCalls++
	return nil, io.EOF
}

func quietOptions() Options {
	return Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func collect(t *testing.T, seq Sequence) []Fragment {
	t.Helper()
	var out []Fragment
	for {
		f, err := seq.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, f)
	}
}

func TestEventStreamSingleDeltaThenDone(t *testing.T) {
	body := newBody("data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"hi\"}}\n\ndata: [DONE]\n\n")
	seq := NewEventStream(body, quietOptions())

	frags := collect(t, seq)
	if len(frags) != 1 || frags[0].Text != "hi" {
		t.Fatalf("expected exactly one fragment \"hi\", got %+v", frags)
	}
	if body.closed == 0 {
		t.Fatal("transport not released after [DONE]")
	}
	if _, err := seq.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("sequence must stay exhausted, got %v", err)
	}
}

func TestEventStreamSkipsNoiseAndMalformedPayloads(t *testing.T) {
	var logs bytes.Buffer
	metrics := clientmetrics.New()
	opts := Options{
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
		Metrics: metrics,
	}
	stream := strings.Join([]string{
		": keep-alive",
		"event: message_start",
		`data: {"type":"message_start","message":{"id":"m1"}}`,
		"",
		`data: {"type":"ping"}`,
		`data: {not json`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{}"}}`,
		`data: {"type":"custom","delta":{"text":"lo"}}`,
		`data: {"type":"content_block_delta","delta":{"text":""}}`,
		`data: {"type":"message_stop"}`,
		`data: {"type":"content_block_delta","delta":{"text":"ignored"}}`,
	}, "\n")

	frags := collect(t, NewEventStream(newBody(stream), opts))
	var got []string
	for _, f := range frags {
		got = append(got, f.Text)
	}
	if strings.Join(got, "|") != "Hel|lo" {
		t.Fatalf("fragments = %q", got)
	}
	if !strings.Contains(logs.String(), "malformed") {
		t.Errorf("expected malformed payload to be logged, logs: %s", logs.String())
	}
	snap := metrics.Snapshot()
	if snap.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", snap.Dropped)
	}
	if snap.Fragments != 2 {
		t.Errorf("fragments = %d, want 2", snap.Fragments)
	}
}

func TestEventStreamErrorEventEndsSequence(t *testing.T) {
	stream := `data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}` + "\n"
	seq := NewEventStream(newBody(stream), quietOptions())

	_, err := seq.Next(context.Background())
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected StreamError, got %v", err)
	}
	if streamErr.Code() != "overloaded_error" || streamErr.Message != "Overloaded" {
		t.Fatalf("unexpected stream error %+v", streamErr)
	}
}

func TestEventStreamTransportCloseEndsSequence(t *testing.T) {
	stream := `data: {"type":"content_block_delta","delta":{"text":"a"}}` + "\n"
	frags := collect(t, NewEventStream(newBody(stream), quietOptions()))
	if len(frags) != 1 {
		t.Fatalf("expected 1 fragment before transport close, got %d", len(frags))
	}
}

func TestEventStreamCancelledContext(t *testing.T) {
	body := newBody(`data: {"type":"content_block_delta","delta":{"text":"a"}}` + "\n")
	seq := NewEventStream(body, quietOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := seq.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if body.closed == 0 {
		t.Fatal("transport not released on abort")
	}
}

func TestEventStreamCancelWhileBlocked(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	seq := NewEventStream(pr, quietOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := seq.Next(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("blocked read was not interrupted")
	}
}

func TestIteratorStreamExtractsDeltaContent(t *testing.T) {
	it := &sliceIterator{events: [][]byte{
		[]byte(`{"choices":[{"delta":{"role":"assistant"}}]}`),
		[]byte(`{"choices":[{"delta":{"content":"Bon"}}]}`),
		[]byte(`{"choices":[{"delta":{"content":""}}]}`),
		[]byte(`{"choices":[]}`),
		[]byte(`garbage`),
		[]byte(`{"choices":[{"delta":{"content":"jour"},"finish_reason":"stop"}]}`),
	}}
	frags := collect(t, NewIteratorStream(it, quietOptions()))
	if len(frags) != 2 {
		t.Fatalf("expected 2 fragments, got %+v", frags)
	}
	if frags[0].Text != "Bon" || frags[0].Final {
		t.Errorf("first fragment = %+v", frags[0])
	}
	if frags[1].Text != "jour" || !frags[1].Final {
		t.Errorf("second fragment = %+v", frags[1])
	}
	if it.closed != 1 {
		t.Errorf("iterator closed %d times, want 1", it.closed)
	}
}

func TestIteratorStreamErrorEvent(t *testing.T) {
	it := &sliceIterator{events: [][]byte{
		[]byte(`{"error":{"type":"rate_limit_exceeded","message":"slow down"}}`),
	}}
	_, err := NewIteratorStream(it, quietOptions()).Next(context.Background())
	var streamErr *StreamError
	if !errors.As(err, &streamErr) || streamErr.Code() != "rate_limit_exceeded" {
		t.Fatalf("expected rate limit StreamError, got %v", err)
	}
}

func TestDetectPrefersEventStreamForDualShapeTransport(t *testing.T) {
	body := newBody("data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"dual\"}}\n\ndata: [DONE]\n")
	transport := &dualTransport{trackingBody: body}

	if DetectFamily(transport) != FamilyEventStream {
		t.Fatalf("DetectFamily = %q, want %q", DetectFamily(transport), FamilyEventStream)
	}

	seq, err := Open(FamilyAuto, transport, quietOptions())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	frags := collect(t, seq)
	if len(frags) != 1 || frags[0].Text != "dual" {
		t.Fatalf("dual transport misrouted, fragments = %+v", frags)
	}
	if transport.recvCalls != 0 {
		t.Fatalf("iterator path was used (%d Recv calls)", transport.recvCalls)
	}
}

func TestDetectFallsBackToIterator(t *testing.T) {
	it := &sliceIterator{events: [][]byte{[]byte(`{"choices":[{"delta":{"content":"x"}}]}`)}}
	seq, err := Detect(it, quietOptions())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if frags := collect(t, seq); len(frags) != 1 || frags[0].Text != "x" {
		t.Fatalf("fragments = %+v", frags)
	}
}

type closerOnly struct{}

func (closerOnly) Close() error { return nil }

func TestOpenRejectsMismatchedTransport(t *testing.T) {
	cases := []struct {
		name      string
		family    Family
		transport io.Closer
	}{
		{"event-stream without reader", FamilyEventStream, &sliceIterator{}},
		{"iterator without Recv", FamilyIterator, newBody("")},
		{"auto with neither", FamilyAuto, closerOnly{}},
		{"unknown family", Family("smoke-signal"), newBody("")},
		{"nil transport", FamilyIterator, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Open(tc.family, tc.transport, quietOptions())
			if !errors.Is(err, ErrUnsupportedTransport) {
				t.Fatalf("expected ErrUnsupportedTransport, got %v", err)
			}
		})
	}
}

func TestParseFamily(t *testing.T) {
	tests := map[string]Family{
		"":             FamilyAuto,
		"auto":         FamilyAuto,
		"event-stream": FamilyEventStream,
		"Anthropic":    FamilyEventStream,
		"iterator":     FamilyIterator,
		"openai":       FamilyIterator,
	}
	for in, want := range tests {
		got, err := ParseFamily(in)
		if err != nil || got != want {
			t.Errorf("ParseFamily(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFamily("carrier-pigeon"); err == nil {
		t.Error("expected error for unknown family")
	}
}

func TestFragmentBlank(t *testing.T) {
	if !(Fragment{Text: " \n\t"}).Blank() {
		t.Error("whitespace fragment should be blank")
	}
	if (Fragment{Text: " a "}).Blank() {
		t.Error("text fragment should not be blank")
	}
}
