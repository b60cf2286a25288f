package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/chorus/internal/backend"
	"github.com/torosent/chorus/internal/clientmetrics"
	"github.com/torosent/chorus/internal/stream"
	"github.com/torosent/chorus/internal/tracing"
)

var (
	// ErrAborted wraps the cause of a cancelled target.
	ErrAborted = errors.New("aborted")
	// ErrTimeout is the cancellation cause when Options.Timeout expires.
	ErrTimeout = errors.New("target timed out")
	// ErrNoBackend is a system error: the target has nothing to talk to.
	ErrNoBackend = errors.New("no backend configured")
)

// FailureLogger logs failed targets.
type FailureLogger interface {
	LogFailure(target Target, err error)
}

// Options tunes a TargetRunner. The zero value is usable.
type Options struct {
	// Timeout bounds the whole target, connect to last fragment. Zero
	// means no limit.
	Timeout time.Duration
	// MaxTokens is forwarded to the backend when positive.
	MaxTokens int
	Tracer    trace.Tracer
	Logger    *slog.Logger
	Failures  FailureLogger
}

// TargetRunner streams one target. Run may be called once.
type TargetRunner struct {
	backend backend.Backend
	opts    Options
	metrics *clientmetrics.StreamMetrics

	mu    sync.Mutex
	state State
	text  strings.Builder
}

// New creates a runner in the pending state.
func New(b backend.Backend, target Target, opts Options) *TargetRunner {
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &TargetRunner{
		backend: b,
		opts:    opts,
		metrics: clientmetrics.New(),
		state:   State{Target: target},
	}
}

// Target returns the runner's target.
func (r *TargetRunner) Target() Target {
	return r.state.Target
}

// Snapshot returns a copy of the current state.
func (r *TargetRunner) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state
	s.Text = r.text.String()
	return s
}

// Metrics returns the wire counters of the stream.
func (r *TargetRunner) Metrics() clientmetrics.Snapshot {
	return r.metrics.Snapshot()
}

// Run opens the stream and drains it, calling emit for every fragment in
// arrival order. emit runs on the caller's goroutine chain and must not
// block for long. See the package documentation for the return contract.
func (r *TargetRunner) Run(ctx context.Context, messages []backend.Message, emit func(stream.Fragment)) (err error) {
	r.mu.Lock()
	if r.state.Status != StatusPending || !r.state.StartedAt.IsZero() {
		r.mu.Unlock()
		return fmt.Errorf("runner %s: already started", r.state.Target)
	}
	r.state.StartedAt = time.Now()
	r.mu.Unlock()

	target := r.state.Target
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.opts.Timeout,
			fmt.Errorf("%w after %s", ErrTimeout, r.opts.Timeout))
		defer cancel()
	}
	ctx = clientmetrics.NewContext(ctx, r.metrics)

	ctx, span := tracing.StartTargetSpan(ctx, r.opts.Tracer, target.Provider, target.Model)
	defer func() {
		// Exactly one terminal status, whatever path returned.
		if !r.Snapshot().Status.Terminal() {
			if ctx.Err() != nil {
				err = r.abort(ctx)
			} else {
				r.fail(errors.New("stream ended without a terminal status"))
			}
		}
		snap := r.Snapshot()
		spanErr := snap.Err
		if spanErr == nil {
			spanErr = err
		}
		wire := r.metrics.Snapshot()
		tracing.EndSpan(span, spanErr,
			attribute.String("chorus.status", snap.Status.String()),
			attribute.Int("chorus.text_length", len(snap.Text)),
			attribute.Int64("chorus.first_chunk_ms", snap.FirstChunkLatency().Milliseconds()),
			attribute.Int64("chorus.stream.bytes", wire.BytesReceived),
			attribute.Int64("chorus.stream.events", wire.Events),
			attribute.Int64("chorus.stream.fragments", wire.Fragments),
			attribute.Int64("chorus.stream.dropped", wire.Dropped),
		)
	}()

	if r.backend == nil {
		r.fail(ErrNoBackend)
		return fmt.Errorf("runner %s: %w", target, ErrNoBackend)
	}
	if ctx.Err() != nil {
		return r.abort(ctx)
	}

	transport, err := r.backend.Open(ctx, backend.Request{
		Model:     target.Model,
		Messages:  messages,
		MaxTokens: r.opts.MaxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return r.abort(ctx)
		}
		r.fail(err)
		return nil
	}

	seq, err := stream.Open(r.backend.Family(), transport, stream.Options{
		Logger:  r.opts.Logger.With("provider", target.Provider, "model", target.Model),
		Metrics: r.metrics,
	})
	if err != nil {
		_ = transport.Close()
		r.fail(err)
		return fmt.Errorf("runner %s: %w", target, err)
	}
	defer seq.Close()

	for {
		frag, err := seq.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.move(StatusDone, nil)
				return nil
			}
			if ctx.Err() != nil {
				return r.abort(ctx)
			}
			r.fail(err)
			return nil
		}
		r.append(frag)
		if emit != nil {
			emit(frag)
		}
	}
}

func (r *TargetRunner) append(frag stream.Fragment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Status == StatusPending {
		r.state.Status = StatusStreaming
		r.state.FirstChunkAt = time.Now()
	}
	r.text.WriteString(frag.Text)
}

// move applies a transition if it is legal; illegal ones are ignored so a
// terminal status can never be overwritten.
func (r *TargetRunner) move(next Status, cause error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.state.Status.canMove(next) {
		return false
	}
	r.state.Status = next
	r.state.FinishedAt = time.Now()
	if next == StatusErrored {
		r.state.Err = cause
	}
	return true
}

func (r *TargetRunner) fail(err error) {
	if !r.move(StatusErrored, err) {
		return
	}
	r.opts.Logger.Debug("target failed", "target", r.state.Target.String(), "error", err)
	if r.opts.Failures != nil {
		r.opts.Failures.LogFailure(r.state.Target, err)
	}
}

func (r *TargetRunner) abort(ctx context.Context) error {
	r.move(StatusAborted, nil)
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %s: %w", ErrAborted, r.state.Target, cause)
}
