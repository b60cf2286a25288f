package race

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/chorus/internal/backend"
	"github.com/torosent/chorus/internal/metrics"
	"github.com/torosent/chorus/internal/output"
	"github.com/torosent/chorus/internal/results"
	"github.com/torosent/chorus/internal/runner"
	"github.com/torosent/chorus/internal/stream"
	"github.com/torosent/chorus/internal/tracing"
)

var (
	// ErrNoTargets is returned for an empty target list.
	ErrNoTargets = errors.New("race: no targets")
	// ErrDuplicateTarget is returned when a provider/model pair repeats.
	ErrDuplicateTarget = errors.New("race: duplicate target")
)

// Backends resolves provider keys. *backend.Registry satisfies it.
type Backends interface {
	Get(key string) (backend.Backend, error)
}

// Options tunes an Orchestrator. The zero value is usable.
type Options struct {
	// Runner is applied to every target.
	Runner runner.Options
	// Collector, when set, receives every settled target.
	Collector *metrics.Collector
	// BeforeOutput runs once, right before the first byte is printed.
	BeforeOutput func()
	Tracer       trace.Tracer
	Logger       *slog.Logger
}

// Orchestrator runs races. It may be reused; each Run is independent.
type Orchestrator struct {
	backends Backends
	printer  *output.Printer
	opts     Options
}

// New creates an orchestrator that renders through printer.
func New(backends Backends, printer *output.Printer, opts Options) *Orchestrator {
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if opts.Runner.Tracer == nil {
		opts.Runner.Tracer = opts.Tracer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Runner.Logger == nil {
		opts.Runner.Logger = opts.Logger
	}
	return &Orchestrator{backends: backends, printer: printer, opts: opts}
}

type event struct {
	index   int
	frag    stream.Fragment
	settled bool
	err     error
}

// Run races targets. It returns once every target settled and the summary
// was printed, or as soon as ctx is cancelled. The returned error is nil,
// a cancellation error, or a system error from one of the runners (the race
// is still rendered in that case).
func (o *Orchestrator) Run(ctx context.Context, messages []backend.Message, targets []runner.Target) (results.Summary, error) {
	runners, err := o.prepare(targets)
	if err != nil {
		return results.Summary{}, err
	}

	raceID := results.NewRaceID()
	start := time.Now()
	ctx, span := tracing.StartRaceSpan(ctx, o.opts.Tracer, raceID, len(targets))
	defer span.End()
	ctx, stop := context.WithCancel(ctx)

	events := make(chan event, len(runners)*4)
	var wg sync.WaitGroup
	for i, r := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			emit := func(f stream.Fragment) {
				select {
				case events <- event{index: i, frag: f}:
				case <-ctx.Done():
				}
			}
			err := r.Run(ctx, messages, emit)
			select {
			case events <- event{index: i, settled: true, err: err}:
			case <-ctx.Done():
			}
		}()
	}
	defer wg.Wait()
	defer stop()

	state := newRaceState(targets)
	pending := make([]strings.Builder, len(runners))
	var systemErr error
	r := o.renderer()

	for !state.Settled() {
		var ev event
		select {
		case <-ctx.Done():
			return results.Summary{}, cancelled(ctx)
		case ev = <-events:
		}
		if ctx.Err() != nil {
			return results.Summary{}, cancelled(ctx)
		}

		if ev.settled {
			state.settle(ev.index, runners[ev.index].Snapshot())
			if ev.err != nil && !errors.Is(ev.err, runner.ErrAborted) {
				systemErr = errors.Join(systemErr, ev.err)
			}
			continue
		}

		switch {
		case state.LeaderIndex == ev.index:
			r.text(ev.frag.Text)
		case state.HasLeader():
			// Accumulated by its runner; printed at settle time.
		case ev.frag.Blank():
			pending[ev.index].WriteString(ev.frag.Text)
		case state.claimLeader(ev.index):
			leader := runners[ev.index].Snapshot()
			r.header(leader.Target, leader.FirstChunkLatency())
			r.text(pending[ev.index].String())
			r.text(ev.frag.Text)
		}
		if err := o.printer.Err(); err != nil {
			return results.Summary{}, writeFailed(err)
		}
	}

	if state.HasLeader() {
		leader := state.Targets[state.LeaderIndex]
		switch leader.Status {
		case runner.StatusErrored:
			o.printer.Error(results.ErrorInfoFrom(leader.Err))
		case runner.StatusAborted:
			o.printer.Notice("aborted")
		}
	}

	for i, st := range state.Targets {
		if i == state.LeaderIndex {
			continue
		}
		r.header(st.Target, st.FirstChunkLatency())
		switch st.Status {
		case runner.StatusDone:
			r.text(st.Text)
		case runner.StatusErrored:
			o.printer.Error(results.ErrorInfoFrom(st.Err))
		case runner.StatusAborted:
			o.printer.Notice("aborted")
		default:
			// Unreachable: the walk starts after every runner settled.
			r.text(st.Text)
			o.printer.Notice("incomplete")
		}
	}

	summary := results.Aggregate(raceID, state.Targets, time.Since(start))
	r.begin()
	o.printer.Summary(summary)
	o.record(runners, state.Targets)
	if err := o.printer.Err(); err != nil {
		systemErr = errors.Join(systemErr, writeFailed(err))
	}

	span.SetAttributes(
		attribute.Int("chorus.successful", summary.Successful),
		attribute.Int("chorus.leader", state.LeaderIndex),
	)
	o.opts.Logger.Debug("race settled",
		"race_id", raceID, "successful", summary.Successful, "total", summary.Total, "elapsed", summary.Elapsed)
	return summary, systemErr
}

// Single streams one target directly, without racing. The header is printed
// right before the first non-blank fragment.
func (o *Orchestrator) Single(ctx context.Context, messages []backend.Message, target runner.Target) (results.Summary, error) {
	runners, err := o.prepare([]runner.Target{target})
	if err != nil {
		return results.Summary{}, err
	}
	tr := runners[0]
	start := time.Now()
	r := o.renderer()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var pending strings.Builder
	started := false
	runErr := tr.Run(ctx, messages, func(f stream.Fragment) {
		if ctx.Err() != nil {
			return
		}
		defer func() {
			if o.printer.Err() != nil {
				stop()
			}
		}()
		if started {
			r.text(f.Text)
			return
		}
		if f.Blank() {
			pending.WriteString(f.Text)
			return
		}
		started = true
		snap := tr.Snapshot()
		r.header(snap.Target, snap.FirstChunkLatency())
		r.text(pending.String())
		r.text(f.Text)
	})
	if err := o.printer.Err(); err != nil {
		return results.Summary{}, writeFailed(err)
	}
	if ctx.Err() != nil {
		return results.Summary{}, cancelled(ctx)
	}

	st := tr.Snapshot()
	if !started {
		r.header(st.Target, st.FirstChunkLatency())
	}
	switch st.Status {
	case runner.StatusErrored:
		o.printer.Error(results.ErrorInfoFrom(st.Err))
	case runner.StatusAborted:
		o.printer.Notice("aborted")
	default:
		o.printer.Finish()
	}
	o.record(runners, []runner.State{st})

	summary := results.Aggregate(results.NewRaceID(), []runner.State{st}, time.Since(start))
	if err := o.printer.Err(); err != nil {
		return summary, writeFailed(err)
	}
	if runErr != nil && !errors.Is(runErr, runner.ErrAborted) {
		return summary, runErr
	}
	return summary, nil
}

func (o *Orchestrator) prepare(targets []runner.Target) ([]*runner.TargetRunner, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	seen := make(map[runner.Target]bool, len(targets))
	runners := make([]*runner.TargetRunner, 0, len(targets))
	for _, t := range targets {
		if seen[t] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTarget, t)
		}
		seen[t] = true
		b, err := o.backends.Get(t.Provider)
		if err != nil {
			return nil, fmt.Errorf("race: target %s: %w", t, err)
		}
		runners = append(runners, runner.New(b, t, o.opts.Runner))
	}
	return runners, nil
}

// record feeds settled targets to the collector; runners and states share
// indexes.
func (o *Orchestrator) record(runners []*runner.TargetRunner, states []runner.State) {
	if o.opts.Collector == nil {
		return
	}
	for i, st := range states {
		o.opts.Collector.Record(metrics.Observation{
			Target:     st.Target.String(),
			FirstChunk: st.FirstChunkLatency(),
			Total:      st.Elapsed(),
			Err:        st.Err,
			Aborted:    st.Status == runner.StatusAborted,
			Stream:     runners[i].Metrics(),
		})
	}
}

// renderer wraps the printer so BeforeOutput runs exactly once.
func (o *Orchestrator) renderer() *renderer {
	return &renderer{printer: o.printer, before: o.opts.BeforeOutput}
}

type renderer struct {
	printer *output.Printer
	before  func()
	started bool
}

func (r *renderer) begin() {
	if r.started {
		return
	}
	r.started = true
	if r.before != nil {
		r.before()
	}
}

func (r *renderer) header(t runner.Target, latency time.Duration) {
	r.begin()
	r.printer.Header(t, latency)
}

func (r *renderer) text(s string) {
	if s == "" {
		return
	}
	r.begin()
	r.printer.Text(s)
}

func writeFailed(err error) error {
	return fmt.Errorf("race: write output: %w", err)
}

func cancelled(ctx context.Context) error {
	err := ctx.Err()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, err) {
		return fmt.Errorf("%w: %w", err, cause)
	}
	return err
}
