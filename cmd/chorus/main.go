package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/torosent/chorus/internal/cache"
	"github.com/torosent/chorus/internal/config"
	"github.com/torosent/chorus/internal/httpclient"
	"github.com/torosent/chorus/internal/interrupt"
	"github.com/torosent/chorus/internal/logging"
	"github.com/torosent/chorus/internal/metrics"
	"github.com/torosent/chorus/internal/output"
	"github.com/torosent/chorus/internal/race"
	"github.com/torosent/chorus/internal/results"
	"github.com/torosent/chorus/internal/runner"
	"github.com/torosent/chorus/internal/tracing"
)

const (
	tracingShutdownTimeout = 5 * time.Second
	exitInterrupted        = 130
)

var (
	errInterrupted = errors.New("interrupted")
	errNoResponse  = errors.New("no model responded")
)

func main() {
	err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	switch {
	case err == nil:
	case errors.Is(err, errInterrupted):
		os.Exit(exitInterrupted)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: stderr})
	slog.SetDefault(logger)

	registry, err := buildRegistry(cfg, httpclient.NewClient(0), logger)
	if err != nil {
		return err
	}
	if cfg.ListProviders {
		output.PrintProviders(stdout, registry.Keys(), registry.Get)
		return nil
	}

	j, err := resolveJob(cfg, stdin)
	if err != nil {
		return err
	}
	warnMissingKeys(cfg, j.targets, logger)

	broker := interrupt.New(context.Background())
	broker.Watch(os.Interrupt, syscall.SIGTERM)
	defer broker.Stop()
	ctx := broker.Context()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	store := openCache(ctx, cfg, logger)
	defer store.Close()

	printer := output.NewPrinter(stdout, useColor(cfg, stdout))
	key := cache.NewKey(j.content, j.input, j.scope())
	if entry, err := store.Get(ctx, key); err == nil {
		if cached := results.FromRecord(entry); cached.Complete() {
			logger.Debug("cache hit", "key", key, "race_id", entry.RaceID)
			printer.Replay(cached)
			return printer.Err()
		}
		logger.Debug("ignoring partial cache entry", "key", key, "race_id", entry.RaceID)
	} else if !errors.Is(err, cache.ErrMiss) {
		logger.Warn("cache lookup failed", "error", err)
	}

	spinner := output.NewSpinner(stderr, spinnerLabel(len(j.targets)))
	if isTerminal(stderr) {
		spinner.Start()
	}
	defer spinner.Stop()

	collector := metrics.NewCollector()
	orch := race.New(registry, printer, race.Options{
		Runner: runner.Options{
			Timeout:   cfg.Timeout,
			MaxTokens: cfg.MaxTokens,
			Failures:  logging.NewFailureLogger(logger),
		},
		Collector:    collector,
		BeforeOutput: spinner.Stop,
		Tracer:       tp.Tracer(),
		Logger:       logger,
	})

	var summary results.Summary
	if len(j.targets) > 1 {
		summary, err = orch.Run(ctx, j.messages(), j.targets)
	} else {
		summary, err = orch.Single(ctx, j.messages(), j.targets[0])
	}
	spinner.Stop()

	if broker.Fired() || ctx.Err() != nil {
		fmt.Fprintln(stderr, "\n[interrupted]")
		return errInterrupted
	}
	if err != nil {
		return err
	}

	if summary.Cacheable() {
		if err := store.Put(ctx, summary.Record(key)); err != nil {
			logger.Warn("cache store failed", "error", err)
		}
	}
	if cfg.Stats {
		output.PrintReport(stdout, collector.Stats())
	}
	if summary.Successful == 0 {
		return errNoResponse
	}
	return nil
}

func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) cache.Store {
	if cfg.NoCache {
		return cache.NopStore{}
	}
	store, err := cache.Open(ctx, cfg.Cache)
	if err != nil {
		logger.Warn("response cache disabled", "backend", cfg.Cache.Backend, "error", err)
		return cache.NopStore{}
	}
	return store
}

func useColor(cfg *config.Config, w io.Writer) bool {
	if cfg.NoColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isTerminal(w)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func spinnerLabel(n int) string {
	if n == 1 {
		return "waiting for the model"
	}
	return fmt.Sprintf("waiting for %d models", n)
}
