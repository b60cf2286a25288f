package backend

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	baseRetryDelay = 250 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// RetryPolicy configures retry behavior for opening a stream.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, all errors retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// DefaultRetryPolicy retries transient failures with exponential backoff and
// jitter, up to retries extra attempts.
func DefaultRetryPolicy(retries int) RetryPolicy {
	source := &jitterSource{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

	return RetryPolicy{
		MaxAttempts: retries + 1,
		ShouldRetry: IsRetryable,
		DelayFunc: func(attempt int, err error) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			backoff := time.Duration(1<<uint(attempt-1)) * baseRetryDelay
			if backoff > maxRetryDelay {
				backoff = maxRetryDelay
			}
			return backoff + source.jitter(backoff/2)
		},
	}
}

// IsRetryable reports whether err is worth another attempt. Cancellation is
// never retried; HTTP errors are retried on 429 and 5xx; anything else is
// treated as a network failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return true
}

type jitterSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (j *jitterSource) jitter(max time.Duration) time.Duration {
	if j == nil || max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Int63n(int64(max)))
}

type retryBackend struct {
	Backend
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry wraps b so failed Open calls are retried. Once a stream is open
// nothing is retried; a mid-stream failure belongs to the caller.
func WithRetry(b Backend, policy RetryPolicy, logger *slog.Logger) Backend {
	if policy.MaxAttempts <= 1 {
		return b
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &retryBackend{Backend: b, policy: policy, logger: logger}
}

func (r *retryBackend) Open(ctx context.Context, req Request) (io.Closer, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		transport, err := r.Backend.Open(ctx, req)
		if err == nil {
			return transport, nil
		}
		lastErr = err

		// Don't delay after the last attempt.
		if attempt < r.policy.MaxAttempts {
			if r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(lastErr) {
				return nil, lastErr
			}
			delay := r.policy.Delay
			if r.policy.DelayFunc != nil {
				delay = r.policy.DelayFunc(attempt, lastErr)
			}
			r.logger.Debug("retrying stream open",
				"provider", r.Name(), "model", req.Model, "attempt", attempt, "delay", delay, "error", lastErr)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				}
			}
		}
	}
	return nil, lastErr
}

type rateLimitedBackend struct {
	Backend
	limiter *rate.Limiter
}

// WithRateLimit paces Open calls to perSecond with a burst of one. A
// non-positive rate returns b unchanged.
func WithRateLimit(b Backend, perSecond float64) Backend {
	if perSecond <= 0 {
		return b
	}
	return &rateLimitedBackend{
		Backend: b,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (r *rateLimitedBackend) Open(ctx context.Context, req Request) (io.Closer, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Backend.Open(ctx, req)
}
