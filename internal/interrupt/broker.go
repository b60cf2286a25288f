// Package interrupt provides the single cancellation signal shared by a race,
// the single-target path and any spinner or prompt that surrounds them.
package interrupt

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
)

// ErrInterrupted is the cause recorded when the user interrupts the process.
var ErrInterrupted = errors.New("interrupted")

// Broker owns one cancellable context. Firing it is idempotent: the first
// cause wins and every later call is a no-op.
type Broker struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	fired  atomic.Bool

	mu       sync.Mutex
	signals  chan os.Signal
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a Broker derived from parent.
func New(parent context.Context) *Broker {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancelCause(parent)
	return &Broker{
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

// Context returns the context every runner and adapter must observe.
func (b *Broker) Context() context.Context {
	return b.ctx
}

// Fire cancels all outstanding work. It reports whether this call was the one
// that actually fired the signal.
func (b *Broker) Fire(cause error) bool {
	if !b.fired.CompareAndSwap(false, true) {
		return false
	}
	if cause == nil {
		cause = ErrInterrupted
	}
	b.cancel(cause)
	return true
}

// Fired reports whether Fire has been called.
func (b *Broker) Fired() bool {
	return b.fired.Load()
}

// Cause returns the error the context was cancelled with, or nil.
func (b *Broker) Cause() error {
	return context.Cause(b.ctx)
}

// Watch fires the broker when one of sigs arrives. Without arguments it
// watches os.Interrupt.
func (b *Broker) Watch(sigs ...os.Signal) {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.signals != nil {
		return
	}
	b.signals = make(chan os.Signal, 1)
	signal.Notify(b.signals, sigs...)

	go func(ch <-chan os.Signal) {
		select {
		case <-ch:
			b.Fire(ErrInterrupted)
		case <-b.stopped:
		}
	}(b.signals)
}

// Stop releases signal handlers and the broker's context. It does not mark
// the broker as fired.
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		if b.signals != nil {
			signal.Stop(b.signals)
		}
		b.mu.Unlock()
		close(b.stopped)
		b.cancel(context.Canceled)
	})
}
