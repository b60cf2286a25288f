package interrupt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestFireCancelsContext(t *testing.T) {
	b := New(context.Background())
	defer b.Stop()

	if b.Fired() {
		t.Fatal("new broker should not be fired")
	}
	if !b.Fire(nil) {
		t.Fatal("first Fire should report true")
	}

	select {
	case <-b.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after Fire")
	}
	if !errors.Is(b.Cause(), ErrInterrupted) {
		t.Fatalf("cause = %v, want ErrInterrupted", b.Cause())
	}
}

func TestFireIsIdempotent(t *testing.T) {
	b := New(context.Background())
	defer b.Stop()

	first := errors.New("first")
	second := errors.New("second")

	var wg sync.WaitGroup
	wins := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 0 {
				wins <- b.Fire(first)
				return
			}
			wins <- b.Fire(second)
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for w := range wins {
		if w {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one winning Fire, got %d", count)
	}
	if b.Fire(second) {
		t.Fatal("Fire after fired should report false")
	}
	cause := b.Cause()
	if !errors.Is(cause, first) && !errors.Is(cause, second) {
		t.Fatalf("unexpected cause %v", cause)
	}
}

func TestStopDoesNotMarkFired(t *testing.T) {
	b := New(context.Background())
	b.Watch()
	b.Stop()
	b.Stop()

	if b.Fired() {
		t.Fatal("Stop must not mark the broker fired")
	}
	if b.Context().Err() == nil {
		t.Fatal("Stop should release the context")
	}
}

func TestParentCancellationPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	b := New(parent)
	defer b.Stop()

	cancel()
	select {
	case <-b.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation did not reach broker context")
	}
	if b.Fired() {
		t.Fatal("parent cancellation is not a Fire")
	}
}
