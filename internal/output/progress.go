package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
)

// Spinner animates a waiting indicator until the first fragment arrives.
type Spinner struct {
	frames   []string
	ticker   *time.Ticker
	interval time.Duration
	label    string
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewSpinner creates a spinner writing to writer, normally stderr.
func NewSpinner(writer io.Writer, label string) *Spinner {
	if writer == nil {
		writer = io.Discard
	}
	style := spinner.Dot
	return &Spinner{
		frames:   style.Frames,
		interval: style.FPS,
		label:    label,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins animating in a background goroutine.
func (s *Spinner) Start() {
	if !atomic.CompareAndSwapInt32(&s.active, 0, 1) {
		return // already running or stopped
	}
	s.ticker = time.NewTicker(s.interval)
	go s.run()
}

// Stop halts the animation and clears its line. Safe to call repeatedly and
// without Start.
func (s *Spinner) Stop() {
	if atomic.CompareAndSwapInt32(&s.active, 1, 2) {
		close(s.done)
		s.ticker.Stop()
		<-s.finished
		fmt.Fprint(s.writer, "\r\033[K")
		return
	}
	atomic.CompareAndSwapInt32(&s.active, 0, 2)
}

func (s *Spinner) run() {
	defer close(s.finished)
	frame := 0
	s.draw(frame)
	for {
		select {
		case <-s.ticker.C:
			frame++
			s.draw(frame)
		case <-s.done:
			return
		}
	}
}

func (s *Spinner) draw(frame int) {
	fmt.Fprintf(s.writer, "\r%s %s", s.frames[frame%len(s.frames)], s.label)
}
