// Package sse frames Server-Sent Event streams into data payloads.
package sse

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/torosent/chorus/internal/clientmetrics"
)

// DoneMarker is the literal payload both backend families use to end a stream.
const DoneMarker = "[DONE]"

const readChunkSize = 4096

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("sse: reader closed")

// PrepareRequest sets the headers an event-stream endpoint expects.
func PrepareRequest(req *http.Request) {
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Connection", "keep-alive")
}

// LineReader turns a byte stream into SSE data payloads. Partial lines are
// buffered across reads; blank lines, comments (":"-prefixed) and non-data
// fields are discarded.
type LineReader struct {
	src     io.ReadCloser
	metrics *clientmetrics.StreamMetrics

	buf     []byte
	chunk   []byte
	lines   []string
	eof     bool
	readErr error
	final   error

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// NewLineReader wraps src. The reader owns src and closes it on Close, on
// EOF and when the context passed to Next is cancelled.
func NewLineReader(src io.ReadCloser, metrics *clientmetrics.StreamMetrics) *LineReader {
	metrics.MarkOpened()
	return &LineReader{
		src:     src,
		metrics: metrics,
		chunk:   make([]byte, readChunkSize),
	}
}

// Next returns the next data payload with the field prefix and one optional
// leading space removed. It returns io.EOF once the transport is exhausted.
func (r *LineReader) Next(ctx context.Context) (string, error) {
	if r.final != nil {
		return "", r.final
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.closed.Load() {
		return "", ErrClosed
	}

	// A blocked Read only returns once the body is closed.
	stop := context.AfterFunc(ctx, func() { _ = r.Close() })
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		for len(r.lines) > 0 {
			line := r.lines[0]
			r.lines = r.lines[1:]
			if payload, ok := dataPayload(line); ok {
				return payload, nil
			}
		}

		if r.eof {
			if len(r.buf) > 0 {
				r.lines = append(r.lines, string(r.buf))
				r.buf = nil
				continue
			}
			_ = r.Close()
			r.final = io.EOF
			if r.readErr != nil {
				r.final = r.readErr
			}
			return "", r.final
		}

		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.metrics.AddBytes(n)
			r.buf = append(r.buf, r.chunk[:n]...)
			r.split()
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			r.eof = true
			if !errors.Is(err, io.EOF) {
				r.readErr = err
			}
		}
	}
}

// split moves every complete line out of buf.
func (r *LineReader) split() {
	for {
		idx := bytes.IndexByte(r.buf, '\n')
		if idx < 0 {
			return
		}
		r.lines = append(r.lines, string(r.buf[:idx]))
		r.buf = r.buf[idx+1:]
	}
}

// Close releases the underlying transport. It is safe to call repeatedly.
func (r *LineReader) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		r.closeErr = r.src.Close()
	})
	return r.closeErr
}

func dataPayload(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if line == "" || line[0] == ':' {
		return "", false
	}
	value, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return value, true
}

// Iterator exposes an event stream as discrete JSON events, the shape
// OpenAI-compatible SDKs hand out. It never satisfies io.Reader.
type Iterator struct {
	lines *LineReader
	done  bool
}

// NewIterator wraps an event-stream body.
func NewIterator(body io.ReadCloser, metrics *clientmetrics.StreamMetrics) *Iterator {
	return &Iterator{lines: NewLineReader(body, metrics)}
}

// Recv returns the next event payload, or io.EOF after DoneMarker or the end
// of the transport.
func (it *Iterator) Recv(ctx context.Context) ([]byte, error) {
	if it.done {
		return nil, io.EOF
	}
	for {
		payload, err := it.lines.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				it.done = true
			}
			return nil, err
		}
		if strings.TrimSpace(payload) == "" {
			continue
		}
		if payload == DoneMarker {
			it.done = true
			_ = it.lines.Close()
			return nil, io.EOF
		}
		return []byte(payload), nil
	}
}

// Close releases the transport.
func (it *Iterator) Close() error {
	return it.lines.Close()
}
