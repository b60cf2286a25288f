// Package stream normalizes backend streaming wire formats into one lazy,
// finite sequence of text fragments.
//
// Two protocol families are supported:
//   - [FamilyIterator]: OpenAI-compatible transports that hand out discrete JSON
//     events (see [EventIterator]); text lives at choices[0].delta.content.
//   - [FamilyEventStream]: Anthropic-style transports exposing the raw
//     Server-Sent Event byte stream as an io.Reader.
//
// Backends normally declare their family up front. [Detect] exists for
// transports whose family is unknown; it tests for the reader shape first
// because a transport may satisfy both shapes at once.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/torosent/chorus/internal/clientmetrics"
)

// Fragment is the smallest unit of normalized streamed text.
type Fragment struct {
	Text string
	// Final is set when the wire event carrying Text also marked the end of
	// the response (for example an OpenAI finish_reason).
	Final bool
}

// Blank reports whether the fragment carries only whitespace.
func (f Fragment) Blank() bool {
	return strings.TrimSpace(f.Text) == ""
}

// Sequence is a lazy, finite, non-restartable stream of fragments.
// Next returns io.EOF once the sequence is exhausted and the context error
// once ctx is cancelled. Close releases the transport and may be called at
// any point, any number of times.
type Sequence interface {
	Next(ctx context.Context) (Fragment, error)
	Close() error
}

// EventIterator is the transport shape of the iterator family: every Recv
// returns one JSON event, io.EOF ends the stream.
type EventIterator interface {
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Family tags a backend's wire protocol.
type Family string

const (
	// FamilyAuto asks Open to sniff the transport shape.
	FamilyAuto        Family = "auto"
	FamilyEventStream Family = "event-stream"
	FamilyIterator    Family = "iterator"
)

// ParseFamily converts a configuration string into a Family. The empty string
// maps to FamilyAuto.
func ParseFamily(s string) (Family, error) {
	switch Family(strings.ToLower(strings.TrimSpace(s))) {
	case "", FamilyAuto:
		return FamilyAuto, nil
	case FamilyEventStream, "sse", "anthropic":
		return FamilyEventStream, nil
	case FamilyIterator, "openai":
		return FamilyIterator, nil
	default:
		return "", fmt.Errorf("unknown protocol family %q", s)
	}
}

// ErrUnsupportedTransport is returned when a transport matches no adapter.
// It indicates a programming or configuration defect, not a backend failure.
var ErrUnsupportedTransport = errors.New("stream: transport matches no adapter")

// ProtocolError describes a payload that could not be decoded. Adapters log
// and drop these; they never end a sequence.
type ProtocolError struct {
	Family  Family
	Payload string
	Err     error
}

func (e *ProtocolError) Error() string {
	payload := e.Payload
	if len(payload) > 120 {
		payload = payload[:120] + "..."
	}
	return fmt.Sprintf("%s: malformed payload %q: %v", e.Family, payload, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// StreamError is an error event delivered in-band by the backend, for
// example Anthropic's overloaded_error. It ends the sequence.
type StreamError struct {
	Type    string
	Message string
}

func (e *StreamError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Code returns the backend's error type.
func (e *StreamError) Code() string { return e.Type }

// Options carries the optional collaborators of an adapter.
type Options struct {
	Logger  *slog.Logger
	Metrics *clientmetrics.StreamMetrics
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) logProtocolError(err *ProtocolError) {
	o.Metrics.IncrementDropped()
	o.logger().Warn("dropping malformed stream payload",
		slog.String("family", string(err.Family)),
		slog.String("error", err.Err.Error()),
	)
}
