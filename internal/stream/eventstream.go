package stream

import (
	"context"
	"errors"
	"io"

	"github.com/tidwall/gjson"

	"github.com/torosent/chorus/internal/sse"
)

type eventStream struct {
	lines *sse.LineReader
	opts  Options
	done  bool
}

// NewEventStream adapts a raw Server-Sent Event body.
func NewEventStream(body io.ReadCloser, opts Options) Sequence {
	return &eventStream{
		lines: sse.NewLineReader(body, opts.Metrics),
		opts:  opts,
	}
}

func (s *eventStream) Next(ctx context.Context) (Fragment, error) {
	if s.done {
		return Fragment{}, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			s.finish()
			return Fragment{}, err
		}

		payload, err := s.lines.Next(ctx)
		if err != nil {
			s.finish()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Fragment{}, ctxErr
			}
			return Fragment{}, err
		}
		if payload == sse.DoneMarker {
			s.finish()
			return Fragment{}, io.EOF
		}
		s.opts.Metrics.IncrementEvents()

		if !gjson.Valid(payload) {
			s.opts.logProtocolError(&ProtocolError{
				Family:  FamilyEventStream,
				Payload: payload,
				Err:     errors.New("invalid JSON"),
			})
			continue
		}

		event := gjson.Parse(payload)
		switch event.Get("type").String() {
		case "message_stop":
			s.finish()
			return Fragment{}, io.EOF
		case "error":
			s.finish()
			return Fragment{}, &StreamError{
				Type:    event.Get("error.type").String(),
				Message: event.Get("error.message").String(),
			}
		}

		// content_block_delta carries delta.text; other payloads that carry
		// delta.text are accepted for compatibility.
		text := event.Get("delta.text")
		if text.Type != gjson.String || text.Str == "" {
			continue
		}
		s.opts.Metrics.IncrementFragments()
		return Fragment{Text: text.Str}, nil
	}
}

func (s *eventStream) finish() {
	s.done = true
	_ = s.lines.Close()
}

func (s *eventStream) Close() error {
	s.done = true
	return s.lines.Close()
}
