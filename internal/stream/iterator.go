package stream

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/tidwall/gjson"
)

type iteratorStream struct {
	it        EventIterator
	opts      Options
	done      bool
	closeOnce sync.Once
	closeErr  error
}

// NewIteratorStream adapts an OpenAI-compatible event iterator.
func NewIteratorStream(it EventIterator, opts Options) Sequence {
	return &iteratorStream{it: it, opts: opts}
}

func (s *iteratorStream) Next(ctx context.Context) (Fragment, error) {
	if s.done {
		return Fragment{}, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return Fragment{}, err
		}

		event, err := s.it.Recv(ctx)
		if err != nil {
			_ = s.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Fragment{}, ctxErr
			}
			return Fragment{}, err
		}
		s.opts.Metrics.IncrementEvents()

		if !gjson.ValidBytes(event) {
			s.opts.logProtocolError(&ProtocolError{
				Family:  FamilyIterator,
				Payload: string(event),
				Err:     errors.New("invalid JSON"),
			})
			continue
		}

		if msg := gjson.GetBytes(event, "error.message"); msg.Exists() {
			_ = s.Close()
			return Fragment{}, &StreamError{
				Type:    gjson.GetBytes(event, "error.type").String(),
				Message: msg.String(),
			}
		}

		content := gjson.GetBytes(event, "choices.0.delta.content")
		if content.Type != gjson.String || content.Str == "" {
			continue
		}
		finish := gjson.GetBytes(event, "choices.0.finish_reason")
		s.opts.Metrics.IncrementFragments()
		return Fragment{
			Text:  content.Str,
			Final: finish.Type == gjson.String && finish.Str != "",
		}, nil
	}
}

func (s *iteratorStream) Close() error {
	s.closeOnce.Do(func() {
		s.done = true
		s.closeErr = s.it.Close()
	})
	return s.closeErr
}
