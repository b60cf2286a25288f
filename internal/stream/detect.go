package stream

import (
	"fmt"
	"io"
)

// Open wraps transport in the adapter for family. Known families must
// present the matching shape; FamilyAuto falls back to Detect.
func Open(family Family, transport io.Closer, opts Options) (Sequence, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrUnsupportedTransport)
	}

	switch family {
	case FamilyEventStream:
		body, ok := transport.(io.ReadCloser)
		if !ok {
			return nil, fmt.Errorf("%w: %s family needs an io.Reader, got %T", ErrUnsupportedTransport, family, transport)
		}
		return NewEventStream(body, opts), nil
	case FamilyIterator:
		it, ok := transport.(EventIterator)
		if !ok {
			return nil, fmt.Errorf("%w: %s family needs an EventIterator, got %T", ErrUnsupportedTransport, family, transport)
		}
		return NewIteratorStream(it, opts), nil
	case FamilyAuto, "":
		return Detect(transport, opts)
	default:
		return nil, fmt.Errorf("%w: unknown family %q", ErrUnsupportedTransport, family)
	}
}

// Detect picks an adapter from the transport's shape. The reader test must
// run before the iterator test: a transport exposing both is an event stream,
// and routing it to the iterator adapter silently drops its text.
func Detect(transport io.Closer, opts Options) (Sequence, error) {
	if family := DetectFamily(transport); family != "" {
		return Open(family, transport, opts)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedTransport, transport)
}

// DetectFamily reports which adapter Detect would choose, or "" if none.
func DetectFamily(transport io.Closer) Family {
	if _, ok := transport.(io.ReadCloser); ok {
		return FamilyEventStream
	}
	if _, ok := transport.(EventIterator); ok {
		return FamilyIterator
	}
	return ""
}
