package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode"

	"github.com/torosent/chorus/internal/backend"
	"github.com/torosent/chorus/internal/stream"
)

// ErrorKind labels a target failure for the failure breakdown. Known
// chorus and network errors anywhere in the chain win; anything else is
// named after the innermost error type.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var httpErr *backend.HTTPError
	var streamErr *stream.StreamError
	var protoErr *stream.ProtocolError
	var netErr net.Error
	switch {
	case errors.As(err, &httpErr):
		return fmt.Sprintf("HTTP %d", httpErr.StatusCode)
	case errors.As(err, &streamErr):
		if streamErr.Type != "" {
			return "Stream error (" + streamErr.Type + ")"
		}
		return "Stream error"
	case errors.As(err, &protoErr):
		return "Protocol error"
	case errors.Is(err, stream.ErrUnsupportedTransport):
		return "Unsupported transport"
	case errors.Is(err, context.DeadlineExceeded):
		return "Timeout"
	case errors.As(err, &netErr):
		return "Network error"
	}

	inner := err
	for next := errors.Unwrap(inner); next != nil; next = errors.Unwrap(inner) {
		inner = next
	}
	return typeLabel(fmt.Sprintf("%T", inner))
}

// typeLabel turns a Go type name such as "*tls.RecordHeaderError" into
// "Record Header Error (tls)".
func typeLabel(typeName string) string {
	name := strings.TrimPrefix(strings.TrimSpace(typeName), "*")
	if name == "" {
		return "Unknown error"
	}
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	pkg, typ, ok := strings.Cut(name, ".")
	if !ok {
		pkg, typ = "", name
	}

	label := strings.Join(splitCamel(typ), " ")
	if label == "" {
		label = typ
	}
	if pkg == "" || pkg == "main" {
		return label
	}
	return label + " (" + pkg + ")"
}

// splitCamel splits on lower-to-upper and acronym boundaries and title-cases
// each word; all-caps words are kept as they are.
func splitCamel(s string) []string {
	var words []string
	runes := []rune(s)
	start := 0
	flush := func(end int) {
		if end <= start {
			return
		}
		w := string(runes[start:end])
		if strings.ToUpper(w) != w {
			w = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
		words = append(words, w)
		start = end
	}
	for i := 1; i < len(runes); i++ {
		prev, r := runes[i-1], runes[i]
		acronymEnd := unicode.IsUpper(prev) && unicode.IsUpper(r) && i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if (unicode.IsUpper(r) && unicode.IsLower(prev)) || acronymEnd {
			flush(i)
		}
	}
	flush(len(runes))
	return words
}
