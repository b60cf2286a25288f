// Package backend opens streaming chat completions against remote LLM
// providers. A Backend hands back the raw transport; decoding belongs to the
// stream package.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/torosent/chorus/internal/stream"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral streaming completion request.
type Request struct {
	Model     string
	Messages  []Message
	MaxTokens int
}

// Backend opens a streaming response for one provider. The returned
// transport is either an io.ReadCloser (event-stream family) or a
// stream.EventIterator (iterator family); Family reports which.
type Backend interface {
	Name() string
	Family() stream.Family
	Open(ctx context.Context, req Request) (io.Closer, error)
}

// ErrUnknownProvider is returned when a provider key is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// HTTPError is a non-2xx answer from a provider.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Code returns the status code as a string, suitable for result records.
func (e *HTTPError) Code() string {
	return strconv.Itoa(e.StatusCode)
}

// Retryable reports whether the provider signalled a transient failure.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
