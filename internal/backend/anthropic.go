package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/torosent/chorus/internal/auth"
	"github.com/torosent/chorus/internal/httpclient"
	"github.com/torosent/chorus/internal/stream"
)

const (
	anthropicVersion      = "2023-06-01"
	defaultAnthropicLimit = 4096
)

// Anthropic speaks the Messages API. Its transport is the raw event-stream
// body.
type Anthropic struct {
	name      string
	builder   *httpclient.RequestBuilder
	client    *http.Client
	maxTokens int
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
}

// NewAnthropic creates a backend posting to {BaseURL}/v1/messages.
func NewAnthropic(name string, s Settings) (*Anthropic, error) {
	endpoint := strings.TrimSuffix(strings.TrimSpace(s.BaseURL), "/") + "/v1/messages"
	headers := map[string]string{"anthropic-version": anthropicVersion}
	for k, v := range s.Headers {
		headers[k] = v
	}
	builder, err := httpclient.NewRequestBuilder(http.MethodPost, endpoint, headers)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	builder.WithAuth(auth.NewAPIKey("x-api-key", s.APIKey))

	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicLimit
	}
	return &Anthropic{
		name:      name,
		builder:   builder,
		client:    clientOrDefault(s.Client),
		maxTokens: maxTokens,
	}, nil
}

func (b *Anthropic) Name() string { return b.name }

func (b *Anthropic) Family() stream.Family { return stream.FamilyEventStream }

// Open posts the request and returns the response body unread.
func (b *Anthropic) Open(ctx context.Context, req Request) (io.Closer, error) {
	payload := anthropicRequest{
		Model:     req.Model,
		MaxTokens: b.maxTokens,
		Stream:    true,
	}
	if req.MaxTokens > 0 {
		payload.MaxTokens = req.MaxTokens
	}
	payload.System, payload.Messages = splitSystem(req.Messages)
	return post(ctx, b.name, b.builder, b.client, payload)
}

// splitSystem hoists system messages into the top-level field the Messages
// API expects.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
