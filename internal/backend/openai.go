package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/torosent/chorus/internal/auth"
	"github.com/torosent/chorus/internal/clientmetrics"
	"github.com/torosent/chorus/internal/httpclient"
	"github.com/torosent/chorus/internal/sse"
	"github.com/torosent/chorus/internal/stream"
	"github.com/torosent/chorus/internal/tracing"
)

// Settings configures an HTTP backend.
type Settings struct {
	BaseURL   string
	APIKey    string
	MaxTokens int
	// Headers are sent with every request, e.g. OpenRouter's HTTP-Referer.
	Headers map[string]string
	Client  *http.Client
}

// OpenAI speaks the OpenAI-compatible chat completions protocol, shared by
// OpenRouter, DeepSeek, Groq, Mistral, xAI and Ollama. Its transport is an
// event iterator.
type OpenAI struct {
	name      string
	builder   *httpclient.RequestBuilder
	client    *http.Client
	maxTokens int
}

type openAIRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	Stream    bool      `json:"stream"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// NewOpenAI creates an OpenAI-compatible backend posting to
// {BaseURL}/chat/completions.
func NewOpenAI(name string, s Settings) (*OpenAI, error) {
	endpoint := strings.TrimSuffix(strings.TrimSpace(s.BaseURL), "/") + "/chat/completions"
	builder, err := httpclient.NewRequestBuilder(http.MethodPost, endpoint, s.Headers)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	builder.WithAuth(auth.NewBearer(s.APIKey))
	return &OpenAI{
		name:      name,
		builder:   builder,
		client:    clientOrDefault(s.Client),
		maxTokens: s.MaxTokens,
	}, nil
}

func (b *OpenAI) Name() string { return b.name }

func (b *OpenAI) Family() stream.Family { return stream.FamilyIterator }

// Open posts the request and returns an sse.Iterator over the response.
func (b *OpenAI) Open(ctx context.Context, req Request) (io.Closer, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = b.maxTokens
	}
	body, err := post(ctx, b.name, b.builder, b.client, openAIRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		Stream:    true,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return sse.NewIterator(body, clientmetrics.FromContext(ctx)), nil
}

func post(ctx context.Context, name string, builder *httpclient.RequestBuilder, client *http.Client, payload any) (io.ReadCloser, error) {
	httpReq, err := builder.BuildJSON(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	sse.PrepareRequest(httpReq)
	tracing.InjectHTTPHeaders(ctx, httpReq.Header)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			Provider:   name,
			StatusCode: resp.StatusCode,
			Body:       httpclient.ReadErrorBody(resp.Body),
		}
	}
	return resp.Body, nil
}

func clientOrDefault(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return httpclient.NewClient(0)
}
