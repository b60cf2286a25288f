// Package auth injects backend credentials into outgoing requests.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/torosent/chorus/internal/httpclient"
)

var _ httpclient.AuthProvider = (*StaticTokenProvider)(nil)

// ErrMissingToken is returned when a provider has no credential to inject.
var ErrMissingToken = errors.New("auth: missing API key")

// StaticTokenProvider returns a pre-configured key and writes it into a fixed
// header, optionally behind a scheme such as "Bearer".
type StaticTokenProvider struct {
	header string
	scheme string
	token  string
}

// NewBearer creates a provider writing "Authorization: Bearer <token>", the
// OpenAI-compatible convention.
func NewBearer(token string) *StaticTokenProvider {
	return &StaticTokenProvider{header: "Authorization", scheme: "Bearer", token: strings.TrimSpace(token)}
}

// NewAPIKey creates a provider writing the raw token into header, the
// convention Anthropic uses with x-api-key.
func NewAPIKey(header, token string) *StaticTokenProvider {
	return &StaticTokenProvider{header: header, token: strings.TrimSpace(token)}
}

// Token returns the static token without any network calls.
func (p *StaticTokenProvider) Token(ctx context.Context) (string, error) {
	if p.token == "" {
		return "", ErrMissingToken
	}
	return p.token, nil
}

// InjectHeader injects the token. An empty token injects nothing, which lets
// keyless local backends (for example Ollama) share the same code path.
func (p *StaticTokenProvider) InjectHeader(ctx context.Context, req *http.Request) error {
	if p.token == "" {
		return nil
	}
	value := p.token
	if p.scheme != "" {
		value = p.scheme + " " + p.token
	}
	req.Header.Set(p.header, value)
	return nil
}

// Close is a no-op for static token providers.
func (p *StaticTokenProvider) Close() error {
	return nil
}
