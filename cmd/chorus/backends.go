package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/torosent/chorus/internal/backend"
	"github.com/torosent/chorus/internal/config"
	"github.com/torosent/chorus/internal/stream"
)

// buildRegistry registers every builtin provider plus those declared in the
// config, each wrapped with its rate limit and the retry policy.
func buildRegistry(cfg *config.Config, client *http.Client, logger *slog.Logger) (*backend.Registry, error) {
	names := map[string]bool{}
	for _, b := range backend.Builtins() {
		names[b.Name] = true
	}
	providers := make(map[string]config.ProviderConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		name = strings.ToLower(strings.TrimSpace(name))
		providers[name] = pc
		names[name] = true
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	reg := backend.NewRegistry()
	policy := backend.DefaultRetryPolicy(cfg.Retries)
	for _, name := range sorted {
		pc := providers[name]
		family, err := stream.ParseFamily(pc.Family)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		builtin, _ := backend.LookupBuiltin(name)
		maxTokens := pc.MaxTokens
		if maxTokens == 0 {
			maxTokens = cfg.MaxTokens
		}

		b, err := backend.New(name, family, backend.Settings{
			BaseURL:   pc.BaseURL,
			APIKey:    pc.ResolveAPIKey(builtin.KeyEnv),
			MaxTokens: maxTokens,
			Headers:   pc.Headers,
			Client:    client,
		})
		if err != nil {
			return nil, err
		}
		b = backend.WithRateLimit(b, pc.Rate)
		b = backend.WithRetry(b, policy, logger)
		if err := reg.Register(name, b); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
