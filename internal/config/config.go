package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Stream families a provider may be tagged with. They mirror the values
// accepted by the stream package.
const (
	FamilyAuto        = "auto"
	FamilyEventStream = "event-stream"
	FamilyIterator    = "iterator"
)

// Cache backends.
const (
	CacheNone  = "none"
	CacheFile  = "file"
	CacheRedis = "redis"
)

type Config struct {
	Providers     map[string]ProviderConfig `mapstructure:"providers"`
	Models        []string                  `mapstructure:"models"`
	Command       string                    `mapstructure:"command"`
	CommandsFile  string                    `mapstructure:"commands_file"`
	Prompt        string                    `mapstructure:"-"`
	Timeout       time.Duration             `mapstructure:"timeout"`
	Retries       int                       `mapstructure:"retries"`
	MaxTokens     int                       `mapstructure:"max_tokens"`
	NoColor       bool                      `mapstructure:"no_color"`
	Stats         bool                      `mapstructure:"stats"`
	NoCache       bool                      `mapstructure:"no_cache"`
	ListProviders bool                      `mapstructure:"-"`
	ConfigFile    string                    `mapstructure:"-"`
	Cache         CacheConfig               `mapstructure:"cache"`
	Log           LogConfig                 `mapstructure:"log"`
	Tracing       TracingConfig             `mapstructure:"tracing"`
}

// ProviderConfig overrides or declares a backend. Keys of Config.Providers
// are provider names as used in "provider/model" targets.
type ProviderConfig struct {
	Family    string  `mapstructure:"family"`
	BaseURL   string  `mapstructure:"base_url"`
	APIKey    string  `mapstructure:"api_key"`
	APIKeyEnv string  `mapstructure:"api_key_env"`
	Rate      float64 `mapstructure:"rate"` // requests per second, 0 = unlimited
	MaxTokens int     `mapstructure:"max_tokens"`
	// Headers are added to every request sent to this provider.
	Headers map[string]string `mapstructure:"headers"`
}

// ResolveAPIKey returns the inline key, or the value of APIKeyEnv (falling
// back to fallbackEnv) from the environment.
func (p ProviderConfig) ResolveAPIKey(fallbackEnv string) string {
	if p.APIKey != "" {
		return p.APIKey
	}
	env := p.APIKeyEnv
	if env == "" {
		env = fallbackEnv
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // "none", "file" or "redis"
	Path          string        `mapstructure:"path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// TracingConfig configures OTLP export of race and target spans.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	// Propagate overrides whether trace headers are sent to backends.
	// Nil follows Enabled.
	Propagate *bool `mapstructure:"propagate"`
}

// Enabled reports whether an exporter endpoint is configured, directly or
// through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether W3C trace headers go out with requests.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// Validate checks the loaded configuration. ListProviders short-circuits
// the target and prompt checks since nothing is sent.
func (c Config) Validate() error {
	var issues []string

	if !c.ListProviders {
		if len(c.Models) == 0 && strings.TrimSpace(c.Command) == "" {
			issues = append(issues, "at least one --model or a --command is required (use --help for usage information)")
		}
		if strings.TrimSpace(c.Command) != "" && strings.TrimSpace(c.CommandsFile) == "" {
			issues = append(issues, "command: commands_file is required when a command is named")
		}
	}

	issues = append(issues, validateModels(c.Models)...)

	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be >= 0")
	}
	if c.MaxTokens < 0 {
		issues = append(issues, "max_tokens must be >= 0")
	}

	issues = append(issues, validateProviders(c.Providers)...)
	issues = append(issues, validateCacheConfig(c.Cache)...)
	issues = append(issues, validateLogConfig(c.Log)...)

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing: sample_rate must be between 0.0 and 1.0")
	}
	switch strings.ToLower(c.Tracing.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", c.Tracing.Protocol))
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateModels(models []string) []string {
	var issues []string
	seen := map[string]int{}
	for idx, m := range models {
		provider, model, ok := strings.Cut(strings.TrimSpace(m), "/")
		if !ok || strings.TrimSpace(provider) == "" || strings.TrimSpace(model) == "" {
			issues = append(issues, fmt.Sprintf("models[%d]: %q must be provider/model", idx, m))
			continue
		}
		key := strings.ToLower(strings.TrimSpace(provider)) + "/" + strings.TrimSpace(model)
		if prev, ok := seen[key]; ok {
			issues = append(issues, fmt.Sprintf("models[%d]: duplicate target also defined at index %d", idx, prev))
			continue
		}
		seen[key] = idx
	}
	return issues
}

func validateProviders(providers map[string]ProviderConfig) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)

	var issues []string
	for _, name := range names {
		p := providers[name]
		switch strings.ToLower(p.Family) {
		case "", FamilyAuto, FamilyEventStream, FamilyIterator:
		default:
			issues = append(issues, fmt.Sprintf("providers.%s: family must be %q or %q, got %q", name, FamilyEventStream, FamilyIterator, p.Family))
		}
		if p.Rate < 0 {
			issues = append(issues, fmt.Sprintf("providers.%s: rate must be >= 0", name))
		}
		if p.MaxTokens < 0 {
			issues = append(issues, fmt.Sprintf("providers.%s: max_tokens must be >= 0", name))
		}
		if p.APIKey != "" && p.APIKeyEnv != "" {
			issues = append(issues, fmt.Sprintf("providers.%s: api_key and api_key_env are mutually exclusive", name))
		}
	}
	return issues
}

func validateCacheConfig(c CacheConfig) []string {
	var issues []string
	switch strings.ToLower(c.Backend) {
	case "", CacheNone, "off":
	case CacheFile:
		if strings.TrimSpace(c.Path) == "" {
			issues = append(issues, "cache: path is required for the file backend")
		}
	case CacheRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			issues = append(issues, "cache: redis_addr is required for the redis backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("cache: backend must be 'none', 'file' or 'redis', got %q", c.Backend))
	}
	if c.TTL < 0 {
		issues = append(issues, "cache: ttl must be >= 0")
	}
	return issues
}

func validateLogConfig(l LogConfig) []string {
	var issues []string
	switch strings.ToLower(l.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("log: unsupported level %q", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log: format must be 'text' or 'json', got %q", l.Format))
	}
	return issues
}
