package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix       = "CHORUS"
	defaultCacheTTL = 24 * time.Hour
)

// envKeys are the settings readable from CHORUS_* variables, e.g.
// CHORUS_CACHE_BACKEND for cache.backend.
var envKeys = []string{
	"models", "command", "commands_file", "timeout", "retries", "max_tokens",
	"no_color", "stats", "no_cache",
	"cache.backend", "cache.path", "cache.redis_addr", "cache.redis_password", "cache.redis_db", "cache.ttl",
	"log.level", "log.format",
	"tracing.endpoint", "tracing.protocol", "tracing.insecure", "tracing.sample_rate",
	"tracing.service_name", "tracing.propagate",
}

// Loader handles loading configuration from files, the environment and
// command-line arguments, in increasing order of precedence.
type Loader struct {
	// LookupConfigDir returns the directory searched for config.yaml when
	// --config is not given. Defaults to os.UserConfigDir.
	LookupConfigDir func() (string, error)
	// LookupCacheDir returns the directory holding the file cache.
	// Defaults to os.UserCacheDir.
	LookupCacheDir func() (string, error)
}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{
		LookupConfigDir: os.UserConfigDir,
		LookupCacheDir:  os.UserCacheDir,
	}
}

// Load parses command-line arguments and configuration files to produce a
// Config. Positional arguments are joined into the prompt.
func (l Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if configPath == "" {
		configPath = os.Getenv(envPrefix + "_CONFIG")
	}
	if configPath == "" {
		configPath = l.defaultConfigPath()
	}

	cfgViper := viper.New()
	cfgViper.SetEnvPrefix(envPrefix)
	cfgViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for _, key := range envKeys {
		if err := cfgViper.BindEnv(key); err != nil {
			return nil, err
		}
	}
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	cfg := &Config{
		Providers:  map[string]ProviderConfig{},
		ConfigFile: configPath,
		Cache: CacheConfig{
			Backend: CacheFile,
			Path:    l.defaultCachePath(),
			TTL:     defaultCacheTTL,
		},
		Log: LogConfig{Level: "warn", Format: "text"},
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Backend = CacheNone
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Prompt = strings.TrimSpace(strings.Join(flagSet.Args(), " "))
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}

	return cfg, nil
}

func (l Loader) defaultConfigPath() string {
	if l.LookupConfigDir == nil {
		return ""
	}
	dir, err := l.LookupConfigDir()
	if err != nil || dir == "" {
		return ""
	}
	for _, name := range []string{"config.yaml", "config.yml", "config.json"} {
		path := filepath.Join(dir, "chorus", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func (l Loader) defaultCachePath() string {
	if l.LookupCacheDir == nil {
		return ""
	}
	dir, err := l.LookupCacheDir()
	if err != nil || dir == "" {
		return ""
	}
	return filepath.Join(dir, "chorus", "responses.yaml")
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "providers"); ok {
		providers, err := parseProviders(raw)
		if err != nil {
			return fmt.Errorf("providers: %w", err)
		}
		cfg.Providers = providers
	}

	if raw, ok := lookupSetting(settings, "models"); ok {
		models, err := parseModels(raw)
		if err != nil {
			return fmt.Errorf("models: %w", err)
		}
		cfg.Models = models
	}

	if raw, ok := lookupSetting(settings, "command"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("command: %w", err)
		}
		cfg.Command = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "commandsfile", "commands_file", "commands-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("commandsFile: %w", err)
		}
		cfg.CommandsFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}

	if raw, ok := lookupSetting(settings, "retries"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("retries: %w", err)
		}
		cfg.Retries = val
	}

	if raw, ok := lookupSetting(settings, "maxtokens", "max_tokens", "max-tokens"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("maxTokens: %w", err)
		}
		cfg.MaxTokens = val
	}

	if raw, ok := lookupSetting(settings, "nocolor", "no_color", "no-color"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("noColor: %w", err)
		}
		cfg.NoColor = val
	}

	if raw, ok := lookupSetting(settings, "stats"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		cfg.Stats = val
	}

	if raw, ok := lookupSetting(settings, "nocache", "no_cache", "no-cache"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("noCache: %w", err)
		}
		cfg.NoCache = val
	}

	if raw, ok := lookupSetting(settings, "cache"); ok {
		if err := applyCacheSettings(&cfg.Cache, raw); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "log"); ok {
		if err := applyLogSettings(&cfg.Log, raw); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracing(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

// parseModels accepts a list or a comma-separated string, the form
// environment variables arrive in.
func parseModels(value interface{}) ([]string, error) {
	items, err := asStringSlice(value)
	if err != nil {
		return nil, err
	}
	var models []string
	for _, item := range items {
		models = append(models, trimAll(strings.Split(item, ","))...)
	}
	return models, nil
}

func parseProviders(value interface{}) (map[string]ProviderConfig, error) {
	if value == nil {
		return nil, nil
	}
	entries, err := toStringKeyMap(value)
	if err != nil {
		return nil, err
	}
	providers := make(map[string]ProviderConfig, len(entries))
	for name, raw := range entries {
		if name == "" {
			return nil, fmt.Errorf("provider name cannot be empty")
		}
		settings, err := toStringKeyMap(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		provider, err := buildProviderConfig(settings)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		providers[name] = provider
	}
	return providers, nil
}

func buildProviderConfig(settings map[string]interface{}) (ProviderConfig, error) {
	var p ProviderConfig
	if raw, ok := lookupSetting(settings, "family"); ok {
		val, err := asString(raw)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("family: %w", err)
		}
		p.Family = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "baseurl", "base_url", "base-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("base_url: %w", err)
		}
		p.BaseURL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "apikey", "api_key", "api-key"); ok {
		val, err := asString(raw)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("api_key: %w", err)
		}
		p.APIKey = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "apikeyenv", "api_key_env", "api-key-env"); ok {
		val, err := asString(raw)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("api_key_env: %w", err)
		}
		p.APIKeyEnv = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("rate: %w", err)
		}
		p.Rate = val
	}
	if raw, ok := lookupSetting(settings, "maxtokens", "max_tokens", "max-tokens"); ok {
		val, err := asInt(raw)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("max_tokens: %w", err)
		}
		p.MaxTokens = val
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return ProviderConfig{}, fmt.Errorf("headers: %w", err)
		}
		p.Headers = make(map[string]string, len(hdrs))
		for k, v := range hdrs {
			p.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}
	return p, nil
}

func applyCacheSettings(c *CacheConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "backend"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("backend: %w", err)
		}
		c.Backend = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("path: %w", err)
		}
		c.Path = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "redisaddr", "redis_addr", "redis-addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("redis_addr: %w", err)
		}
		c.RedisAddr = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "redispassword", "redis_password", "redis-password"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("redis_password: %w", err)
		}
		c.RedisPassword = val
	}
	if raw, ok := lookupSetting(settings, "redisdb", "redis_db", "redis-db"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("redis_db: %w", err)
		}
		c.RedisDB = val
	}
	if raw, ok := lookupSetting(settings, "ttl"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("ttl: %w", err)
		}
		c.TTL = dur
	}
	return nil
}

func applyLogSettings(l *LogConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("level: %w", err)
		}
		l.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("format: %w", err)
		}
		l.Format = strings.ToLower(strings.TrimSpace(val))
	}
	return nil
}

func parseTracing(value interface{}) (TracingConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	var t TracingConfig
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		t.Propagate = &val
	}
	return t, nil
}
