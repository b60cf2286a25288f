package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chorus [flags] [prompt...]",
		Short:         "Send one prompt to several LLM backends and stream the fastest answer",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Target flags
	flags.StringSliceP("model", "m", nil, "Target as provider/model (repeatable; more than one races them)")
	flags.StringP("command", "C", "", "Named command from the commands file; its models and content are used")
	flags.String("commands-file", "", "Path to YAML file defining named commands")
	flags.Int("max-tokens", 0, "Maximum tokens per response (0 uses the provider default)")

	// Execution flags
	flags.Duration("timeout", 0, "Per-target timeout; an expired target is aborted (0 means none)")
	flags.Int("retries", 0, "Retries for failed stream opens (429, 5xx, network errors)")

	// Output flags
	flags.Bool("no-color", false, "Disable colored headers")
	flags.Bool("stats", false, "Print per-target latency statistics after the summary")
	flags.Bool("list-providers", false, "List known providers and exit")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Cache flags
	flags.Bool("no-cache", false, "Bypass the response cache")
	flags.String("cache", "", "Cache backend: 'none', 'file' or 'redis'")
	flags.String("cache-path", "", "Path of the file cache")
	flags.Duration("cache-ttl", 0, "How long cached responses stay valid (0 means forever)")
	flags.String("redis-addr", "", "Redis address for the redis cache backend")

	// Logging flags
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.String("log-format", "", "Log format: text or json")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "", "OTLP protocol: grpc or http")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 0, "Trace sampling ratio between 0.0 and 1.0")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n%s\n\nFlags:\n", cmd.UseLine(), cmd.Short)
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("model") {
		val, err := fs.GetStringSlice("model")
		if err != nil {
			return err
		}
		cfg.Models = trimAll(val)
	}
	if fs.Changed("command") {
		val, err := fs.GetString("command")
		if err != nil {
			return err
		}
		cfg.Command = strings.TrimSpace(val)
	}
	if fs.Changed("commands-file") {
		val, err := fs.GetString("commands-file")
		if err != nil {
			return err
		}
		cfg.CommandsFile = strings.TrimSpace(val)
	}
	if fs.Changed("max-tokens") {
		val, err := fs.GetInt("max-tokens")
		if err != nil {
			return err
		}
		cfg.MaxTokens = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("retries") {
		val, err := fs.GetInt("retries")
		if err != nil {
			return err
		}
		cfg.Retries = val
	}
	if fs.Changed("no-color") {
		val, err := fs.GetBool("no-color")
		if err != nil {
			return err
		}
		cfg.NoColor = val
	}
	if fs.Changed("stats") {
		val, err := fs.GetBool("stats")
		if err != nil {
			return err
		}
		cfg.Stats = val
	}
	if fs.Changed("list-providers") {
		val, err := fs.GetBool("list-providers")
		if err != nil {
			return err
		}
		cfg.ListProviders = val
	}
	if fs.Changed("no-cache") {
		val, err := fs.GetBool("no-cache")
		if err != nil {
			return err
		}
		cfg.NoCache = val
	}
	if fs.Changed("cache") {
		val, err := fs.GetString("cache")
		if err != nil {
			return err
		}
		cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("cache-path") {
		val, err := fs.GetString("cache-path")
		if err != nil {
			return err
		}
		cfg.Cache.Path = strings.TrimSpace(val)
	}
	if fs.Changed("cache-ttl") {
		val, err := fs.GetDuration("cache-ttl")
		if err != nil {
			return err
		}
		cfg.Cache.TTL = val
	}
	if fs.Changed("redis-addr") {
		val, err := fs.GetString("redis-addr")
		if err != nil {
			return err
		}
		cfg.Cache.RedisAddr = strings.TrimSpace(val)
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
