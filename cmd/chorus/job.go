package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/torosent/chorus/internal/backend"
	"github.com/torosent/chorus/internal/command"
	"github.com/torosent/chorus/internal/config"
	"github.com/torosent/chorus/internal/runner"
)

// maxStdinPrompt bounds how much piped input becomes the prompt.
const maxStdinPrompt = 1 << 20

var errNoPrompt = errors.New("no prompt: pass it as arguments or pipe it on stdin")

// job is one resolved invocation: what to send and to whom.
type job struct {
	command string
	content string
	input   string
	targets []runner.Target
}

func (j job) messages() []backend.Message {
	return command.Messages(j.content, j.input)
}

// scope distinguishes cache entries for the same text sent to different
// commands or target sets.
func (j job) scope() string {
	names := make([]string, len(j.targets))
	for i, t := range j.targets {
		names[i] = t.String()
	}
	return j.command + "|" + strings.Join(names, ",")
}

func resolveJob(cfg *config.Config, stdin io.Reader) (job, error) {
	input := cfg.Prompt
	if input == "" && stdin != nil && !isTerminal(stdin) {
		data, err := io.ReadAll(io.LimitReader(stdin, maxStdinPrompt))
		if err != nil {
			return job{}, fmt.Errorf("read prompt: %w", err)
		}
		input = strings.TrimSpace(string(data))
	}

	var j job
	if cfg.Command != "" {
		resolver, err := command.Load(cfg.CommandsFile)
		if err != nil {
			return job{}, err
		}
		resolved, err := resolver.Resolve(cfg.Command, input)
		if err != nil {
			return job{}, err
		}
		j = job{command: resolved.Name, content: resolved.Content, input: resolved.UserInput, targets: resolved.Models}
	} else {
		j.input = input
	}

	// Explicit --model flags replace a command's own targets.
	if len(cfg.Models) > 0 {
		targets := make([]runner.Target, 0, len(cfg.Models))
		for _, m := range cfg.Models {
			t, err := runner.ParseTarget(m)
			if err != nil {
				return job{}, err
			}
			targets = append(targets, t)
		}
		j.targets = targets
	}

	if len(j.targets) == 0 {
		return job{}, errors.New("no targets: pass --model provider/model or a --command")
	}
	if strings.TrimSpace(j.content) == "" && strings.TrimSpace(j.input) == "" {
		return job{}, errNoPrompt
	}
	return j, nil
}

func warnMissingKeys(cfg *config.Config, targets []runner.Target, logger *slog.Logger) {
	seen := map[string]bool{}
	for _, t := range targets {
		if seen[t.Provider] {
			continue
		}
		seen[t.Provider] = true
		builtin, ok := backend.LookupBuiltin(t.Provider)
		if !ok || builtin.KeyEnv == "" {
			continue
		}
		if cfg.Providers[t.Provider].ResolveAPIKey(builtin.KeyEnv) == "" {
			logger.Warn("no API key configured", "provider", t.Provider, "env", builtin.KeyEnv)
		}
	}
}
