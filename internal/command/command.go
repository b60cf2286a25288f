// Package command resolves named commands from a YAML file. A command
// carries instruction content and the targets it runs against; more than
// one target makes it a race.
package command

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/chorus/internal/backend"
	"github.com/torosent/chorus/internal/runner"
)

// ErrUnknownCommand is returned by Resolve for names not in the file.
var ErrUnknownCommand = errors.New("command: unknown command")

// Model is one provider/model entry of a command.
type Model struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Command is a named instruction bound to its targets.
type Command struct {
	Name    string  `yaml:"name"`
	Content string  `yaml:"content"`
	Models  []Model `yaml:"models"`
}

type document struct {
	Commands []Command `yaml:"commands"`
}

// Resolved is a command applied to user input.
type Resolved struct {
	Name      string
	Content   string
	UserInput string
	Models    []runner.Target
}

// Race reports whether the command fans out to several targets.
func (r Resolved) Race() bool {
	return len(r.Models) > 1
}

// Messages builds the conversation sent to each target.
func (r Resolved) Messages() []backend.Message {
	return Messages(r.Content, r.UserInput)
}

// Messages turns instruction content and user input into a conversation.
// Content becomes the system message when user input is present; on its
// own it is the user message.
func Messages(content, input string) []backend.Message {
	content = strings.TrimSpace(content)
	input = strings.TrimSpace(input)
	switch {
	case content == "" && input == "":
		return nil
	case content == "":
		return []backend.Message{{Role: backend.RoleUser, Content: input}}
	case input == "":
		return []backend.Message{{Role: backend.RoleUser, Content: content}}
	default:
		return []backend.Message{
			{Role: backend.RoleSystem, Content: content},
			{Role: backend.RoleUser, Content: input},
		}
	}
}

// Resolver looks commands up by name, case-insensitively.
type Resolver struct {
	commands map[string]resolvedCommand
}

type resolvedCommand struct {
	name    string
	content string
	targets []runner.Target
}

// Load reads and validates a commands file.
func Load(path string) (*Resolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("command: %w", err)
	}
	defer f.Close()
	r, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse decodes a commands document. Both a top-level "commands" key and a
// bare list are accepted.
func Parse(r io.Reader) (*Resolver, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	commands, err := decode(data)
	if err != nil {
		return nil, err
	}

	res := &Resolver{commands: make(map[string]resolvedCommand, len(commands))}
	for idx, c := range commands {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" {
			return nil, fmt.Errorf("commands[%d]: name is required", idx)
		}
		if _, dup := res.commands[name]; dup {
			return nil, fmt.Errorf("commands[%d]: duplicate command %q", idx, c.Name)
		}
		targets, err := toTargets(c.Models)
		if err != nil {
			return nil, fmt.Errorf("commands[%d] %q: %w", idx, c.Name, err)
		}
		res.commands[name] = resolvedCommand{name: strings.TrimSpace(c.Name), content: c.Content, targets: targets}
	}
	return res, nil
}

func decode(data []byte) ([]Command, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '-' {
		var list []Command
		if err := yaml.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("command: decode: %w", err)
		}
		return list, nil
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("command: decode: %w", err)
	}
	return doc.Commands, nil
}

func toTargets(models []Model) ([]runner.Target, error) {
	if len(models) == 0 {
		return nil, errors.New("at least one model is required")
	}
	targets := make([]runner.Target, 0, len(models))
	seen := make(map[runner.Target]bool, len(models))
	for idx, m := range models {
		t, err := runner.ParseTarget(m.Provider + "/" + m.Model)
		if err != nil {
			return nil, fmt.Errorf("models[%d]: %w", idx, err)
		}
		if seen[t] {
			return nil, fmt.Errorf("models[%d]: duplicate target %s", idx, t)
		}
		seen[t] = true
		targets = append(targets, t)
	}
	return targets, nil
}

// Resolve applies the named command to userInput.
func (r *Resolver) Resolve(name, userInput string) (Resolved, error) {
	c, ok := r.commands[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Resolved{}, fmt.Errorf("%w %q", ErrUnknownCommand, name)
	}
	return Resolved{
		Name:      c.name,
		Content:   c.content,
		UserInput: userInput,
		Models:    append([]runner.Target(nil), c.targets...),
	}, nil
}

// Names lists the known commands in sorted order.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.commands))
	for _, c := range r.commands {
		names = append(names, c.name)
	}
	sort.Strings(names)
	return names
}
