package backend

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/torosent/chorus/internal/stream"
)

// Builtin describes a provider chorus knows out of the box.
type Builtin struct {
	Name    string
	Family  stream.Family
	BaseURL string
	KeyEnv  string
}

var builtins = map[string]Builtin{
	"openai":     {Name: "openai", Family: stream.FamilyIterator, BaseURL: "https://api.openai.com/v1", KeyEnv: "OPENAI_API_KEY"},
	"anthropic":  {Name: "anthropic", Family: stream.FamilyEventStream, BaseURL: "https://api.anthropic.com", KeyEnv: "ANTHROPIC_API_KEY"},
	"openrouter": {Name: "openrouter", Family: stream.FamilyIterator, BaseURL: "https://openrouter.ai/api/v1", KeyEnv: "OPENROUTER_API_KEY"},
	"deepseek":   {Name: "deepseek", Family: stream.FamilyIterator, BaseURL: "https://api.deepseek.com", KeyEnv: "DEEPSEEK_API_KEY"},
	"groq":       {Name: "groq", Family: stream.FamilyIterator, BaseURL: "https://api.groq.com/openai/v1", KeyEnv: "GROQ_API_KEY"},
	"mistral":    {Name: "mistral", Family: stream.FamilyIterator, BaseURL: "https://api.mistral.ai/v1", KeyEnv: "MISTRAL_API_KEY"},
	"xai":        {Name: "xai", Family: stream.FamilyIterator, BaseURL: "https://api.x.ai/v1", KeyEnv: "XAI_API_KEY"},
	"ollama":     {Name: "ollama", Family: stream.FamilyIterator, BaseURL: "http://localhost:11434/v1"},
}

// LookupBuiltin returns the defaults for a known provider.
func LookupBuiltin(name string) (Builtin, bool) {
	b, ok := builtins[strings.ToLower(strings.TrimSpace(name))]
	return b, ok
}

// Builtins lists the known providers sorted by name.
func Builtins() []Builtin {
	out := make([]Builtin, 0, len(builtins))
	for _, b := range builtins {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// New builds an HTTP backend for family. An empty or auto family falls back
// to the builtin entry for name.
func New(name string, family stream.Family, s Settings) (Backend, error) {
	if family == "" || family == stream.FamilyAuto {
		b, ok := LookupBuiltin(name)
		if !ok {
			return nil, fmt.Errorf("%w %q: family must be set for custom providers", ErrUnknownProvider, name)
		}
		family = b.Family
		if strings.TrimSpace(s.BaseURL) == "" {
			s.BaseURL = b.BaseURL
		}
	}
	if strings.TrimSpace(s.BaseURL) == "" {
		if b, ok := LookupBuiltin(name); ok {
			s.BaseURL = b.BaseURL
		}
	}

	switch family {
	case stream.FamilyIterator:
		return NewOpenAI(name, s)
	case stream.FamilyEventStream:
		return NewAnthropic(name, s)
	default:
		return nil, fmt.Errorf("provider %q: unsupported family %q", name, family)
	}
}

// Registry maps provider keys to backends. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds or replaces the backend for key.
func (r *Registry) Register(key string, b Backend) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return fmt.Errorf("provider key is required")
	}
	if b == nil {
		return fmt.Errorf("provider %q: backend is nil", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[key] = b
	return nil
}

// Get returns the backend for key.
func (r *Registry) Get(key string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, key)
	}
	return b, nil
}

// Keys returns the registered provider keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.backends))
	for k := range r.backends {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
