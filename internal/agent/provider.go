// Package agent runs external coding-agent CLI processes for features,
// streaming their structured output, persisting transcripts, and handling
// cancellation.
package agent

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/automaker/pkg/models"
)

//go:embed providers.yaml
var embeddedProviders []byte

// EventType classifies runner events.
type EventType string

const (
	// EventStream carries the accumulated text of the current assistant turn.
	EventStream EventType = "stream"
	// EventToolUse reports one tool invocation by the agent.
	EventToolUse EventType = "tool_use"
	// EventResult finalizes the turn with a summary.
	EventResult EventType = "result"
	// EventLog copies through messages the parser does not understand.
	EventLog EventType = "log"
	// EventError carries child stderr output and read failures.
	EventError EventType = "error"
)

// Event is one unit of agent output delivered to subscribers.
type Event struct {
	Type      EventType       `json:"type"`
	FeatureID string          `json:"featureId,omitempty"`
	Text      string          `json:"text,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	ToolInput json.RawMessage `json:"toolInput,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// ToolCall records one tool invocation observed during a run.
type ToolCall struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// RunConfig describes one agent invocation.
type RunConfig struct {
	FeatureID       string
	ProjectPath     string
	WorkDir         string
	Prompt          string
	Model           string
	ThinkingLevel   models.ThinkingLevel
	ReasoningEffort models.ReasoningEffort
	AllowedTools    []string
	BridgeEndpoint  string
	BridgeToken     string
	Images          []ImageBlock
}

// Provider adapts one external agent CLI: how to invoke it and how to parse
// its stdout.
type Provider interface {
	// Name is the config-facing provider key.
	Name() string
	// Command is the binary resolved on PATH.
	Command() string
	// BuildArgs assembles the argument list for one run.
	BuildArgs(cfg RunConfig) []string
	// ParseLine turns one stdout line into events. Text on EventStream
	// events is the delta for the current turn; the runner accumulates.
	// ok=false means the line is not structured output and should be
	// copied through as a log event.
	ParseLine(line []byte) (events []Event, ok bool)
}

// providerSpec is one entry of the providers.yaml registry.
type providerSpec struct {
	Name                    string `yaml:"name"`
	Command                 string `yaml:"command"`
	Parser                  string `yaml:"parser"`
	DefaultModel            string `yaml:"defaultModel"`
	SupportsThinking        bool   `yaml:"supportsThinking"`
	SupportsReasoningEffort bool   `yaml:"supportsReasoningEffort"`
}

type providerFile struct {
	Providers []providerSpec `yaml:"providers"`
}

// Registry resolves provider names to Provider implementations. The embedded
// defaults can be overlaid with a user-supplied registry file.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]providerSpec
}

// NewRegistry loads the embedded provider registry.
func NewRegistry() (*Registry, error) {
	r := &Registry{specs: make(map[string]providerSpec)}
	if err := r.load(embeddedProviders); err != nil {
		return nil, fmt.Errorf("parse embedded provider registry: %w", err)
	}
	return r, nil
}

// LoadFile overlays provider entries from a YAML file on disk. Entries with
// a known name replace the embedded defaults.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return r.load(data)
}

func (r *Registry) load(data []byte) error {
	var f providerFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, spec := range f.Providers {
		if spec.Name == "" || spec.Command == "" {
			return fmt.Errorf("provider entry missing name or command")
		}
		r.specs[spec.Name] = spec
	}
	return nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Provider builds the Provider for a registered name.
func (r *Registry) Provider(name string) (Provider, error) {
	r.mu.RLock()
	spec, ok := r.specs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	switch spec.Parser {
	case "claude-stream-json":
		return &claudeProvider{spec: spec}, nil
	case "lines", "":
		return &lineProvider{spec: spec}, nil
	default:
		return nil, fmt.Errorf("provider %q: unknown parser %q", name, spec.Parser)
	}
}

// DefaultModel returns the registry default model for a provider, if any.
func (r *Registry) DefaultModel(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs[name].DefaultModel
}
