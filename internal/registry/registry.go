// Package registry holds the configured set of external CLI agents.
//
// Configurations are loaded once at startup and are immutable; reload
// builds a complete new set and swaps it in atomically, so readers
// never observe a partially-updated agent.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// ErrUnknownAgent is returned when a requested agent is not configured.
var ErrUnknownAgent = errors.New("unknown agent")

// OutputFormat tags how an agent's stdout is to be interpreted.
type OutputFormat string

const (
	FormatJSONL OutputFormat = "jsonl" // one JSON object per line
	FormatJSON  OutputFormat = "json"  // a single JSON object
	FormatText  OutputFormat = "text"  // plain text, stdout verbatim
)

// Valid reports whether f is a supported output format.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatJSONL, FormatJSON, FormatText:
		return true
	}
	return false
}

// OutputCapture configures agents that write their result to a file
// instead of stdout. FlagTemplate must contain a {path} placeholder.
type OutputCapture struct {
	FlagTemplate string `toml:"flag_template"`
	Cleanup      bool   `toml:"cleanup"`
}

// AgentConfig describes how to invoke one external CLI agent and how to
// interpret its output. Immutable once loaded.
type AgentConfig struct {
	Name       string
	Executable string            // resolved via PATH at launch time
	Args       []string          // fixed arguments, always passed
	Env        map[string]string // overlaid on the parent environment
	WorkingDir string            // empty means inherit
	Format     OutputFormat
	Timeout    time.Duration
	Capture    *OutputCapture
}

// Validate checks an AgentConfig for structural problems.
func (c AgentConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("agent config missing name")
	}
	if strings.TrimSpace(c.Executable) == "" {
		return fmt.Errorf("agent %q missing command", c.Name)
	}
	if !c.Format.Valid() {
		return fmt.Errorf("agent %q has unsupported output format %q", c.Name, c.Format)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("agent %q has non-positive timeout", c.Name)
	}
	if c.Capture != nil && !strings.Contains(c.Capture.FlagTemplate, "{path}") {
		return fmt.Errorf("agent %q output capture flag template missing {path} placeholder", c.Name)
	}
	return nil
}

// Registry resolves agent names to configurations.
type Registry struct {
	agents atomic.Pointer[map[string]AgentConfig]
}

// New builds a registry from the given configurations. Duplicate names
// are rejected; lookup is case-insensitive.
func New(configs []AgentConfig) (*Registry, error) {
	m, err := buildMap(configs)
	if err != nil {
		return nil, err
	}
	r := &Registry{}
	r.agents.Store(&m)
	return r, nil
}

func buildMap(configs []AgentConfig) (map[string]AgentConfig, error) {
	if len(configs) == 0 {
		return nil, errors.New("no agents configured")
	}
	m := make(map[string]AgentConfig, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(cfg.Name)
		if _, dup := m[key]; dup {
			return nil, fmt.Errorf("duplicate agent %q", cfg.Name)
		}
		m[key] = cfg
	}
	return m, nil
}

// Resolve returns the configuration for the named agent.
func (r *Registry) Resolve(name string) (AgentConfig, error) {
	m := *r.agents.Load()
	cfg, ok := m[strings.ToLower(name)]
	if !ok {
		return AgentConfig{}, fmt.Errorf("%w: %q (available: %s)",
			ErrUnknownAgent, name, strings.Join(r.List(), ", "))
	}
	return cfg, nil
}

// List returns the configured agent names, sorted.
func (r *Registry) List() []string {
	m := *r.agents.Load()
	names := make([]string, 0, len(m))
	for _, cfg := range m {
		names = append(names, cfg.Name)
	}
	sort.Strings(names)
	return names
}

// Replace swaps in a complete new configuration set. Readers either see
// the old set or the new one, never a mix.
func (r *Registry) Replace(configs []AgentConfig) error {
	m, err := buildMap(configs)
	if err != nil {
		return err
	}
	r.agents.Store(&m)
	return nil
}
