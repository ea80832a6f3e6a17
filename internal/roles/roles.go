// Package roles stores named prompt presets and composes final prompts
// for external CLI agents.
package roles

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnknownRole is returned when an (agent, role) pair is not configured.
var ErrUnknownRole = errors.New("unknown role")

// DefaultRole is the fallback preset an agent may define.
const DefaultRole = "default"

// Template is one prompt preset for one agent. Immutable once loaded.
type Template struct {
	Agent       string
	Name        string
	Text        string   // role prompt, prepended to every invocation
	Args        []string // extra CLI arguments for this role
	Description string
}

// Store resolves (agent, role) pairs to templates. Read-only after New.
type Store struct {
	templates map[string]Template // key: agent "\x00" role, lowercased
}

func key(agent, role string) string {
	return strings.ToLower(agent) + "\x00" + strings.ToLower(role)
}

// NewStore builds a store from the given templates.
func NewStore(templates []Template) (*Store, error) {
	m := make(map[string]Template, len(templates))
	for _, tmpl := range templates {
		if tmpl.Agent == "" || tmpl.Name == "" {
			return nil, fmt.Errorf("role template missing agent or name: %+v", tmpl)
		}
		if strings.TrimSpace(tmpl.Text) == "" {
			return nil, fmt.Errorf("role %q for agent %q has empty prompt text", tmpl.Name, tmpl.Agent)
		}
		k := key(tmpl.Agent, tmpl.Name)
		if _, dup := m[k]; dup {
			return nil, fmt.Errorf("duplicate role %q for agent %q", tmpl.Name, tmpl.Agent)
		}
		m[k] = tmpl
	}
	return &Store{templates: m}, nil
}

// Resolve returns the template for (agent, role). When fallback is set
// and the pair is absent, the agent's default role is tried before
// giving up. The fallback is never applied silently: callers opt in.
func (s *Store) Resolve(agent, role string, fallback bool) (Template, error) {
	if role == "" {
		role = DefaultRole
	}
	if tmpl, ok := s.templates[key(agent, role)]; ok {
		return tmpl, nil
	}
	if fallback && role != DefaultRole {
		if tmpl, ok := s.templates[key(agent, DefaultRole)]; ok {
			return tmpl, nil
		}
	}
	available := s.Roles(agent)
	// An agent with no roles configured at all runs with a bare prompt.
	// Only the implicit default: asking for a named role still fails.
	if len(available) == 0 && role == DefaultRole {
		return Template{Agent: agent, Name: DefaultRole}, nil
	}
	return Template{}, fmt.Errorf("%w: %q for agent %q (available: %s)",
		ErrUnknownRole, role, agent, strings.Join(available, ", "))
}

// Roles returns the role names configured for an agent, sorted.
func (s *Store) Roles(agent string) []string {
	prefix := strings.ToLower(agent) + "\x00"
	var names []string
	for k, tmpl := range s.templates {
		if strings.HasPrefix(k, prefix) {
			names = append(names, tmpl.Name)
		}
	}
	sort.Strings(names)
	return names
}

// manifest is the YAML shape of one role manifest file.
type manifest struct {
	Agent string               `yaml:"agent"`
	Roles map[string]roleEntry `yaml:"roles"`
}

type roleEntry struct {
	Prompt      string   `yaml:"prompt"`
	PromptFile  string   `yaml:"prompt_file"`
	Args        []string `yaml:"args"`
	Description string   `yaml:"description"`
}

// LoadFile reads role templates from a YAML manifest. prompt_file paths
// are resolved relative to the manifest's directory.
func LoadFile(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Agent == "" {
		return nil, fmt.Errorf("%s: manifest missing agent name", path)
	}

	baseDir := filepath.Dir(path)

	names := make([]string, 0, len(m.Roles))
	for name := range m.Roles {
		names = append(names, name)
	}
	sort.Strings(names)

	templates := make([]Template, 0, len(names))
	for _, name := range names {
		entry := m.Roles[name]
		text := entry.Prompt
		if text == "" && entry.PromptFile != "" {
			promptPath := entry.PromptFile
			if !filepath.IsAbs(promptPath) {
				promptPath = filepath.Join(baseDir, promptPath)
			}
			raw, err := os.ReadFile(promptPath)
			if err != nil {
				return nil, fmt.Errorf("role %q for agent %q: %w", name, m.Agent, err)
			}
			text = string(raw)
		}
		templates = append(templates, Template{
			Agent:       m.Agent,
			Name:        name,
			Text:        text,
			Args:        entry.Args,
			Description: entry.Description,
		})
	}
	return templates, nil
}

// LoadDir reads every *.yaml and *.yml manifest in dir.
func LoadDir(dir string) ([]Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read roles dir: %w", err)
	}

	var templates []Template
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		fileTemplates, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		templates = append(templates, fileTemplates...)
	}
	return templates, nil
}
