// Package prompts resolves the system and user prompts each pipeline agent
// sends to the model.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

//go:embed prompts.yaml
var embeddedPrompts []byte

// DefaultKey is the template used for agents without their own entry.
const DefaultKey = "default"

// Template is one agent's prompt entry.
type Template struct {
	System      string  `yaml:"system"`
	Edit        string  `yaml:"edit"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Manager holds prompt templates keyed by agent id.
type Manager struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// New returns a manager loaded with the embedded templates.
func New() (*Manager, error) {
	templates, err := parse(embeddedPrompts)
	if err != nil {
		return nil, fmt.Errorf("embedded prompts: %w", err)
	}
	if _, ok := templates[DefaultKey]; !ok {
		return nil, fmt.Errorf("embedded prompts: missing %q entry", DefaultKey)
	}
	return &Manager{templates: templates}, nil
}

// MustNew is New for wiring code paths where the embedded file is known good.
func MustNew() *Manager {
	m, err := New()
	if err != nil {
		panic(err)
	}
	return m
}

// LoadFile merges an operator override file on top of the current templates.
// Fields left empty in the file keep their current values.
func (m *Manager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prompts file: %w", err)
	}
	overrides, err := parse(data)
	if err != nil {
		return fmt.Errorf("prompts file %s: %w", path, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, o := range overrides {
		cur := m.templates[key]
		if o.System != "" {
			cur.System = o.System
		}
		if o.Edit != "" {
			cur.Edit = o.Edit
		}
		if o.Temperature > 0 {
			cur.Temperature = o.Temperature
		}
		if o.MaxTokens > 0 {
			cur.MaxTokens = o.MaxTokens
		}
		m.templates[key] = cur
	}
	logging.L().Info("prompt overrides loaded", zap.String("path", path), zap.Int("entries", len(overrides)))
	return nil
}

func parse(data []byte) (map[string]Template, error) {
	out := make(map[string]Template)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Template returns the agent's entry with empty fields filled from default.
func (m *Manager) Template(agentID tcc.AgentID) Template {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def := m.templates[DefaultKey]
	t, ok := m.templates[string(agentID)]
	if !ok {
		return def
	}
	if t.System == "" {
		t.System = def.System
	}
	if t.Edit == "" {
		t.Edit = def.Edit
	}
	if t.Temperature == 0 {
		t.Temperature = def.Temperature
	}
	if t.MaxTokens == 0 {
		t.MaxTokens = def.MaxTokens
	}
	return t
}

// System returns the agent's system prompt, with the edit addendum in edit mode.
func (m *Manager) System(agentID tcc.AgentID, editMode bool) string {
	t := m.Template(agentID)
	if !editMode || t.Edit == "" {
		return t.System
	}
	return t.System + "\n" + t.Edit
}
