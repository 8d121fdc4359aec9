package ai

import (
	"fmt"
	"strings"
)

// Default model ids per provider.
const (
	ModelClaudeSonnet = "claude-3-7-sonnet-20250219"
	ModelClaudeHaiku  = "claude-3-5-haiku-20241022"
	ModelGPT4o        = "gpt-4o"
	ModelGPT4oMini    = "gpt-4o-mini"
	ModelGeminiPro    = "gemini-2.5-pro"
	ModelGeminiFlash  = "gemini-2.5-flash"
)

var modelPrefixes = []struct {
	prefix   string
	provider AIProvider
}{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"chatgpt", ProviderOpenAI},
	{"gemini", ProviderGemini},
}

// ProviderForModel resolves the provider serving a model id.
func ProviderForModel(model string) (AIProvider, error) {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, p := range modelPrefixes {
		if strings.HasPrefix(m, p.prefix) {
			return p.provider, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// ModelPair is an agent's primary and fallback model.
type ModelPair struct {
	Primary  string `json:"primary"`
	Fallback string `json:"fallback"`
}

// DefaultAgentModels holds the per-agent defaults used when neither the job
// nor the request picks a model. Keys are agent ids.
var DefaultAgentModels = map[string]ModelPair{
	"function-planner":    {Primary: ModelClaudeSonnet, Fallback: ModelGPT4o},
	"state-design":        {Primary: ModelClaudeSonnet, Fallback: ModelGPT4o},
	"jsx-layout":          {Primary: ModelClaudeSonnet, Fallback: ModelGPT4o},
	"tailwind-styling":    {Primary: ModelClaudeSonnet, Fallback: ModelGPT4o},
	"component-assembler": {Primary: ModelClaudeSonnet, Fallback: ModelGPT4o},
	"code-validator":      {Primary: ModelClaudeHaiku, Fallback: ModelGPT4oMini},
	"tool-finalizer":      {Primary: ModelClaudeHaiku, Fallback: ModelGPT4oMini},
}

// fallbackByProvider is the model tried when a provider fails.
var fallbackByProvider = map[AIProvider][]string{
	ProviderAnthropic: {ModelGPT4o, ModelGeminiPro},
	ProviderOpenAI:    {ModelClaudeSonnet, ModelGeminiPro},
	ProviderGemini:    {ModelClaudeSonnet, ModelGPT4o},
}

// ModelRegistry picks models for agents given the configured providers.
type ModelRegistry struct {
	defaultModel string
	available    map[AIProvider]bool
}

// NewModelRegistry creates a registry. available lists providers with a
// configured client; defaultModel overrides every agent's primary when set.
func NewModelRegistry(defaultModel string, available []AIProvider) *ModelRegistry {
	r := &ModelRegistry{defaultModel: defaultModel, available: make(map[AIProvider]bool)}
	for _, p := range available {
		r.available[p] = true
	}
	return r
}

// IsAvailable reports whether a client serves the model's provider.
func (r *ModelRegistry) IsAvailable(model string) bool {
	p, err := ProviderForModel(model)
	return err == nil && r.available[p]
}

// PrimaryFor returns the model an agent uses on its first attempt.
func (r *ModelRegistry) PrimaryFor(agentID string) string {
	if r.defaultModel != "" && r.IsAvailable(r.defaultModel) {
		return r.defaultModel
	}
	if pair, ok := DefaultAgentModels[agentID]; ok {
		if r.IsAvailable(pair.Primary) {
			return pair.Primary
		}
		if r.IsAvailable(pair.Fallback) {
			return pair.Fallback
		}
	}
	return r.firstAvailable()
}

// FallbackFor returns a model on a different provider than primary, or ""
// when none is configured.
func (r *ModelRegistry) FallbackFor(agentID, primary string) string {
	primaryProvider, _ := ProviderForModel(primary)

	if pair, ok := DefaultAgentModels[agentID]; ok {
		for _, m := range []string{pair.Fallback, pair.Primary} {
			p, err := ProviderForModel(m)
			if err == nil && p != primaryProvider && r.available[p] {
				return m
			}
		}
	}
	for _, m := range fallbackByProvider[primaryProvider] {
		p, _ := ProviderForModel(m)
		if r.available[p] {
			return m
		}
	}
	return ""
}

func (r *ModelRegistry) firstAvailable() string {
	for _, p := range AllProviders {
		if !r.available[p] {
			continue
		}
		switch p {
		case ProviderAnthropic:
			return ModelClaudeSonnet
		case ProviderOpenAI:
			return ModelGPT4o
		case ProviderGemini:
			return ModelGeminiPro
		}
	}
	return ModelClaudeSonnet
}
