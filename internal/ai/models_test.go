package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderForModel(t *testing.T) {
	tests := map[string]AIProvider{
		"claude-3-7-sonnet-20250219": ProviderAnthropic,
		"Claude-Opus":                ProviderAnthropic,
		"gpt-4o-mini":                ProviderOpenAI,
		"o3-mini":                    ProviderOpenAI,
		"gemini-2.5-flash":           ProviderGemini,
	}
	for model, want := range tests {
		got, err := ProviderForModel(model)
		require.NoError(t, err, model)
		assert.Equal(t, want, got, model)
	}

	_, err := ProviderForModel("mistral-large")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestRegistryPrimaryFor(t *testing.T) {
	all := NewModelRegistry("", AllProviders)
	assert.Equal(t, ModelClaudeSonnet, all.PrimaryFor("jsx-layout"))
	assert.Equal(t, ModelClaudeHaiku, all.PrimaryFor("code-validator"))

	openaiOnly := NewModelRegistry("", []AIProvider{ProviderOpenAI})
	assert.Equal(t, ModelGPT4o, openaiOnly.PrimaryFor("jsx-layout"))

	overridden := NewModelRegistry("gemini-2.5-flash", AllProviders)
	assert.Equal(t, "gemini-2.5-flash", overridden.PrimaryFor("state-design"))

	geminiOnly := NewModelRegistry("", []AIProvider{ProviderGemini})
	assert.Equal(t, ModelGeminiPro, geminiOnly.PrimaryFor("unknown-agent"))
}

func TestRegistryFallbackUsesAnotherProvider(t *testing.T) {
	r := NewModelRegistry("", AllProviders)
	assert.Equal(t, ModelGPT4o, r.FallbackFor("state-design", ModelClaudeSonnet))
	assert.Equal(t, ModelClaudeSonnet, r.FallbackFor("state-design", ModelGPT4o))

	geminiAndClaude := NewModelRegistry("", []AIProvider{ProviderAnthropic, ProviderGemini})
	assert.Equal(t, ModelGeminiPro, geminiAndClaude.FallbackFor("state-design", ModelClaudeSonnet))

	single := NewModelRegistry("", []AIProvider{ProviderAnthropic})
	assert.Empty(t, single.FallbackFor("state-design", ModelClaudeSonnet))
}
