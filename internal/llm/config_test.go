package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultGeminiConfig(t *testing.T) {
	config := DefaultGeminiConfig("")

	assert.Equal(t, ProviderGemini, config.Provider)
	assert.Equal(t, "gemini-2.5-flash-lite", config.GetModel(TierShort))
	assert.Equal(t, "gemini-2.5-flash", config.GetModel(TierLong))
}

func TestDefaultGeminiConfig_ModelOverride(t *testing.T) {
	config := DefaultGeminiConfig("gemini-2.5-pro")

	assert.Equal(t, "gemini-2.5-pro", config.GetModel(TierLong))
	assert.Equal(t, "gemini-2.5-flash-lite", config.GetModel(TierShort))
}

func TestGetModel_Fallback(t *testing.T) {
	config := &Config{
		Provider: ProviderGemini,
		Models:   map[ModelTier]string{TierLong: "fallback-model"},
	}
	assert.Equal(t, "fallback-model", config.GetModel(TierShort))

	empty := &Config{Provider: ProviderGemini, Models: map[ModelTier]string{}}
	assert.Equal(t, "", empty.GetModel(TierLong))
}
