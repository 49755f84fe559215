// Package llm provides the language-model client used by the Gemini content
// gateway backend.
package llm

// ModelTier matches the gateway's two call tiers.
type ModelTier string

const (
	// TierShort is for distillation, question variants and index analysis
	TierShort ModelTier = "short"
	// TierLong is for full article generation
	TierLong ModelTier = "long"
)

// Provider represents an LLM provider.
type Provider string

// ProviderGemini is the Google Gemini provider.
const ProviderGemini Provider = "gemini"

// Config holds the model configuration.
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	Temperature float32
}

// DefaultGeminiConfig returns a Gemini configuration. model, when set,
// overrides the long-tier model.
func DefaultGeminiConfig(model string) *Config {
	cfg := &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierShort: "gemini-2.5-flash-lite",
			TierLong:  "gemini-2.5-flash",
		},
		Temperature: 0.7,
	}
	if model != "" {
		cfg.Models[TierLong] = model
	}
	return cfg
}

// GetModel returns the model name for a given tier.
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	// Fall back to the long tier, which is always the most capable
	if model, ok := c.Models[TierLong]; ok {
		return model
	}
	return ""
}
