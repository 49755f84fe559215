package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/llm"
)

// New builds the configured backend. The returned close function releases
// backend resources and is never nil.
func New(ctx context.Context, cfg config.GatewayConfig, logger *slog.Logger) (Gateway, func() error, error) {
	switch cfg.Provider {
	case "", "n8n":
		client := NewWebhookClient(cfg.BaseURL,
			WithTimeouts(cfg.ShortTimeout.D(), cfg.LongTimeout.D()),
			WithMaxRetries(cfg.MaxRetries),
			WithLogger(logger),
		)
		return client, func() error { return nil }, nil
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, llm.DefaultGeminiConfig(cfg.Model), cfg.APIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gemini gateway: %w", err)
		}
		return NewGeminiGateway(client, logger), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}
}
