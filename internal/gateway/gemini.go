package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/kanaz606/auto-geo/internal/llm"
)

// GeminiGateway produces gateway responses directly from a language model
type GeminiGateway struct {
	client   llm.Client
	log      *slog.Logger
	validate *validator.Validate
}

// NewGeminiGateway wraps an llm client
func NewGeminiGateway(client llm.Client, logger *slog.Logger) *GeminiGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiGateway{client: client, log: logger, validate: validator.New()}
}

func (g *GeminiGateway) GenerateArticle(ctx context.Context, req ArticleRequest) *Response {
	if req.WordCount == 0 {
		req.WordCount = 1200
	}
	schema := llm.ArticleSchema(req.Platform, req.WordCount, req.Requirements)
	return g.generate(ctx, req, schema, "keyword: "+req.Keyword, llm.TierLong)
}

func (g *GeminiGateway) AnalyzeIndexCheck(ctx context.Context, req IndexAnalysisRequest) *Response {
	input, err := json.Marshal(req)
	if err != nil {
		return Failure(fmt.Sprintf("failed to encode index analysis input: %v", err), false)
	}
	return g.generate(ctx, req, llm.IndexAnalysisSchema(), string(input), llm.TierShort)
}

func (g *GeminiGateway) generate(ctx context.Context, req any, schema llm.PromptSchema, input string, tier llm.ModelTier) *Response {
	if err := g.validate.Struct(req); err != nil {
		return Failure(fmt.Sprintf("invalid %s request: %v", schema.Name, err), false)
	}

	g.log.Info("sending model request", "task", schema.Name, "tier", string(tier))
	text, err := g.client.GenerateJSON(ctx, llm.BuildPrompt(schema, input), tier)
	if err != nil {
		g.log.Error("model request failed", "task", schema.Name, "error", err)
		return Failure(err.Error(), true)
	}
	return Normalize([]byte(text))
}
