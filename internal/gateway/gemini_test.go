package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/kanaz606/auto-geo/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	response string
	err      error
	prompts  []string
	tiers    []llm.ModelTier
}

func (f *fakeLLM) GenerateJSON(_ context.Context, prompt string, tier llm.ModelTier) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.tiers = append(f.tiers, tier)
	return f.response, f.err
}

func (f *fakeLLM) Close() error { return nil }

func TestGeminiGateway_GenerateArticle(t *testing.T) {
	fake := &fakeLLM{response: `{"title":"T","content":"C"}`}
	gw := NewGeminiGateway(fake, nil)

	resp := gw.GenerateArticle(context.Background(), ArticleRequest{Keyword: "GEO", Platform: "zhihu"})

	require.True(t, resp.OK(), resp.Error)
	assert.Equal(t, "C", resp.Data["content"])
	require.Len(t, fake.prompts, 1)
	assert.Contains(t, fake.prompts[0], "keyword: GEO")
	assert.Equal(t, llm.TierLong, fake.tiers[0])
}

func TestGeminiGateway_ModelErrorIsTransient(t *testing.T) {
	gw := NewGeminiGateway(&fakeLLM{err: errors.New("quota exceeded")}, nil)

	resp := gw.GenerateArticle(context.Background(), ArticleRequest{Keyword: "q", Platform: "zhihu"})

	assert.False(t, resp.OK())
	assert.True(t, resp.Transient)
	assert.Contains(t, resp.Error, "quota exceeded")
}

func TestGeminiGateway_ShortTier(t *testing.T) {
	fake := &fakeLLM{response: `{"summary":"ok"}`}
	gw := NewGeminiGateway(fake, nil)

	resp := gw.AnalyzeIndexCheck(context.Background(), IndexAnalysisRequest{Keyword: "kw", Platform: "zhihu", Indexed: true})
	require.True(t, resp.OK())
	assert.Equal(t, llm.TierShort, fake.tiers[0])
	assert.Contains(t, fake.prompts[0], `"indexed":true`)

	resp = gw.AnalyzeIndexCheck(context.Background(), IndexAnalysisRequest{})
	assert.False(t, resp.OK())
	assert.False(t, resp.Transient)
}
