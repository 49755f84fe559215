package indexcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/db"
)

const searchResponse = `{
	"items": [
		{"title": "Unrelated", "link": "https://example.com/a"},
		{"title": "Choosing a Coffee Grinder - Zhihu", "link": "https://zhuanlan.zhihu.com/p/42"}
	]
}`

func newCustomSearch(t *testing.T, handler http.HandlerFunc) *CustomSearchChecker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.IndexCheckConfig{GoogleCX: "engine-1", GoogleAPIKey: "test-key"}
	checker, err := NewCustomSearchChecker(context.Background(), cfg, nil, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return checker
}

func TestCustomSearchChecker_Check(t *testing.T) {
	var query, cx string
	checker := newCustomSearch(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		cx = r.URL.Query().Get("cx")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(searchResponse))
	})

	tests := []struct {
		name string
		item db.ContentItem
		want bool
	}{
		{name: "by title", item: db.ContentItem{Title: "Choosing a coffee grinder"}, want: true},
		{name: "by URL", item: db.ContentItem{Title: "Renamed", ResultURL: "https://zhuanlan.zhihu.com/p/42/"}, want: true},
		{name: "absent", item: db.ContentItem{Title: "Pour over basics"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := checker.Check(context.Background(), &tt.item)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.item.Title, query)
			assert.Equal(t, "engine-1", cx)
		})
	}
}

func TestCustomSearchChecker_Errors(t *testing.T) {
	checker := newCustomSearch(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": {"code": 429, "message": "quota"}}`, http.StatusTooManyRequests)
	})

	_, err := checker.Check(context.Background(), &db.ContentItem{})
	assert.ErrorIs(t, err, ErrNoQuery)

	_, err = checker.Check(context.Background(), &db.ContentItem{Keyword: "coffee"})
	assert.ErrorContains(t, err, "custom search")

	_, err = NewCustomSearchChecker(context.Background(), config.IndexCheckConfig{GoogleCX: "engine-1"}, nil)
	assert.Error(t, err)
}

func TestNewChecker(t *testing.T) {
	ctx := context.Background()

	checker, err := NewChecker(ctx, config.IndexCheckConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, checker)

	checker, err = NewChecker(ctx, config.IndexCheckConfig{SearchURL: "https://www.baidu.com/s"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SearchChecker{}, checker)

	checker, err = NewChecker(ctx, config.IndexCheckConfig{
		SearchURL:    "https://www.baidu.com/s",
		GoogleCX:     "engine-1",
		GoogleAPIKey: "test-key",
	}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CustomSearchChecker{}, checker)

	_, err = NewChecker(ctx, config.IndexCheckConfig{SearchURL: "not a url"}, nil)
	assert.Error(t, err)
}
