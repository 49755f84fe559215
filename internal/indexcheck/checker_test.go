package indexcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanaz606/auto-geo/internal/browser"
	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/db"
)

const resultsPage = `
<html>
	<head><script>var title = "Choosing a Coffee Grinder";</script></head>
	<body>
		<div class="result">
			<h3><a href="https://www.baidu.com/link?url=abc"><em>Choosing</em> a Coffee
				Grinder - Zhihu</a></h3>
		</div>
		<div class="result">
			<h3><a href="https://zhuanlan.zhihu.com/p/42/">Other article</a></h3>
		</div>
	</body>
</html>`

func TestMatches(t *testing.T) {
	tests := []struct {
		name string
		item db.ContentItem
		want bool
	}{
		{name: "title across highlight", item: db.ContentItem{Title: "choosing a coffee grinder"}, want: true},
		{name: "result URL", item: db.ContentItem{Title: "Unlisted", ResultURL: "https://zhuanlan.zhihu.com/p/42"}, want: true},
		{name: "script text ignored", item: db.ContentItem{Title: "var title"}, want: false},
		{name: "absent", item: db.ContentItem{Title: "Espresso basics", ResultURL: "https://zhuanlan.zhihu.com/p/7"}, want: false},
		{name: "empty item", item: db.ContentItem{}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Matches(resultsPage, &tt.item)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewSearchChecker_RejectsBadURL(t *testing.T) {
	_, err := NewSearchChecker(config.IndexCheckConfig{SearchURL: "not a url"})
	assert.Error(t, err)
}

func TestCheck_QueriesByTitle(t *testing.T) {
	var gotQuery, gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("wd")
		gotAgent = r.UserAgent()
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer server.Close()

	checker, err := NewSearchChecker(config.IndexCheckConfig{SearchURL: server.URL + "/s", Timeout: config.Duration(time.Second)})
	require.NoError(t, err)

	indexed, err := checker.Check(context.Background(), &db.ContentItem{Title: "Choosing a Coffee Grinder", Keyword: "grinder"})
	require.NoError(t, err)
	assert.True(t, indexed)
	assert.Equal(t, "Choosing a Coffee Grinder", gotQuery)
	assert.Equal(t, browser.DefaultUserAgent, gotAgent)
}

func TestCheck_FallsBackToKeyword(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte("<html><body>no results</body></html>"))
	}))
	defer server.Close()

	checker, err := NewSearchChecker(config.IndexCheckConfig{SearchURL: server.URL}, WithQueryParam("q"))
	require.NoError(t, err)

	indexed, err := checker.Check(context.Background(), &db.ContentItem{Keyword: "grinder"})
	require.NoError(t, err)
	assert.False(t, indexed)
	assert.Equal(t, "grinder", gotQuery)
}

func TestCheck_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	checker, err := NewSearchChecker(config.IndexCheckConfig{SearchURL: server.URL}, WithHTTPClient(server.Client()))
	require.NoError(t, err)

	_, err = checker.Check(context.Background(), &db.ContentItem{})
	assert.ErrorIs(t, err, ErrNoQuery)

	_, err = checker.Check(context.Background(), &db.ContentItem{Title: "x"})
	require.Error(t, err)
	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "403")
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v", r.Header.Get("X-Test"))
		_, _ = w.Write([]byte("<h1>ok</h1>"))
	}))
	defer server.Close()

	opts := DefaultFetchOptions()
	opts.Headers = map[string]string{"X-Test": "v"}
	page, err := Fetch(context.Background(), nil, server.URL, opts)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, page.StatusCode)
	assert.Contains(t, page.HTML, "<h1>ok</h1>")

	_, err = Fetch(context.Background(), nil, "not-a-valid-url", nil)
	var fetchErr *Error
	require.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "invalid URL")
}
