// Package indexcheck probes a search engine for published articles. An item
// counts as indexed when the result page links to its URL or lists its title.
package indexcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/logging"
)

// DefaultQueryParam is the query parameter Baidu uses
const DefaultQueryParam = "wd"

// ErrNoQuery is returned for items with neither title nor keyword
var ErrNoQuery = errors.New("item has nothing to search for")

// SearchChecker checks items against a search result page
type SearchChecker struct {
	searchURL  string
	queryParam string
	client     *http.Client
	opts       *FetchOptions
	log        *slog.Logger
}

// Option customizes a SearchChecker
type Option func(*SearchChecker)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *SearchChecker) {
		c.client = client
	}
}

// WithQueryParam sets the query parameter name of the search URL
func WithQueryParam(name string) Option {
	return func(c *SearchChecker) {
		if name != "" {
			c.queryParam = name
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *SearchChecker) {
		c.log = logging.Module(logger, "indexcheck")
	}
}

// NewSearchChecker creates a checker for cfg.SearchURL
func NewSearchChecker(cfg config.IndexCheckConfig, opts ...Option) (*SearchChecker, error) {
	parsed, err := url.Parse(cfg.SearchURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid index check search URL %q", cfg.SearchURL)
	}

	fetchOpts := DefaultFetchOptions()
	if cfg.Timeout > 0 {
		fetchOpts.Timeout = cfg.Timeout.D()
	}
	c := &SearchChecker{
		searchURL:  cfg.SearchURL,
		queryParam: DefaultQueryParam,
		opts:       fetchOpts,
		log:        logging.Module(slog.Default(), "indexcheck"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: fetchOpts.Timeout}
	}
	return c, nil
}

// Check searches for the item and reports whether it appears in the results
func (c *SearchChecker) Check(ctx context.Context, item *db.ContentItem) (bool, error) {
	query, err := searchQuery(item)
	if err != nil {
		return false, err
	}

	page, err := Fetch(ctx, c.client, c.queryURL(query), c.opts)
	if err != nil {
		return false, err
	}

	indexed, err := Matches(page.HTML, item)
	if err != nil {
		return false, err
	}
	c.log.Debug("index probe", "item_id", item.ID, "query", query, "indexed", indexed)
	return indexed, nil
}

func (c *SearchChecker) queryURL(query string) string {
	u, _ := url.Parse(c.searchURL)
	q := u.Query()
	q.Set(c.queryParam, query)
	u.RawQuery = q.Encode()
	return u.String()
}

// Matches scans result links for the item's URL or title
func Matches(html string, item *db.ContentItem) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, fmt.Errorf("failed to parse search results: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	target := strings.TrimSuffix(item.ResultURL, "/")
	title := normalize(item.Title)

	found := false
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		found = resultMatches(href, a.Text(), target, title)
		return !found
	})
	return found, nil
}

// resultMatches reports whether one search result points at the item.
// target is the item URL without a trailing slash and title is normalized.
func resultMatches(href, text, target, title string) bool {
	if target != "" && strings.Contains(href, target) {
		return true
	}
	return title != "" && strings.Contains(normalize(text), title)
}

func searchQuery(item *db.ContentItem) (string, error) {
	query := strings.TrimSpace(item.Title)
	if query == "" {
		query = strings.TrimSpace(item.Keyword)
	}
	if query == "" {
		return "", ErrNoQuery
	}
	return query, nil
}

// normalize drops whitespace and lowercases so highlighted result titles
// compare equal to the stored one.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
