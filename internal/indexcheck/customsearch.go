package indexcheck

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/logging"
)

// resultsPerQuery is the most the Custom Search API returns in one page
const resultsPerQuery = 10

// CustomSearchChecker checks items through the Google Custom Search JSON API
type CustomSearchChecker struct {
	svc *customsearch.Service
	cx  string
	log *slog.Logger
}

// NewCustomSearchChecker creates a checker for the engine cfg.GoogleCX.
// Extra client options (endpoint, HTTP client) are passed to the service.
func NewCustomSearchChecker(ctx context.Context, cfg config.IndexCheckConfig, logger *slog.Logger, opts ...option.ClientOption) (*CustomSearchChecker, error) {
	if cfg.GoogleCX == "" || cfg.GoogleAPIKey == "" {
		return nil, fmt.Errorf("custom search requires an engine ID and an API key")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts = append([]option.ClientOption{option.WithAPIKey(cfg.GoogleAPIKey)}, opts...)
	svc, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &CustomSearchChecker{
		svc: svc,
		cx:  cfg.GoogleCX,
		log: logging.Module(logger, "indexcheck"),
	}, nil
}

// Check runs one search and looks for the item among the results
func (c *CustomSearchChecker) Check(ctx context.Context, item *db.ContentItem) (bool, error) {
	query, err := searchQuery(item)
	if err != nil {
		return false, err
	}

	resp, err := c.svc.Cse.List().Cx(c.cx).Q(query).Num(resultsPerQuery).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("custom search for %q failed: %w", query, err)
	}

	target := strings.TrimSuffix(item.ResultURL, "/")
	title := normalize(item.Title)
	for _, result := range resp.Items {
		if resultMatches(result.Link, result.Title, target, title) {
			c.log.Debug("index probe", "item_id", item.ID, "query", query, "indexed", true)
			return true, nil
		}
	}
	c.log.Debug("index probe", "item_id", item.ID, "query", query, "indexed", false, "results", len(resp.Items))
	return false, nil
}

// Checker reports whether a published item shows up in search results
type Checker interface {
	Check(ctx context.Context, item *db.ContentItem) (bool, error)
}

// NewChecker picks the Custom Search API when it is configured and the
// result page probe otherwise. It returns nil when neither is set up.
func NewChecker(ctx context.Context, cfg config.IndexCheckConfig, logger *slog.Logger) (Checker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GoogleCX != "" && cfg.GoogleAPIKey != "" {
		checker, err := NewCustomSearchChecker(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return checker, nil
	}
	if cfg.SearchURL != "" {
		checker, err := NewSearchChecker(cfg, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return checker, nil
	}
	return nil, nil
}
