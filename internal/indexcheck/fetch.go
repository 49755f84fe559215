package indexcheck

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kanaz606/auto-geo/internal/browser"
)

// DefaultTimeout bounds one search request
const DefaultTimeout = 20 * time.Second

// maxBody caps how much of a result page is read
const maxBody = 4 << 20

// Page is a fetched search result page
type Page struct {
	URL        string
	HTML       string
	StatusCode int
}

// Error describes a failed fetch
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("index check fetch for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("index check fetch for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// FetchOptions configures page fetching
type FetchOptions struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
}

// DefaultFetchOptions uses a desktop browser user agent, since search
// engines serve a stripped page to unknown clients.
func DefaultFetchOptions() *FetchOptions {
	return &FetchOptions{
		Timeout:   DefaultTimeout,
		UserAgent: browser.DefaultUserAgent,
	}
}

// Fetch retrieves a page. The page is returned alongside an error for
// non-200 responses.
func Fetch(ctx context.Context, client *http.Client, rawURL string, opts *FetchOptions) (*Page, error) {
	if opts == nil {
		opts = DefaultFetchOptions()
	}
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &Error{URL: rawURL, Message: "invalid URL", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &Error{URL: rawURL, Message: "failed to read response body", Cause: err}
	}

	page := &Page{URL: rawURL, HTML: string(body), StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		return page, &Error{URL: rawURL, Message: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}
	return page, nil
}
