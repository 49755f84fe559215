package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Webhook endpoints
const (
	EndpointArticle       = "geo-article-generate"
	EndpointIndexAnalysis = "index-check-analysis"
)

const (
	defaultShortTimeout = 45 * time.Second
	defaultLongTimeout  = 300 * time.Second
	maxBodyBytes        = 8 << 20
)

// WebhookClient calls n8n-style workflow webhooks
type WebhookClient struct {
	baseURL      string
	httpClient   *http.Client
	shortTimeout time.Duration
	longTimeout  time.Duration
	maxRetries   int
	log          *slog.Logger
	validate     *validator.Validate
}

// WebhookOption customizes a WebhookClient
type WebhookOption func(*WebhookClient)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookClient) {
		if c != nil {
			w.httpClient = c
		}
	}
}

// WithTimeouts sets the short and long call tiers
func WithTimeouts(short, long time.Duration) WebhookOption {
	return func(w *WebhookClient) {
		if short > 0 {
			w.shortTimeout = short
		}
		if long > 0 {
			w.longTimeout = long
		}
	}
}

// WithMaxRetries sets how many times a timed-out call is retried
func WithMaxRetries(n int) WebhookOption {
	return func(w *WebhookClient) {
		if n >= 0 {
			w.maxRetries = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) WebhookOption {
	return func(w *WebhookClient) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWebhookClient creates a client for the webhook base URL
func NewWebhookClient(baseURL string, opts ...WebhookOption) *WebhookClient {
	c := &WebhookClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{},
		shortTimeout: defaultShortTimeout,
		longTimeout:  defaultLongTimeout,
		maxRetries:   1,
		log:          slog.Default(),
		validate:     validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *WebhookClient) GenerateArticle(ctx context.Context, req ArticleRequest) *Response {
	if req.WordCount == 0 {
		req.WordCount = 1200
	}
	return c.call(ctx, EndpointArticle, req, c.longTimeout)
}

func (c *WebhookClient) AnalyzeIndexCheck(ctx context.Context, req IndexAnalysisRequest) *Response {
	return c.call(ctx, EndpointIndexAnalysis, req, c.shortTimeout)
}

// call posts payload to endpoint. Only timeouts are retried.
func (c *WebhookClient) call(ctx context.Context, endpoint string, payload any, timeout time.Duration) *Response {
	if err := c.validate.Struct(payload); err != nil {
		return Failure(fmt.Sprintf("invalid %s request: %v", endpoint, err), false)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Failure(fmt.Sprintf("failed to encode %s request: %v", endpoint, err), false)
	}

	url := c.baseURL + "/" + strings.TrimPrefix(endpoint, "/")
	c.log.Info("sending gateway request", "endpoint", endpoint)

	attempts := c.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.post(ctx, url, body, timeout)
		if err == nil {
			return resp
		}
		if isTimeout(err) && ctx.Err() == nil {
			c.log.Warn("gateway request timed out", "endpoint", endpoint, "attempt", attempt, "attempts", attempts)
			continue
		}
		c.log.Error("gateway transport failure", "endpoint", endpoint, "error", err)
		return Failure(err.Error(), true)
	}
	return Failure("AI generation timed out, check gateway resource usage", true)
}

func (c *WebhookClient) post(ctx context.Context, url string, body []byte, timeout time.Duration) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("HTTP %d: %s", res.StatusCode, truncate(string(raw), 200))
		c.log.Error("gateway returned an error status", "error", msg)
		return Failure(msg, true), nil
	}

	resp := Normalize(raw)
	if !resp.OK() {
		c.log.Error("gateway call failed", "error", resp.Error, "raw", truncate(string(raw), 500))
	}
	return resp, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
