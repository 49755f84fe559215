// Package gateway talks to the content gateway that turns keywords into
// articles. Every backend returns the same canonical Response so callers never
// see transport-specific shapes.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Response status values
const (
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusProcessing = "processing"
)

// Response is the canonical gateway response
type Response struct {
	Status    string         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	// Transient marks failures worth retrying later: timeouts, transport
	// errors and malformed bodies. Workflow-reported errors are not transient.
	Transient bool `json:"-"`
}

// OK reports whether the call succeeded
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusSuccess
}

// ArticleRequest asks for one article
type ArticleRequest struct {
	Keyword      string `json:"keyword" validate:"required"`
	Platform     string `json:"platform" validate:"required"`
	Requirements string `json:"requirements"`
	WordCount    int    `json:"word_count" validate:"gte=100,lte=20000"`
}

// IndexAnalysisRequest asks for an assessment of one index check.
type IndexAnalysisRequest struct {
	Keyword  string `json:"keyword" validate:"required"`
	Platform string `json:"platform"`
	URL      string `json:"url"`
	Indexed  bool   `json:"indexed"`
}

// Gateway is implemented by every content backend
type Gateway interface {
	GenerateArticle(ctx context.Context, req ArticleRequest) *Response
	AnalyzeIndexCheck(ctx context.Context, req IndexAnalysisRequest) *Response
}

// Failure builds an error response
func Failure(msg string, transient bool) *Response {
	return &Response{
		Status:    StatusError,
		Error:     msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Transient: transient,
	}
}

const missingRespondNode = "gateway workflow has no 'Respond to Webhook' node, so no AI data was returned"

// Normalize maps a raw gateway body onto the canonical Response. It accepts a
// bare object, an array whose first element is the object, and an object
// without a status field, which is treated as success data.
func Normalize(body []byte) *Response {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		raw := string(body)
		if strings.Contains(raw, "Workflow was started") || strings.Contains(raw, "Workflow started") {
			return Failure(missingRespondNode, true)
		}
		return Failure("JSON parse failed: "+truncate(raw, 100), true)
	}

	if list, ok := decoded.([]any); ok {
		if len(list) == 0 {
			decoded = map[string]any{}
		} else {
			decoded = list[0]
		}
	}

	obj, ok := decoded.(map[string]any)
	if !ok {
		return Failure(fmt.Sprintf("unexpected response shape: %T", decoded), true)
	}

	rawStatus, hasStatus := obj["status"]
	if !hasStatus {
		return &Response{Status: StatusSuccess, Data: obj}
	}

	status, _ := rawStatus.(string)
	resp := &Response{Status: status}
	resp.Error, _ = obj["error"].(string)
	resp.Timestamp, _ = obj["timestamp"].(string)

	switch data := obj["data"].(type) {
	case nil:
	case map[string]any:
		resp.Data = data
	default:
		return Failure(fmt.Sprintf("unexpected data type: %T", data), true)
	}

	switch status {
	case StatusSuccess:
	case StatusError:
		if resp.Error == "" {
			resp.Error = "gateway reported an error without a message"
		}
	case StatusProcessing:
		resp.Transient = true
		if resp.Error == "" {
			resp.Error = "gateway workflow is still processing"
		}
	default:
		return Failure(fmt.Sprintf("unexpected status %q", status), true)
	}
	return resp
}

// truncate keeps at most n runes of s
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
