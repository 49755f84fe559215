package gateway

import (
	"errors"
	"fmt"

	"github.com/kanaz606/auto-geo/internal/schemas"
)

// Article is the generated payload written onto a content item
type Article struct {
	Title   string
	Content string
}

// ErrNoArticle is returned when a successful response carries no usable article
var ErrNoArticle = errors.New("gateway returned no article content")

// ParseArticle extracts the article from a successful response. A missing
// title falls back to one derived from the keyword.
func ParseArticle(resp *Response, keyword string) (Article, error) {
	if !resp.OK() {
		return Article{}, fmt.Errorf("gateway call failed: %s", resp.Error)
	}
	data := resp.Data
	if data == nil {
		data = map[string]any{}
	}
	if err := schemas.Validate(schemas.Article, data); err != nil {
		return Article{}, fmt.Errorf("%w: %v", ErrNoArticle, err)
	}

	content, _ := data["content"].(string)
	title, _ := data["title"].(string)
	if title == "" {
		title = fmt.Sprintf("关于%s的深度解析", keyword)
	}
	return Article{Title: title, Content: content}, nil
}
