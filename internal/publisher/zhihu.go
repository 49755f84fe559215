package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/kanaz606/auto-geo/internal/browser"
	"github.com/kanaz606/auto-geo/internal/db"
)

// ZhihuPlatform describes zhuanlan.zhihu.com
var ZhihuPlatform = Platform{
	ID:          "zhihu",
	Name:        "知乎",
	PublishURL:  "https://zhuanlan.zhihu.com/write",
	SignInURL:   "https://www.zhihu.com/signin",
	LoginCookie: "z_c0",
	LoginURLs:   []string{"zhihu.com/hot", "zhihu.com/follow"},
	AccountSelectors: []string{
		".AppHeader-profileText",
		".Header-userName",
		".UserLink-link",
		".ProfileHeader-name",
	},
}

const (
	zhihuTitleSelector   = `input[placeholder*='标题'], .WriteIndex-titleInput textarea`
	zhihuEditorSelector  = `.public-DraftEditor-content`
	zhihuPublishSelector = `button.PublishPanel-submitButton, .WriteIndex-publishButton`
)

// Markdown image references are dropped; the editor takes plain text only
var markdownImage = regexp.MustCompile(`!\[.*?\]\(.*?\)`)

// Zhihu publishes articles through the zhuanlan editor
type Zhihu struct {
	platform     Platform
	pollAttempts int
	pollInterval time.Duration
	settle       time.Duration
}

// ZhihuOption customizes the Zhihu publisher
type ZhihuOption func(*Zhihu)

// WithResultPolling sets how long to wait for the published article URL
func WithResultPolling(attempts int, interval time.Duration) ZhihuOption {
	return func(z *Zhihu) {
		if attempts > 0 {
			z.pollAttempts = attempts
		}
		if interval > 0 {
			z.pollInterval = interval
		}
	}
}

// WithSettleDelay sets the pause after the editor loads and after pasting
func WithSettleDelay(d time.Duration) ZhihuOption {
	return func(z *Zhihu) {
		if d >= 0 {
			z.settle = d
		}
	}
}

// NewZhihu creates the Zhihu publisher
func NewZhihu(opts ...ZhihuOption) *Zhihu {
	z := &Zhihu{
		platform:     ZhihuPlatform,
		pollAttempts: 25,
		pollInterval: time.Second,
		settle:       2 * time.Second,
	}
	for _, opt := range opts {
		opt(z)
	}
	return z
}

// Publish opens the editor, fills title and body, submits and waits for the
// browser to land on the published article.
func (z *Zhihu) Publish(ctx context.Context, sess browser.Session, item *db.ContentItem, _ *db.Credential) Result {
	if strings.TrimSpace(item.Body) == "" {
		return Failed("article body is empty")
	}

	if err := sess.Run(ctx,
		chromedp.Navigate(z.platform.PublishURL),
		chromedp.WaitVisible(zhihuEditorSelector, chromedp.ByQuery),
		chromedp.Sleep(z.settle),
	); err != nil {
		return Failed("failed to open editor: %v", err)
	}

	if err := sess.Run(ctx,
		chromedp.WaitVisible(zhihuTitleSelector, chromedp.ByQuery),
		chromedp.SetValue(zhihuTitleSelector, "", chromedp.ByQuery),
		chromedp.SendKeys(zhihuTitleSelector, item.Title, chromedp.ByQuery),
	); err != nil {
		return Failed("failed to fill title: %v", err)
	}

	script, err := pasteScript(zhihuEditorSelector, CleanBody(item.Body))
	if err != nil {
		return Failed("failed to encode body: %v", err)
	}
	if err := sess.Run(ctx,
		chromedp.Click(zhihuEditorSelector, chromedp.ByQuery),
		chromedp.Evaluate(script, nil),
		chromedp.Sleep(z.settle),
	); err != nil {
		return Failed("failed to fill body: %v", err)
	}

	if err := sess.Run(ctx,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.WaitEnabled(zhihuPublishSelector, chromedp.ByQuery),
		chromedp.Click(zhihuPublishSelector, chromedp.ByQuery),
	); err != nil {
		return Failed("failed to submit article: %v", err)
	}

	return z.waitForResult(ctx, sess)
}

func (z *Zhihu) waitForResult(ctx context.Context, sess browser.Session) Result {
	for i := 0; i < z.pollAttempts; i++ {
		loc, err := sess.Location(ctx)
		if err != nil {
			return Failed("failed to read page location: %v", err)
		}
		if IsZhihuArticleURL(loc) {
			return Result{Success: true, PlatformURL: loc}
		}
		select {
		case <-ctx.Done():
			return Failed("publish cancelled: %v", ctx.Err())
		case <-time.After(z.pollInterval):
		}
	}
	return Failed("timed out waiting for the published article")
}

// IsZhihuArticleURL reports whether loc is a published (not draft) article
func IsZhihuArticleURL(loc string) bool {
	return strings.Contains(loc, "/p/") && !strings.Contains(loc, "/edit")
}

// CleanBody strips markdown image references
func CleanBody(body string) string {
	return strings.TrimSpace(markdownImage.ReplaceAllString(body, ""))
}

// pasteScript dispatches a synthetic paste of text into the element at selector
func pasteScript(selector, text string) (string, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
  const dt = new DataTransfer();
  dt.setData("text/plain", %s);
  const ev = new ClipboardEvent("paste", { clipboardData: dt, bubbles: true });
  document.querySelector(%s).dispatchEvent(ev);
  return true;
})()`, payload, sel), nil
}
