// Package publisher defines the per-platform publishing capability and the
// registration table that maps platform ids to implementations.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kanaz606/auto-geo/internal/browser"
	"github.com/kanaz606/auto-geo/internal/db"
)

// ErrUnsupportedPlatform is returned for platform ids with no registered publisher
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Result is the outcome of one publish attempt
type Result struct {
	Success     bool   `json:"success"`
	PlatformURL string `json:"platform_url,omitempty"`
	ErrorMsg    string `json:"error_msg,omitempty"`
}

// Failed builds an unsuccessful result
func Failed(format string, args ...any) Result {
	return Result{ErrorMsg: fmt.Sprintf(format, args...)}
}

// Publisher performs the UI steps that publish one item on one platform. The
// session is already seeded with cred's decrypted state.
type Publisher interface {
	Publish(ctx context.Context, sess browser.Session, item *db.ContentItem, cred *db.Credential) Result
}

// Platform describes a publishing target
type Platform struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PublishURL string `json:"publish_url"`
	// SignInURL is opened by the authorization flow
	SignInURL string `json:"sign_in_url"`
	// LoginCookie marks a logged-in session when present
	LoginCookie string `json:"login_cookie"`
	// LoginURLs are post-login locations that also mark success
	LoginURLs []string `json:"login_urls,omitempty"`
	// AccountSelectors locate the display name of the logged-in account
	AccountSelectors []string `json:"-"`
}

type entry struct {
	platform  Platform
	publisher Publisher
}

// Registry maps platform ids to publishers. It is populated at startup and
// read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register installs p for platform.ID, replacing any previous entry
func (r *Registry) Register(platform Platform, p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[platform.ID] = entry{platform: platform, publisher: p}
}

// Lookup returns the publisher for a platform id
func (r *Registry) Lookup(id string) (Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, id)
	}
	return e.publisher, nil
}

// Platform returns the description of a registered platform
func (r *Registry) Platform(id string) (Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Platform{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, id)
	}
	return e.platform, nil
}

// Platforms lists registered platforms ordered by id
func (r *Registry) Platforms() []Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Platform, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.platform)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Default returns a registry with every built-in publisher
func Default(opts ...ZhihuOption) *Registry {
	r := NewRegistry()
	r.Register(ZhihuPlatform, NewZhihu(opts...))
	return r
}
