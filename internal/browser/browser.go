// Package browser runs isolated Chrome sessions through the DevTools
// protocol. Each session owns its own browser process and profile, so cookies
// and storage never leak between platforms or accounts.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// DefaultUserAgent is presented by every session
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrClosed is returned when a closed session is used
var ErrClosed = errors.New("browser session closed")

// Session is one isolated browser tab
type Session interface {
	// Run executes chromedp actions in the session
	Run(ctx context.Context, actions ...chromedp.Action) error
	// Location returns the current page URL
	Location(ctx context.Context) (string, error)
	// HTML returns the current page markup
	HTML(ctx context.Context) (string, error)
	// HasCookie reports whether a non-empty cookie with name is set
	HasCookie(ctx context.Context, name string) (bool, error)
	// State snapshots cookies and the current origin's localStorage
	State(ctx context.Context) (*State, error)
	// Close tears the browser down. It is safe to call more than once.
	Close() error
}

// Options configure a new session
type Options struct {
	Headless bool
	// State seeds cookies and localStorage before StartURL is opened
	State *State
	// StartURL is opened once the session is ready; empty leaves about:blank
	StartURL string
}

// Launcher starts sessions
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Session, error)
}

// ChromeLauncher launches a dedicated Chrome process per session
type ChromeLauncher struct {
	execPath  string
	userAgent string
	log       *slog.Logger
}

// LauncherOption customizes a ChromeLauncher
type LauncherOption func(*ChromeLauncher)

// WithExecPath selects the Chrome binary
func WithExecPath(path string) LauncherOption {
	return func(l *ChromeLauncher) {
		l.execPath = path
	}
}

// WithUserAgent overrides the user agent
func WithUserAgent(ua string) LauncherOption {
	return func(l *ChromeLauncher) {
		if ua != "" {
			l.userAgent = ua
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) LauncherOption {
	return func(l *ChromeLauncher) {
		if logger != nil {
			l.log = logger
		}
	}
}

// NewChromeLauncher creates a launcher
func NewChromeLauncher(opts ...LauncherOption) *ChromeLauncher {
	l := &ChromeLauncher{userAgent: DefaultUserAgent, log: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *ChromeLauncher) allocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 800),
		chromedp.UserAgent(l.userAgent),
	)
	if l.execPath != "" {
		opts = append(opts, chromedp.ExecPath(l.execPath))
	}
	return opts
}

// Launch starts a browser, seeds opts.State and opens opts.StartURL. The
// session outlives ctx; only Close releases it.
func (l *ChromeLauncher) Launch(ctx context.Context, opts Options) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), l.allocatorOptions(opts.Headless)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}

	// The first Run allocates the browser and ties its lifetime to the context
	// it is given, so it must run on the tab context itself.
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	if opts.State != nil {
		if err := s.seed(ctx, opts.State); err != nil {
			s.Close()
			return nil, err
		}
	}

	if opts.StartURL != "" {
		if err := s.Run(ctx, chromedp.Navigate(opts.StartURL)); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open %s: %w", opts.StartURL, err)
		}
	}

	l.log.Debug("browser session started", "headless", opts.Headless, "start_url", opts.StartURL)
	return s, nil
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func (s *chromeSession) Run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	// Bound the actions by the caller's context without tying the tab to it
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) seed(ctx context.Context, st *State) error {
	if len(st.Cookies) > 0 {
		if err := s.Run(ctx, network.SetCookies(st.cookieParams())); err != nil {
			return fmt.Errorf("failed to seed cookies: %w", err)
		}
	}
	for _, origin := range st.Origins {
		if len(origin.LocalStorage) == 0 || !validOrigin(origin.Origin) {
			continue
		}
		script, err := localStorageScript(origin.LocalStorage)
		if err != nil {
			return fmt.Errorf("failed to encode local storage: %w", err)
		}
		if err := s.Run(ctx,
			chromedp.Navigate(origin.Origin),
			chromedp.Evaluate(script, nil),
		); err != nil {
			return fmt.Errorf("failed to seed local storage for %s: %w", origin.Origin, err)
		}
	}
	return nil
}

func (s *chromeSession) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.Run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (s *chromeSession) cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := s.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	return cookies, err
}

func (s *chromeSession) HasCookie(ctx context.Context, name string) (bool, error) {
	cookies, err := s.cookies(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range cookies {
		if c.Name == name && c.Value != "" {
			return true, nil
		}
	}
	return false, nil
}

func (s *chromeSession) State(ctx context.Context) (*State, error) {
	cookies, err := s.cookies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	st := &State{Cookies: fromNetworkCookies(cookies), Origins: []Origin{}}

	var raw string
	if err := s.Run(ctx, chromedp.Evaluate(readLocalStorageScript, &raw)); err != nil {
		return nil, fmt.Errorf("failed to read local storage: %w", err)
	}
	var origin Origin
	if err := json.Unmarshal([]byte(raw), &origin); err != nil {
		return nil, fmt.Errorf("failed to decode local storage: %w", err)
	}
	if validOrigin(origin.Origin) && len(origin.LocalStorage) > 0 {
		st.Origins = append(st.Origins, origin)
	}
	return st, nil
}

func (s *chromeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return nil
}
