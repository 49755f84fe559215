// Package browsertest provides scriptable in-memory browser sessions for tests.
package browsertest

import (
	"context"
	"errors"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/kanaz606/auto-geo/internal/browser"
)

// Session is a fake browser.Session. Locations are returned in order, the last
// one repeating once the script runs out.
type Session struct {
	mu        sync.Mutex
	locations []string
	cookies   map[string]string
	html      string
	state     *browser.State
	runErr    error
	runs      int
	lookups   int
	closed    bool
	closes    int
}

// NewSession creates a fake session
func NewSession() *Session {
	return &Session{cookies: make(map[string]string)}
}

// WithLocations scripts the sequence of URLs returned by Location
func (s *Session) WithLocations(locations ...string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append([]string(nil), locations...)
	return s
}

// WithHTML sets the page markup
func (s *Session) WithHTML(html string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.html = html
	return s
}

// WithState sets the snapshot returned by State
func (s *Session) WithState(st *browser.State) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	return s
}

// WithRunError makes every Run call fail
func (s *Session) WithRunError(err error) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runErr = err
	return s
}

// SetCookie sets a cookie visible to HasCookie
func (s *Session) SetCookie(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookies[name] = value
}

func (s *Session) Run(ctx context.Context, _ ...chromedp.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return browser.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.runs++
	return s.runErr
}

func (s *Session) Location(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", browser.ErrClosed
	}
	s.lookups++
	if len(s.locations) == 0 {
		return "about:blank", nil
	}
	loc := s.locations[0]
	if len(s.locations) > 1 {
		s.locations = s.locations[1:]
	}
	return loc, nil
}

func (s *Session) HTML(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", browser.ErrClosed
	}
	return s.html, nil
}

func (s *Session) HasCookie(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, browser.ErrClosed
	}
	return s.cookies[name] != "", nil
}

func (s *Session) State(_ context.Context) (*browser.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, browser.ErrClosed
	}
	if s.state != nil {
		return s.state, nil
	}
	st := &browser.State{Cookies: []browser.Cookie{}, Origins: []browser.Origin{}}
	for name, value := range s.cookies {
		st.Cookies = append(st.Cookies, browser.Cookie{Name: name, Value: value, Path: "/"})
	}
	return st, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Runs returns the number of successful Run calls
func (s *Session) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// LocationCalls returns how many times Location was answered
func (s *Session) LocationCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// ErrLaunch is returned by a Launcher configured to fail
var ErrLaunch = errors.New("browser launch failed")

// Launcher hands out fake sessions and records launch options
type Launcher struct {
	mu       sync.Mutex
	next     func() *Session
	fail     bool
	launched []browser.Options
	sessions []*Session
	active   int
	peak     int
}

// NewLauncher creates a launcher. newSession builds each session; nil yields
// blank sessions.
func NewLauncher(newSession func() *Session) *Launcher {
	if newSession == nil {
		newSession = NewSession
	}
	return &Launcher{next: newSession}
}

// Fail makes subsequent launches return ErrLaunch
func (l *Launcher) Fail() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fail = true
}

func (l *Launcher) Launch(ctx context.Context, opts browser.Options) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return nil, ErrLaunch
	}
	s := l.next()
	l.launched = append(l.launched, opts)
	l.sessions = append(l.sessions, s)
	l.active++
	if l.active > l.peak {
		l.peak = l.active
	}
	return &tracked{Session: s, launcher: l}, nil
}

// Launches returns the options of every launch so far
func (l *Launcher) Launches() []browser.Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.Options(nil), l.launched...)
}

// Sessions returns every session handed out
func (l *Launcher) Sessions() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.sessions...)
}

// Active returns the number of sessions not yet closed
func (l *Launcher) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Peak returns the highest number of simultaneously open sessions
func (l *Launcher) Peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}

type tracked struct {
	*Session
	launcher *Launcher
	once     sync.Once
}

func (t *tracked) Close() error {
	t.once.Do(func() {
		t.launcher.mu.Lock()
		t.launcher.active--
		t.launcher.mu.Unlock()
	})
	return t.Session.Close()
}
