// Package ratelimit throttles control-surface requests per client and route
// with token buckets from golang.org/x/time/rate.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rule limits one route. A Path ending in "/" matches by prefix. A Limit of
// zero means unlimited.
type Rule struct {
	Method string
	Path   string
	Limit  int
	Window time.Duration
	Burst  int
}

// Config holds rate limiting configuration
type Config struct {
	Enabled         bool
	Default         Rule
	Rules           []Rule
	Allow           map[string]bool
	Deny            map[string]bool
	CleanupInterval time.Duration
	IdleTTL         time.Duration
}

// Decision is the outcome for one request
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// Limiter tracks one bucket per client, method and route
type Limiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a limiter and starts idle-bucket cleanup when enabled
func NewLimiter(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = &Config{Enabled: true, Default: Rule{Limit: 600, Window: time.Minute}}
	}
	l := &Limiter{
		cfg:     *cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	if l.cfg.IdleTTL <= 0 {
		l.cfg.IdleTTL = time.Hour
	}
	if l.cfg.Enabled && l.cfg.CleanupInterval > 0 {
		go l.cleanupLoop(l.cfg.CleanupInterval)
	}
	return l
}

// Match returns the rule for a request. GET /health is never limited.
func (l *Limiter) Match(path, method string) Rule {
	if path == "/health" && method == "GET" {
		return Rule{}
	}
	for _, r := range l.cfg.Rules {
		if r.Method == method && r.Path == path {
			return r
		}
	}
	for _, r := range l.cfg.Rules {
		if r.Method == method && strings.HasSuffix(r.Path, "/") && strings.HasPrefix(path, r.Path) {
			return r
		}
	}
	return l.cfg.Default
}

// Allow consumes a token for the request if one is available
func (l *Limiter) Allow(clientID, path, method string) Decision {
	if !l.cfg.Enabled || l.cfg.Allow[clientID] {
		return Decision{Allowed: true}
	}
	if l.cfg.Deny[clientID] {
		return Decision{}
	}

	rule := l.Match(path, method)
	if rule.Limit <= 0 || rule.Window <= 0 {
		return Decision{Allowed: true}
	}

	now := l.now()
	limiter := l.bucket(clientID+" "+method+" "+scope(rule, path), rule, now)

	d := Decision{Limit: rule.Limit}
	res := limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
		res.CancelAt(now)
		d.RetryAfter = delay
		return d
	}
	d.Allowed = true
	d.Remaining = max(int(limiter.TokensAt(now)), 0)
	return d
}

// scope is the bucket's route: prefix rules share one bucket, everything
// else is per path.
func scope(rule Rule, path string) string {
	if strings.HasSuffix(rule.Path, "/") {
		return rule.Path
	}
	return path
}

func (l *Limiter) bucket(key string, rule Rule, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		burst := rule.Burst
		if burst <= 0 {
			burst = rule.Limit
		}
		every := rule.Window / time.Duration(rule.Limit)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.limiter
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

// cleanup drops buckets idle for longer than IdleTTL
func (l *Limiter) cleanup() int {
	cutoff := l.now().Add(-l.cfg.IdleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Stop ends the cleanup goroutine
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}
