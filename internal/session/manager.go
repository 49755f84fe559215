// Package session owns browser automation sessions. It decrypts platform
// credentials, caps concurrent sessions per platform and process-wide, runs
// publisher adapters and drives the manual authorization flow.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kanaz606/auto-geo/internal/browser"
	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/logging"
	"github.com/kanaz606/auto-geo/internal/publisher"
	"github.com/kanaz606/auto-geo/internal/vault"
)

// ErrAuthorizationRequired means the platform has no usable credential. It is
// not retryable; an operator must authorize the platform again.
var ErrAuthorizationRequired = errors.New("authorization required")

// Store is the credential persistence used by the manager
type Store interface {
	ActiveCredential(ctx context.Context, platform string) (*db.Credential, error)
	UpsertCredential(ctx context.Context, input db.UpsertCredentialInput) (*db.Credential, error)
	MarkCredentialInvalid(ctx context.Context, id uuid.UUID) error
}

// Deps are the collaborators of a Manager
type Deps struct {
	Store    Store
	Vault    *vault.Vault
	Launcher browser.Launcher
	Registry *publisher.Registry
	Logger   *slog.Logger
}

// Manager runs publish sessions and authorization tasks
type Manager struct {
	cfg      config.SessionConfig
	store    Store
	vault    *vault.Vault
	launcher browser.Launcher
	registry *publisher.Registry
	log      *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(lo, hi time.Duration) time.Duration
	now    func() time.Time

	global    *semaphore.Weighted
	slotsMu   sync.Mutex
	platforms map[string]*semaphore.Weighted

	tasksMu    sync.Mutex
	tasks      map[uuid.UUID]*authTask
	authEvents chan AuthEvent
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// Option customizes a Manager
type Option func(*Manager)

// WithSleeper replaces the delay used before each publish session
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithJitter replaces the delay picker
func WithJitter(jitter func(lo, hi time.Duration) time.Duration) Option {
	return func(m *Manager) {
		if jitter != nil {
			m.jitter = jitter
		}
	}
}

// WithClock overrides the clock used for timestamps
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a Manager and starts its authorization event consumer. Close
// stops it.
func New(cfg config.SessionConfig, deps Deps, opts ...Option) (*Manager, error) {
	if deps.Store == nil || deps.Vault == nil || deps.Launcher == nil || deps.Registry == nil {
		return nil, fmt.Errorf("session manager requires store, vault, launcher and registry")
	}
	if cfg.MaxConcurrent < 1 || cfg.PerPlatform < 1 {
		return nil, fmt.Errorf("session concurrency caps must be at least 1")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:        cfg,
		store:      deps.Store,
		vault:      deps.Vault,
		launcher:   deps.Launcher,
		registry:   deps.Registry,
		log:        logging.Module(logger, "session"),
		sleep:      sleepContext,
		jitter:     randomDelay,
		now:        time.Now,
		global:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		platforms:  make(map[string]*semaphore.Weighted),
		tasks:      make(map[uuid.UUID]*authTask),
		authEvents: make(chan AuthEvent, 16),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.consumeAuthEvents()
	return m, nil
}

// Close stops the authorization consumer and tears down open auth sessions
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.tasksMu.Lock()
		close(m.done)
		tasks := make([]*authTask, 0, len(m.tasks))
		for _, t := range m.tasks {
			tasks = append(tasks, t)
		}
		m.tasks = make(map[uuid.UUID]*authTask)
		m.tasksMu.Unlock()

		for _, t := range tasks {
			t.teardown()
		}
		m.wg.Wait()
	})
	return nil
}

// Platforms lists the platforms that can be published to
func (m *Manager) Platforms() []publisher.Platform {
	return m.registry.Platforms()
}

// Publish runs the platform's publisher for item inside a fresh browser
// session seeded with the platform credential. A returned error means the
// attempt never reached the publisher; errors wrapping ErrAuthorizationRequired
// or publisher.ErrUnsupportedPlatform are not worth retrying.
func (m *Manager) Publish(ctx context.Context, item *db.ContentItem) (publisher.Result, error) {
	adapter, err := m.registry.Lookup(item.Platform)
	if err != nil {
		return publisher.Result{}, err
	}

	cred, err := m.store.ActiveCredential(ctx, item.Platform)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return publisher.Result{}, fmt.Errorf("%w: no active credential for %s", ErrAuthorizationRequired, item.Platform)
		}
		return publisher.Result{}, fmt.Errorf("failed to load credential: %w", err)
	}

	state, err := m.decodeState(cred)
	if err != nil {
		if markErr := m.store.MarkCredentialInvalid(ctx, cred.ID); markErr != nil {
			m.log.Error("failed to invalidate credential", "credential_id", cred.ID, "error", markErr)
		}
		return publisher.Result{}, fmt.Errorf("%w: session parse failed for %s, delete the account and re-authorize: %v",
			ErrAuthorizationRequired, item.Platform, err)
	}

	release, err := m.acquire(ctx, item.Platform)
	if err != nil {
		return publisher.Result{}, fmt.Errorf("failed to acquire session slot: %w", err)
	}
	defer release()

	// The delay runs inside the slot so queued publishes to one platform
	// stay spaced apart.
	delay := m.jitter(m.cfg.DelayMin.D(), m.cfg.DelayMax.D())
	m.log.Info("waiting before publish", "item_id", item.ID, "platform", item.Platform, "delay", delay.Round(time.Second))
	if err := m.sleep(ctx, delay); err != nil {
		return publisher.Result{}, fmt.Errorf("publish cancelled during delay: %w", err)
	}

	sess, err := m.launcher.Launch(ctx, browser.Options{Headless: m.cfg.Headless, State: state})
	if err != nil {
		return publisher.Result{}, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			m.log.Warn("failed to close browser session", "item_id", item.ID, "error", err)
		}
	}()

	result := m.runAdapter(ctx, adapter, sess, item, cred)
	if result.Success {
		m.log.Info("article published", "item_id", item.ID, "platform", item.Platform, "url", result.PlatformURL)
	} else {
		m.log.Warn("publisher reported failure", "item_id", item.ID, "platform", item.Platform, "error", result.ErrorMsg)
	}
	return result, nil
}

func (m *Manager) runAdapter(ctx context.Context, adapter publisher.Publisher, sess browser.Session,
	item *db.ContentItem, cred *db.Credential) (result publisher.Result) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("publisher panicked", "item_id", item.ID, "panic", r)
			result = publisher.Failed("browser crashed: %v", r)
		}
	}()
	return adapter.Publish(ctx, sess, item, cred)
}

// acquire takes a platform slot then a process-wide slot, queueing on both
func (m *Manager) acquire(ctx context.Context, platform string) (func(), error) {
	sem := m.platformSlots(platform)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := m.global.Acquire(ctx, 1); err != nil {
		sem.Release(1)
		return nil, err
	}
	return func() {
		m.global.Release(1)
		sem.Release(1)
	}, nil
}

func (m *Manager) platformSlots(platform string) *semaphore.Weighted {
	m.slotsMu.Lock()
	defer m.slotsMu.Unlock()
	sem, ok := m.platforms[platform]
	if !ok {
		sem = semaphore.NewWeighted(int64(m.cfg.PerPlatform))
		m.platforms[platform] = sem
	}
	return sem
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomDelay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
