// Package scheduler fires registered handlers on cron schedules. Each job is
// guarded against overlapping runs, late ticks within the misfire grace still
// fire once, and missed ticks are coalesced into a single run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/logging"
)

// DefaultMisfireGrace is used when no grace is configured
const DefaultMisfireGrace = 60 * time.Second

// idleWait bounds the sleep when no job is registered
const idleWait = time.Hour

// Handler is the work a job triggers
type Handler func(ctx context.Context) error

// JobStore provides persisted job definitions
type JobStore interface {
	ListJobDefinitions(ctx context.Context) ([]db.JobDefinition, error)
	GetJobDefinition(ctx context.Context, key string) (*db.JobDefinition, error)
	SeedJobDefinitions(ctx context.Context, defs []db.JobDefinition) (bool, error)
}

// ErrNoHandler is returned when a job definition names an unknown task key
var ErrNoHandler = errors.New("no handler registered for task")

var errNoStore = errors.New("scheduler has no job store")

type entry struct {
	key      string
	expr     string
	schedule cron.Schedule
	handler  Handler
	next     time.Time
	lastRun  time.Time
	runs     int
	skipped  int
	misfires int
}

// JobInfo is a snapshot of a registered job
type JobInfo struct {
	Key        string     `json:"task_key"`
	Expression string     `json:"cron_expression"`
	NextRun    time.Time  `json:"next_run"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	Running    bool       `json:"running"`
	Runs       int        `json:"runs"`
	Skipped    int        `json:"skipped"`
	Misfires   int        `json:"misfires"`
}

// Engine runs cron jobs on one cooperative loop
type Engine struct {
	store JobStore
	grace time.Duration
	log   *slog.Logger
	now   func() time.Time

	mu       sync.Mutex
	handlers map[string]Handler
	jobs     map[string]*entry
	// running is keyed by task so the overlap guard outlives removal and
	// re-registration of the job.
	running  map[string]bool
	wake     chan struct{}
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock overrides the clock
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMisfireGrace sets how late a tick may be and still fire
func WithMisfireGrace(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.grace = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.log = logging.Module(logger, "scheduler")
		}
	}
}

// New creates an Engine. store may be nil when jobs are only registered
// directly.
func New(store JobStore, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		grace:    DefaultMisfireGrace,
		log:      logging.Module(slog.Default(), "scheduler"),
		now:      time.Now,
		handlers: make(map[string]Handler),
		jobs:     make(map[string]*entry),
		running:  make(map[string]bool),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle adds key to the task registry used by Reload and LoadAll
func (e *Engine) Handle(key string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[key] = handler
}

// Register installs or replaces a job. An inactive job is removed. A run
// still in progress blocks new runs of the key whatever happens to the job.
func (e *Engine) Register(key, expr string, handler Handler, active bool) error {
	if !active {
		e.remove(key)
		return nil
	}
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, key)
	}

	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		e.log.Error("invalid cron expression", "job", key, "expr", expr, "error", err)
		return fmt.Errorf("failed to parse cron expression %q for %s: %w", expr, key, err)
	}

	e.mu.Lock()
	next := &entry{
		key:      key,
		expr:     expr,
		schedule: schedule,
		handler:  handler,
		next:     schedule.Next(e.now()),
	}
	if prev, ok := e.jobs[key]; ok {
		next.lastRun = prev.lastRun
		next.runs = prev.runs
		next.skipped = prev.skipped
		next.misfires = prev.misfires
	}
	e.jobs[key] = next
	e.mu.Unlock()

	e.log.Info("job registered", "job", key, "expr", expr, "next_run", next.next)
	e.signal()
	return nil
}

func (e *Engine) remove(key string) {
	e.mu.Lock()
	_, ok := e.jobs[key]
	delete(e.jobs, key)
	e.mu.Unlock()
	if ok {
		e.log.Info("job removed", "job", key)
		e.signal()
	}
}

// Reload re-reads one job definition and re-registers only that job
func (e *Engine) Reload(ctx context.Context, key string) error {
	if e.store == nil {
		return errNoStore
	}
	def, err := e.store.GetJobDefinition(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			e.remove(key)
		}
		return fmt.Errorf("failed to reload job %s: %w", key, err)
	}
	return e.Register(def.TaskKey, def.CronExpression, e.handler(def.TaskKey), def.IsActive)
}

// LoadAll seeds the default definitions into an empty store and registers
// every definition that has a handler. A bad definition is logged and does
// not stop the others.
func (e *Engine) LoadAll(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, errNoStore
	}
	seeded, err := e.store.SeedJobDefinitions(ctx, db.DefaultJobDefinitions())
	if err != nil {
		return 0, err
	}
	if seeded {
		e.log.Info("seeded default job definitions")
	}

	defs, err := e.store.ListJobDefinitions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load job definitions: %w", err)
	}

	registered := 0
	for _, def := range defs {
		handler := e.handler(def.TaskKey)
		if handler == nil {
			e.log.Warn("job definition has no handler", "job", def.TaskKey)
			continue
		}
		if err := e.Register(def.TaskKey, def.CronExpression, handler, def.IsActive); err != nil {
			continue
		}
		if def.IsActive {
			registered++
		}
	}
	return registered, nil
}

// Handles reports whether key has a registered task handler
func (e *Engine) Handles(key string) bool {
	return e.handler(key) != nil
}

// Validate checks a standard five-field cron expression or descriptor
func Validate(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

func (e *Engine) handler(key string) Handler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handlers[key]
}

// Jobs lists registered jobs ordered by key
func (e *Engine) Jobs() []JobInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]JobInfo, 0, len(e.jobs))
	for _, j := range e.jobs {
		info := JobInfo{
			Key:        j.key,
			Expression: j.expr,
			NextRun:    j.next,
			Running:    e.running[j.key],
			Runs:       j.runs,
			Skipped:    j.skipped,
			Misfires:   j.misfires,
		}
		if !j.lastRun.IsZero() {
			last := j.lastRun
			info.LastRun = &last
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Key < out[k].Key })
	return out
}

// Start runs the scheduling loop until Stop or ctx is cancelled
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.loopDone = make(chan struct{})
	done := e.loopDone
	e.mu.Unlock()

	e.log.Info("scheduler started", "misfire_grace", e.grace)
	go e.loop(ctx, done)
}

// Stop ends the loop and waits for running handlers, which see their
// context cancelled.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.loopDone
	e.cancel, e.loopDone = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	e.inflight.Wait()
	e.log.Info("scheduler stopped")
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		now := e.now()
		e.runDue(ctx, now)

		timer := time.NewTimer(e.untilNext(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) untilNext(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	wait := idleWait
	for _, j := range e.jobs {
		if d := j.next.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// runDue fires every job whose next tick has passed. Ticks missed since the
// last check collapse into the latest one, which fires only if it is within
// the grace window.
func (e *Engine) runDue(ctx context.Context, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, j := range e.jobs {
		if j.next.After(now) {
			continue
		}

		latest := j.next
		missed := 0
		for t := j.schedule.Next(latest); !t.After(now); t = j.schedule.Next(t) {
			latest = t
			missed++
		}
		j.next = j.schedule.Next(latest)

		if late := now.Sub(latest); late > e.grace {
			j.misfires++
			e.log.Warn("job misfired beyond grace, skipping", "job", j.key, "late", late.Round(time.Second), "next_run", j.next)
			continue
		}
		if missed > 0 {
			e.log.Info("coalesced missed runs", "job", j.key, "missed", missed)
		}
		if e.running[j.key] {
			j.skipped++
			e.log.Warn("previous run still active, skipping", "job", j.key, "next_run", j.next)
			continue
		}

		e.running[j.key] = true
		j.runs++
		j.lastRun = now
		e.inflight.Add(1)
		go e.invoke(ctx, j.key, j.handler)
	}
}

// invoke runs one handler; errors and panics stay inside the job
func (e *Engine) invoke(ctx context.Context, key string, handler Handler) {
	defer e.inflight.Done()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("job panicked", "job", key, "panic", r)
		}
		e.mu.Lock()
		delete(e.running, key)
		e.mu.Unlock()
	}()

	if err := handler(ctx); err != nil {
		e.log.Error("job failed", "job", key, "error", err, "duration", time.Since(start).Round(time.Millisecond))
		return
	}
	e.log.Debug("job finished", "job", key, "duration", time.Since(start).Round(time.Millisecond))
}
