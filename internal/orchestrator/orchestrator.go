// Package orchestrator drives content items through their lifecycle. Scans
// claim due items with an atomic compare-and-set and hand them to a bounded
// worker pool, which commits each outcome back under the same claim.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kanaz606/auto-geo/internal/config"
	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/gateway"
	"github.com/kanaz606/auto-geo/internal/logging"
	"github.com/kanaz606/auto-geo/internal/publisher"
	"github.com/kanaz606/auto-geo/internal/session"
)

// Store is the persistence used by the orchestrator
type Store interface {
	GetContentItem(ctx context.Context, id uuid.UUID) (*db.ContentItem, error)
	ListDueItems(ctx context.Context, q db.DueQuery) ([]db.ContentItem, error)
	ClaimItem(ctx context.Context, input db.ClaimInput) (*db.Claimed, error)
	CommitItem(ctx context.Context, input db.CommitInput) (bool, error)
	ListStaleItems(ctx context.Context, q db.StaleQuery) ([]db.ContentItem, error)
	ListIndexCandidates(ctx context.Context, now time.Time, limit int) ([]db.ContentItem, error)
	ClaimIndexCheck(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error)
	CommitIndexCheck(ctx context.Context, id uuid.UUID, status *db.IndexStatus, checkedAt time.Time) error
}

// Publisher runs one publish attempt. Errors mean the attempt never reached
// the platform; IsTerminal decides which of them are final.
type Publisher interface {
	Publish(ctx context.Context, item *db.ContentItem) (publisher.Result, error)
}

// IndexChecker reports whether a published item is visible to search
type IndexChecker interface {
	Check(ctx context.Context, item *db.ContentItem) (bool, error)
}

type jobKind string

const (
	jobPublish  jobKind = "publish"
	jobGenerate jobKind = "generate"
	jobIndex    jobKind = "index"
)

// job is one claimed unit of work
type job struct {
	kind  jobKind
	item  db.ContentItem
	token uuid.UUID
	// from is the status the claim moved the item out of
	from db.PublishStatus
}

// Orchestrator owns the content lifecycle
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	store     Store
	publisher Publisher
	gateway   gateway.Gateway
	index     IndexChecker
	log       *slog.Logger
	now       func() time.Time

	queue chan job

	mu       sync.Mutex
	inflight map[uuid.UUID]jobKind
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithClock overrides the clock
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.log = logging.Module(logger, "orchestrator")
		}
	}
}

// WithIndexChecker enables index scans
func WithIndexChecker(checker IndexChecker) Option {
	return func(o *Orchestrator) {
		o.index = checker
	}
}

// New creates an Orchestrator. Start must be called before queued work runs.
func New(cfg config.OrchestratorConfig, store Store, pub Publisher, gw gateway.Gateway, opts ...Option) (*Orchestrator, error) {
	if store == nil || pub == nil || gw == nil {
		return nil, fmt.Errorf("orchestrator requires store, publisher and gateway")
	}
	if cfg.Workers < 1 || cfg.QueueSize < 1 || cfg.ScanBatch < 1 || cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("orchestrator workers, queue size, scan batch and max retries must be at least 1")
	}

	o := &Orchestrator{
		cfg:       cfg,
		store:     store,
		publisher: pub,
		gateway:   gw,
		log:       logging.Module(slog.Default(), "orchestrator"),
		now:       time.Now,
		queue:     make(chan job, cfg.QueueSize),
		inflight:  make(map[uuid.UUID]jobKind),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// IsTerminal reports whether a publish error cannot be fixed by retrying:
// missing or broken credentials and unknown platforms.
func IsTerminal(err error) bool {
	return errors.Is(err, session.ErrAuthorizationRequired) || errors.Is(err, publisher.ErrUnsupportedPlatform)
}

// Start launches the worker pool
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.group != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.Workers; i++ {
		g.Go(func() error {
			o.work(gctx)
			return nil
		})
	}
	o.cancel = cancel
	o.group = g
	o.log.Info("worker pool started", "workers", o.cfg.Workers, "queue_size", o.cfg.QueueSize)
}

// Stop cancels running work, waits for the workers and releases the claims of
// queued items that never started.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, g := o.cancel, o.group
	o.cancel, o.group = nil, nil
	o.mu.Unlock()
	if g == nil {
		return
	}

	cancel()
	_ = g.Wait()

	for {
		select {
		case j := <-o.queue:
			o.release(context.Background(), j)
			o.done(j.item.ID)
		default:
			o.log.Info("worker pool stopped")
			return
		}
	}
}

func (o *Orchestrator) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-o.queue:
			o.process(ctx, j)
		}
	}
}

// process runs one job and always records its outcome
func (o *Orchestrator) process(ctx context.Context, j job) {
	defer o.done(j.item.ID)
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("worker panicked", "kind", j.kind, "item_id", j.item.ID, "panic", r)
			o.crashed(j, fmt.Sprintf("worker crashed: %v", r))
		}
	}()

	switch j.kind {
	case jobPublish:
		o.runPublish(ctx, j)
	case jobGenerate:
		o.runGenerate(ctx, j)
	case jobIndex:
		o.runIndex(ctx, j)
	}
}

// crashed records a failure for a job whose worker panicked
func (o *Orchestrator) crashed(j job, msg string) {
	ctx := context.Background()
	switch j.kind {
	case jobIndex:
		o.releaseIndex(ctx, j.item.ID)
	default:
		next := j.item
		o.fail(&next, msg)
		o.commit(ctx, j, next)
	}
}

// enqueue hands a claimed item to the pool. A full queue releases the claim.
func (o *Orchestrator) enqueue(ctx context.Context, j job) bool {
	o.mu.Lock()
	o.inflight[j.item.ID] = j.kind
	o.mu.Unlock()

	select {
	case o.queue <- j:
		return true
	default:
		o.log.Warn("work queue full, releasing claim", "kind", j.kind, "item_id", j.item.ID)
		o.release(ctx, j)
		o.done(j.item.ID)
		return false
	}
}

func (o *Orchestrator) done(id uuid.UUID) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

// InFlight reports whether this process is working on the item
func (o *Orchestrator) InFlight(id uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[id]
	return ok
}

// release returns a claimed item to the status it was claimed from
func (o *Orchestrator) release(ctx context.Context, j job) {
	if j.kind == jobIndex {
		o.releaseIndex(ctx, j.item.ID)
		return
	}
	next := j.item
	next.PublishStatus = j.from
	o.commit(ctx, j, next)
}

func (o *Orchestrator) releaseIndex(ctx context.Context, id uuid.UUID) {
	if err := o.store.CommitIndexCheck(ctx, id, nil, o.now()); err != nil {
		o.log.Error("failed to release index lease", "item_id", id, "error", err)
	}
}

// commit writes next under the job's claim. A lost claim is logged and the
// outcome dropped.
func (o *Orchestrator) commit(ctx context.Context, j job, next db.ContentItem) bool {
	inFlight := j.item.PublishStatus
	if err := checkTransition(inFlight, next.PublishStatus); err != nil {
		o.log.Error("refusing to commit", "item_id", j.item.ID, "error", err)
		return false
	}

	ok, err := o.store.CommitItem(ctx, db.CommitInput{
		ID:     j.item.ID,
		Token:  j.token,
		Expect: inFlight,
		Item:   next,
	})
	if err != nil {
		o.log.Error("failed to commit item", "item_id", j.item.ID, "status", next.PublishStatus, "error", err)
		return false
	}
	if !ok {
		o.log.Warn("claim lost before commit, outcome discarded", "item_id", j.item.ID, "status", next.PublishStatus)
		return false
	}
	return true
}

// fail applies the retry rule using the configured budget
func (o *Orchestrator) fail(next *db.ContentItem, msg string) {
	failure(next, msg, o.now(), o.cfg.MaxRetries, o.cfg.RetryBackoff.D(), o.cfg.MaxBackoff.D())
}

// claim performs the compare-and-set for item and returns the in-flight job.
// The job starts from the row the claim returned, not the listed snapshot.
func (o *Orchestrator) claim(ctx context.Context, kind jobKind, item db.ContentItem, from []db.PublishStatus,
	to db.PublishStatus, generated *bool, anyDue bool) (job, bool, error) {
	token := uuid.New()
	claimed, err := o.store.ClaimItem(ctx, db.ClaimInput{
		ID:        item.ID,
		From:      from,
		To:        to,
		Generated: generated,
		Token:     token,
		Now:       o.now(),
		AnyDue:    anyDue,
	})
	if err != nil || claimed == nil {
		return job{}, false, err
	}
	return job{kind: kind, item: claimed.Item, token: token, from: claimed.From}, true, nil
}

// ScanResult summarizes one scan
type ScanResult struct {
	Candidates int `json:"candidates"`
	Claimed    int `json:"claimed"`
	Released   int `json:"released"`
}

// scan claims due candidates in due order and enqueues them
func (o *Orchestrator) scan(ctx context.Context, kind jobKind, from []db.PublishStatus, to db.PublishStatus, generated *bool) (ScanResult, error) {
	items, err := o.store.ListDueItems(ctx, db.DueQuery{
		Statuses:  from,
		Generated: generated,
		Now:       o.now(),
		Limit:     o.cfg.ScanBatch,
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to list %s candidates: %w", kind, err)
	}

	res := ScanResult{Candidates: len(items)}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		j, ok, err := o.claim(ctx, kind, item, from, to, generated, false)
		if err != nil {
			o.log.Error("claim failed", "kind", kind, "item_id", item.ID, "error", err)
			continue
		}
		if !ok {
			o.log.Debug("item already claimed", "kind", kind, "item_id", item.ID)
			continue
		}
		res.Claimed++
		if !o.enqueue(ctx, j) {
			res.Released++
		}
	}
	if res.Claimed > 0 {
		o.log.Info("scan claimed items", "kind", kind, "candidates", res.Candidates, "claimed", res.Claimed, "released", res.Released)
	}
	return res, nil
}
