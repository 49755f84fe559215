package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/kanaz606/auto-geo/internal/db"
)

// ErrInvalidTransition is returned for a lifecycle move outside the state graph
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions is the lifecycle graph. In-flight states may also move back to
// their source state when a claim is released unprocessed.
var transitions = map[db.PublishStatus][]db.PublishStatus{
	db.StatusDraft:           {db.StatusGenerating},
	db.StatusGenerating:      {db.StatusScheduled, db.StatusFailedRetryable, db.StatusFailedTerminal, db.StatusDraft},
	db.StatusScheduled:       {db.StatusPublishing},
	db.StatusPublishing:      {db.StatusPublished, db.StatusFailedRetryable, db.StatusFailedTerminal, db.StatusScheduled},
	db.StatusFailedRetryable: {db.StatusPublishing, db.StatusGenerating},
	db.StatusPublished:       {},
	db.StatusFailedTerminal:  {},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph
func CanTransition(from, to db.PublishStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition wraps ErrInvalidTransition with the offending edge
func checkTransition(from, to db.PublishStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Backoff returns the delay before retry attempt n (1-based): base doubled
// per earlier attempt, capped at limit.
func Backoff(base, limit time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= limit/2 {
			return limit
		}
		d *= 2
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// failure applies the bounded retry rule to next. The attempt counts against
// the retry budget; the item is parked as retryable until the budget is spent.
func failure(next *db.ContentItem, msg string, now time.Time, maxRetries int, base, limit time.Duration) {
	next.RetryCount++
	next.LastError = msg
	if next.RetryCount < maxRetries {
		next.PublishStatus = db.StatusFailedRetryable
		next.DueAt = now.Add(Backoff(base, limit, next.RetryCount))
		return
	}
	next.PublishStatus = db.StatusFailedTerminal
}
