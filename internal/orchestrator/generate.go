package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/gateway"
)

// DefaultWordCount is requested when an item does not set one
const DefaultWordCount = 1200

var (
	// ErrNotClaimed is returned when another claimant moved the item first
	ErrNotClaimed = errors.New("item was claimed concurrently")
	// ErrQueueFull is returned when the work queue cannot take the item
	ErrQueueFull = errors.New("work queue full")
)

var generateFrom = []db.PublishStatus{db.StatusDraft, db.StatusFailedRetryable}

// ScanGenerate claims due drafts and failed generations for the gateway
func (o *Orchestrator) ScanGenerate(ctx context.Context) (ScanResult, error) {
	return o.scan(ctx, jobGenerate, generateFrom, db.StatusGenerating, db.BoolPtr(false))
}

// Generate queues generation for one item regardless of its due time
func (o *Orchestrator) Generate(ctx context.Context, id uuid.UUID) error {
	item, err := o.store.GetContentItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Generated() || (item.PublishStatus != db.StatusDraft && item.PublishStatus != db.StatusFailedRetryable) {
		return fmt.Errorf("%w: item %s is %s and cannot be generated", ErrInvalidTransition, id, item.PublishStatus)
	}

	j, ok, err := o.claim(ctx, jobGenerate, *item, generateFrom, db.StatusGenerating, db.BoolPtr(false), true)
	if err != nil {
		return fmt.Errorf("failed to claim item %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotClaimed, id)
	}
	if !o.enqueue(ctx, j) {
		return fmt.Errorf("%w: item %s released", ErrQueueFull, id)
	}
	o.log.Info("generation queued", "item_id", id)
	return nil
}

func (o *Orchestrator) runGenerate(ctx context.Context, j job) {
	log := o.log.With("item_id", j.item.ID, "keyword", j.item.Keyword)

	wordCount := j.item.WordCount
	if wordCount <= 0 {
		wordCount = DefaultWordCount
	}
	resp := o.gateway.GenerateArticle(ctx, gateway.ArticleRequest{
		Keyword:      j.item.Keyword,
		Platform:     j.item.Platform,
		Requirements: j.item.Requirements,
		WordCount:    wordCount,
	})
	if ctx.Err() != nil && !resp.OK() {
		log.Warn("generation interrupted by shutdown, releasing claim")
		o.release(context.WithoutCancel(ctx), j)
		return
	}

	next := j.item
	article, err := gateway.ParseArticle(resp, j.item.Keyword)
	switch {
	case err == nil:
		now := o.now()
		next.Title = article.Title
		next.Body = article.Content
		next.GeneratedAt = &now
		next.PublishStatus = db.StatusScheduled
		next.RetryCount = 0
		next.LastError = ""
	case resp.OK() || resp.Transient:
		o.fail(&next, "generation failed: "+errorText(resp, err))
	default:
		next.PublishStatus = db.StatusFailedTerminal
		next.LastError = "generation failed: " + errorText(resp, err)
	}

	if !o.commit(context.WithoutCancel(ctx), j, next) {
		return
	}
	switch next.PublishStatus {
	case db.StatusScheduled:
		log.Info("article generated", "title", next.Title, "due_at", next.DueAt)
	case db.StatusFailedRetryable:
		log.Warn("generation failed, will retry", "retry_count", next.RetryCount, "error", next.LastError)
	default:
		log.Error("generation failed permanently", "error", next.LastError)
	}
}

func errorText(resp *gateway.Response, err error) string {
	if resp != nil && !resp.OK() && resp.Error != "" {
		return resp.Error
	}
	if err != nil {
		return err.Error()
	}
	return "unknown gateway error"
}
