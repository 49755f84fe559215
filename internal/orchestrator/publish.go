package orchestrator

import (
	"context"

	"github.com/kanaz606/auto-geo/internal/db"
)

var publishFrom = []db.PublishStatus{db.StatusScheduled, db.StatusFailedRetryable}

// ScanPublish claims generated items that are due for publishing
func (o *Orchestrator) ScanPublish(ctx context.Context) (ScanResult, error) {
	return o.scan(ctx, jobPublish, publishFrom, db.StatusPublishing, db.BoolPtr(true))
}

func (o *Orchestrator) runPublish(ctx context.Context, j job) {
	log := o.log.With("item_id", j.item.ID, "platform", j.item.Platform)

	res, err := o.publisher.Publish(ctx, &j.item)
	if ctx.Err() != nil && !res.Success {
		log.Warn("publish interrupted by shutdown, releasing claim")
		o.release(context.WithoutCancel(ctx), j)
		return
	}

	next := j.item
	switch {
	case err == nil && res.Success:
		next.PublishStatus = db.StatusPublished
		next.ResultURL = res.PlatformURL
		next.LastError = ""
	case err != nil && IsTerminal(err):
		next.PublishStatus = db.StatusFailedTerminal
		next.LastError = err.Error()
	case err != nil:
		o.fail(&next, err.Error())
	default:
		msg := res.ErrorMsg
		if msg == "" {
			msg = "publisher reported failure without a reason"
		}
		o.fail(&next, msg)
	}

	if !o.commit(context.WithoutCancel(ctx), j, next) {
		return
	}
	switch next.PublishStatus {
	case db.StatusPublished:
		log.Info("item published", "url", next.ResultURL)
	case db.StatusFailedRetryable:
		log.Warn("publish failed, will retry", "retry_count", next.RetryCount, "due_at", next.DueAt, "error", next.LastError)
	default:
		log.Error("publish failed permanently", "retry_count", next.RetryCount, "error", next.LastError)
	}
}
