package orchestrator

import (
	"context"
	"fmt"

	"github.com/kanaz606/auto-geo/internal/db"
)

const staleClaimMessage = "stale claim recovered"

// Recover fails in-flight items whose claim outlived StaleAfter, typically
// after a crash, so the normal retry path can pick them up again. Items this
// process is still working on are left alone.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	items, err := o.store.ListStaleItems(ctx, db.StaleQuery{
		Statuses: []db.PublishStatus{db.StatusPublishing, db.StatusGenerating},
		Before:   o.now().Add(-o.cfg.StaleAfter.D()),
		Limit:    o.cfg.ScanBatch,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list stale items: %w", err)
	}

	recovered := 0
	for _, item := range items {
		if o.InFlight(item.ID) || item.ClaimToken == nil {
			continue
		}
		kind := jobPublish
		if item.PublishStatus == db.StatusGenerating {
			kind = jobGenerate
		}
		j := job{kind: kind, item: item, token: *item.ClaimToken, from: item.PublishStatus}

		next := item
		o.fail(&next, staleClaimMessage)
		if o.commit(ctx, j, next) {
			recovered++
			o.log.Warn("recovered stale claim", "item_id", item.ID, "status", next.PublishStatus, "retry_count", next.RetryCount)
		}
	}
	return recovered, nil
}
