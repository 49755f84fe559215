package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/gateway"
)

// ScanIndex leases published, not yet indexed items for an index check. A
// check never changes the lifecycle status.
func (o *Orchestrator) ScanIndex(ctx context.Context) (ScanResult, error) {
	if o.index == nil {
		o.log.Debug("index scan skipped, no checker configured")
		return ScanResult{}, nil
	}

	now := o.now()
	items, err := o.store.ListIndexCandidates(ctx, now, o.cfg.ScanBatch)
	if err != nil {
		return ScanResult{}, fmt.Errorf("failed to list index candidates: %w", err)
	}

	res := ScanResult{Candidates: len(items)}
	until := now.Add(o.cfg.IndexLease.D())
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ok, err := o.store.ClaimIndexCheck(ctx, item.ID, now, until)
		if err != nil {
			o.log.Error("index claim failed", "item_id", item.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		res.Claimed++
		if !o.enqueue(ctx, job{kind: jobIndex, item: item, token: uuid.Nil, from: item.PublishStatus}) {
			res.Released++
		}
	}
	if res.Claimed > 0 {
		o.log.Info("index scan leased items", "candidates", res.Candidates, "claimed", res.Claimed, "released", res.Released)
	}
	return res, nil
}

func (o *Orchestrator) runIndex(ctx context.Context, j job) {
	indexed, err := o.index.Check(ctx, &j.item)
	if err != nil {
		o.log.Warn("index check failed", "item_id", j.item.ID, "error", err)
		o.releaseIndex(context.WithoutCancel(ctx), j.item.ID)
		return
	}

	status := db.IndexNotIndexed
	if indexed {
		status = db.IndexIndexed
	}
	if err := o.store.CommitIndexCheck(context.WithoutCancel(ctx), j.item.ID, &status, o.now()); err != nil {
		o.log.Error("failed to record index status", "item_id", j.item.ID, "error", err)
		return
	}
	o.log.Info("index checked", "item_id", j.item.ID, "index_status", status, "url", j.item.ResultURL)
	o.analyzeIndex(ctx, j.item, indexed)
}

// analyzeIndex asks the gateway to assess a recorded check. The assessment
// is only logged; the stored index status stays as checked.
func (o *Orchestrator) analyzeIndex(ctx context.Context, item db.ContentItem, indexed bool) {
	if item.Keyword == "" {
		return
	}
	resp := o.gateway.AnalyzeIndexCheck(ctx, gateway.IndexAnalysisRequest{
		Keyword:  item.Keyword,
		Platform: item.Platform,
		URL:      item.ResultURL,
		Indexed:  indexed,
	})
	if !resp.OK() {
		o.log.Warn("index analysis failed", "item_id", item.ID, "error", resp.Error)
		return
	}
	summary, _ := resp.Data["summary"].(string)
	o.log.Info("index analysis", "item_id", item.ID, "summary", summary, "recommendations", resp.Data["recommendations"])
}
