package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const contentItemColumns = `id, platform, keyword, requirements, word_count, title, body,
	publish_status, index_status, retry_count, due_at, result_url, last_error,
	generated_at, claim_token, claimed_at, index_lease_until, last_checked_at,
	created_at, updated_at`

// qualifiedColumns prefixes contentItemColumns with a table alias
func qualifiedColumns(alias string) string {
	cols := strings.Split(contentItemColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// scanContentItem reads a row laid out as contentItemColumns, after any
// leading destinations in lead.
func scanContentItem(row pgx.Row, lead ...any) (*ContentItem, error) {
	var item ContentItem
	var publishStatus, indexStatus string
	dest := append(lead, &item.ID, &item.Platform, &item.Keyword, &item.Requirements, &item.WordCount,
		&item.Title, &item.Body, &publishStatus, &indexStatus, &item.RetryCount, &item.DueAt,
		&item.ResultURL, &item.LastError, &item.GeneratedAt, &item.ClaimToken, &item.ClaimedAt,
		&item.IndexLeaseUntil, &item.LastCheckedAt, &item.CreatedAt, &item.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	item.PublishStatus = PublishStatus(publishStatus)
	item.IndexStatus = IndexStatus(indexStatus)
	return &item, nil
}

func collectContentItems(rows pgx.Rows) ([]ContentItem, error) {
	defer rows.Close()

	var items []ContentItem
	for rows.Next() {
		item, err := scanContentItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate content items: %w", err)
	}
	return items, nil
}

// CreateContentItem inserts a new DRAFT item
func (db *DB) CreateContentItem(ctx context.Context, input NewContentItemInput) (*ContentItem, error) {
	dueAt := input.DueAt
	if dueAt.IsZero() {
		dueAt = time.Now()
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO content_items (platform, keyword, requirements, word_count, publish_status, index_status, due_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+contentItemColumns,
		input.Platform, input.Keyword, input.Requirements, input.WordCount,
		string(StatusDraft), string(IndexUnchecked), dueAt,
	)
	item, err := scanContentItem(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create content item: %w", err)
	}
	return item, nil
}

// GetContentItem retrieves an item by ID
func (db *DB) GetContentItem(ctx context.Context, id uuid.UUID) (*ContentItem, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+contentItemColumns+` FROM content_items WHERE id = $1`, id)
	item, err := scanContentItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get content item: %w", err)
	}
	return item, nil
}

// ListDueItems returns claim candidates ordered by due time
func (db *DB) ListDueItems(ctx context.Context, q DueQuery) ([]ContentItem, error) {
	query := `SELECT ` + contentItemColumns + `
	          FROM content_items
	          WHERE publish_status = ANY($1) AND due_at <= $2`
	if q.Generated != nil {
		if *q.Generated {
			query += ` AND generated_at IS NOT NULL`
		} else {
			query += ` AND generated_at IS NULL`
		}
	}
	query += ` ORDER BY due_at, id LIMIT $3`

	rows, err := db.pool.Query(ctx, query, statusStrings(q.Statuses), q.Now, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due items: %w", err)
	}
	return collectContentItems(rows)
}

// ClaimItem performs the compare-and-set transition and returns the row as
// claimed. It returns nil when another claimant already moved the item.
func (db *DB) ClaimItem(ctx context.Context, input ClaimInput) (*Claimed, error) {
	// The locked subselect keeps the pre-claim status for RETURNING
	query := `UPDATE content_items AS c
	          SET publish_status = $1, claim_token = $2, claimed_at = $3, updated_at = $3
	          FROM (SELECT id, publish_status FROM content_items WHERE id = $4 FOR UPDATE) AS prev
	          WHERE c.id = prev.id AND c.publish_status = ANY($5) AND ($6 OR c.due_at <= $3)`
	if input.Generated != nil {
		if *input.Generated {
			query += ` AND c.generated_at IS NOT NULL`
		} else {
			query += ` AND c.generated_at IS NULL`
		}
	}
	query += ` RETURNING prev.publish_status, ` + qualifiedColumns("c")

	row := db.pool.QueryRow(ctx, query,
		string(input.To), input.Token, input.Now, input.ID, statusStrings(input.From), input.AnyDue)
	var from string
	item, err := scanContentItem(row, &from)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim item %s: %w", input.ID, err)
	}
	return &Claimed{Item: *item, From: PublishStatus(from)}, nil
}

// CommitItem writes the outcome of a claimed unit of work and clears the claim
func (db *DB) CommitItem(ctx context.Context, input CommitInput) (bool, error) {
	item := input.Item
	tag, err := db.pool.Exec(ctx,
		`UPDATE content_items
		 SET publish_status = $1, retry_count = $2, due_at = $3, result_url = $4, last_error = $5,
		     title = $6, body = $7, generated_at = $8, claim_token = NULL, claimed_at = NULL,
		     updated_at = NOW()
		 WHERE id = $9 AND publish_status = $10 AND claim_token = $11`,
		string(item.PublishStatus), item.RetryCount, item.DueAt, item.ResultURL, item.LastError,
		item.Title, item.Body, item.GeneratedAt,
		input.ID, string(input.Expect), input.Token,
	)
	if err != nil {
		return false, fmt.Errorf("failed to commit item %s: %w", input.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStaleItems returns in-flight items claimed before the cutoff
func (db *DB) ListStaleItems(ctx context.Context, q StaleQuery) ([]ContentItem, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+contentItemColumns+`
		 FROM content_items
		 WHERE publish_status = ANY($1) AND claim_token IS NOT NULL AND claimed_at < $2
		 ORDER BY claimed_at LIMIT $3`,
		statusStrings(q.Statuses), q.Before, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale items: %w", err)
	}
	return collectContentItems(rows)
}

// ListIndexCandidates returns published items that are not yet indexed and
// not leased by another check.
func (db *DB) ListIndexCandidates(ctx context.Context, now time.Time, limit int) ([]ContentItem, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+contentItemColumns+`
		 FROM content_items
		 WHERE publish_status = $1 AND index_status <> $2
		   AND (index_lease_until IS NULL OR index_lease_until < $3)
		 ORDER BY last_checked_at NULLS FIRST, id LIMIT $4`,
		string(StatusPublished), string(IndexIndexed), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list index candidates: %w", err)
	}
	return collectContentItems(rows)
}

// ClaimIndexCheck leases an item for one index check
func (db *DB) ClaimIndexCheck(ctx context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE content_items SET index_lease_until = $1
		 WHERE id = $2 AND publish_status = $3 AND index_status <> $4
		   AND (index_lease_until IS NULL OR index_lease_until < $5)`,
		until, id, string(StatusPublished), string(IndexIndexed), now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim index check %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CommitIndexCheck releases the lease and, when status is non-nil, records it
func (db *DB) CommitIndexCheck(ctx context.Context, id uuid.UUID, status *IndexStatus, checkedAt time.Time) error {
	var err error
	if status == nil {
		_, err = db.pool.Exec(ctx,
			`UPDATE content_items SET index_lease_until = NULL WHERE id = $1`, id)
	} else {
		_, err = db.pool.Exec(ctx,
			`UPDATE content_items
			 SET index_status = $1, last_checked_at = $2, index_lease_until = NULL, updated_at = NOW()
			 WHERE id = $3`,
			string(*status), checkedAt, id)
	}
	if err != nil {
		return fmt.Errorf("failed to commit index check %s: %w", id, err)
	}
	return nil
}
