package db

import (
	"time"

	"github.com/google/uuid"
)

// PublishStatus is the lifecycle state of a content item
type PublishStatus string

// PublishStatus constants
const (
	StatusDraft           PublishStatus = "DRAFT"
	StatusGenerating      PublishStatus = "GENERATING"
	StatusScheduled       PublishStatus = "SCHEDULED"
	StatusPublishing      PublishStatus = "PUBLISHING"
	StatusPublished       PublishStatus = "PUBLISHED"
	StatusFailedRetryable PublishStatus = "FAILED_RETRYABLE"
	StatusFailedTerminal  PublishStatus = "FAILED_TERMINAL"
)

// IndexStatus is the third-party indexing state of a published item
type IndexStatus string

// IndexStatus constants
const (
	IndexUnchecked  IndexStatus = "UNCHECKED"
	IndexIndexed    IndexStatus = "INDEXED"
	IndexNotIndexed IndexStatus = "NOT_INDEXED"
)

// ContentItem represents one unit of content moving through generation,
// publishing and index verification.
type ContentItem struct {
	ID              uuid.UUID     `json:"id"`
	Platform        string        `json:"platform"`
	Keyword         string        `json:"keyword"`
	Requirements    string        `json:"requirements,omitempty"`
	WordCount       int           `json:"word_count"`
	Title           string        `json:"title"`
	Body            string        `json:"body"`
	PublishStatus   PublishStatus `json:"publish_status"`
	IndexStatus     IndexStatus   `json:"index_status"`
	RetryCount      int           `json:"retry_count"`
	DueAt           time.Time     `json:"due_at"`
	ResultURL       string        `json:"result_url,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	GeneratedAt     *time.Time    `json:"generated_at,omitempty"`
	ClaimToken      *uuid.UUID    `json:"claim_token,omitempty"`
	ClaimedAt       *time.Time    `json:"claimed_at,omitempty"`
	IndexLeaseUntil *time.Time    `json:"index_lease_until,omitempty"`
	LastCheckedAt   *time.Time    `json:"last_checked_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Generated reports whether the gateway has produced the item's payload
func (c *ContentItem) Generated() bool {
	return c.GeneratedAt != nil
}

// DueQuery selects claimable items
type DueQuery struct {
	Statuses []PublishStatus
	// Generated filters on generated_at; nil means either.
	Generated *bool
	Now       time.Time
	Limit     int
}

// ClaimInput describes an atomic compare-and-set transition that grants
// exclusive ownership of an item.
type ClaimInput struct {
	ID        uuid.UUID
	From      []PublishStatus
	To        PublishStatus
	Generated *bool
	Token     uuid.UUID
	Now       time.Time
	// AnyDue skips the due_at check for operator-triggered work
	AnyDue bool
}

// Claimed is the row as the claim left it, plus the status it was taken from.
type Claimed struct {
	Item ContentItem
	From PublishStatus
}

// CommitInput writes the outcome of a claimed unit of work. It only applies
// while the item is still in Expect and owned by Token.
type CommitInput struct {
	ID     uuid.UUID
	Token  uuid.UUID
	Expect PublishStatus
	Item   ContentItem
}

// StaleQuery selects in-flight items whose claim is older than Before
type StaleQuery struct {
	Statuses []PublishStatus
	Before   time.Time
	Limit    int
}

// NewContentItemInput is used by the generation flow to create drafts
type NewContentItemInput struct {
	Platform     string    `validate:"required"`
	Keyword      string    `validate:"required"`
	Requirements string
	WordCount    int       `validate:"gte=0"`
	DueAt        time.Time
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}
