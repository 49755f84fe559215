package db

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process store with the same semantics as DB. It backs
// tests and the --memory mode of the serve command.
type Memory struct {
	mu          sync.Mutex
	now         func() time.Time
	items       map[uuid.UUID]*ContentItem
	credentials map[uuid.UUID]*Credential
	jobs        map[string]*JobDefinition
}

// MemoryOption customizes a Memory store
type MemoryOption func(*Memory)

// WithMemoryClock overrides the clock used for timestamps
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(m *Memory) {
		if clock != nil {
			m.now = clock
		}
	}
}

// NewMemory creates an empty in-memory store
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:         time.Now,
		items:       make(map[uuid.UUID]*ContentItem),
		credentials: make(map[uuid.UUID]*Credential),
		jobs:        make(map[string]*JobDefinition),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PutContentItem stores item as-is, assigning an ID when missing
func (m *Memory) PutContentItem(item ContentItem) ContentItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = m.now()
	}
	if item.IndexStatus == "" {
		item.IndexStatus = IndexUnchecked
	}
	item.UpdatedAt = m.now()
	stored := item
	m.items[item.ID] = &stored
	return stored
}

// ContentItems returns a snapshot of all items ordered by due time
func (m *Memory) ContentItems() []ContentItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ContentItem, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, *item)
	}
	sortByDue(out)
	return out
}

func (m *Memory) CreateContentItem(_ context.Context, input NewContentItemInput) (*ContentItem, error) {
	dueAt := input.DueAt
	if dueAt.IsZero() {
		dueAt = m.now()
	}
	item := m.PutContentItem(ContentItem{
		Platform:      input.Platform,
		Keyword:       input.Keyword,
		Requirements:  input.Requirements,
		WordCount:     input.WordCount,
		PublishStatus: StatusDraft,
		IndexStatus:   IndexUnchecked,
		DueAt:         dueAt,
	})
	return &item, nil
}

func (m *Memory) GetContentItem(_ context.Context, id uuid.UUID) (*ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *item
	return &copied, nil
}

func matchesGenerated(item *ContentItem, generated *bool) bool {
	return generated == nil || item.Generated() == *generated
}

func (m *Memory) ListDueItems(_ context.Context, q DueQuery) ([]ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ContentItem
	for _, item := range m.items {
		if !slices.Contains(q.Statuses, item.PublishStatus) || item.DueAt.After(q.Now) {
			continue
		}
		if !matchesGenerated(item, q.Generated) {
			continue
		}
		out = append(out, *item)
	}
	sortByDue(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) ClaimItem(_ context.Context, input ClaimInput) (*Claimed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[input.ID]
	if !ok || !slices.Contains(input.From, item.PublishStatus) {
		return nil, nil
	}
	if !input.AnyDue && item.DueAt.After(input.Now) {
		return nil, nil
	}
	if !matchesGenerated(item, input.Generated) {
		return nil, nil
	}
	from := item.PublishStatus
	token := input.Token
	claimedAt := input.Now
	item.PublishStatus = input.To
	item.ClaimToken = &token
	item.ClaimedAt = &claimedAt
	item.UpdatedAt = input.Now
	return &Claimed{Item: *item, From: from}, nil
}

func (m *Memory) CommitItem(_ context.Context, input CommitInput) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[input.ID]
	if !ok || item.PublishStatus != input.Expect || item.ClaimToken == nil || *item.ClaimToken != input.Token {
		return false, nil
	}
	next := input.Item
	item.PublishStatus = next.PublishStatus
	item.RetryCount = next.RetryCount
	item.DueAt = next.DueAt
	item.ResultURL = next.ResultURL
	item.LastError = next.LastError
	item.Title = next.Title
	item.Body = next.Body
	item.GeneratedAt = next.GeneratedAt
	item.ClaimToken = nil
	item.ClaimedAt = nil
	item.UpdatedAt = m.now()
	return true, nil
}

func (m *Memory) ListStaleItems(_ context.Context, q StaleQuery) ([]ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ContentItem
	for _, item := range m.items {
		if !slices.Contains(q.Statuses, item.PublishStatus) || item.ClaimToken == nil || item.ClaimedAt == nil {
			continue
		}
		if item.ClaimedAt.Before(q.Before) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(*out[j].ClaimedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func indexCandidate(item *ContentItem, now time.Time) bool {
	if item.PublishStatus != StatusPublished || item.IndexStatus == IndexIndexed {
		return false
	}
	return item.IndexLeaseUntil == nil || item.IndexLeaseUntil.Before(now)
}

func (m *Memory) ListIndexCandidates(_ context.Context, now time.Time, limit int) ([]ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ContentItem
	for _, item := range m.items {
		if indexCandidate(item, now) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastCheckedAt, out[j].LastCheckedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID.String() < out[j].ID.String()
		case a == nil:
			return true
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ClaimIndexCheck(_ context.Context, id uuid.UUID, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok || !indexCandidate(item, now) {
		return false, nil
	}
	item.IndexLeaseUntil = &until
	return true, nil
}

func (m *Memory) CommitIndexCheck(_ context.Context, id uuid.UUID, status *IndexStatus, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	item.IndexLeaseUntil = nil
	if status != nil {
		item.IndexStatus = *status
		item.LastCheckedAt = &checkedAt
		item.UpdatedAt = m.now()
	}
	return nil
}

func (m *Memory) ActiveCredential(_ context.Context, platform string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Credential
	for _, c := range m.credentials {
		if c.Platform != platform || c.Status != CredentialActive {
			continue
		}
		if best == nil || authorizedAfter(c, best) {
			best = c
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	copied := *best
	return &copied, nil
}

func authorizedAfter(a, b *Credential) bool {
	if a.LastAuthorizedAt == nil {
		return false
	}
	if b.LastAuthorizedAt == nil {
		return true
	}
	return a.LastAuthorizedAt.After(*b.LastAuthorizedAt)
}

func (m *Memory) UpsertCredential(_ context.Context, input UpsertCredentialInput) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	authorizedAt := input.AuthorizedAt
	for _, c := range m.credentials {
		if c.Platform == input.Platform && c.Account == input.Account {
			c.EncryptedSessionBlob = input.EncryptedSessionBlob
			c.Status = CredentialActive
			c.LastAuthorizedAt = &authorizedAt
			c.UpdatedAt = now
			copied := *c
			return &copied, nil
		}
	}
	c := &Credential{
		ID:                   uuid.New(),
		Platform:             input.Platform,
		Account:              input.Account,
		EncryptedSessionBlob: input.EncryptedSessionBlob,
		Status:               CredentialActive,
		LastAuthorizedAt:     &authorizedAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	m.credentials[c.ID] = c
	copied := *c
	return &copied, nil
}

func (m *Memory) MarkCredentialInvalid(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.credentials[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = CredentialInvalid
	c.UpdatedAt = m.now()
	return nil
}

// Credentials returns a snapshot of all stored credentials
func (m *Memory) Credentials() []Credential {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Credential, 0, len(m.credentials))
	for _, c := range m.credentials {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) ListJobDefinitions(_ context.Context) ([]JobDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]JobDefinition, 0, len(m.jobs))
	for _, def := range m.jobs {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskKey < out[j].TaskKey })
	return out, nil
}

func (m *Memory) GetJobDefinition(_ context.Context, key string) (*JobDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	def, ok := m.jobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *def
	return &copied, nil
}

func (m *Memory) UpsertJobDefinition(_ context.Context, def JobDefinition) (*JobDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	def.UpdatedAt = m.now()
	stored := def
	m.jobs[def.TaskKey] = &stored
	return &def, nil
}

func (m *Memory) SeedJobDefinitions(_ context.Context, defs []JobDefinition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.jobs) > 0 {
		return false, nil
	}
	for _, def := range defs {
		def.UpdatedAt = m.now()
		stored := def
		m.jobs[def.TaskKey] = &stored
	}
	return true, nil
}

func sortByDue(items []ContentItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].DueAt.Equal(items[j].DueAt) {
			return items[i].ID.String() < items[j].ID.String()
		}
		return items[i].DueAt.Before(items[j].DueAt)
	})
}
