package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/publisher"
)

// CreateItemRequest creates a draft for the generation pipeline.
type CreateItemRequest struct {
	Platform     string     `json:"platform" validate:"required"`
	Keyword      string     `json:"keyword" validate:"required,max=200"`
	Requirements string     `json:"requirements" validate:"max=4000"`
	WordCount    int        `json:"word_count" validate:"gte=0,lte=20000"`
	DueAt        *time.Time `json:"due_at"`
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := s.decode(r, &req); err != nil {
		s.failure(w, err)
		return
	}
	if !s.knownPlatform(req.Platform) {
		s.failure(w, fmt.Errorf("%w: %q", publisher.ErrUnsupportedPlatform, req.Platform))
		return
	}

	input := db.NewContentItemInput{
		Platform:     req.Platform,
		Keyword:      req.Keyword,
		Requirements: req.Requirements,
		WordCount:    req.WordCount,
	}
	if req.DueAt != nil {
		input.DueAt = *req.DueAt
	}
	item, err := s.store.CreateContentItem(r.Context(), input)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.log.Info("draft created", "item_id", item.ID, "platform", item.Platform, "keyword", item.Keyword)
	s.jsonResponse(w, http.StatusCreated, item)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.failure(w, err)
		return
	}
	item, err := s.store.GetContentItem(r.Context(), id)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, item)
}

// handleGenerateItem queues generation for a draft without waiting for its
// due time.
func (s *Server) handleGenerateItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.failure(w, err)
		return
	}
	if err := s.generator.Generate(r.Context(), id); err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "queued", "id": id.String()})
}
