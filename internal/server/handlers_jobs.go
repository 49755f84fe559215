package server

import (
	"net/http"
	"time"

	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/scheduler"
)

// JobView joins a stored definition with its live schedule.
type JobView struct {
	db.JobDefinition
	NextRun *time.Time `json:"next_run,omitempty"`
	LastRun *time.Time `json:"last_run,omitempty"`
	Running bool       `json:"running"`
	Runs    int        `json:"runs"`
}

// UpdateJobRequest replaces a job definition.
type UpdateJobRequest struct {
	CronExpression string `json:"cron_expression" validate:"required"`
	IsActive       *bool  `json:"is_active" validate:"required"`
	Label          string `json:"label" validate:"max=128"`
	Description    string `json:"description"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	defs, err := s.store.ListJobDefinitions(r.Context())
	if err != nil {
		s.failure(w, err)
		return
	}

	live := make(map[string]scheduler.JobInfo)
	for _, job := range s.scheduler.Jobs() {
		live[job.Key] = job
	}

	views := make([]JobView, 0, len(defs))
	for _, def := range defs {
		view := JobView{JobDefinition: def}
		if job, ok := live[def.TaskKey]; ok {
			next := job.NextRun
			view.NextRun = &next
			view.LastRun = job.LastRun
			view.Running = job.Running
			view.Runs = job.Runs
		}
		views = append(views, view)
	}
	s.jsonResponse(w, http.StatusOK, views)
}

// handleUpdateJob saves the definition and applies it to the running
// scheduler at once.
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req UpdateJobRequest
	if err := s.decode(r, &req); err != nil {
		s.failure(w, err)
		return
	}
	if err := scheduler.Validate(req.CronExpression); err != nil {
		s.failure(w, &ErrValidation{Field: "cron_expression", Message: err.Error()})
		return
	}
	if !s.scheduler.Handles(key) {
		s.failure(w, &ErrValidation{Field: "key", Message: "unknown task " + key})
		return
	}

	saved, err := s.store.UpsertJobDefinition(r.Context(), db.JobDefinition{
		TaskKey:        key,
		CronExpression: req.CronExpression,
		IsActive:       *req.IsActive,
		Label:          req.Label,
		Description:    req.Description,
	})
	if err != nil {
		s.failure(w, err)
		return
	}
	if err := s.scheduler.Reload(r.Context(), key); err != nil {
		s.failure(w, err)
		return
	}
	s.log.Info("job definition updated", "job", key, "expr", saved.CronExpression, "active", saved.IsActive)
	s.jsonResponse(w, http.StatusOK, saved)
}

func (s *Server) handleReloadJob(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := s.scheduler.Reload(r.Context(), key); err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "reloaded", "task_key": key})
}
