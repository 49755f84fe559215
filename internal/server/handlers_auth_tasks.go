package server

import "net/http"

// StartAuthTaskRequest opens a sign-in browser for a platform.
type StartAuthTaskRequest struct {
	Platform string `json:"platform" validate:"required"`
}

// PlatformView describes a registered publishing platform.
type PlatformView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleListPlatforms(w http.ResponseWriter, _ *http.Request) {
	platforms := s.sessions.Platforms()
	views := make([]PlatformView, 0, len(platforms))
	for _, p := range platforms {
		views = append(views, PlatformView{ID: p.ID, Name: p.Name})
	}
	s.jsonResponse(w, http.StatusOK, views)
}

func (s *Server) handleListAuthTasks(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.sessions.AuthTasks())
}

func (s *Server) handleStartAuthTask(w http.ResponseWriter, r *http.Request) {
	var req StartAuthTaskRequest
	if err := s.decode(r, &req); err != nil {
		s.failure(w, err)
		return
	}
	task, err := s.sessions.StartAuthorization(r.Context(), req.Platform)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, task)
}

func (s *Server) handleGetAuthTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.failure(w, err)
		return
	}
	task, err := s.sessions.AuthTask(id)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, task)
}

// handleConfirmAuthTask lets the operator report a finished login when the
// poller has not noticed it yet.
func (s *Server) handleConfirmAuthTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.failure(w, err)
		return
	}
	if err := s.sessions.Confirm(id); err != nil {
		s.failure(w, err)
		return
	}
	task, err := s.sessions.AuthTask(id)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, task)
}

func (s *Server) handleCloseAuthTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.failure(w, err)
		return
	}
	if err := s.sessions.CloseAuthTask(id); err != nil {
		s.failure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) knownPlatform(id string) bool {
	for _, p := range s.sessions.Platforms() {
		if p.ID == id {
			return true
		}
	}
	return false
}
