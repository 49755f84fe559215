package server

import (
	"net/http"
	"time"
)

// LoginRequest carries operator credentials.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns a bearer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin exchanges operator credentials for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.operator == nil || !s.operator.LoginEnabled() {
		s.errorResponse(w, http.StatusServiceUnavailable, "operator login is not configured")
		return
	}

	var req LoginRequest
	if err := s.decode(r, &req); err != nil {
		s.failure(w, err)
		return
	}
	if !s.operator.Verify(req.Username, req.Password) {
		s.log.Warn("operator login failed", "username", req.Username, "remote", clientID(r))
		s.failure(w, &ErrInvalidCredentials{})
		return
	}

	token, expiresAt, err := s.tokens.GenerateToken(req.Username)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	s.log.Info("operator logged in", "username", req.Username)
	s.jsonResponse(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}
