package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/orchestrator"
	"github.com/kanaz606/auto-geo/internal/publisher"
	"github.com/kanaz606/auto-geo/internal/scheduler"
	"github.com/kanaz606/auto-geo/internal/session"
)

// ErrInvalidCredentials indicates a failed operator login.
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid username or password"
}

// ErrValidation indicates request validation failure.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus maps domain errors to response codes.
func HTTPStatus(err error) int {
	var validation *ErrValidation
	var credentials *ErrInvalidCredentials
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &credentials):
		return http.StatusUnauthorized
	case errors.Is(err, db.ErrNotFound), errors.Is(err, session.ErrAuthTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, publisher.ErrUnsupportedPlatform):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrNoHandler):
		return http.StatusUnprocessableEntity
	case errors.Is(err, session.ErrAuthTaskNotRunning),
		errors.Is(err, orchestrator.ErrInvalidTransition),
		errors.Is(err, orchestrator.ErrNotClaimed):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
