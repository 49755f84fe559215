package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kanaz606/auto-geo/internal/db"
	"github.com/kanaz606/auto-geo/internal/orchestrator"
	"github.com/kanaz606/auto-geo/internal/publisher"
	"github.com/kanaz606/auto-geo/internal/scheduler"
	"github.com/kanaz606/auto-geo/internal/session"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&ErrValidation{Field: "keyword", Message: "required"}, http.StatusBadRequest},
		{&ErrInvalidCredentials{}, http.StatusUnauthorized},
		{fmt.Errorf("failed to get item: %w", db.ErrNotFound), http.StatusNotFound},
		{session.ErrAuthTaskNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: \"weibo\"", publisher.ErrUnsupportedPlatform), http.StatusBadRequest},
		{fmt.Errorf("%w: x", scheduler.ErrNoHandler), http.StatusUnprocessableEntity},
		{session.ErrAuthTaskNotRunning, http.StatusConflict},
		{fmt.Errorf("%w: published", orchestrator.ErrInvalidTransition), http.StatusConflict},
		{orchestrator.ErrNotClaimed, http.StatusConflict},
		{orchestrator.ErrQueueFull, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}
