// Package api contains the HTTP handlers for the Relay OS backend.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"relay-os/backend/internal/engine"
	"relay-os/backend/internal/lifecycle"
	"relay-os/backend/internal/repository"
	"relay-os/backend/pkg/models"
)

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "relay-backend",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Fields   any    `json:"fields,omitempty"`
}

// respondError maps core error types to their HTTP representation. The core
// has no concept of status codes; this is the only place the mapping lives.
func respondError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	title := "Internal Server Error"
	var fields any

	var validationErr *lifecycle.ValidationError
	var permissionErr *lifecycle.PermissionDeniedError
	var stateErr *lifecycle.InvalidStateError
	var stepErr *engine.InvalidStepError
	var graphErr *engine.GraphIntegrityError

	switch {
	case errors.As(err, &validationErr):
		status = http.StatusUnprocessableEntity
		title = "Validation Failed"
		fields = validationErr.Problems
	case errors.As(err, &permissionErr):
		status = http.StatusForbidden
		title = "Permission Denied"
	case errors.As(err, &stateErr):
		status = http.StatusConflict
		title = "Invalid Request State"
	case errors.As(err, &stepErr):
		status = http.StatusConflict
		title = "Invalid Step"
	case errors.As(err, &graphErr):
		status = http.StatusUnprocessableEntity
		title = "Workflow Graph Invalid"
		fields = graphErr.Problems
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
		title = "Not Found"
	case errors.Is(err, repository.ErrStaleUpdate):
		status = http.StatusConflict
		title = "Concurrent Modification"
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   err.Error(),
		Instance: c.Request().URL.Path,
		Fields:   fields,
	})
}

// currentUser extracts the authenticated user injected by the auth
// middleware.
func currentUser(c echo.Context) (*models.User, error) {
	user, ok := c.Request().Context().Value("user").(*models.User)
	if !ok || user == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "no authenticated user in context")
	}
	return user, nil
}
