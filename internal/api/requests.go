package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"relay-os/backend/internal/engine"
	"relay-os/backend/internal/lifecycle"
	"relay-os/backend/internal/repository"
	"relay-os/backend/pkg/models"
)

// CreateRequestPayload is the body for starting a new request against a
// published workflow.
type CreateRequestPayload struct {
	Context     map[string]any `json:"context"`
	ObserverIDs []string       `json:"observer_ids"`
}

// ActionPayload is the shared body for step decisions.
type ActionPayload struct {
	StepKey        string         `json:"step_key"`
	Comment        string         `json:"comment"`
	ContextUpdates map[string]any `json:"context_updates"`
}

// CommentPayload is the body for standalone comments and cancellations.
type CommentPayload struct {
	Comment string `json:"comment"`
}

// RequestDetail bundles a request with its audit trail.
type RequestDetail struct {
	Request *models.Request         `json:"request"`
	Log     []*models.AuditLogEntry `json:"log"`
}

// CreateRequest starts a new request against a published workflow
// (POST /api/v1/workflows/:id/requests)
func (s *Server) CreateRequest(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var payload CreateRequestPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	req, err := s.Lifecycle.CreateRequest(c.Request().Context(), user, c.Param("id"), payload.Context, payload.ObserverIDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, req)
}

// ListRequests returns the requests visible to the caller, optionally
// filtered by status, workflow, or creator
// (GET /api/v1/requests)
func (s *Server) ListRequests(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	filter := repository.RequestFilter{
		Status:     models.RequestStatus(c.QueryParam("status")),
		WorkflowID: c.QueryParam("workflow_id"),
		CreatedBy:  c.QueryParam("created_by"),
	}

	reqs, err := s.Lifecycle.ListRequests(c.Request().Context(), user, filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, reqs)
}

// GetRequest returns a request with its audit log
// (GET /api/v1/requests/:id)
func (s *Server) GetRequest(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	req, entries, err := s.Lifecycle.GetRequest(c.Request().Context(), user, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, RequestDetail{Request: req, Log: entries})
}

// ApproveRequest approves an active approval step
// (POST /api/v1/requests/:id/approve)
func (s *Server) ApproveRequest(c echo.Context) error {
	return s.applyAction(c, models.ActionApprove)
}

// RejectRequest rejects an active approval step, failing the request
// (POST /api/v1/requests/:id/reject)
func (s *Server) RejectRequest(c echo.Context) error {
	return s.applyAction(c, models.ActionReject)
}

// RequestChanges sends a request back to its creator for edits
// (POST /api/v1/requests/:id/request-changes)
func (s *Server) RequestChanges(c echo.Context) error {
	return s.applyAction(c, models.ActionRequestChange)
}

// ExecuteRequest marks an active action step as completed
// (POST /api/v1/requests/:id/execute)
func (s *Server) ExecuteRequest(c echo.Context) error {
	return s.applyAction(c, models.ActionComplete)
}

func (s *Server) applyAction(c echo.Context, action models.ActionType) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var payload ActionPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	req, err := s.Lifecycle.ApplyAction(c.Request().Context(), user, c.Param("id"), lifecycle.ActionInput{
		Type:           action,
		StepKey:        payload.StepKey,
		Comment:        payload.Comment,
		ContextUpdates: payload.ContextUpdates,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

// CancelRequest cancels a running request
// (POST /api/v1/requests/:id/cancel)
func (s *Server) CancelRequest(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var payload CommentPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	req, err := s.Lifecycle.CancelRequest(c.Request().Context(), user, c.Param("id"), payload.Comment)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

// CommentRequest appends a comment to the audit log. Works on terminal
// requests too.
// (POST /api/v1/requests/:id/comment)
func (s *Server) CommentRequest(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var payload CommentPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	if err := s.Lifecycle.AddComment(c.Request().Context(), user, c.Param("id"), payload.Comment); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// UpdateRequestContext merges field edits into a running request without
// advancing it
// (PATCH /api/v1/requests/:id/context)
func (s *Server) UpdateRequestContext(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var updates map[string]any
	if err := c.Bind(&updates); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	req, err := s.Lifecycle.UpdateContext(c.Request().Context(), user, c.Param("id"), updates)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

// NextSteps previews the steps that would activate if the given step were
// resolved with the given outcome
// (GET /api/v1/requests/:id/next-steps?step_key=...&outcome=...)
func (s *Server) NextSteps(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	stepKey := c.QueryParam("step_key")
	outcome := engine.Outcome(c.QueryParam("outcome"))
	if outcome == "" {
		outcome = engine.OutcomeApproved
	}

	res, err := s.Lifecycle.PreviewNextSteps(c.Request().Context(), user, c.Param("id"), stepKey, outcome)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
