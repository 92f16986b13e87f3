package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"relay-os/backend/internal/engine"
	"relay-os/backend/pkg/models"
)

// WorkflowPayload is the authoring request body. When WorkflowKey names an
// existing workflow a new draft version of it is created; otherwise a fresh
// workflow key is minted.
type WorkflowPayload struct {
	WorkflowKey string                           `json:"workflow_key,omitempty"`
	Name        string                           `json:"name"`
	Description string                           `json:"description"`
	StartKey    string                           `json:"start_key"`
	Fields      []models.FieldDefinition         `json:"fields"`
	Steps       map[string]models.StepDefinition `json:"steps"`
}

// ListWorkflows returns a list of all workflow versions
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	ctx := c.Request().Context()

	workflows, err := s.Workflows.List(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, workflows)
}

// GetWorkflow returns a single workflow version
// (GET /api/v1/workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	wf, err := s.Workflows.Get(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// CreateWorkflow creates a new draft workflow, or a new draft version of an
// existing workflow key
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := currentUser(c)
	if err != nil {
		return err
	}
	if !s.Lifecycle.CanEditWorkflow(user) {
		return echo.NewHTTPError(http.StatusForbidden, "role does not permit workflow authoring")
	}

	var payload WorkflowPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}

	version := 1
	if payload.WorkflowKey == "" {
		payload.WorkflowKey = uuid.New().String()
	} else {
		// Evolving an existing concept: the new draft supersedes the latest
		// known version. Published versions stay untouched.
		existing, err := s.Workflows.List(ctx)
		if err != nil {
			return respondError(c, err)
		}
		for _, wf := range existing {
			if wf.WorkflowKey == payload.WorkflowKey && wf.Version >= version {
				version = wf.Version + 1
			}
		}
	}

	now := time.Now()
	wf := &models.Workflow{
		ID:          uuid.New().String(),
		WorkflowKey: payload.WorkflowKey,
		Version:     version,
		IsLatest:    true,
		Name:        payload.Name,
		Description: payload.Description,
		Status:      models.WorkflowStatusDraft,
		StartKey:    payload.StartKey,
		Fields:      payload.Fields,
		Steps:       payload.Steps,
		CreatedBy:   user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.Workflows.Create(ctx, wf); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, wf)
}

// PublishWorkflow validates the graph and makes a draft available for new
// requests. Published workflows are immutable.
// (POST /api/v1/workflows/:id/publish)
func (s *Server) PublishWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := currentUser(c)
	if err != nil {
		return err
	}
	if !s.Lifecycle.CanEditWorkflow(user) {
		return echo.NewHTTPError(http.StatusForbidden, "role does not permit workflow authoring")
	}

	wf, err := s.Workflows.Get(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	if wf.Status != models.WorkflowStatusDraft {
		return echo.NewHTTPError(http.StatusConflict, "only draft workflows can be published")
	}

	if err := engine.Validate(wf); err != nil {
		return respondError(c, err)
	}

	wf.Status = models.WorkflowStatusPublished
	wf.UpdatedAt = time.Now()
	if err := s.Workflows.Update(ctx, wf); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// ArchiveWorkflow stops a published workflow from accepting new requests.
// In-flight requests pinned to it are unaffected.
// (POST /api/v1/workflows/:id/archive)
func (s *Server) ArchiveWorkflow(c echo.Context) error {
	ctx := c.Request().Context()

	user, err := currentUser(c)
	if err != nil {
		return err
	}
	if !s.Lifecycle.CanEditWorkflow(user) {
		return echo.NewHTTPError(http.StatusForbidden, "role does not permit workflow authoring")
	}

	wf, err := s.Workflows.Get(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	if wf.Status != models.WorkflowStatusPublished {
		return echo.NewHTTPError(http.StatusConflict, "only published workflows can be archived")
	}

	wf.Status = models.WorkflowStatusArchived
	wf.UpdatedAt = time.Now()
	if err := s.Workflows.Update(ctx, wf); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// ListUsers returns all workspace members
// (GET /api/v1/users)
func (s *Server) ListUsers(c echo.Context) error {
	users, err := s.Users.List(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, users)
}
