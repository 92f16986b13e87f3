// Package lifecycle orchestrates request state changes: it is the only
// component that checks permissions, advances the engine, appends audit
// entries, and persists results, as one logical unit per action.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"relay-os/backend/internal/engine"
	"relay-os/backend/internal/permissions"
	"relay-os/backend/internal/repository"
	"relay-os/backend/pkg/models"
)

var tracer = otel.Tracer("relay-os/backend/internal/lifecycle")

// Logger defines the logging interface compatible with the application
// logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// ActionInput carries one action a user applies to a request.
type ActionInput struct {
	Type           models.ActionType
	StepKey        string
	Comment        string
	ContextUpdates map[string]any
}

// Service applies actions to requests. All mutating entry points serialize
// per request id; callers may invoke them concurrently.
type Service struct {
	workflows repository.WorkflowRepository
	requests  repository.RequestRepository
	logs      repository.AuditLogRepository
	engine    *engine.Engine
	perms     permissions.Evaluator
	effects   EffectRunner
	logger    Logger
	locks     *keyedMutex
	now       func() time.Time
}

// NewService wires a lifecycle service. A nil effects runner falls back to
// the logging runner.
func NewService(
	workflows repository.WorkflowRepository,
	requests repository.RequestRepository,
	logs repository.AuditLogRepository,
	eng *engine.Engine,
	effects EffectRunner,
	logger Logger,
) *Service {
	if effects == nil {
		effects = &LoggingEffectRunner{Logger: logger}
	}
	return &Service{
		workflows: workflows,
		requests:  requests,
		logs:      logs,
		engine:    eng,
		perms:     permissions.NewEvaluator(),
		effects:   effects,
		logger:    logger,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// CreateRequest validates the submitted context against the workflow's
// fields, activates the start step, and persists the new request with its
// create audit entry.
func (s *Service) CreateRequest(ctx context.Context, user *models.User, workflowID string, contextValues map[string]any, observerIDs []string) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.CreateRequest")
	defer span.End()

	wf, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if !s.perms.CanCreateRequest(user, wf) {
		return nil, &PermissionDeniedError{UserID: user.ID, Action: models.ActionCreate}
	}
	if err := ValidateContext(wf, contextValues); err != nil {
		return nil, err
	}
	if contextValues == nil {
		contextValues = map[string]any{}
	}

	res, err := s.engine.ActivateStart(wf, contextValues)
	if err != nil {
		return nil, err
	}

	now := s.now()
	req := &models.Request{
		ID:              uuid.New().String(),
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		CreatedBy:       user.ID,
		Status:          res.Status,
		Context:         contextValues,
		Execution:       res.State,
		ObserverIDs:     observerIDs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	if err := s.appendLog(ctx, req.ID, models.ActionCreate, user.ID, ""); err != nil {
		return nil, err
	}

	if err := s.processEffects(ctx, req, wf, res.Effects); err != nil {
		return nil, err
	}
	return req, nil
}

// ApplyAction applies an approve, reject, request-changes, or complete
// decision to an active step. Exactly one audit entry is appended per
// applied action.
func (s *Service) ApplyAction(ctx context.Context, user *models.User, requestID string, input ActionInput) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.ApplyAction")
	defer span.End()

	unlock := s.locks.lock(requestID)
	defer unlock()

	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, &InvalidStateError{RequestID: req.ID, Status: req.Status}
	}

	wf, err := s.workflows.Get(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	if err := checkActionInput(input); err != nil {
		return nil, err
	}
	if err := s.authorizeAction(user, req, wf, input.Type, input.StepKey); err != nil {
		return nil, err
	}

	if len(input.ContextUpdates) > 0 && allowsContextUpdates(input.Type) {
		if err := s.mergeContext(req, wf, input.ContextUpdates); err != nil {
			return nil, err
		}
	}

	outcome, err := outcomeFor(input.Type)
	if err != nil {
		return nil, err
	}

	res, err := s.engine.Resolve(wf, req.Execution, req.Context, input.StepKey, outcome, user.ID)
	if err != nil {
		return nil, err
	}

	expected := req.UpdatedAt
	req.Execution = res.State
	req.Status = res.Status
	req.ChangesRequested = res.ChangesRequested
	req.UpdatedAt = s.now()

	if err := s.requests.Update(ctx, req, expected); err != nil {
		return nil, err
	}
	if err := s.appendLog(ctx, req.ID, input.Type, user.ID, input.Comment); err != nil {
		return nil, err
	}

	if err := s.processEffects(ctx, req, wf, res.Effects); err != nil {
		return nil, err
	}
	return req, nil
}

// CancelRequest moves a running request to the terminal canceled state.
func (s *Service) CancelRequest(ctx context.Context, user *models.User, requestID, comment string) (*models.Request, error) {
	unlock := s.locks.lock(requestID)
	defer unlock()

	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, &InvalidStateError{RequestID: req.ID, Status: req.Status}
	}

	wf, err := s.workflows.Get(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !s.perms.CanCancel(user, req, wf) {
		return nil, &PermissionDeniedError{UserID: user.ID, Action: models.ActionCancel}
	}

	expected := req.UpdatedAt
	req.Status = models.RequestStatusCanceled
	req.Execution = models.ExecutionState{}
	req.ChangesRequested = false
	req.UpdatedAt = s.now()

	if err := s.requests.Update(ctx, req, expected); err != nil {
		return nil, err
	}
	if err := s.appendLog(ctx, req.ID, models.ActionCancel, user.ID, comment); err != nil {
		return nil, err
	}
	return req, nil
}

// AddComment appends a comment entry. Comments are the one action terminal
// requests still accept, for anyone who can view the request.
func (s *Service) AddComment(ctx context.Context, user *models.User, requestID, comment string) error {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	wf, err := s.workflows.Get(ctx, req.WorkflowID)
	if err != nil {
		return err
	}
	if !s.perms.CanComment(user, req, wf) {
		return &PermissionDeniedError{UserID: user.ID, Action: models.ActionComment}
	}
	if comment == "" {
		return &ValidationError{Problems: []FieldProblem{{Field: "comment", Reason: "comment must not be empty"}}}
	}
	return s.appendLog(ctx, req.ID, models.ActionComment, user.ID, comment)
}

// UpdateContext merges edits into the request context without advancing the
// engine, clearing any changes-requested flag so the request resumes its
// normal path.
func (s *Service) UpdateContext(ctx context.Context, user *models.User, requestID string, updates map[string]any) (*models.Request, error) {
	unlock := s.locks.lock(requestID)
	defer unlock()

	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		return nil, &InvalidStateError{RequestID: req.ID, Status: req.Status}
	}

	wf, err := s.workflows.Get(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	if !s.perms.CanEdit(user, req, wf) {
		return nil, &PermissionDeniedError{UserID: user.ID, Action: models.ActionUpdate}
	}

	if err := s.mergeContext(req, wf, updates); err != nil {
		return nil, err
	}

	expected := req.UpdatedAt
	req.ChangesRequested = false
	req.UpdatedAt = s.now()

	if err := s.requests.Update(ctx, req, expected); err != nil {
		return nil, err
	}
	if err := s.appendLog(ctx, req.ID, models.ActionUpdate, user.ID, ""); err != nil {
		return nil, err
	}
	return req, nil
}

// PreviewNextSteps reports what resolving a step would do, without mutating
// anything.
func (s *Service) PreviewNextSteps(ctx context.Context, user *models.User, requestID, stepKey string, outcome engine.Outcome) (engine.Resolution, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return engine.Resolution{}, err
	}
	wf, err := s.workflows.Get(ctx, req.WorkflowID)
	if err != nil {
		return engine.Resolution{}, err
	}
	if !s.perms.CanView(user, req, wf) {
		return engine.Resolution{}, &PermissionDeniedError{UserID: user.ID, Action: models.ActionUpdate}
	}
	if req.Status.Terminal() {
		return engine.Resolution{}, &InvalidStateError{RequestID: req.ID, Status: req.Status}
	}
	return s.engine.Preview(wf, req.Execution, req.Context, stepKey, outcome, user.ID)
}

// GetRequest returns a request and its audit log, gated on view permission.
func (s *Service) GetRequest(ctx context.Context, user *models.User, requestID string) (*models.Request, []*models.AuditLogEntry, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	wf, err := s.workflows.Get(ctx, req.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	if !s.perms.CanView(user, req, wf) {
		return nil, nil, &PermissionDeniedError{UserID: user.ID, Action: models.ActionType("view")}
	}
	entries, err := s.logs.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, nil, err
	}
	return req, entries, nil
}

// ListRequests returns the requests matching the filter that the user may
// view.
func (s *Service) ListRequests(ctx context.Context, user *models.User, filter repository.RequestFilter) ([]*models.Request, error) {
	reqs, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	workflows := map[string]*models.Workflow{}
	for _, req := range reqs {
		if _, ok := workflows[req.WorkflowID]; ok {
			continue
		}
		wf, err := s.workflows.Get(ctx, req.WorkflowID)
		if err != nil {
			if err == repository.ErrNotFound {
				continue
			}
			return nil, err
		}
		workflows[req.WorkflowID] = wf
	}
	return s.perms.FilterVisible(user, reqs, workflows), nil
}

// CanEditWorkflow reports whether the user's role permits workflow authoring.
func (s *Service) CanEditWorkflow(user *models.User) bool {
	return s.perms.CanEditWorkflow(user)
}

// authorizeAction checks the capability and the structural position against
// the specific step being acted on. Assignment to a sibling active step is
// not enough.
func (s *Service) authorizeAction(user *models.User, req *models.Request, wf *models.Workflow, action models.ActionType, stepKey string) error {
	allowed := false
	switch action {
	case models.ActionApprove, models.ActionReject, models.ActionRequestChange:
		allowed = s.perms.CanApproveStep(user, req, wf, stepKey)
	case models.ActionComplete:
		allowed = s.perms.CanCompleteStep(user, req, wf, stepKey)
	}
	if !allowed {
		return &PermissionDeniedError{UserID: user.ID, Action: action}
	}
	return nil
}

func (s *Service) mergeContext(req *models.Request, wf *models.Workflow, updates map[string]any) error {
	merged := req.Context
	if merged == nil {
		merged = map[string]any{}
	}
	if err := mergo.Merge(&merged, updates, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge context updates: %w", err)
	}
	if err := ValidateContext(wf, merged); err != nil {
		return err
	}
	req.Context = merged
	return nil
}

// processEffects runs pending system task effects and resolves the steps the
// runner reports done, cascading until the request settles. Runner failures
// leave the step active and are logged; a later retry is the runner's
// concern.
func (s *Service) processEffects(ctx context.Context, req *models.Request, wf *models.Workflow, effects []engine.Effect) error {
	queue := effects
	for len(queue) > 0 {
		fx := queue[0]
		queue = queue[1:]

		done, err := s.effects.Run(ctx, req, fx)
		if err != nil {
			s.logger.Error("system task failed", "request_id", req.ID, "step", fx.StepKey, "error", err)
			continue
		}
		if !done {
			continue
		}

		res, err := s.engine.Resolve(wf, req.Execution, req.Context, fx.StepKey, engine.OutcomeCompleted, SystemActorID)
		if err != nil {
			return err
		}

		expected := req.UpdatedAt
		req.Execution = res.State
		req.Status = res.Status
		req.UpdatedAt = s.now()

		if err := s.requests.Update(ctx, req, expected); err != nil {
			return err
		}
		if err := s.appendLog(ctx, req.ID, models.ActionComplete, SystemActorID, ""); err != nil {
			return err
		}
		queue = append(queue, res.Effects...)
	}
	return nil
}

// appendLog records the audit entry for an applied action. Every applied
// action produces exactly one entry; an append failure fails the action.
func (s *Service) appendLog(ctx context.Context, requestID string, action models.ActionType, userID, comment string) error {
	entry := &models.AuditLogEntry{
		ID:        uuid.New().String(),
		RequestID: requestID,
		Action:    action,
		UserID:    userID,
		Comment:   comment,
		CreatedAt: s.now(),
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append audit entry", "request_id", requestID, "action", action, "error", err)
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func checkActionInput(input ActionInput) error {
	if input.StepKey == "" {
		return &ValidationError{Problems: []FieldProblem{{Field: "step_key", Reason: "step key is required"}}}
	}
	if (input.Type == models.ActionReject || input.Type == models.ActionRequestChange) && input.Comment == "" {
		return &ValidationError{Problems: []FieldProblem{{Field: "comment", Reason: "a reason is required"}}}
	}
	return nil
}

func allowsContextUpdates(action models.ActionType) bool {
	return action == models.ActionApprove || action == models.ActionComplete
}

func outcomeFor(action models.ActionType) (engine.Outcome, error) {
	switch action {
	case models.ActionApprove:
		return engine.OutcomeApproved, nil
	case models.ActionReject:
		return engine.OutcomeRejected, nil
	case models.ActionRequestChange:
		return engine.OutcomeChangesRequested, nil
	case models.ActionComplete:
		return engine.OutcomeCompleted, nil
	}
	return "", fmt.Errorf("action %q does not resolve a step", action)
}
