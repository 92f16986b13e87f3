package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"relay-os/backend/pkg/models"
)

func user(id string, role models.Role) *models.User {
	return &models.User{ID: id, Email: id + "@acme.com", Role: role}
}

func approvalWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:       "wf-1",
		Status:   models.WorkflowStatusPublished,
		StartKey: "review",
		Steps: map[string]models.StepDefinition{
			"review": {Type: models.StepTypeApproval, Assignees: []string{"mgr-1"}, Next: "payout"},
			"payout": {Type: models.StepTypeAction, Assignee: "ops-1"},
		},
	}
}

func runningRequest(createdBy string, activeSteps ...string) *models.Request {
	return &models.Request{
		ID:         "req-1",
		WorkflowID: "wf-1",
		CreatedBy:  createdBy,
		Status:     models.RequestStatusRunning,
		Execution:  models.ExecutionState{ActiveSteps: activeSteps},
	}
}

func TestHasCapability_RoleTable(t *testing.T) {
	cases := []struct {
		role models.Role
		cap  Capability
		want bool
	}{
		{models.RoleAdmin, CapViewAllRequests, true},
		{models.RoleAdmin, CapEditWorkflow, true},
		{models.RoleWorkspaceManager, CapViewAllRequests, false},
		{models.RoleWorkspaceManager, CapApproveRequest, true},
		{models.RoleWorkspaceManager, CapCompleteRequest, true},
		{models.RoleWorkspaceManager, CapEditWorkflow, true},
		{models.RoleFinanceApprover, CapApproveRequest, true},
		{models.RoleFinanceApprover, CapCompleteRequest, false},
		{models.RoleFinanceApprover, CapEditWorkflow, false},
		{models.RoleUser, CapCreateRequest, true},
		{models.RoleUser, CapApproveRequest, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HasCapability(user("u", tc.role), tc.cap),
			"role %s cap %s", tc.role, tc.cap)
	}
}

func TestCanView(t *testing.T) {
	e := NewEvaluator()
	wf := approvalWorkflow()

	t.Run("admin sees everything", func(t *testing.T) {
		assert.True(t, e.CanView(user("admin-1", models.RoleAdmin), runningRequest("someone"), wf))
	})

	t.Run("creator sees own request", func(t *testing.T) {
		assert.True(t, e.CanView(user("creator", models.RoleUser), runningRequest("creator"), wf))
	})

	t.Run("observer sees the request", func(t *testing.T) {
		req := runningRequest("someone")
		req.ObserverIDs = []string{"watcher"}
		assert.True(t, e.CanView(user("watcher", models.RoleUser), req, wf))
	})

	t.Run("assignee of any workflow step sees the request", func(t *testing.T) {
		// ops-1 is assigned to payout even though it is not active yet.
		assert.True(t, e.CanView(user("ops-1", models.RoleUser), runningRequest("someone", "review"), wf))
	})

	t.Run("unrelated user sees nothing", func(t *testing.T) {
		assert.False(t, e.CanView(user("bystander", models.RoleUser), runningRequest("someone"), wf))
	})

	t.Run("terminal requests stay visible", func(t *testing.T) {
		req := runningRequest("creator")
		req.Status = models.RequestStatusCompleted
		assert.True(t, e.CanView(user("creator", models.RoleUser), req, wf))
	})
}

func TestCanApprove(t *testing.T) {
	e := NewEvaluator()
	wf := approvalWorkflow()

	t.Run("assigned approver with capability", func(t *testing.T) {
		assert.True(t, e.CanApprove(user("mgr-1", models.RoleWorkspaceManager), runningRequest("someone", "review"), wf))
	})

	t.Run("self-approval is always denied", func(t *testing.T) {
		// Even an admin assigned to the step may not approve their own request.
		req := runningRequest("mgr-1", "review")
		assert.False(t, e.CanApprove(user("mgr-1", models.RoleAdmin), req, wf))
	})

	t.Run("capability without assignment is not enough", func(t *testing.T) {
		assert.False(t, e.CanApprove(user("other-mgr", models.RoleWorkspaceManager), runningRequest("someone", "review"), wf))
	})

	t.Run("assignment without capability is not enough", func(t *testing.T) {
		wf := approvalWorkflow()
		step := wf.Steps["review"]
		step.Assignees = []string{"plain-user"}
		wf.Steps["review"] = step
		assert.False(t, e.CanApprove(user("plain-user", models.RoleUser), runningRequest("someone", "review"), wf))
	})

	t.Run("step must be active", func(t *testing.T) {
		assert.False(t, e.CanApprove(user("mgr-1", models.RoleWorkspaceManager), runningRequest("someone", "payout"), wf))
	})

	t.Run("terminal request", func(t *testing.T) {
		req := runningRequest("someone", "review")
		req.Status = models.RequestStatusFailed
		assert.False(t, e.CanApprove(user("mgr-1", models.RoleWorkspaceManager), req, wf))
	})
}

func TestCanApproveStep_ScopedToSpecificStep(t *testing.T) {
	e := NewEvaluator()
	wf := &models.Workflow{
		ID:       "wf-par",
		Status:   models.WorkflowStatusPublished,
		StartKey: "fork",
		Steps: map[string]models.StepDefinition{
			"fork": {Type: models.StepTypeGatewayParallel,
				Branches: []models.Branch{{To: "legal"}, {To: "budget"}},
				Join:     []string{"legal", "budget"}},
			"legal":  {Type: models.StepTypeApproval, Assignees: []string{"legal-1"}},
			"budget": {Type: models.StepTypeApproval, Assignees: []string{"fin-1"}},
		},
	}
	req := runningRequest("someone", "budget", "legal")

	// Each approver holds only their own branch, even while both are active.
	assert.True(t, e.CanApproveStep(user("legal-1", models.RoleWorkspaceManager), req, wf, "legal"))
	assert.False(t, e.CanApproveStep(user("legal-1", models.RoleWorkspaceManager), req, wf, "budget"))
	assert.True(t, e.CanApproveStep(user("fin-1", models.RoleFinanceApprover), req, wf, "budget"))
	assert.False(t, e.CanApproveStep(user("fin-1", models.RoleFinanceApprover), req, wf, "legal"))

	// The request-level predicate still answers for any active step.
	assert.True(t, e.CanApprove(user("legal-1", models.RoleWorkspaceManager), req, wf))
}

func TestCanCompleteStep_ScopedToSpecificStep(t *testing.T) {
	e := NewEvaluator()
	wf := &models.Workflow{
		ID:       "wf-actions",
		Status:   models.WorkflowStatusPublished,
		StartKey: "fork",
		Steps: map[string]models.StepDefinition{
			"fork": {Type: models.StepTypeGatewayParallel,
				Branches: []models.Branch{{To: "ship"}, {To: "bill"}},
				Join:     []string{"ship", "bill"}},
			"ship": {Type: models.StepTypeAction, Assignee: "ops-1"},
			"bill": {Type: models.StepTypeAction, Assignee: "fin-1"},
		},
	}
	req := runningRequest("someone", "bill", "ship")

	assert.True(t, e.CanCompleteStep(user("ops-1", models.RoleWorkspaceManager), req, wf, "ship"))
	assert.False(t, e.CanCompleteStep(user("ops-1", models.RoleWorkspaceManager), req, wf, "bill"))
	assert.False(t, e.CanCompleteStep(user("ops-1", models.RoleWorkspaceManager), req, wf, "fork"))
}

func TestCanComplete(t *testing.T) {
	e := NewEvaluator()
	wf := approvalWorkflow()

	assert.True(t, e.CanComplete(user("ops-1", models.RoleWorkspaceManager), runningRequest("someone", "payout"), wf))
	assert.False(t, e.CanComplete(user("ops-1", models.RoleWorkspaceManager), runningRequest("someone", "review"), wf))
	assert.False(t, e.CanComplete(user("other", models.RoleWorkspaceManager), runningRequest("someone", "payout"), wf))
	// Finance approvers lack the complete capability entirely.
	assert.False(t, e.CanComplete(user("ops-1", models.RoleFinanceApprover), runningRequest("someone", "payout"), wf))
}

func TestCanEdit(t *testing.T) {
	e := NewEvaluator()
	wf := approvalWorkflow()

	t.Run("creator may edit while at the start step", func(t *testing.T) {
		assert.True(t, e.CanEdit(user("creator", models.RoleUser), runningRequest("creator", "review"), wf))
	})

	t.Run("creator may not edit once past the start step", func(t *testing.T) {
		assert.False(t, e.CanEdit(user("creator", models.RoleUser), runningRequest("creator", "payout"), wf))
	})

	t.Run("changes requested reopens editing for the creator", func(t *testing.T) {
		req := runningRequest("creator", "payout")
		req.ChangesRequested = true
		assert.True(t, e.CanEdit(user("creator", models.RoleUser), req, wf))
	})

	t.Run("admin may edit any running request", func(t *testing.T) {
		assert.True(t, e.CanEdit(user("admin-1", models.RoleAdmin), runningRequest("someone", "payout"), wf))
	})

	t.Run("terminal requests are never editable", func(t *testing.T) {
		req := runningRequest("creator", "review")
		req.Status = models.RequestStatusCanceled
		assert.False(t, e.CanEdit(user("admin-1", models.RoleAdmin), req, wf))
	})
}

func TestCanCancel(t *testing.T) {
	e := NewEvaluator()
	wf := approvalWorkflow()

	assert.True(t, e.CanCancel(user("creator", models.RoleUser), runningRequest("creator", "review"), wf))
	assert.True(t, e.CanCancel(user("admin-1", models.RoleAdmin), runningRequest("someone", "review"), wf))
	assert.False(t, e.CanCancel(user("bystander", models.RoleUser), runningRequest("someone", "review"), wf))

	done := runningRequest("creator")
	done.Status = models.RequestStatusCompleted
	assert.False(t, e.CanCancel(user("creator", models.RoleUser), done, wf))
}

func TestCanComment_WorksOnTerminalRequests(t *testing.T) {
	e := NewEvaluator()
	wf := approvalWorkflow()

	req := runningRequest("creator")
	req.Status = models.RequestStatusCompleted
	assert.True(t, e.CanComment(user("creator", models.RoleUser), req, wf))
	assert.False(t, e.CanComment(user("bystander", models.RoleUser), req, wf))
}

func TestCanCreateRequest(t *testing.T) {
	e := NewEvaluator()

	wf := approvalWorkflow()
	assert.True(t, e.CanCreateRequest(user("u", models.RoleUser), wf))

	draft := approvalWorkflow()
	draft.Status = models.WorkflowStatusDraft
	assert.False(t, e.CanCreateRequest(user("u", models.RoleUser), draft))

	archived := approvalWorkflow()
	archived.Status = models.WorkflowStatusArchived
	assert.False(t, e.CanCreateRequest(user("admin-1", models.RoleAdmin), archived))
}

func TestFilterVisible(t *testing.T) {
	e := NewEvaluator()
	wf := approvalWorkflow()

	mine := runningRequest("me")
	theirs := runningRequest("them")
	theirs.ID = "req-2"

	workflows := map[string]*models.Workflow{"wf-1": wf}

	visible := e.FilterVisible(user("me", models.RoleUser), []*models.Request{mine, theirs}, workflows)
	assert.Len(t, visible, 1)
	assert.Equal(t, "req-1", visible[0].ID)

	all := e.FilterVisible(user("admin-1", models.RoleAdmin), []*models.Request{mine, theirs}, workflows)
	assert.Len(t, all, 2)
}
