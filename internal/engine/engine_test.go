package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay-os/backend/pkg/models"
)

// expenseWorkflow is the canonical two-step pipeline: a manager approval
// followed by a payout action.
func expenseWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:       "wf-expense",
		StartKey: "s1",
		Status:   models.WorkflowStatusPublished,
		Steps: map[string]models.StepDefinition{
			"s1": {Type: models.StepTypeApproval, Assignees: []string{"mgr-1"}, Next: "s2"},
			"s2": {Type: models.StepTypeAction, Assignee: "ops-1"},
		},
	}
}

func TestActivateStart_ActivatesStartStep(t *testing.T) {
	eng := New(nil)

	res, err := eng.ActivateStart(expenseWorkflow(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, res.State.ActiveSteps)
	assert.Equal(t, models.RequestStatusRunning, res.Status)
	assert.Empty(t, res.Effects)
}

func TestResolve_ApprovalThenActionCompletesRequest(t *testing.T) {
	eng := New(nil)
	wf := expenseWorkflow()

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)

	res, err = eng.Resolve(wf, res.State, nil, "s1", OutcomeApproved, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, res.State.ActiveSteps)
	assert.Equal(t, models.RequestStatusRunning, res.Status)

	res, err = eng.Resolve(wf, res.State, nil, "s2", OutcomeCompleted, "ops-1")
	require.NoError(t, err)
	assert.Empty(t, res.State.ActiveSteps)
	assert.Equal(t, models.RequestStatusCompleted, res.Status)
}

func TestResolve_RejectFailsRequestGlobally(t *testing.T) {
	eng := New(nil)
	wf := parallelWorkflow()

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)
	require.Len(t, res.State.ActiveSteps, 2)

	// Rejecting one branch clears the other pending branch too.
	res, err = eng.Resolve(wf, res.State, nil, "a", OutcomeRejected, "mgr-1")
	require.NoError(t, err)
	assert.Empty(t, res.State.ActiveSteps)
	assert.Empty(t, res.State.Joins)
	assert.Equal(t, models.RequestStatusFailed, res.Status)
}

func TestResolve_ChangesRequestedPreservesActiveSteps(t *testing.T) {
	eng := New(nil)
	wf := expenseWorkflow()

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)

	res, err = eng.Resolve(wf, res.State, nil, "s1", OutcomeChangesRequested, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, res.State.ActiveSteps)
	assert.Equal(t, models.RequestStatusRunning, res.Status)
	assert.True(t, res.ChangesRequested)
}

func TestResolve_InactiveStepIsRejected(t *testing.T) {
	eng := New(nil)
	wf := expenseWorkflow()

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)

	var stepErr *InvalidStepError
	_, err = eng.Resolve(wf, res.State, nil, "s2", OutcomeCompleted, "ops-1")
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "s2", stepErr.StepKey)
}

func TestResolve_OutcomeMustMatchStepType(t *testing.T) {
	eng := New(nil)
	wf := expenseWorkflow()

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)

	// "completed" belongs to action steps, not approvals.
	var stepErr *InvalidStepError
	_, err = eng.Resolve(wf, res.State, nil, "s1", OutcomeCompleted, "mgr-1")
	assert.ErrorAs(t, err, &stepErr)
}

func TestResolve_DoesNotMutateInputState(t *testing.T) {
	eng := New(nil)
	wf := expenseWorkflow()

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)
	before := res.State.Clone()

	_, err = eng.Resolve(wf, res.State, nil, "s1", OutcomeApproved, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, before, res.State)
}

func TestExclusiveGateway_RoutesByCondition(t *testing.T) {
	wf := &models.Workflow{
		ID:       "wf-gate",
		StartKey: "triage",
		Steps: map[string]models.StepDefinition{
			"triage": {Type: models.StepTypeApproval, Assignees: []string{"mgr-1"}, Next: "gate"},
			"gate": {
				Type: models.StepTypeGatewayExclusive,
				Branches: []models.Branch{
					{Condition: "amount > 1000", To: "finance"},
				},
				Next: "payout",
			},
			"finance": {Type: models.StepTypeApproval, Assignees: []string{"fin-1"}, Next: "payout"},
			"payout":  {Type: models.StepTypeAction, Assignee: "ops-1"},
		},
	}
	eng := New(nil)

	t.Run("matching branch wins", func(t *testing.T) {
		res, err := eng.ActivateStart(wf, nil)
		require.NoError(t, err)

		res, err = eng.Resolve(wf, res.State, map[string]any{"amount": 5000.0}, "triage", OutcomeApproved, "mgr-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"finance"}, res.State.ActiveSteps)
	})

	t.Run("fallback taken when nothing matches", func(t *testing.T) {
		res, err := eng.ActivateStart(wf, nil)
		require.NoError(t, err)

		res, err = eng.Resolve(wf, res.State, map[string]any{"amount": 200.0}, "triage", OutcomeApproved, "mgr-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"payout"}, res.State.ActiveSteps)
	})
}

func TestExclusiveGateway_StuckWithoutFallback(t *testing.T) {
	wf := &models.Workflow{
		ID:       "wf-stuck",
		StartKey: "triage",
		Steps: map[string]models.StepDefinition{
			"triage": {Type: models.StepTypeApproval, Assignees: []string{"mgr-1"}, Next: "gate"},
			"gate": {
				Type: models.StepTypeGatewayExclusive,
				Branches: []models.Branch{
					{Condition: "amount > 1000", To: "finance"},
				},
			},
			"finance": {Type: models.StepTypeApproval, Assignees: []string{"fin-1"}},
		},
	}
	eng := New(nil)

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)

	var stuckErr *GatewayStuckError
	_, err = eng.Resolve(wf, res.State, map[string]any{"amount": 10.0}, "triage", OutcomeApproved, "mgr-1")
	require.ErrorAs(t, err, &stuckErr)
	assert.Equal(t, "gate", stuckErr.StepKey)
}

// parallelWorkflow forks into branches a and b which join before c.
func parallelWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:       "wf-parallel",
		StartKey: "fork",
		Steps: map[string]models.StepDefinition{
			"fork": {
				Type:     models.StepTypeGatewayParallel,
				Branches: []models.Branch{{To: "a"}, {To: "b"}},
				Join:     []string{"a", "b"},
				Next:     "c",
			},
			"a": {Type: models.StepTypeApproval, Assignees: []string{"mgr-1"}},
			"b": {Type: models.StepTypeApproval, Assignees: []string{"fin-1"}},
			"c": {Type: models.StepTypeAction, Assignee: "ops-1"},
		},
	}
}

func TestParallelGateway_JoinWaitsForAllBranches(t *testing.T) {
	eng := New(nil)
	wf := parallelWorkflow()

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.State.ActiveSteps)
	require.Contains(t, res.State.Joins, "fork")
	assert.Equal(t, []string{"a", "b"}, res.State.Joins["fork"].Expect)

	// First arrival parks at the join.
	res, err = eng.Resolve(wf, res.State, nil, "a", OutcomeApproved, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, res.State.ActiveSteps)
	assert.Equal(t, models.RequestStatusRunning, res.Status)
	assert.Equal(t, []string{"a"}, res.State.Joins["fork"].Arrived)

	// Second arrival releases the successor and clears the join.
	res, err = eng.Resolve(wf, res.State, nil, "b", OutcomeApproved, "fin-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, res.State.ActiveSteps)
	assert.Empty(t, res.State.Joins)
}

func TestAutoApprove_AdvancesThroughWithoutActivating(t *testing.T) {
	wf := &models.Workflow{
		ID:       "wf-auto",
		StartKey: "auto",
		Steps: map[string]models.StepDefinition{
			"auto":   {Type: models.StepTypeSystemTask, Action: models.SystemActionAutoApprove, Next: "review"},
			"review": {Type: models.StepTypeApproval, Assignees: []string{"mgr-1"}},
		},
	}
	eng := New(nil)

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"review"}, res.State.ActiveSteps)
	assert.Empty(t, res.Effects)
}

func TestSystemTask_EmitsEffectAndResolvesOnCompletion(t *testing.T) {
	wf := &models.Workflow{
		ID:       "wf-task",
		StartKey: "review",
		Steps: map[string]models.StepDefinition{
			"review": {Type: models.StepTypeApproval, Assignees: []string{"mgr-1"}, Next: "notify"},
			"notify": {
				Type:   models.StepTypeSystemTask,
				Action: models.SystemActionEmail,
				Config: map[string]any{"template": "done"},
			},
		},
	}
	eng := New(nil)

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)

	res, err = eng.Resolve(wf, res.State, nil, "review", OutcomeApproved, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"notify"}, res.State.ActiveSteps)
	require.Len(t, res.Effects, 1)
	assert.Equal(t, "notify", res.Effects[0].StepKey)
	assert.Equal(t, models.SystemActionEmail, res.Effects[0].Action)

	// The effect runner reports completion, which resolves the step.
	res, err = eng.Resolve(wf, res.State, nil, "notify", OutcomeCompleted, "system")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCompleted, res.Status)
}

func TestApprovalPolicyAll_RequiresEveryAssignee(t *testing.T) {
	wf := &models.Workflow{
		ID:       "wf-all",
		StartKey: "sign",
		Steps: map[string]models.StepDefinition{
			"sign": {
				Type:      models.StepTypeApproval,
				Assignees: []string{"mgr-1", "mgr-2"},
				Policy:    models.ApprovalPolicyAll,
				Next:      "done",
			},
			"done": {Type: models.StepTypeAction, Assignee: "ops-1"},
		},
	}
	eng := New(nil)

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)

	res, err = eng.Resolve(wf, res.State, nil, "sign", OutcomeApproved, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sign"}, res.State.ActiveSteps)
	assert.Equal(t, []string{"mgr-1"}, res.State.Approvals["sign"])

	// The same assignee approving twice does not count double.
	res, err = eng.Resolve(wf, res.State, nil, "sign", OutcomeApproved, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"sign"}, res.State.ActiveSteps)

	res, err = eng.Resolve(wf, res.State, nil, "sign", OutcomeApproved, "mgr-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, res.State.ActiveSteps)
	assert.Empty(t, res.State.Approvals)
}

func TestActivate_LoopGuardTripsOnGatewayCycle(t *testing.T) {
	wf := &models.Workflow{
		ID:       "wf-loop",
		StartKey: "ping",
		Steps: map[string]models.StepDefinition{
			"ping": {Type: models.StepTypeSystemTask, Action: models.SystemActionAutoApprove, Next: "pong"},
			"pong": {Type: models.StepTypeSystemTask, Action: models.SystemActionAutoApprove, Next: "ping"},
		},
	}
	eng := New(nil)

	var stepErr *InvalidStepError
	_, err := eng.ActivateStart(wf, nil)
	require.ErrorAs(t, err, &stepErr)
	assert.Contains(t, stepErr.Reason, "loop")
}

func TestResolve_ConditionErrorSurfacesStepAndCondition(t *testing.T) {
	wf := &models.Workflow{
		ID:       "wf-badcond",
		StartKey: "review",
		Steps: map[string]models.StepDefinition{
			"review": {Type: models.StepTypeApproval, Assignees: []string{"mgr-1"}, Next: "gate"},
			"gate": {
				Type:     models.StepTypeGatewayExclusive,
				Branches: []models.Branch{{Condition: "amount >", To: "end"}},
				Next:     "end",
			},
			"end": {Type: models.StepTypeAction, Assignee: "ops-1"},
		},
	}
	eng := New(nil)

	res, err := eng.ActivateStart(wf, nil)
	require.NoError(t, err)

	var condErr *ConditionError
	_, err = eng.Resolve(wf, res.State, nil, "review", OutcomeApproved, "mgr-1")
	require.ErrorAs(t, err, &condErr)
	assert.Equal(t, "gate", condErr.StepKey)
}
