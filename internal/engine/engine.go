// Package engine interprets published workflow graphs. All operations are
// pure functions over a workflow definition and a request's execution state;
// persistence and permission checks live with the caller.
package engine

import (
	"fmt"

	"relay-os/backend/pkg/models"
)

// Outcome is the decision applied when resolving an active step.
type Outcome string

const (
	OutcomeApproved         Outcome = "approved"
	OutcomeRejected         Outcome = "rejected"
	OutcomeChangesRequested Outcome = "changesRequested"
	OutcomeCompleted        Outcome = "completed"
)

// Effect is a pending external side effect produced by activating a
// system_task step. The engine never executes effects itself; the lifecycle
// hands them to an effect runner and resolves the step once the runner
// reports completion.
type Effect struct {
	StepKey string              `json:"step_key"`
	Action  models.SystemAction `json:"action"`
	Config  map[string]any      `json:"config,omitempty"`
}

// Resolution is the result of advancing a request through its graph.
type Resolution struct {
	State            models.ExecutionState `json:"state"`
	Status           models.RequestStatus  `json:"status"`
	ChangesRequested bool                  `json:"changes_requested"`
	Effects          []Effect              `json:"effects,omitempty"`
}

// maxActivations bounds how many times a single step may be activated within
// one resolution, so a mis-authored gateway cycle fails loudly instead of
// recursing forever.
const maxActivations = 16

// Engine resolves steps against workflow graphs. Safe for concurrent use;
// it holds no per-request state.
type Engine struct {
	conditions ConditionEvaluator
}

// New returns an engine using the given condition evaluator. A nil evaluator
// falls back to the expr-based default.
func New(conditions ConditionEvaluator) *Engine {
	if conditions == nil {
		conditions = NewExprEvaluator()
	}
	return &Engine{conditions: conditions}
}

// ActivateStart computes the initial execution state for a freshly created
// request. Gateways and auto-approve tasks at the head of the graph are
// advanced through immediately.
func (e *Engine) ActivateStart(wf *models.Workflow, context map[string]any) (Resolution, error) {
	state := models.ExecutionState{}
	guard := map[string]int{}

	effects, err := e.activate(wf, &state, context, wf.StartKey, guard)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		State:   state,
		Status:  statusFor(&state),
		Effects: effects,
	}, nil
}

// Resolve applies an outcome to a currently active step and returns the new
// execution state. The input state is never mutated.
//
// Rejection is global: it clears every active step, including pending
// parallel branches, and signals terminal failure. Changes-requested leaves
// the active set untouched and raises a flag for the caller.
func (e *Engine) Resolve(wf *models.Workflow, state models.ExecutionState, context map[string]any, stepKey string, outcome Outcome, actorID string) (Resolution, error) {
	st := state.Clone()

	if !st.Active(stepKey) {
		return Resolution{}, &InvalidStepError{StepKey: stepKey, Reason: "step is not active"}
	}
	step, ok := wf.Step(stepKey)
	if !ok {
		return Resolution{}, &InvalidStepError{StepKey: stepKey, Reason: "step is not defined in the workflow"}
	}
	if err := checkOutcome(step, stepKey, outcome); err != nil {
		return Resolution{}, err
	}

	switch outcome {
	case OutcomeRejected:
		st.ActiveSteps = nil
		st.Joins = nil
		st.Approvals = nil
		return Resolution{State: st, Status: models.RequestStatusFailed}, nil

	case OutcomeChangesRequested:
		return Resolution{State: st, Status: models.RequestStatusRunning, ChangesRequested: true}, nil
	}

	// Unanimous approval steps collect assignee decisions before advancing.
	if step.Type == models.StepTypeApproval && step.Policy == models.ApprovalPolicyAll {
		if st.Approvals == nil {
			st.Approvals = map[string][]string{}
		}
		if !containsString(st.Approvals[stepKey], actorID) {
			st.Approvals[stepKey] = append(st.Approvals[stepKey], actorID)
		}
		if !allApproved(step.Assignees, st.Approvals[stepKey]) {
			return Resolution{State: st, Status: models.RequestStatusRunning}, nil
		}
		delete(st.Approvals, stepKey)
	}

	st.Deactivate(stepKey)
	guard := map[string]int{}
	effects, err := e.advanceFrom(wf, &st, context, stepKey, step.Next, guard)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		State:   st,
		Status:  statusFor(&st),
		Effects: effects,
	}, nil
}

// Preview reports what Resolve would do without committing to it. Since the
// engine is pure this is Resolve by another name; the distinct entry point
// keeps read-only callers honest.
func (e *Engine) Preview(wf *models.Workflow, state models.ExecutionState, context map[string]any, stepKey string, outcome Outcome, actorID string) (Resolution, error) {
	return e.Resolve(wf, state, context, stepKey, outcome, actorID)
}

// advanceFrom routes control after resolvedKey leaves the active set. If the
// resolved step terminates a parallel branch its arrival is recorded against
// the join that expects it; the join's successor activates only once every
// expected key has arrived. Otherwise the step's own successor activates.
func (e *Engine) advanceFrom(wf *models.Workflow, st *models.ExecutionState, context map[string]any, resolvedKey, next string, guard map[string]int) ([]Effect, error) {
	for gatewayKey, join := range st.Joins {
		if !containsString(join.Expect, resolvedKey) {
			continue
		}
		if !containsString(join.Arrived, resolvedKey) {
			join.Arrived = append(join.Arrived, resolvedKey)
		}
		if !join.Complete() {
			return nil, nil
		}
		successor := join.Next
		delete(st.Joins, gatewayKey)
		if successor == "" {
			return nil, nil
		}
		return e.activate(wf, st, context, successor, guard)
	}

	if next == "" {
		return nil, nil
	}
	return e.activate(wf, st, context, next, guard)
}

// activate makes a step active, advancing through gateways and auto-approve
// tasks inline since they never wait on a human.
func (e *Engine) activate(wf *models.Workflow, st *models.ExecutionState, context map[string]any, key string, guard map[string]int) ([]Effect, error) {
	guard[key]++
	if guard[key] > maxActivations {
		return nil, &InvalidStepError{StepKey: key, Reason: "activation loop detected"}
	}

	step, ok := wf.Step(key)
	if !ok {
		return nil, &InvalidStepError{StepKey: key, Reason: "step is not defined in the workflow"}
	}

	switch step.Type {
	case models.StepTypeApproval, models.StepTypeAction:
		st.Activate(key)
		return nil, nil

	case models.StepTypeSystemTask:
		if step.Action == models.SystemActionAutoApprove {
			return e.advanceFrom(wf, st, context, key, step.Next, guard)
		}
		st.Activate(key)
		return []Effect{{StepKey: key, Action: step.Action, Config: step.Config}}, nil

	case models.StepTypeGatewayExclusive:
		for _, branch := range step.Branches {
			matched, err := e.conditions.Evaluate(branch.Condition, context)
			if err != nil {
				return nil, &ConditionError{StepKey: key, Condition: branch.Condition, Err: err}
			}
			if matched {
				return e.activate(wf, st, context, branch.To, guard)
			}
		}
		if step.Next != "" {
			return e.activate(wf, st, context, step.Next, guard)
		}
		return nil, &GatewayStuckError{StepKey: key}

	case models.StepTypeGatewayParallel:
		if st.Joins == nil {
			st.Joins = map[string]*models.JoinProgress{}
		}
		st.Joins[key] = &models.JoinProgress{
			Expect: append([]string(nil), step.Join...),
			Next:   step.Next,
		}
		var effects []Effect
		for _, branch := range step.Branches {
			fx, err := e.activate(wf, st, context, branch.To, guard)
			if err != nil {
				return nil, err
			}
			effects = append(effects, fx...)
		}
		return effects, nil
	}

	return nil, &InvalidStepError{StepKey: key, Reason: fmt.Sprintf("unknown step type %q", step.Type)}
}

func checkOutcome(step models.StepDefinition, stepKey string, outcome Outcome) error {
	valid := false
	switch step.Type {
	case models.StepTypeApproval:
		valid = outcome == OutcomeApproved || outcome == OutcomeRejected || outcome == OutcomeChangesRequested
	case models.StepTypeAction, models.StepTypeSystemTask:
		valid = outcome == OutcomeCompleted
	default:
		// Gateways advance automatically on activation and are never resolved
		// by callers.
	}
	if !valid {
		return &InvalidStepError{
			StepKey: stepKey,
			Reason:  fmt.Sprintf("outcome %q is not valid for a %s step", outcome, step.Type),
		}
	}
	return nil
}

func statusFor(st *models.ExecutionState) models.RequestStatus {
	if len(st.ActiveSteps) == 0 {
		return models.RequestStatusCompleted
	}
	return models.RequestStatusRunning
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func allApproved(assignees, approved []string) bool {
	for _, a := range assignees {
		if !containsString(approved, a) {
			return false
		}
	}
	return true
}
