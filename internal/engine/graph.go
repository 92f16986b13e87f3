package engine

import (
	"fmt"

	"relay-os/backend/pkg/models"
)

// Validate checks the structural soundness of a workflow graph. It is called
// when a draft is published; resolution against a published workflow assumes
// these invariants hold. Returns a GraphIntegrityError listing every problem
// found, or nil.
func Validate(wf *models.Workflow) error {
	var problems []string

	if len(wf.Steps) == 0 {
		problems = append(problems, "workflow has no steps")
	}
	if wf.StartKey == "" {
		problems = append(problems, "start key is empty")
	} else if _, ok := wf.Steps[wf.StartKey]; !ok {
		problems = append(problems, fmt.Sprintf("start key %q does not resolve to a step", wf.StartKey))
	}

	seen := map[string]bool{}
	for _, f := range wf.Fields {
		if f.Key == "" {
			problems = append(problems, fmt.Sprintf("field %q has an empty key", f.Label))
			continue
		}
		if seen[f.Key] {
			problems = append(problems, fmt.Sprintf("duplicate field key %q", f.Key))
		}
		seen[f.Key] = true
	}

	for key, step := range wf.Steps {
		problems = append(problems, validateStep(wf, key, step)...)
	}

	if len(problems) == 0 {
		if !terminalReachable(wf) {
			problems = append(problems, "no terminating path is reachable from the start step")
		}
	}

	if len(problems) > 0 {
		return &GraphIntegrityError{WorkflowID: wf.ID, Problems: problems}
	}
	return nil
}

func validateStep(wf *models.Workflow, key string, step models.StepDefinition) []string {
	var problems []string

	ref := func(target, kind string) {
		if target == "" {
			return
		}
		if _, ok := wf.Steps[target]; !ok {
			problems = append(problems, fmt.Sprintf("step %q %s references unknown step %q", key, kind, target))
		}
	}

	ref(step.Next, "next")

	switch step.Type {
	case models.StepTypeApproval:
		if len(step.Assignees) == 0 {
			problems = append(problems, fmt.Sprintf("approval step %q has no assignees", key))
		}
		if step.Policy != "" && step.Policy != models.ApprovalPolicyAny && step.Policy != models.ApprovalPolicyAll {
			problems = append(problems, fmt.Sprintf("approval step %q has unknown policy %q", key, step.Policy))
		}
	case models.StepTypeAction:
		if step.Assignee == "" {
			problems = append(problems, fmt.Sprintf("action step %q has no assignee", key))
		}
	case models.StepTypeGatewayExclusive:
		if len(step.Branches) == 0 && step.Next == "" {
			problems = append(problems, fmt.Sprintf("exclusive gateway %q has no branches and no fallback", key))
		}
		for i, b := range step.Branches {
			if b.Condition == "" {
				problems = append(problems, fmt.Sprintf("exclusive gateway %q branch %d has no condition", key, i))
			}
			ref(b.To, "branch")
		}
	case models.StepTypeGatewayParallel:
		if len(step.Branches) == 0 {
			problems = append(problems, fmt.Sprintf("parallel gateway %q has no branches", key))
		}
		if len(step.Join) == 0 {
			problems = append(problems, fmt.Sprintf("parallel gateway %q has an empty join set", key))
		}
		for _, b := range step.Branches {
			ref(b.To, "branch")
		}
		for _, j := range step.Join {
			ref(j, "join")
		}
	case models.StepTypeSystemTask:
		switch step.Action {
		case models.SystemActionWebhook, models.SystemActionEmail, models.SystemActionAutoApprove, models.SystemActionDelay:
		default:
			problems = append(problems, fmt.Sprintf("system task %q has unknown action %q", key, step.Action))
		}
	default:
		problems = append(problems, fmt.Sprintf("step %q has unknown type %q", key, step.Type))
	}

	return problems
}

// terminalReachable walks every edge from the start step and reports whether
// some reachable step ends a path. This catches graphs that can only loop.
func terminalReachable(wf *models.Workflow) bool {
	visited := map[string]bool{}
	queue := []string{wf.StartKey}

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if visited[key] {
			continue
		}
		visited[key] = true

		step, ok := wf.Steps[key]
		if !ok {
			continue
		}

		successors := stepSuccessors(step)
		if len(successors) == 0 {
			return true
		}
		queue = append(queue, successors...)
	}
	return false
}

func stepSuccessors(step models.StepDefinition) []string {
	var out []string
	switch step.Type {
	case models.StepTypeGatewayExclusive:
		for _, b := range step.Branches {
			out = append(out, b.To)
		}
		if step.Next != "" {
			out = append(out, step.Next)
		}
	case models.StepTypeGatewayParallel:
		for _, b := range step.Branches {
			out = append(out, b.To)
		}
		if step.Next != "" {
			out = append(out, step.Next)
		}
	default:
		if step.Next != "" {
			out = append(out, step.Next)
		}
	}
	return out
}
