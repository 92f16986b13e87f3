package engine

import (
	"fmt"
	"strings"
)

// InvalidStepError reports a resolution attempted against a step that is not
// currently active, or an outcome the step type does not accept.
type InvalidStepError struct {
	StepKey string
	Reason  string
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("invalid step %q: %s", e.StepKey, e.Reason)
}

// GraphIntegrityError reports structural problems in a workflow graph. It is
// raised at publish time; resolution against a published workflow assumes the
// graph is sound, so seeing this after publish indicates an authoring bug.
type GraphIntegrityError struct {
	WorkflowID string
	Problems   []string
}

func (e *GraphIntegrityError) Error() string {
	return fmt.Sprintf("workflow %s failed graph validation: %s", e.WorkflowID, strings.Join(e.Problems, "; "))
}

// GatewayStuckError reports an exclusive gateway whose branches all evaluated
// false and which has no fallback successor.
type GatewayStuckError struct {
	StepKey string
}

func (e *GatewayStuckError) Error() string {
	return fmt.Sprintf("gateway %q: no branch matched and no fallback is configured", e.StepKey)
}

// ConditionError wraps a failure from the condition evaluator.
type ConditionError struct {
	StepKey   string
	Condition string
	Err       error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("gateway %q condition %q: %v", e.StepKey, e.Condition, e.Err)
}

func (e *ConditionError) Unwrap() error {
	return e.Err
}
