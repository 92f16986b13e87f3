package engine

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionEvaluator decides whether a gateway branch condition holds for a
// request context. The grammar is owned by the evaluator, not the engine, so
// deployments can swap expression languages without touching resolution
// logic.
type ConditionEvaluator interface {
	Evaluate(condition string, context map[string]any) (bool, error)
}

// ExprEvaluator evaluates branch conditions as expr-lang expressions over the
// request context. Compiled programs are cached per condition string since
// published workflows are immutable.
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEvaluator returns a ready evaluator with an empty program cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate compiles (or reuses) the condition and runs it against the context.
// Unknown context keys evaluate as nil rather than failing, since gateway
// conditions routinely reference fields the requester left blank.
func (e *ExprEvaluator) Evaluate(condition string, context map[string]any) (bool, error) {
	if condition == "" {
		return false, fmt.Errorf("empty condition")
	}

	program, err := e.program(condition)
	if err != nil {
		return false, err
	}

	env := context
	if env == nil {
		env = map[string]any{}
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition evaluated to %T, want bool", out)
	}
	return result, nil
}

func (e *ExprEvaluator) program(condition string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[condition]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := expr.Compile(condition, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[condition] = program
	e.mu.Unlock()
	return program, nil
}
