package lifecycle

import (
	"context"
	"sync"

	"relay-os/backend/internal/engine"
	"relay-os/backend/pkg/models"
)

// SystemActorID is the user id recorded on audit entries produced by system
// task resolution rather than a human action.
const SystemActorID = "system"

// EffectRunner executes the external side effect of a system_task step.
// Run returns done=true when the step should resolve immediately; false
// leaves the step active for an out-of-band completion (e.g. a delay timer
// or webhook callback). Retry policy belongs to the runner, not the
// lifecycle.
type EffectRunner interface {
	Run(ctx context.Context, req *models.Request, effect engine.Effect) (done bool, err error)
}

// LoggingEffectRunner is the default runner used in development: webhook and
// email effects are logged and treated as delivered, delays stay pending
// until an operator resolves them.
type LoggingEffectRunner struct {
	Logger Logger
}

func (r *LoggingEffectRunner) Run(ctx context.Context, req *models.Request, effect engine.Effect) (bool, error) {
	switch effect.Action {
	case models.SystemActionWebhook, models.SystemActionEmail:
		if r.Logger != nil {
			r.Logger.Info("executing system task", "request_id", req.ID, "step", effect.StepKey, "action", effect.Action)
		}
		return true, nil
	case models.SystemActionDelay:
		if r.Logger != nil {
			r.Logger.Info("delay step pending", "request_id", req.ID, "step", effect.StepKey)
		}
		return false, nil
	}
	return false, nil
}

// keyedMutex serializes appliers per request id so two approvers cannot race
// a read-modify-write of the same execution state.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
