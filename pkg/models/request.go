package models

import (
	"sort"
	"time"
)

// RequestStatus is the lifecycle state of a request. All states other than
// running are terminal and absorbing.
type RequestStatus string

const (
	RequestStatusRunning   RequestStatus = "running"
	RequestStatusCompleted RequestStatus = "completed"
	RequestStatusCanceled  RequestStatus = "canceled"
	RequestStatusFailed    RequestStatus = "failed"
)

// Terminal reports whether the status permits no further workflow actions.
func (s RequestStatus) Terminal() bool {
	return s != RequestStatusRunning
}

// ActionType identifies an entry in a request's audit log.
type ActionType string

const (
	ActionCreate        ActionType = "create"
	ActionApprove       ActionType = "approve"
	ActionReject        ActionType = "reject"
	ActionRequestChange ActionType = "requestChange"
	ActionCancel        ActionType = "cancel"
	ActionComplete      ActionType = "complete"
	ActionComment       ActionType = "comment"
	ActionUpdate        ActionType = "update"
)

// JoinProgress tracks one parallel gateway invocation: which branch
// terminations the join expects and which have already arrived. Keyed by the
// gateway step so concurrent branches stay scoped to the invocation that
// spawned them.
type JoinProgress struct {
	Expect  []string `json:"expect"`
	Arrived []string `json:"arrived"`
	Next    string   `json:"next,omitempty"`
}

// Complete reports whether every expected key has arrived.
func (j *JoinProgress) Complete() bool {
	if len(j.Arrived) < len(j.Expect) {
		return false
	}
	for _, want := range j.Expect {
		found := false
		for _, got := range j.Arrived {
			if got == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ExecutionState is the engine-visible position of a request in its workflow
// graph. It is persisted on the request in full; the engine keeps no state of
// its own, so reloading a request reproduces identical behavior.
type ExecutionState struct {
	ActiveSteps []string                 `json:"active_steps"`
	Joins       map[string]*JoinProgress `json:"joins,omitempty"`
	Approvals   map[string][]string      `json:"approvals,omitempty"`
}

// Active reports whether the step key is currently active.
func (e *ExecutionState) Active(key string) bool {
	for _, k := range e.ActiveSteps {
		if k == key {
			return true
		}
	}
	return false
}

// Activate adds key to the active set.
func (e *ExecutionState) Activate(key string) {
	if !e.Active(key) {
		e.ActiveSteps = append(e.ActiveSteps, key)
		sort.Strings(e.ActiveSteps)
	}
}

// Deactivate removes key from the active set.
func (e *ExecutionState) Deactivate(key string) {
	out := e.ActiveSteps[:0]
	for _, k := range e.ActiveSteps {
		if k != key {
			out = append(out, k)
		}
	}
	e.ActiveSteps = out
}

// Clone returns a deep copy so pure engine operations never mutate the
// caller's state.
func (e *ExecutionState) Clone() ExecutionState {
	out := ExecutionState{
		ActiveSteps: append([]string(nil), e.ActiveSteps...),
	}
	if e.Joins != nil {
		out.Joins = make(map[string]*JoinProgress, len(e.Joins))
		for k, j := range e.Joins {
			out.Joins[k] = &JoinProgress{
				Expect:  append([]string(nil), j.Expect...),
				Arrived: append([]string(nil), j.Arrived...),
				Next:    j.Next,
			}
		}
	}
	if e.Approvals != nil {
		out.Approvals = make(map[string][]string, len(e.Approvals))
		for k, ids := range e.Approvals {
			out.Approvals[k] = append([]string(nil), ids...)
		}
	}
	return out
}

// Request is one submitted instance of a workflow. It pins the workflow
// version it was created against so later edits never change in-flight
// behavior.
type Request struct {
	ID               string         `json:"id" db:"id"`
	WorkflowID       string         `json:"workflow_id" db:"workflow_id"`
	WorkflowVersion  int            `json:"workflow_version" db:"workflow_version"`
	CreatedBy        string         `json:"created_by" db:"created_by"`
	Status           RequestStatus  `json:"status" db:"status"`
	Context          map[string]any `json:"context"`
	Execution        ExecutionState `json:"execution"`
	ChangesRequested bool           `json:"changes_requested" db:"changes_requested"`
	ObserverIDs      []string       `json:"observer_ids"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// Observer reports whether userID has view-only visibility on the request.
func (r *Request) Observer(userID string) bool {
	for _, id := range r.ObserverIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AuditLogEntry records one applied action. Entries are append-only and never
// mutated; the full log is the source of truth for who did what when.
type AuditLogEntry struct {
	ID        string     `json:"id" db:"id"`
	RequestID string     `json:"request_id" db:"request_id"`
	Action    ActionType `json:"action" db:"action"`
	UserID    string     `json:"user_id" db:"user_id"`
	Comment   string     `json:"comment,omitempty" db:"comment"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}
