package lifecycle

import (
	"fmt"
	"strings"

	"relay-os/backend/pkg/models"
)

// FieldProblem describes one invalid or missing field in a request context.
type FieldProblem struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports user-fixable problems with submitted context
// values, one entry per offending field.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + ": " + p.Reason
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// PermissionDeniedError reports that the user is not authorized to perform
// the action on the request right now. Never retried automatically.
type PermissionDeniedError struct {
	UserID string
	Action models.ActionType
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("user %s is not permitted to %s this request", e.UserID, e.Action)
}

// InvalidStateError reports an action attempted against a request whose
// status does not admit it, typically a terminal request.
type InvalidStateError struct {
	RequestID string
	Status    models.RequestStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("request %s is %s and accepts no further actions", e.RequestID, e.Status)
}
