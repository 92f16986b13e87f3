// Package repository defines the persistence interfaces the lifecycle service
// is injected with, plus postgres and in-memory implementations. The core
// never touches storage directly.
package repository

import (
	"context"
	"errors"
	"time"

	"relay-os/backend/pkg/models"
)

// ErrNotFound is returned when a looked-up entity does not exist.
var ErrNotFound = errors.New("resource not found")

// ErrStaleUpdate is returned when an optimistic-concurrency update finds the
// row was modified since it was read. Callers holding the per-request lock
// should treat this as a defect; callers without it should re-read and retry.
var ErrStaleUpdate = errors.New("entity was modified concurrently")

// WorkflowRepository stores versioned workflow definitions.
type WorkflowRepository interface {
	// Create inserts a new workflow version. When wf.IsLatest is set, prior
	// versions of the same workflow key are demoted in the same operation.
	Create(ctx context.Context, wf *models.Workflow) error
	// Get retrieves a workflow version by its unique id.
	Get(ctx context.Context, id string) (*models.Workflow, error)
	// GetVersion retrieves a specific version of a workflow key.
	GetVersion(ctx context.Context, workflowKey string, version int) (*models.Workflow, error)
	// List returns all workflow versions.
	List(ctx context.Context) ([]*models.Workflow, error)
	// Update persists status or metadata changes to an existing version.
	Update(ctx context.Context, wf *models.Workflow) error
}

// RequestFilter narrows request listings.
type RequestFilter struct {
	Status     models.RequestStatus
	WorkflowID string
	CreatedBy  string
}

// RequestRepository stores submitted requests.
type RequestRepository interface {
	Create(ctx context.Context, req *models.Request) error
	Get(ctx context.Context, id string) (*models.Request, error)
	List(ctx context.Context, filter RequestFilter) ([]*models.Request, error)
	// Update persists the request only if its stored updated_at still equals
	// expectedUpdatedAt, returning ErrStaleUpdate otherwise.
	Update(ctx context.Context, req *models.Request, expectedUpdatedAt time.Time) error
}

// AuditLogRepository stores append-only audit entries. Entries are never
// updated or deleted.
type AuditLogRepository interface {
	Append(ctx context.Context, entry *models.AuditLogEntry) error
	ListByRequest(ctx context.Context, requestID string) ([]*models.AuditLogEntry, error)
}

// UserRepository stores workspace members.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
}
