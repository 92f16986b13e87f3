package repository

import (
	"context"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"relay-os/backend/pkg/models"
)

// In-memory repository implementations backing dev mode and unit tests. They
// satisfy the same interfaces as the postgres stores, so the lifecycle
// service is indifferent to which is wired in. Values are deep-copied on the
// way in and out; callers never share memory with the store.

// MemoryWorkflowStore is an in-memory WorkflowRepository.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*models.Workflow
}

// NewMemoryWorkflowStore creates an empty MemoryWorkflowStore.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[string]*models.Workflow)}
}

func (s *MemoryWorkflowStore) Create(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wf.IsLatest {
		for _, existing := range s.workflows {
			if existing.WorkflowKey == wf.WorkflowKey {
				existing.IsLatest = false
			}
		}
	}
	s.workflows[wf.ID] = deepCopy(wf, &models.Workflow{})
	return nil
}

func (s *MemoryWorkflowStore) Get(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(wf, &models.Workflow{}), nil
}

func (s *MemoryWorkflowStore) GetVersion(ctx context.Context, workflowKey string, version int) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, wf := range s.workflows {
		if wf.WorkflowKey == workflowKey && wf.Version == version {
			return deepCopy(wf, &models.Workflow{}), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryWorkflowStore) List(ctx context.Context) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, deepCopy(wf, &models.Workflow{}))
	}
	return out, nil
}

func (s *MemoryWorkflowStore) Update(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return ErrNotFound
	}
	s.workflows[wf.ID] = deepCopy(wf, &models.Workflow{})
	return nil
}

// MemoryRequestStore is an in-memory RequestRepository with the same
// optimistic-concurrency contract as the postgres store.
type MemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[string]*models.Request
}

// NewMemoryRequestStore creates an empty MemoryRequestStore.
func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{requests: make(map[string]*models.Request)}
}

func (s *MemoryRequestStore) Create(ctx context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = deepCopy(req, &models.Request{})
	return nil
}

func (s *MemoryRequestStore) Get(ctx context.Context, id string) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(req, &models.Request{}), nil
}

func (s *MemoryRequestStore) List(ctx context.Context, filter RequestFilter) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Request
	for _, req := range s.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.WorkflowID != "" && req.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.CreatedBy != "" && req.CreatedBy != filter.CreatedBy {
			continue
		}
		out = append(out, deepCopy(req, &models.Request{}))
	}
	return out, nil
}

func (s *MemoryRequestStore) Update(ctx context.Context, req *models.Request, expectedUpdatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	if !current.UpdatedAt.Equal(expectedUpdatedAt) {
		return ErrStaleUpdate
	}
	s.requests[req.ID] = deepCopy(req, &models.Request{})
	return nil
}

// MemoryAuditLogStore is an in-memory AuditLogRepository.
type MemoryAuditLogStore struct {
	mu      sync.RWMutex
	entries []*models.AuditLogEntry
}

// NewMemoryAuditLogStore creates an empty MemoryAuditLogStore.
func NewMemoryAuditLogStore() *MemoryAuditLogStore {
	return &MemoryAuditLogStore{}
}

func (s *MemoryAuditLogStore) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, deepCopy(entry, &models.AuditLogEntry{}))
	return nil
}

func (s *MemoryAuditLogStore) ListByRequest(ctx context.Context, requestID string) ([]*models.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AuditLogEntry
	for _, e := range s.entries {
		if e.RequestID == requestID {
			out = append(out, deepCopy(e, &models.AuditLogEntry{}))
		}
	}
	return out, nil
}

// MemoryUserStore is an in-memory UserRepository.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

// NewMemoryUserStore creates an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*models.User)}
}

func (s *MemoryUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = deepCopy(user, &models.User{})
	return nil
}

func (s *MemoryUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(u, &models.User{}), nil
}

func (s *MemoryUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return deepCopy(u, &models.User{}), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryUserStore) List(ctx context.Context) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, deepCopy(u, &models.User{}))
	}
	return out, nil
}

// deepCopy clones src into dst via JSON. The stored models are plain data, so
// a codec round-trip is a safe and cheap way to sever aliasing.
func deepCopy[T any](src, dst T) T {
	b, err := json.Marshal(src)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		panic(err)
	}
	return dst
}
