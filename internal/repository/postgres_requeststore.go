package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relay-os/backend/pkg/models"
)

// PostgresRequestStore is a PostgreSQL implementation of RequestRepository.
// Context, execution state, and observer lists live in JSONB columns so the
// engine state round-trips exactly as persisted.
type PostgresRequestStore struct {
	db *pgxpool.Pool
}

// NewPostgresRequestStore creates a new PostgresRequestStore.
func NewPostgresRequestStore(db *pgxpool.Pool) *PostgresRequestStore {
	return &PostgresRequestStore{db: db}
}

const requestColumns = `id, workflow_id, workflow_version, created_by, status, context, execution, changes_requested, observer_ids, created_at, updated_at`

// Create inserts a new request.
func (s *PostgresRequestStore) Create(ctx context.Context, req *models.Request) error {
	context_, execution, observers, err := marshalRequest(req)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO requests (`+requestColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		req.ID, req.WorkflowID, req.WorkflowVersion, req.CreatedBy, req.Status,
		context_, execution, req.ChangesRequested, observers, req.CreatedAt, req.UpdatedAt,
	)
	return err
}

// Get retrieves a request by id.
func (s *PostgresRequestStore) Get(ctx context.Context, id string) (*models.Request, error) {
	row := s.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	return scanRequest(row)
}

// List returns requests matching the filter, newest first.
func (s *PostgresRequestStore) List(ctx context.Context, filter RequestFilter) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}
	if filter.CreatedBy != "" {
		args = append(args, filter.CreatedBy)
		query += fmt.Sprintf(" AND created_by = $%d", len(args))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []*models.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// Update persists the request state guarded by a compare-and-swap on
// updated_at, so a concurrent writer surfaces as ErrStaleUpdate instead of a
// lost update.
func (s *PostgresRequestStore) Update(ctx context.Context, req *models.Request, expectedUpdatedAt time.Time) error {
	context_, execution, observers, err := marshalRequest(req)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE requests
		 SET status = $2, context = $3, execution = $4, changes_requested = $5,
		     observer_ids = $6, updated_at = $7
		 WHERE id = $1 AND updated_at = $8`,
		req.ID, req.Status, context_, execution, req.ChangesRequested,
		observers, req.UpdatedAt, expectedUpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a vanished row from a concurrent write.
		var exists bool
		if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, req.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStaleUpdate
	}
	return nil
}

func marshalRequest(req *models.Request) (context_, execution, observers []byte, err error) {
	context_, err = json.Marshal(req.Context)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal request context: %w", err)
	}
	execution, err = json.Marshal(req.Execution)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal execution state: %w", err)
	}
	observers, err = json.Marshal(req.ObserverIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal observer ids: %w", err)
	}
	return context_, execution, observers, nil
}

func scanRequest(row pgx.Row) (*models.Request, error) {
	var req models.Request
	var context_, execution, observers []byte

	err := row.Scan(
		&req.ID, &req.WorkflowID, &req.WorkflowVersion, &req.CreatedBy, &req.Status,
		&context_, &execution, &req.ChangesRequested, &observers, &req.CreatedAt, &req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(context_, &req.Context); err != nil {
		return nil, fmt.Errorf("unmarshal request context: %w", err)
	}
	if err := json.Unmarshal(execution, &req.Execution); err != nil {
		return nil, fmt.Errorf("unmarshal execution state: %w", err)
	}
	if err := json.Unmarshal(observers, &req.ObserverIDs); err != nil {
		return nil, fmt.Errorf("unmarshal observer ids: %w", err)
	}
	return &req, nil
}
