package repository

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relay-os/backend/pkg/models"
)

// PostgresWorkflowStore is a PostgreSQL implementation of WorkflowRepository.
// Field and step definitions are stored as JSONB documents alongside the
// scalar columns.
type PostgresWorkflowStore struct {
	db *pgxpool.Pool
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(db *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

const workflowColumns = `id, workflow_key, version, is_latest, name, description, status, start_key, fields, steps, created_by, created_at, updated_at`

// Create inserts a workflow version, demoting earlier versions of the same
// key when this one is marked latest. Both writes happen in one transaction.
func (s *PostgresWorkflowStore) Create(ctx context.Context, wf *models.Workflow) error {
	fields, steps, err := marshalDefinition(wf)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if wf.IsLatest {
		if _, err := tx.Exec(ctx,
			`UPDATE workflows SET is_latest = false WHERE workflow_key = $1 AND id <> $2`,
			wf.WorkflowKey, wf.ID,
		); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		wf.ID, wf.WorkflowKey, wf.Version, wf.IsLatest, wf.Name, wf.Description,
		wf.Status, wf.StartKey, fields, steps, wf.CreatedBy, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Get retrieves a workflow version by id.
func (s *PostgresWorkflowStore) Get(ctx context.Context, id string) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	return scanWorkflow(row)
}

// GetVersion retrieves a specific version of a workflow key.
func (s *PostgresWorkflowStore) GetVersion(ctx context.Context, workflowKey string, version int) (*models.Workflow, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE workflow_key = $1 AND version = $2`,
		workflowKey, version,
	)
	return scanWorkflow(row)
}

// List returns all workflow versions, newest first.
func (s *PostgresWorkflowStore) List(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY workflow_key, version DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// Update persists changes to an existing workflow version.
func (s *PostgresWorkflowStore) Update(ctx context.Context, wf *models.Workflow) error {
	fields, steps, err := marshalDefinition(wf)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE workflows
		 SET name = $2, description = $3, status = $4, start_key = $5,
		     fields = $6, steps = $7, is_latest = $8, updated_at = $9
		 WHERE id = $1`,
		wf.ID, wf.Name, wf.Description, wf.Status, wf.StartKey,
		fields, steps, wf.IsLatest, wf.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalDefinition(wf *models.Workflow) (fields, steps []byte, err error) {
	fields, err = json.Marshal(wf.Fields)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal workflow fields: %w", err)
	}
	steps, err = json.Marshal(wf.Steps)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal workflow steps: %w", err)
	}
	return fields, steps, nil
}

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	var fields, steps []byte

	err := row.Scan(
		&wf.ID, &wf.WorkflowKey, &wf.Version, &wf.IsLatest, &wf.Name, &wf.Description,
		&wf.Status, &wf.StartKey, &fields, &steps, &wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(fields, &wf.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal workflow fields: %w", err)
	}
	if err := json.Unmarshal(steps, &wf.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal workflow steps: %w", err)
	}
	return &wf, nil
}
