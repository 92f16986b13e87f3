package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"relay-os/backend/pkg/models"
)

// PostgresAuditLogStore is a PostgreSQL implementation of AuditLogRepository.
// The table is insert-only; there are no update or delete paths.
type PostgresAuditLogStore struct {
	db *pgxpool.Pool
}

// NewPostgresAuditLogStore creates a new PostgresAuditLogStore.
func NewPostgresAuditLogStore(db *pgxpool.Pool) *PostgresAuditLogStore {
	return &PostgresAuditLogStore{db: db}
}

// Append inserts a log entry.
func (s *PostgresAuditLogStore) Append(ctx context.Context, entry *models.AuditLogEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO request_logs (id, request_id, action, user_id, comment, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.RequestID, entry.Action, entry.UserID, entry.Comment, entry.CreatedAt,
	)
	return err
}

// ListByRequest returns a request's log entries in the order they were
// appended.
func (s *PostgresAuditLogStore) ListByRequest(ctx context.Context, requestID string) ([]*models.AuditLogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, request_id, action, user_id, comment, created_at
		 FROM request_logs WHERE request_id = $1 ORDER BY created_at, id`,
		requestID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Action, &e.UserID, &e.Comment, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
