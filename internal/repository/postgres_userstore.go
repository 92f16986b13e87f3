package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"relay-os/backend/pkg/models"
)

// PostgresUserStore is a PostgreSQL implementation of UserRepository.
type PostgresUserStore struct {
	db *pgxpool.Pool
}

// NewPostgresUserStore creates a new PostgresUserStore.
func NewPostgresUserStore(db *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{db: db}
}

// Create inserts a user.
func (s *PostgresUserStore) Create(ctx context.Context, user *models.User) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, name, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.Name, user.Role, user.CreatedAt, user.UpdatedAt,
	)
	return err
}

// Get retrieves a user by id.
func (s *PostgresUserStore) Get(ctx context.Context, id string) (*models.User, error) {
	return s.scanOne(s.db.QueryRow(ctx,
		`SELECT id, email, name, role, created_at, updated_at FROM users WHERE id = $1`, id))
}

// GetByEmail retrieves a user by email address.
func (s *PostgresUserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.scanOne(s.db.QueryRow(ctx,
		`SELECT id, email, name, role, created_at, updated_at FROM users WHERE email = $1`, email))
}

// List returns all users.
func (s *PostgresUserStore) List(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, email, name, role, created_at, updated_at FROM users ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *PostgresUserStore) scanOne(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
