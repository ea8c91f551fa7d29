package pg

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fixflow/internal/auth"
)

// UserRepository reads administrator accounts from trust.users
type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, username, password_hash, totp_enabled, created_at, updated_at
		 FROM trust.users
		 WHERE username = $1`,
		username)
	return scanUser(row)
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, username, password_hash, totp_enabled, created_at, updated_at
		 FROM trust.users
		 WHERE id = $1`,
		id)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.TotpEnabled, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
