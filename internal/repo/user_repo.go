package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clouddrive/server/internal/model"
	"github.com/google/uuid"
)

// UserRepo defines the interface for credential record operations
type UserRepo interface {
	Create(ctx context.Context, email, passwordHash string, confirmed bool) (model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	SetEmailConfirmed(ctx context.Context, id uuid.UUID, confirmed bool) error
	SetPasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error
	ListUnconfirmed(ctx context.Context) ([]model.User, error)
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, email, password_hash, email_confirmed_at, created_at`

func scanUser(row interface{ Scan(...any) error }) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.EmailConfirmedAt, &u.CreatedAt)
	return u, err
}

// Create inserts a credential record. A second account with the same e-mail yields ErrDuplicate.
func (r *userRepo) Create(ctx context.Context, email, passwordHash string, confirmed bool) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, email_confirmed_at)
		VALUES ($1, $2, CASE WHEN $3::boolean THEN now() END)
		RETURNING `+userColumns,
		email, passwordHash, confirmed)
	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, fmt.Errorf("user %w", ErrDuplicate)
		}
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user %w", ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// GetByEmail retrieves a user by e-mail, case-insensitively
func (r *userRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, fmt.Errorf("user %w", ErrNotFound)
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// SetEmailConfirmed sets or clears email_confirmed_at. An already confirmed account keeps its original timestamp.
func (r *userRepo) SetEmailConfirmed(ctx context.Context, id uuid.UUID, confirmed bool) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET email_confirmed_at = CASE WHEN $2::boolean THEN COALESCE(email_confirmed_at, now()) END
		WHERE id = $1
	`, id, confirmed)
	if err != nil {
		return fmt.Errorf("update email confirmation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %w", ErrNotFound)
	}
	return nil
}

// SetPasswordHash replaces the stored password hash
func (r *userRepo) SetPasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("user %w", ErrNotFound)
	}
	return nil
}

// ListUnconfirmed returns every account whose e-mail has not been confirmed, oldest first
func (r *userRepo) ListUnconfirmed(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email_confirmed_at IS NULL
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list unconfirmed users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
