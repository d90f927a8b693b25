package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clouddrive/server/internal/model"
	"github.com/google/uuid"
)

// ResetRepo defines the interface for password reset token operations
type ResetRepo interface {
	Create(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error)
	FindUnusedByHash(ctx context.Context, tokenHash string) (model.ResetToken, error)
	FindByHash(ctx context.Context, tokenHash string) (model.ResetToken, error)
	MarkUsed(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteStale(ctx context.Context, createdBefore time.Time) (int64, error)
}

type resetRepo struct {
	db *sql.DB
}

// NewResetRepo creates a new ResetRepo instance
func NewResetRepo(db *sql.DB) ResetRepo {
	return &resetRepo{db: db}
}

// Create inserts a new reset token
func (r *resetRepo) Create(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO password_reset_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, tokenHash, expiresAt).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return uuid.Nil, fmt.Errorf("reset token %w", ErrDuplicate)
		}
		return uuid.Nil, fmt.Errorf("insert reset token: %w", err)
	}
	return id, nil
}

// FindUnusedByHash returns the token if it exists and has not been used. Expiry is checked by the caller.
func (r *resetRepo) FindUnusedByHash(ctx context.Context, tokenHash string) (model.ResetToken, error) {
	return r.find(ctx, `WHERE token_hash = $1 AND used = false`, tokenHash)
}

// FindByHash returns the token regardless of its used flag
func (r *resetRepo) FindByHash(ctx context.Context, tokenHash string) (model.ResetToken, error) {
	return r.find(ctx, `WHERE token_hash = $1`, tokenHash)
}

func (r *resetRepo) find(ctx context.Context, where, tokenHash string) (model.ResetToken, error) {
	var t model.ResetToken
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, used, expires_at, created_at
		FROM password_reset_tokens
		`+where, tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Used, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ResetToken{}, fmt.Errorf("reset token %w", ErrNotFound)
		}
		return model.ResetToken{}, fmt.Errorf("find reset token: %w", err)
	}
	return t, nil
}

// MarkUsed flips used from false to true and reports whether this call did it.
func (r *resetRepo) MarkUsed(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE password_reset_tokens SET used = true WHERE id = $1 AND used = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark reset token used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark reset token used: %w", err)
	}
	return n == 1, nil
}

// DeleteStale removes used or expired tokens created before the cutoff.
func (r *resetRepo) DeleteStale(ctx context.Context, createdBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM password_reset_tokens
		WHERE created_at < $1 AND (used OR expires_at < now())
	`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("delete stale reset tokens: %w", err)
	}
	return result.RowsAffected()
}
