package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clouddrive/server/internal/model"
	"github.com/google/uuid"
)

// ProfileRepo defines the interface for profile operations
type ProfileRepo interface {
	Upsert(ctx context.Context, p model.Profile) error
	Get(ctx context.Context, id uuid.UUID) (model.Profile, error)
	SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error
	SetPhoneVerified(ctx context.Context, id uuid.UUID, verified bool) error
}

type profileRepo struct {
	db *sql.DB
}

// NewProfileRepo creates a new ProfileRepo instance
func NewProfileRepo(db *sql.DB) ProfileRepo {
	return &profileRepo{db: db}
}

// Upsert creates the profile or overwrites name, phone and verification flags
func (r *profileRepo) Upsert(ctx context.Context, p model.Profile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, phone_number, email_verified, phone_verified)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    phone_number = EXCLUDED.phone_number,
		    email_verified = EXCLUDED.email_verified,
		    phone_verified = EXCLUDED.phone_verified,
		    updated_at = now()
	`, p.ID, p.Name, p.PhoneNumber, p.EmailVerified, p.PhoneVerified)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *profileRepo) Get(ctx context.Context, id uuid.UUID) (model.Profile, error) {
	var p model.Profile
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, phone_number, email_verified, phone_verified, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.PhoneNumber, &p.EmailVerified, &p.PhoneVerified, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Profile{}, fmt.Errorf("profile %w", ErrNotFound)
		}
		return model.Profile{}, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

func (r *profileRepo) SetEmailVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	return r.setFlag(ctx, "email_verified", id, verified)
}

func (r *profileRepo) SetPhoneVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	return r.setFlag(ctx, "phone_verified", id, verified)
}

// column is never user input.
func (r *profileRepo) setFlag(ctx context.Context, column string, id uuid.UUID, value bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET `+column+` = $2, updated_at = now() WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %w", ErrNotFound)
	}
	return nil
}
