package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/clouddrive/server/internal/model"
	"github.com/google/uuid"
)

// OtpRepo defines the interface for OTP record operations
type OtpRepo interface {
	Replace(ctx context.Context, userID uuid.UUID, email string, purpose model.OTPPurpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error)
	LatestUnconsumed(ctx context.Context, email string, purpose model.OTPPurpose) (model.OTPRecord, error)
	MarkConsumed(ctx context.Context, id uuid.UUID) (bool, error)
	IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error)
	DeleteStale(ctx context.Context, createdBefore time.Time) (int64, error)
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

// Replace deletes every record for (email, purpose), consumed or not, and inserts a fresh one.
// An advisory lock serializes concurrent issues for the same key.
func (r *otpRepo) Replace(ctx context.Context, userID uuid.UUID, email string, purpose model.OTPPurpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Released on COMMIT/ROLLBACK.
	_, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1::text || ':' || $2::text))`, email, string(purpose))
	if err != nil {
		return uuid.Nil, fmt.Errorf("advisory lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM otp_verifications
		WHERE email = $1 AND otp_type = $2
	`, email, string(purpose))
	if err != nil {
		return uuid.Nil, fmt.Errorf("delete previous records: %w", err)
	}

	var id uuid.UUID
	err = tx.QueryRowContext(ctx, `
		INSERT INTO otp_verifications (user_id, email, otp_hash, otp_type, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, userID, email, codeHashHex, string(purpose), expiresAt).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// LatestUnconsumed returns the most recently created unconsumed record for (email, purpose).
// Expiry is not filtered here so callers can tell expired from missing.
func (r *otpRepo) LatestUnconsumed(ctx context.Context, email string, purpose model.OTPPurpose) (model.OTPRecord, error) {
	var rec model.OTPRecord
	var otpHashHex, purposeStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, otp_hash, otp_type, consumed, attempt_count, expires_at, created_at
		FROM otp_verifications
		WHERE email = $1 AND otp_type = $2 AND consumed = false
		ORDER BY created_at DESC
		LIMIT 1
	`, email, string(purpose)).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Email,
		&otpHashHex,
		&purposeStr,
		&rec.Consumed,
		&rec.Attempts,
		&rec.ExpiresAt,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OTPRecord{}, fmt.Errorf("otp record %w", ErrNotFound)
		}
		return model.OTPRecord{}, fmt.Errorf("query record: %w", err)
	}
	rec.Purpose = model.OTPPurpose(purposeStr)

	rec.CodeHash, err = hex.DecodeString(otpHashHex)
	if err != nil {
		return model.OTPRecord{}, fmt.Errorf("decode otp_hash: %w", err)
	}
	return rec, nil
}

// MarkConsumed flips consumed from false to true. It reports false when the record
// was already consumed or no longer exists.
func (r *otpRepo) MarkConsumed(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_verifications SET consumed = true WHERE id = $1 AND consumed = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark consumed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark consumed: %w", err)
	}
	return n == 1, nil
}

// IncrementAttempt records one failed verification and returns the new attempt_count.
func (r *otpRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_verifications
		SET attempt_count = attempt_count + 1
		WHERE id = $1
		RETURNING attempt_count
	`, id).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("otp record %w", ErrNotFound)
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return n, nil
}

// DeleteStale removes consumed or expired records created before the cutoff.
func (r *otpRepo) DeleteStale(ctx context.Context, createdBefore time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM otp_verifications
		WHERE created_at < $1 AND (consumed OR expires_at < now())
	`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("delete stale otp records: %w", err)
	}
	return result.RowsAffected()
}
