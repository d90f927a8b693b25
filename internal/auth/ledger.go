package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clouddrive/server/internal/logging"
	"github.com/clouddrive/server/internal/model"
	"github.com/clouddrive/server/internal/repo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultOTPTTL   = 10 * time.Minute
	defaultResetTTL = time.Hour

	// maxVerifyAttempts wrong guesses retire a code.
	maxVerifyAttempts = 5
)

// Throttle limits how often a key may be used within a window.
type Throttle interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Delivery sends a freshly issued code to its recipient.
type Delivery func(ctx context.Context, code string) error

// LedgerConfig holds the ledger's secrets and windows.
type LedgerConfig struct {
	Salt     string
	OTPTTL   time.Duration
	ResetTTL time.Duration
}

// Ledger issues, verifies and retires one-time codes and password reset tokens.
// All state lives in the repositories; the ledger itself is safe for concurrent use.
type Ledger struct {
	otps     repo.OtpRepo
	resets   repo.ResetRepo
	throttle Throttle
	salt     string
	otpTTL   time.Duration
	resetTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewLedger creates a ledger. throttle may be nil to disable per-address issue limits.
func NewLedger(otps repo.OtpRepo, resets repo.ResetRepo, throttle Throttle, cfg LedgerConfig, logger *zap.Logger) *Ledger {
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = defaultOTPTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = defaultResetTTL
	}
	return &Ledger{
		otps:     otps,
		resets:   resets,
		throttle: throttle,
		salt:     cfg.Salt,
		otpTTL:   cfg.OTPTTL,
		resetTTL: cfg.ResetTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// OTPTTL is the validity window applied when Issue is called with ttl <= 0.
func (l *Ledger) OTPTTL() time.Duration { return l.otpTTL }

// Issue replaces every record for (email, purpose) with a new code valid for ttl and hands
// the code to deliver. The record stays persisted when delivery fails; the caller gets ErrDispatch
// and the next Issue for the same key supersedes it.
func (l *Ledger) Issue(ctx context.Context, userID uuid.UUID, email string, purpose model.OTPPurpose, ttl time.Duration, deliver Delivery) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", invalid("Email is required")
	}
	if !purpose.Valid() {
		return "", invalid(fmt.Sprintf("unknown otp purpose %q", purpose))
	}
	if ttl <= 0 {
		ttl = l.otpTTL
	}

	if l.throttle != nil {
		allowed, err := l.throttle.Allow(ctx, string(purpose)+":"+email)
		if err != nil {
			l.logger.Warn("otp throttle unavailable, allowing request", logging.Email(email), zap.Error(err))
		} else if !allowed {
			return "", fmt.Errorf("issue %s code: %w", purpose, ErrTooManyRequests)
		}
	}

	code, err := generateOTPCode(otpLength)
	if err != nil {
		return "", err
	}

	expiresAt := l.now().Add(ttl)
	if _, err := l.otps.Replace(ctx, userID, email, purpose, hashOTPHex(email, code, l.salt), expiresAt); err != nil {
		return "", fmt.Errorf("%w: persist otp: %v", ErrStore, err)
	}

	if deliver != nil {
		if err := deliver(ctx, code); err != nil {
			l.logger.Error("otp delivery failed",
				logging.Email(email), zap.String("purpose", string(purpose)), zap.Error(err))
			return "", fmt.Errorf("%w: %v", ErrDispatch, err)
		}
	}

	l.logger.Info("otp issued", logging.Email(email), zap.String("purpose", string(purpose)), zap.Time("expires_at", expiresAt))
	return code, nil
}

// Verify checks code against the newest unconsumed record for (email, purpose) and consumes it.
// Only one of several concurrent callers with the right code succeeds; the others get ErrInvalidOrUsed.
func (l *Ledger) Verify(ctx context.Context, email string, purpose model.OTPPurpose, code string) (uuid.UUID, error) {
	email = NormalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return uuid.Nil, invalid("Email and OTP are required")
	}

	rec, err := l.otps.LatestUnconsumed(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return uuid.Nil, ErrInvalidOrUsed
		}
		return uuid.Nil, fmt.Errorf("%w: load otp: %v", ErrStore, err)
	}

	if l.now().After(rec.ExpiresAt) {
		return uuid.Nil, ErrExpired
	}

	if rec.Attempts >= maxVerifyAttempts {
		l.retire(ctx, rec)
		return uuid.Nil, ErrInvalidOrUsed
	}

	if !constantTimeCompare(hashOTPBytes(email, code, l.salt), rec.CodeHash) {
		attempts, err := l.otps.IncrementAttempt(ctx, rec.ID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: record attempt: %v", ErrStore, err)
		}
		if attempts >= maxVerifyAttempts {
			l.logger.Warn("otp attempt limit reached", logging.Email(email), zap.String("purpose", string(purpose)))
			l.retire(ctx, rec)
		}
		return uuid.Nil, ErrMismatch
	}

	ok, err := l.otps.MarkConsumed(ctx, rec.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: consume otp: %v", ErrStore, err)
	}
	if !ok {
		return uuid.Nil, ErrInvalidOrUsed
	}
	return rec.UserID, nil
}

// retire consumes a record that may no longer be verified.
func (l *Ledger) retire(ctx context.Context, rec model.OTPRecord) {
	if _, err := l.otps.MarkConsumed(ctx, rec.ID); err != nil {
		l.logger.Error("retire otp failed", zap.String("otp_id", rec.ID.String()), zap.Error(err))
	}
}

// IssueResetToken creates a single-use reset token for the user. Earlier tokens stay valid until used or expired.
func (l *Ledger) IssueResetToken(ctx context.Context, userID uuid.UUID) (string, error) {
	token, hashHex, err := GenerateResetToken()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	if _, err := l.resets.Create(ctx, userID, hashHex, l.now().Add(l.resetTTL)); err != nil {
		return "", fmt.Errorf("%w: persist reset token: %v", ErrStore, err)
	}
	return token, nil
}

// ConsumeResetToken marks the token used and returns its owner.
func (l *Ledger) ConsumeResetToken(ctx context.Context, token string) (uuid.UUID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return uuid.Nil, invalid("Token is required")
	}
	hashHex := HashResetToken(token)

	rt, err := l.resets.FindUnusedByHash(ctx, hashHex)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("%w: load reset token: %v", ErrStore, err)
		}
		if _, err := l.resets.FindByHash(ctx, hashHex); err == nil {
			return uuid.Nil, ErrAlreadyUsed
		} else if !errors.Is(err, repo.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("%w: load reset token: %v", ErrStore, err)
		}
		return uuid.Nil, ErrNotFound
	}

	if l.now().After(rt.ExpiresAt) {
		return uuid.Nil, ErrExpired
	}

	ok, err := l.resets.MarkUsed(ctx, rt.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: consume reset token: %v", ErrStore, err)
	}
	if !ok {
		return uuid.Nil, ErrAlreadyUsed
	}
	return rt.UserID, nil
}
