package model

import (
	"time"

	"github.com/google/uuid"
)

// User is the credential record: identity, password hash and e-mail confirmation.
type User struct {
	ID               uuid.UUID
	Email            string
	PasswordHash     string
	EmailConfirmedAt *time.Time
	CreatedAt        time.Time
}

// EmailConfirmed reports whether the account's e-mail was confirmed.
func (u User) EmailConfirmed() bool { return u.EmailConfirmedAt != nil }

// Profile holds per-user metadata keyed by the user id.
type Profile struct {
	ID            uuid.UUID
	Name          string
	PhoneNumber   *string
	EmailVerified bool
	PhoneVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OTPPurpose tags what an OTP record may be used for.
type OTPPurpose string

const (
	PurposeEmailVerification OTPPurpose = "email_verification"
	PurposeLogin             OTPPurpose = "login"
	PurposePasswordReset     OTPPurpose = "password_reset"
	PurposeTwoFactor         OTPPurpose = "two_factor"
	PurposePhoneVerification OTPPurpose = "phone_verification"
)

// Valid reports whether p is a known purpose.
func (p OTPPurpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposeLogin, PurposePasswordReset, PurposeTwoFactor, PurposePhoneVerification:
		return true
	}
	return false
}

// OTPRecord is one issued one-time code. Only the salted hash of the code is persisted.
type OTPRecord struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Email     string
	CodeHash  []byte
	Purpose   OTPPurpose
	Consumed  bool
	Attempts  int
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ResetToken is a single-use password reset token. Only the SHA-256 of the token is persisted.
type ResetToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	Used      bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Activity is an entry in a user's activity log.
type Activity struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *string
	Metadata     map[string]any
	CreatedAt    time.Time
}
