package auth

import "errors"

// Error kinds returned by the ledger and AuthService. Callers match them with errors.Is;
// the HTTP layer maps each to a status code.
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrExpired              = errors.New("expired")
	ErrMismatch             = errors.New("incorrect code")
	ErrInvalidOrUsed        = errors.New("invalid or already used code")
	ErrAlreadyUsed          = errors.New("already used")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrDispatch             = errors.New("failed to deliver notification")
	ErrStore                = errors.New("store failure")
	ErrEmailTaken           = errors.New("a user with this email address has already been registered")
	ErrEmailAlreadyVerified = errors.New("email already verified")
	ErrUserNotFound         = errors.New("user not found")
	ErrTooManyRequests      = errors.New("too many requests")
	ErrPhoneMissing         = errors.New("no phone number on file")
)

// validationError carries a user-facing message and matches ErrValidation.
type validationError struct {
	msg string
}

func (e *validationError) Error() string        { return e.msg }
func (e *validationError) Is(target error) bool { return target == ErrValidation }

func invalid(msg string) error {
	return &validationError{msg: msg}
}
