package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/clouddrive/server/internal/model"
	"github.com/clouddrive/server/internal/repo"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// CredentialStore owns account identity, bcrypt password hashes and e-mail confirmation.
// Plaintext passwords are never logged or persisted.
type CredentialStore struct {
	users repo.UserRepo
	cost  int
}

// NewCredentialStore returns a store hashing with the given bcrypt cost, clamped to bcrypt's range.
func NewCredentialStore(users repo.UserRepo, cost int) *CredentialStore {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &CredentialStore{users: users, cost: cost}
}

func (s *CredentialStore) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", invalid("Password must be at most 72 bytes")
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CreateUser creates an account. An address already in use yields ErrEmailTaken.
func (s *CredentialStore) CreateUser(ctx context.Context, email, password string, emailConfirmed bool) (model.User, error) {
	hash, err := s.hash(password)
	if err != nil {
		return model.User{}, err
	}
	u, err := s.users.Create(ctx, NormalizeEmail(email), hash, emailConfirmed)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return model.User{}, ErrEmailTaken
		}
		return model.User{}, fmt.Errorf("%w: create user: %v", ErrStore, err)
	}
	return u, nil
}

// Authenticate returns the account when password matches. Unknown address and wrong password
// both yield ErrInvalidCredentials.
func (s *CredentialStore) Authenticate(ctx context.Context, email, password string) (model.User, error) {
	u, err := s.users.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrInvalidCredentials
		}
		return model.User{}, fmt.Errorf("%w: load user: %v", ErrStore, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return model.User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *CredentialStore) SetEmailConfirmed(ctx context.Context, id uuid.UUID, confirmed bool) error {
	if err := s.users.SetEmailConfirmed(ctx, id, confirmed); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: confirm email: %v", ErrStore, err)
	}
	return nil
}

// SetPassword replaces the account's password.
func (s *CredentialStore) SetPassword(ctx context.Context, id uuid.UUID, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	if err := s.users.SetPasswordHash(ctx, id, hash); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: update password: %v", ErrStore, err)
	}
	return nil
}
