package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/clouddrive/server/internal/logging"
	"github.com/clouddrive/server/internal/model"
	"github.com/clouddrive/server/internal/notify"
	"github.com/clouddrive/server/internal/repo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	minPasswordLength = 8
	activityPageSize  = 200
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Account is a credential record merged with its profile.
type Account struct {
	User    model.User
	Profile model.Profile
}

// LoginResult is either a session or a request to verify the e-mail first.
// RequiresVerification is a normal outcome, not an error.
type LoginResult struct {
	RequiresVerification bool
	Email                string
	Token                string
	Account              Account
}

// RegisterInput is the sign-up form. Phone is optional.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

// RegisterResult identifies the new, still unverified account.
type RegisterResult struct {
	UserID uuid.UUID
	Email  string
}

// ServiceDeps bundles AuthService collaborators.
type ServiceDeps struct {
	Ledger      *Ledger
	Credentials *CredentialStore
	Users       repo.UserRepo
	Profiles    repo.ProfileRepo
	Activity    repo.ActivityRepo
	Sessions    *JWTService
	Notifier    notify.Dispatcher
	FrontendURL string
	Logger      *zap.Logger
}

// AuthService orchestrates registration, login, e-mail and phone verification and password reset
type AuthService struct {
	ledger      *Ledger
	creds       *CredentialStore
	users       repo.UserRepo
	profiles    repo.ProfileRepo
	activity    repo.ActivityRepo
	sessions    *JWTService
	notifier    notify.Dispatcher
	frontendURL string
	logger      *zap.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(d ServiceDeps) *AuthService {
	return &AuthService{
		ledger:      d.Ledger,
		creds:       d.Credentials,
		users:       d.Users,
		profiles:    d.Profiles,
		activity:    d.Activity,
		sessions:    d.Sessions,
		notifier:    d.Notifier,
		frontendURL: strings.TrimRight(d.FrontendURL, "/"),
		logger:      d.Logger,
	}
}

// Register creates an unconfirmed account and its profile, then e-mails a verification code.
// No session is issued.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	email := NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if email == "" || in.Password == "" || name == "" {
		return RegisterResult{}, invalid("Email, password, and name are required")
	}
	if !emailPattern.MatchString(email) {
		return RegisterResult{}, invalid("Invalid email format")
	}
	if len(in.Password) < minPasswordLength {
		return RegisterResult{}, invalid("Password must be at least 8 characters")
	}

	user, err := s.creds.CreateUser(ctx, email, in.Password, false)
	if err != nil {
		return RegisterResult{}, err
	}

	profile := model.Profile{ID: user.ID, Name: name}
	if phone := strings.TrimSpace(in.Phone); phone != "" {
		profile.PhoneNumber = &phone
	}
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return RegisterResult{}, fmt.Errorf("%w: create profile: %v", ErrStore, err)
	}

	if _, err := s.ledger.Issue(ctx, user.ID, user.Email, model.PurposeEmailVerification, 0,
		s.emailDelivery(user.Email, model.PurposeEmailVerification)); err != nil {
		return RegisterResult{}, err
	}

	s.logActivity(ctx, user.ID, "user.register", nil)
	s.logger.Info("user registered", zap.String("user_id", user.ID.String()), logging.Email(user.Email))
	return RegisterResult{UserID: user.ID, Email: user.Email}, nil
}

// VerifyEmail consumes an e-mail verification code, marks the address verified and opens a session.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) (string, Account, error) {
	userID, err := s.ledger.Verify(ctx, email, model.PurposeEmailVerification, code)
	if err != nil {
		return "", Account{}, err
	}
	if err := s.markEmailVerified(ctx, userID); err != nil {
		return "", Account{}, err
	}

	acc, err := s.account(ctx, userID)
	if err != nil {
		return "", Account{}, err
	}
	token, err := s.sessions.Issue(acc.User.ID, acc.User.Email)
	if err != nil {
		return "", Account{}, err
	}

	s.logActivity(ctx, userID, "user.verify_email", nil)
	return token, acc, nil
}

// ResendEmailOTP replaces the outstanding verification code for an unverified account.
func (s *AuthService) ResendEmailOTP(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return invalid("Email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%w: load user: %v", ErrStore, err)
	}

	profile, err := s.profile(ctx, user)
	if err != nil {
		return err
	}
	if profile.EmailVerified {
		return ErrEmailAlreadyVerified
	}

	_, err = s.ledger.Issue(ctx, user.ID, user.Email, model.PurposeEmailVerification, 0,
		s.emailDelivery(user.Email, model.PurposeEmailVerification))
	return err
}

// Login checks the password. A verified account gets a session; an unverified one gets a fresh
// verification code and RequiresVerification instead.
func (s *AuthService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return LoginResult{}, invalid("Email and password are required")
	}

	user, err := s.creds.Authenticate(ctx, email, password)
	if err != nil {
		return LoginResult{}, err
	}

	profile, err := s.profile(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}

	if !profile.EmailVerified {
		_, err := s.ledger.Issue(ctx, user.ID, user.Email, model.PurposeEmailVerification, 0,
			s.emailDelivery(user.Email, model.PurposeEmailVerification))
		switch {
		case errors.Is(err, ErrTooManyRequests):
			// The last code sent is still valid; the client can verify with it.
			s.logger.Warn("login: verification code not re-sent, throttled", logging.Email(user.Email))
		case err != nil:
			return LoginResult{}, err
		}
		s.logger.Info("login blocked, email not verified", logging.Email(user.Email))
		return LoginResult{RequiresVerification: true, Email: user.Email}, nil
	}

	token, err := s.sessions.Issue(user.ID, user.Email)
	if err != nil {
		return LoginResult{}, err
	}

	s.logActivity(ctx, user.ID, "user.login", nil)
	return LoginResult{Token: token, Account: Account{User: user, Profile: profile}}, nil
}

// ForgotPassword e-mails a reset link when the account exists. Unknown addresses succeed silently.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return invalid("Email is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			s.logger.Error("forgot password: user lookup failed", logging.Email(email), zap.Error(err))
		}
		return nil
	}

	token, err := s.ledger.IssueResetToken(ctx, user.ID)
	if err != nil {
		return err
	}

	link := s.frontendURL + "/reset-password?token=" + token
	subject, html, err := notify.ResetEmail(link, s.ledger.resetTTL)
	if err != nil {
		return err
	}
	if err := s.notifier.SendEmail(ctx, user.Email, subject, html); err != nil {
		s.logger.Error("password reset delivery failed", logging.Email(user.Email), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	return nil
}

// ResetPassword consumes the reset token, sets the new password and confirms the e-mail.
// The token is spent before the password changes; a failed update needs a new link.
func (s *AuthService) ResetPassword(ctx context.Context, token, password string) error {
	if strings.TrimSpace(token) == "" || password == "" {
		return invalid("Token and password are required")
	}
	if len(password) < minPasswordLength {
		return invalid("Password must be at least 8 characters")
	}

	userID, err := s.ledger.ConsumeResetToken(ctx, token)
	if err != nil {
		return err
	}
	if err := s.creds.SetPassword(ctx, userID, password); err != nil {
		return err
	}
	if err := s.markEmailVerified(ctx, userID); err != nil {
		return err
	}

	s.logActivity(ctx, userID, "user.password_reset", nil)
	s.logger.Info("password reset", zap.String("user_id", userID.String()))
	return nil
}

// Me returns the caller's merged account.
func (s *AuthService) Me(ctx context.Context, userID uuid.UUID) (Account, error) {
	return s.account(ctx, userID)
}

// SendPhoneOTP texts a phone verification code to the number on the caller's profile.
func (s *AuthService) SendPhoneOTP(ctx context.Context, userID uuid.UUID) error {
	acc, err := s.account(ctx, userID)
	if err != nil {
		return err
	}
	if acc.Profile.PhoneNumber == nil || strings.TrimSpace(*acc.Profile.PhoneNumber) == "" {
		return ErrPhoneMissing
	}
	phone := strings.TrimSpace(*acc.Profile.PhoneNumber)

	_, err = s.ledger.Issue(ctx, userID, acc.User.Email, model.PurposePhoneVerification, 0,
		func(ctx context.Context, code string) error {
			return s.notifier.SendSMS(ctx, phone, notify.OTPSMS(code, s.ledger.OTPTTL()))
		})
	return err
}

// VerifyPhone consumes a phone verification code and marks the profile's phone verified.
func (s *AuthService) VerifyPhone(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	owner, err := s.ledger.Verify(ctx, user.Email, model.PurposePhoneVerification, code)
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrInvalidOrUsed
	}
	if err := s.profiles.SetPhoneVerified(ctx, userID, true); err != nil {
		return fmt.Errorf("%w: verify phone: %v", ErrStore, err)
	}
	s.logActivity(ctx, userID, "user.verify_phone", nil)
	return nil
}

// FixUnverifiedUsers confirms every unconfirmed account and returns how many were changed.
func (s *AuthService) FixUnverifiedUsers(ctx context.Context) (int, error) {
	users, err := s.users.ListUnconfirmed(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStore, err)
	}
	fixed := 0
	for _, u := range users {
		if err := s.markEmailVerified(ctx, u.ID); err != nil {
			return fixed, err
		}
		fixed++
		s.logger.Info("fixed unverified user", logging.Email(u.Email))
	}
	return fixed, nil
}

// ListActivity returns the caller's most recent activity, newest first.
func (s *AuthService) ListActivity(ctx context.Context, userID uuid.UUID) ([]model.Activity, error) {
	activities, err := s.activity.ListByUser(ctx, userID, activityPageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return activities, nil
}

func (s *AuthService) emailDelivery(to string, purpose model.OTPPurpose) Delivery {
	return func(ctx context.Context, code string) error {
		subject, html, err := notify.OTPEmail(purpose, code, s.ledger.OTPTTL())
		if err != nil {
			return err
		}
		return s.notifier.SendEmail(ctx, to, subject, html)
	}
}

// markEmailVerified confirms the credential and flags the profile, creating a minimal profile if none exists.
func (s *AuthService) markEmailVerified(ctx context.Context, userID uuid.UUID) error {
	if err := s.creds.SetEmailConfirmed(ctx, userID, true); err != nil {
		return err
	}
	err := s.profiles.SetEmailVerified(ctx, userID, true)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: verify email: %v", ErrStore, err)
	}

	user, err := s.user(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.profiles.Upsert(ctx, model.Profile{ID: userID, Name: defaultName(user.Email), EmailVerified: true}); err != nil {
		return fmt.Errorf("%w: create profile: %v", ErrStore, err)
	}
	return nil
}

func (s *AuthService) user(ctx context.Context, userID uuid.UUID) (model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("%w: load user: %v", ErrStore, err)
	}
	return user, nil
}

// profile loads the user's profile. A missing profile reads as an empty, unverified one.
func (s *AuthService) profile(ctx context.Context, user model.User) (model.Profile, error) {
	p, err := s.profiles.Get(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.Profile{ID: user.ID, Name: defaultName(user.Email)}, nil
		}
		return model.Profile{}, fmt.Errorf("%w: load profile: %v", ErrStore, err)
	}
	return p, nil
}

func (s *AuthService) account(ctx context.Context, userID uuid.UUID) (Account, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	profile, err := s.profile(ctx, user)
	if err != nil {
		return Account{}, err
	}
	return Account{User: user, Profile: profile}, nil
}

// logActivity records an activity entry. Failures are logged and never returned.
func (s *AuthService) logActivity(ctx context.Context, userID uuid.UUID, action string, metadata map[string]any) {
	if s.activity == nil {
		return
	}
	resourceID := userID.String()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := s.activity.Create(ctx, model.Activity{
		UserID:       userID,
		Action:       action,
		ResourceType: "user",
		ResourceID:   &resourceID,
		Metadata:     metadata,
	})
	if err != nil {
		s.logger.Warn("activity log write failed", zap.String("action", action), zap.Error(err))
	}
}

func defaultName(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
