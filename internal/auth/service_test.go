package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clouddrive/server/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

type serviceFixture struct {
	svc      *AuthService
	users    *fakeUserRepo
	profiles *fakeProfileRepo
	otps     *fakeOtpRepo
	resets   *fakeResetRepo
	activity *fakeActivityRepo
	mail     *fakeDispatcher
	sessions *JWTService
	clock    *clock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		users:    newFakeUserRepo(),
		profiles: newFakeProfileRepo(),
		otps:     &fakeOtpRepo{},
		resets:   newFakeResetRepo(),
		activity: &fakeActivityRepo{},
		mail:     &fakeDispatcher{},
		sessions: NewJWTService("test-secret", 0),
		clock:    newClock(),
	}
	ledger := newTestLedger(f.otps, f.resets, nil, f.clock)
	f.svc = NewAuthService(ServiceDeps{
		Ledger:      ledger,
		Credentials: NewCredentialStore(f.users, bcrypt.MinCost),
		Users:       f.users,
		Profiles:    f.profiles,
		Activity:    f.activity,
		Sessions:    f.sessions,
		Notifier:    f.mail,
		FrontendURL: "https://clouddrive.store/",
		Logger:      zap.NewNop(),
	})
	return f
}

func (f *serviceFixture) register(t *testing.T, email string) RegisterResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{
		Email: email, Password: "password123", Name: "Test User", Phone: "+491234567890",
	})
	require.NoError(t, err)
	return res
}

func (f *serviceFixture) verifiedUser(t *testing.T, email string) RegisterResult {
	t.Helper()
	res := f.register(t, email)
	_, _, err := f.svc.VerifyEmail(context.Background(), email, f.mail.lastEmailCode())
	require.NoError(t, err)
	return res
}

func TestRegister(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	res := f.register(t, " New@Example.com")
	assert.Equal(t, "new@example.com", res.Email)

	u, err := f.users.GetByID(ctx, res.UserID)
	require.NoError(t, err)
	assert.False(t, u.EmailConfirmed())

	p, err := f.profiles.Get(ctx, res.UserID)
	require.NoError(t, err)
	assert.Equal(t, "Test User", p.Name)
	require.NotNil(t, p.PhoneNumber)
	assert.Equal(t, "+491234567890", *p.PhoneNumber)
	assert.False(t, p.EmailVerified)

	require.Equal(t, 1, f.mail.emailCount())
	msg, _ := f.mail.lastEmail()
	assert.Equal(t, "new@example.com", msg.To)
	assert.Equal(t, "Verify Your Email - CloudDrive", msg.Subject)
	assert.Regexp(t, sixDigits, f.mail.lastEmailCode())

	recs := f.otps.all()
	require.Len(t, recs, 1)
	assert.Equal(t, model.PurposeEmailVerification, recs[0].Purpose)
	assert.Equal(t, []string{"user.register"}, f.activity.actions())
}

func TestRegister_validation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cases := []struct {
		in  RegisterInput
		msg string
	}{
		{RegisterInput{Email: "a@b.com", Password: "password123"}, "Email, password, and name are required"},
		{RegisterInput{Email: "not-an-email", Password: "password123", Name: "x"}, "Invalid email format"},
		{RegisterInput{Email: "a@b.com", Password: "short", Name: "x"}, "Password must be at least 8 characters"},
	}
	for _, tc := range cases {
		_, err := f.svc.Register(ctx, tc.in)
		assert.ErrorIs(t, err, ErrValidation)
		assert.EqualError(t, err, tc.msg)
	}
	assert.Equal(t, 0, f.mail.emailCount())
}

func TestRegister_duplicateEmail(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "dup@example.com")

	_, err := f.svc.Register(context.Background(), RegisterInput{Email: "DUP@example.com", Password: "password123", Name: "x"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestVerifyEmail(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	res := f.register(t, "v@example.com")

	token, acc, err := f.svc.VerifyEmail(ctx, "V@example.com ", f.mail.lastEmailCode())
	require.NoError(t, err)
	assert.Equal(t, res.UserID, acc.User.ID)
	assert.True(t, acc.Profile.EmailVerified)
	assert.True(t, acc.User.EmailConfirmed())

	claims, err := f.sessions.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, res.UserID, claims.UserID)
	assert.Equal(t, "v@example.com", claims.Email)
	assert.Contains(t, f.activity.actions(), "user.verify_email")
}

// Registration followed by an immediate resend invalidates the first code.
func TestResendEmailOTP_invalidatesPreviousCode(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "r@example.com")
	oldCode := f.mail.lastEmailCode()

	require.NoError(t, f.svc.ResendEmailOTP(ctx, "r@example.com"))
	newCode := f.mail.lastEmailCode()
	for newCode == oldCode {
		require.NoError(t, f.svc.ResendEmailOTP(ctx, "r@example.com"))
		newCode = f.mail.lastEmailCode()
	}
	assert.Len(t, f.otps.all(), 1)

	_, _, err := f.svc.VerifyEmail(ctx, "r@example.com", oldCode)
	assert.Error(t, err)

	_, _, err = f.svc.VerifyEmail(ctx, "r@example.com", newCode)
	assert.NoError(t, err)
}

func TestResendEmailOTP_errors(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.ResendEmailOTP(ctx, ""), ErrValidation)
	assert.ErrorIs(t, f.svc.ResendEmailOTP(ctx, "ghost@example.com"), ErrUserNotFound)

	f.verifiedUser(t, "done@example.com")
	assert.ErrorIs(t, f.svc.ResendEmailOTP(ctx, "done@example.com"), ErrEmailAlreadyVerified)
}

func TestLogin_unverifiedRequiresVerification(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "u@example.com")
	firstCode := f.mail.lastEmailCode()
	sentBefore := f.mail.emailCount()

	res, err := f.svc.Login(ctx, "u@example.com", "password123")
	require.NoError(t, err)
	assert.True(t, res.RequiresVerification)
	assert.Equal(t, "u@example.com", res.Email)
	assert.Empty(t, res.Token)

	assert.Equal(t, sentBefore+1, f.mail.emailCount(), "login must issue a fresh code")
	assert.Len(t, f.otps.all(), 1)
	if newCode := f.mail.lastEmailCode(); newCode != firstCode {
		_, _, err = f.svc.VerifyEmail(ctx, "u@example.com", firstCode)
		assert.Error(t, err)
	}
	assert.NotContains(t, f.activity.actions(), "user.login")
}

func TestLogin_unverifiedThrottledStillRequiresVerification(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "u@example.com")
	code := f.mail.lastEmailCode()
	sentBefore := f.mail.emailCount()

	core, logs := observer.New(zapcore.WarnLevel)
	f.svc.logger = zap.New(core)
	throttle := &fakeThrottle{allowed: false}
	f.svc.ledger.throttle = throttle

	res, err := f.svc.Login(ctx, "u@example.com", "password123")
	require.NoError(t, err)
	assert.True(t, res.RequiresVerification)
	assert.Equal(t, "u@example.com", res.Email)
	assert.Empty(t, res.Token)
	assert.Equal(t, []string{"email_verification:u@example.com"}, throttle.keys)

	assert.Equal(t, sentBefore, f.mail.emailCount(), "throttled login sends nothing")
	assert.Equal(t, 1, logs.FilterMessageSnippet("throttled").Len())

	_, _, err = f.svc.VerifyEmail(ctx, "u@example.com", code)
	assert.NoError(t, err, "the earlier code is still usable")
}

func TestLogin_verified(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reg := f.verifiedUser(t, "ok@example.com")

	res, err := f.svc.Login(ctx, "OK@example.com", "password123")
	require.NoError(t, err)
	assert.False(t, res.RequiresVerification)
	assert.Equal(t, reg.UserID, res.Account.User.ID)
	assert.Equal(t, "Test User", res.Account.Profile.Name)

	claims, err := f.sessions.VerifyToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.UserID, claims.UserID)
	assert.Contains(t, f.activity.actions(), "user.login")
}

func TestLogin_badCredentials(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.verifiedUser(t, "ok@example.com")

	_, err := f.svc.Login(ctx, "ok@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLogin_dispatchFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.register(t, "u@example.com")
	f.mail.failWith(errSendFailed)

	_, err := f.svc.Login(context.Background(), "u@example.com", "password123")
	assert.ErrorIs(t, err, ErrDispatch)
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reg := f.register(t, "reset@example.com")

	require.NoError(t, f.svc.ForgotPassword(ctx, " Reset@Example.com"))
	msg, _ := f.mail.lastEmail()
	assert.Equal(t, "Reset Your Password - CloudDrive", msg.Subject)
	assert.Contains(t, msg.Body, "https://clouddrive.store/reset-password?token=")
	token := f.mail.lastResetToken()
	require.Len(t, token, 64)

	require.NoError(t, f.svc.ResetPassword(ctx, token, "new-password"))

	_, err := f.svc.Login(ctx, "reset@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	res, err := f.svc.Login(ctx, "reset@example.com", "new-password")
	require.NoError(t, err)
	assert.False(t, res.RequiresVerification, "reset confirms the e-mail")
	assert.Equal(t, reg.UserID, res.Account.User.ID)

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, token, "another-password"), ErrAlreadyUsed)
	assert.Contains(t, f.activity.actions(), "user.password_reset")
}

func TestForgotPassword_unknownEmailSucceedsSilently(t *testing.T) {
	f := newServiceFixture(t)
	assert.NoError(t, f.svc.ForgotPassword(context.Background(), "ghost@example.com"))
	assert.Equal(t, 0, f.mail.emailCount())
	assert.ErrorIs(t, f.svc.ForgotPassword(context.Background(), " "), ErrValidation)
}

func TestResetPassword_validation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "", "password123"), ErrValidation)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "abc", "short"), ErrValidation)
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "abc", "password123"), ErrNotFound)
}

func TestResetPassword_expired(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "late@example.com")
	require.NoError(t, f.svc.ForgotPassword(ctx, "late@example.com"))

	f.clock.Set(f.clock.Now().Add(61 * time.Minute))
	assert.ErrorIs(t, f.svc.ResetPassword(ctx, f.mail.lastResetToken(), "password456"), ErrExpired)
}

func TestPhoneVerification(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reg := f.verifiedUser(t, "phone@example.com")

	require.NoError(t, f.svc.SendPhoneOTP(ctx, reg.UserID))
	require.Len(t, f.mail.sms, 1)
	assert.Equal(t, "+491234567890", f.mail.sms[0].To)
	code := f.mail.lastSMSCode()
	require.Regexp(t, sixDigits, code)

	assert.ErrorIs(t, f.svc.VerifyPhone(ctx, reg.UserID, otherCode(code)), ErrMismatch)
	require.NoError(t, f.svc.VerifyPhone(ctx, reg.UserID, code))

	acc, err := f.svc.Me(ctx, reg.UserID)
	require.NoError(t, err)
	assert.True(t, acc.Profile.PhoneVerified)
	assert.Contains(t, f.activity.actions(), "user.verify_phone")
}

func TestSendPhoneOTP_noPhone(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	res, err := f.svc.Register(ctx, RegisterInput{Email: "nophone@example.com", Password: "password123", Name: "x"})
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.SendPhoneOTP(ctx, res.UserID), ErrPhoneMissing)
}

func TestMe_unknownUser(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Me(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestFixUnverifiedUsers(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@example.com")
	f.register(t, "b@example.com")
	f.verifiedUser(t, "c@example.com")

	// An account without a profile gets one.
	orphan, err := f.users.Create(ctx, "orphan@example.com", "x", false)
	require.NoError(t, err)

	fixed, err := f.svc.FixUnverifiedUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, fixed)

	acc, err := f.svc.Me(ctx, a.UserID)
	require.NoError(t, err)
	assert.True(t, acc.Profile.EmailVerified)
	assert.True(t, acc.User.EmailConfirmed())

	p, err := f.profiles.Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, "orphan", p.Name)
	assert.True(t, p.EmailVerified)
}

func TestListActivity(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	reg := f.verifiedUser(t, "act@example.com")
	_, err := f.svc.Login(ctx, "act@example.com", "password123")
	require.NoError(t, err)

	entries, err := f.svc.ListActivity(ctx, reg.UserID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "user.login", entries[0].Action)
	assert.Equal(t, "user.register", entries[2].Action)
}

func TestActivityFailureIsNotReturned(t *testing.T) {
	f := newServiceFixture(t)
	f.activity.err = errors.New("db down")
	f.register(t, "quiet@example.com")
}
