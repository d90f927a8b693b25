package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/clouddrive/server/internal/model"
	"github.com/clouddrive/server/internal/repo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type fakeOtpRepo struct {
	mu      sync.Mutex
	seq     int64
	records []model.OTPRecord
}

func (r *fakeOtpRepo) Replace(_ context.Context, userID uuid.UUID, email string, purpose model.OTPPurpose, codeHashHex string, expiresAt time.Time) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.records[:0]
	for _, rec := range r.records {
		if rec.Email == email && rec.Purpose == purpose {
			continue
		}
		kept = append(kept, rec)
	}
	r.records = kept

	hash, err := hex.DecodeString(codeHashHex)
	if err != nil {
		return uuid.Nil, err
	}
	r.seq++
	rec := model.OTPRecord{
		ID:        uuid.New(),
		UserID:    userID,
		Email:     email,
		CodeHash:  hash,
		Purpose:   purpose,
		ExpiresAt: expiresAt,
		CreatedAt: time.Unix(0, r.seq),
	}
	r.records = append(r.records, rec)
	return rec.ID, nil
}

func (r *fakeOtpRepo) LatestUnconsumed(_ context.Context, email string, purpose model.OTPPurpose) (model.OTPRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest *model.OTPRecord
	for i := range r.records {
		rec := &r.records[i]
		if rec.Email != email || rec.Purpose != purpose || rec.Consumed {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return model.OTPRecord{}, fmt.Errorf("otp record %w", repo.ErrNotFound)
	}
	return *latest, nil
}

func (r *fakeOtpRepo) MarkConsumed(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ID == id {
			if r.records[i].Consumed {
				return false, nil
			}
			r.records[i].Consumed = true
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeOtpRepo) IncrementAttempt(_ context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ID == id {
			r.records[i].Attempts++
			return r.records[i].Attempts, nil
		}
	}
	return 0, fmt.Errorf("otp record %w", repo.ErrNotFound)
}

func (r *fakeOtpRepo) DeleteStale(context.Context, time.Time) (int64, error) { return 0, nil }

func (r *fakeOtpRepo) all() []model.OTPRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.OTPRecord(nil), r.records...)
}

// insertRaw adds a record without deleting predecessors.
func (r *fakeOtpRepo) insertRaw(rec model.OTPRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	rec.CreatedAt = time.Unix(0, r.seq)
	r.records = append(r.records, rec)
}

type fakeResetRepo struct {
	mu     sync.Mutex
	tokens map[string]model.ResetToken
}

func newFakeResetRepo() *fakeResetRepo {
	return &fakeResetRepo{tokens: map[string]model.ResetToken{}}
}

func (r *fakeResetRepo) Create(_ context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[tokenHash]; ok {
		return uuid.Nil, fmt.Errorf("reset token %w", repo.ErrDuplicate)
	}
	t := model.ResetToken{ID: uuid.New(), UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	r.tokens[tokenHash] = t
	return t.ID, nil
}

func (r *fakeResetRepo) FindUnusedByHash(_ context.Context, tokenHash string) (model.ResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenHash]
	if !ok || t.Used {
		return model.ResetToken{}, fmt.Errorf("reset token %w", repo.ErrNotFound)
	}
	return t, nil
}

func (r *fakeResetRepo) FindByHash(_ context.Context, tokenHash string) (model.ResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenHash]
	if !ok {
		return model.ResetToken{}, fmt.Errorf("reset token %w", repo.ErrNotFound)
	}
	return t, nil
}

func (r *fakeResetRepo) MarkUsed(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, t := range r.tokens {
		if t.ID == id {
			if t.Used {
				return false, nil
			}
			t.Used = true
			r.tokens[h] = t
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeResetRepo) DeleteStale(context.Context, time.Time) (int64, error) { return 0, nil }

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[uuid.UUID]model.User{}}
}

func (r *fakeUserRepo) Create(_ context.Context, email, passwordHash string, confirmed bool) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return model.User{}, fmt.Errorf("user %w", repo.ErrDuplicate)
		}
	}
	u := model.User{ID: uuid.New(), Email: email, PasswordHash: passwordHash, CreatedAt: time.Now()}
	if confirmed {
		now := time.Now()
		u.EmailConfirmedAt = &now
	}
	r.users[u.ID] = u
	return u, nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %w", repo.ErrNotFound)
	}
	return u, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return model.User{}, fmt.Errorf("user %w", repo.ErrNotFound)
}

func (r *fakeUserRepo) SetEmailConfirmed(_ context.Context, id uuid.UUID, confirmed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user %w", repo.ErrNotFound)
	}
	if !confirmed {
		u.EmailConfirmedAt = nil
	} else if u.EmailConfirmedAt == nil {
		now := time.Now()
		u.EmailConfirmedAt = &now
	}
	r.users[id] = u
	return nil
}

func (r *fakeUserRepo) SetPasswordHash(_ context.Context, id uuid.UUID, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user %w", repo.ErrNotFound)
	}
	u.PasswordHash = passwordHash
	r.users[id] = u
	return nil
}

func (r *fakeUserRepo) ListUnconfirmed(context.Context) ([]model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.User
	for _, u := range r.users {
		if u.EmailConfirmedAt == nil {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeProfileRepo struct {
	mu       sync.Mutex
	profiles map[uuid.UUID]model.Profile
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{profiles: map[uuid.UUID]model.Profile{}}
}

func (r *fakeProfileRepo) Upsert(_ context.Context, p model.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
	return nil
}

func (r *fakeProfileRepo) Get(_ context.Context, id uuid.UUID) (model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return model.Profile{}, fmt.Errorf("profile %w", repo.ErrNotFound)
	}
	return p, nil
}

func (r *fakeProfileRepo) SetEmailVerified(_ context.Context, id uuid.UUID, verified bool) error {
	return r.update(id, func(p *model.Profile) { p.EmailVerified = verified })
}

func (r *fakeProfileRepo) SetPhoneVerified(_ context.Context, id uuid.UUID, verified bool) error {
	return r.update(id, func(p *model.Profile) { p.PhoneVerified = verified })
}

func (r *fakeProfileRepo) update(id uuid.UUID, fn func(*model.Profile)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[id]
	if !ok {
		return fmt.Errorf("profile %w", repo.ErrNotFound)
	}
	fn(&p)
	r.profiles[id] = p
	return nil
}

type fakeActivityRepo struct {
	mu      sync.Mutex
	entries []model.Activity
	err     error
}

func (r *fakeActivityRepo) Create(_ context.Context, a model.Activity) (model.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return model.Activity{}, r.err
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	r.entries = append(r.entries, a)
	return a, nil
}

func (r *fakeActivityRepo) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]model.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []model.Activity{}
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].UserID == userID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

func (r *fakeActivityRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.entries {
		out = append(out, a.Action)
	}
	return out
}

type sentMessage struct {
	To      string
	Subject string
	Body    string
}

type fakeDispatcher struct {
	mu     sync.Mutex
	emails []sentMessage
	sms    []sentMessage
	err    error
}

func (d *fakeDispatcher) SendEmail(_ context.Context, to, subject, html string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.emails = append(d.emails, sentMessage{To: to, Subject: subject, Body: html})
	return nil
}

func (d *fakeDispatcher) SendSMS(_ context.Context, to, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sms = append(d.sms, sentMessage{To: to, Body: body})
	return nil
}

func (d *fakeDispatcher) failWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

var (
	emailCodePattern = regexp.MustCompile(`>\s*(\d{6})\s*<`)
	smsCodePattern   = regexp.MustCompile(`code is: (\d{6})`)
	resetLinkPattern = regexp.MustCompile(`token=([0-9a-f]{64})`)
)

func (d *fakeDispatcher) lastEmail() (sentMessage, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.emails) == 0 {
		return sentMessage{}, false
	}
	return d.emails[len(d.emails)-1], true
}

func (d *fakeDispatcher) emailCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.emails)
}

func (d *fakeDispatcher) lastEmailCode() string {
	m, ok := d.lastEmail()
	if !ok {
		return ""
	}
	if match := emailCodePattern.FindStringSubmatch(m.Body); match != nil {
		return match[1]
	}
	return ""
}

func (d *fakeDispatcher) lastResetToken() string {
	m, ok := d.lastEmail()
	if !ok {
		return ""
	}
	if match := resetLinkPattern.FindStringSubmatch(m.Body); match != nil {
		return match[1]
	}
	return ""
}

func (d *fakeDispatcher) lastSMSCode() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sms) == 0 {
		return ""
	}
	if match := smsCodePattern.FindStringSubmatch(d.sms[len(d.sms)-1].Body); match != nil {
		return match[1]
	}
	return ""
}

type fakeThrottle struct {
	allowed bool
	err     error
	keys    []string
}

func (t *fakeThrottle) Allow(_ context.Context, key string) (bool, error) {
	t.keys = append(t.keys, key)
	return t.allowed, t.err
}

var errSendFailed = errors.New("smtp: connection refused")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestLedger(otps *fakeOtpRepo, resets *fakeResetRepo, throttle Throttle, c *clock) *Ledger {
	l := NewLedger(otps, resets, throttle, LedgerConfig{Salt: "test-salt"}, zap.NewNop())
	if c != nil {
		l.now = c.Now
	}
	return l
}
