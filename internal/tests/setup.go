// Package tests holds end-to-end tests that run the full HTTP stack against PostgreSQL.
// They skip unless DATABASE_URL is set.
package tests

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"

	"github.com/clouddrive/server/internal/db"
)

// RunMigrations applies the embedded migrations.
func RunMigrations(database *sql.DB) error {
	return db.Migrate(database)
}

// TruncateAuthTables truncates auth-related tables for a clean test state.
func TruncateAuthTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx,
		"TRUNCATE TABLE activity_logs, password_reset_tokens, otp_verifications, profiles, users RESTART IDENTITY CASCADE")
	if err != nil {
		return fmt.Errorf("truncate auth tables: %w", err)
	}
	return nil
}

// sentMessage is one notification captured by Outbox.
type sentMessage struct {
	To      string
	Subject string
	Body    string
}

// Outbox is a notify.Dispatcher that records messages instead of sending them.
type Outbox struct {
	mu     sync.Mutex
	emails []sentMessage
	sms    []sentMessage
}

func (o *Outbox) SendEmail(_ context.Context, to, subject, html string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emails = append(o.emails, sentMessage{To: to, Subject: subject, Body: html})
	return nil
}

func (o *Outbox) SendSMS(_ context.Context, to, body string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sms = append(o.sms, sentMessage{To: to, Body: body})
	return nil
}

var (
	emailCodePattern = regexp.MustCompile(`>\s*(\d{6})\s*<`)
	smsCodePattern   = regexp.MustCompile(`code is: (\d{6})`)
	tokenPattern     = regexp.MustCompile(`token=([0-9a-f]{64})`)
)

// LastEmailCode returns the most recent six-digit code e-mailed to addr.
func (o *Outbox) LastEmailCode(addr string) string {
	return o.lastMatch(o.emailsTo(addr), emailCodePattern)
}

// LastResetToken returns the most recent reset token e-mailed to addr.
func (o *Outbox) LastResetToken(addr string) string {
	return o.lastMatch(o.emailsTo(addr), tokenPattern)
}

// LastSMSCode returns the most recent six-digit code texted to phone.
func (o *Outbox) LastSMSCode(phone string) string {
	o.mu.Lock()
	var msgs []sentMessage
	for _, m := range o.sms {
		if m.To == phone {
			msgs = append(msgs, m)
		}
	}
	o.mu.Unlock()
	return o.lastMatch(msgs, smsCodePattern)
}

// Reset drops every captured message.
func (o *Outbox) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emails, o.sms = nil, nil
}

func (o *Outbox) EmailCount(addr string) int {
	return len(o.emailsTo(addr))
}

func (o *Outbox) emailsTo(addr string) []sentMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []sentMessage
	for _, m := range o.emails {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}

func (o *Outbox) lastMatch(msgs []sentMessage, re *regexp.Regexp) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if m := re.FindStringSubmatch(msgs[i].Body); m != nil {
			return m[1]
		}
	}
	return ""
}
