// Package notify delivers one-time codes and reset links by e-mail and SMS.
package notify

import (
	"context"
	"errors"
)

// Dispatcher sends notifications. Both calls report success or failure; neither guarantees delivery.
type Dispatcher interface {
	SendEmail(ctx context.Context, to, subject, html string) error
	SendSMS(ctx context.Context, to, body string) error
}

// EmailSender is the e-mail half of a Dispatcher.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html string) error
}

// SMSSender is the SMS half of a Dispatcher.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ErrChannelDisabled is returned when a channel has no configured sender.
var ErrChannelDisabled = errors.New("notification channel not configured")

// Composite combines independent e-mail and SMS senders. A nil sender disables its channel.
type Composite struct {
	Email EmailSender
	SMS   SMSSender
}

// SendEmail delivers through the e-mail channel, or returns ErrChannelDisabled when none is set.
func (c Composite) SendEmail(ctx context.Context, to, subject, html string) error {
	if c.Email == nil {
		return ErrChannelDisabled
	}
	return c.Email.SendEmail(ctx, to, subject, html)
}

// SendSMS delivers through the SMS channel, or returns ErrChannelDisabled when none is set.
func (c Composite) SendSMS(ctx context.Context, to, body string) error {
	if c.SMS == nil {
		return ErrChannelDisabled
	}
	return c.SMS.SendSMS(ctx, to, body)
}
