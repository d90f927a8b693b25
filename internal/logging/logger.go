// Package logging builds the process logger and masks personal data before it reaches log lines.
package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New returns a console logger in development and a JSON logger otherwise.
func New(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// MaskEmail keeps the first character of the local part and the domain (e.g. a***@example.com).
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "****"
	}
	return email[:1] + "***" + email[at:]
}

// MaskPhone masks a phone number for logging (e.g., +49******89)
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}

// Email is a zap field carrying a masked address.
func Email(email string) zap.Field {
	return zap.String("email", MaskEmail(email))
}

// Phone is a zap field carrying a masked phone number.
func Phone(phone string) zap.Field {
	return zap.String("phone", MaskPhone(phone))
}
