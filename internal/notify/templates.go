package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/clouddrive/server/internal/model"
)

type otpCopy struct {
	subject string
	title   string
}

var otpCopies = map[model.OTPPurpose]otpCopy{
	model.PurposeEmailVerification: {"Verify Your Email - CloudDrive", "Email Verification"},
	model.PurposeLogin:             {"Your Login Code - CloudDrive", "Login Verification"},
	model.PurposePasswordReset:     {"Reset Your Password - CloudDrive", "Password Reset"},
	model.PurposeTwoFactor:         {"Your 2FA Code - CloudDrive", "Two-Factor Authentication"},
}

const layout = `<!DOCTYPE html>
<html>
<body style="margin:0;padding:0;font-family:Arial,sans-serif;background:#f9fafb;">
  <div style="max-width:600px;margin:auto;padding:20px;background:white;border-radius:8px;">
    <h1 style="text-align:center;color:#2563eb;">CloudDrive</h1>
    {{template "content" .}}
    <p style="color:#6b7280;font-size:12px;">If you did not request this, you can ignore this email.</p>
  </div>
</body>
</html>`

var (
	otpEmailTmpl = template.Must(template.Must(template.New("otp").Parse(layout)).Parse(`{{define "content"}}
    <h2>{{.Title}}</h2>
    <p>Your verification code is:</p>
    <div style="font-size:32px;font-weight:bold;letter-spacing:6px;margin:20px 0;">{{.Code}}</div>
    <p>This code expires in <b>{{.Expiry}}</b>.</p>
{{end}}`))

	resetEmailTmpl = template.Must(template.Must(template.New("reset").Parse(layout)).Parse(`{{define "content"}}
    <h2>Reset Your Password</h2>
    <p>Click the button below to reset your password:</p>
    <p style="margin:20px 0;">
      <a href="{{.Link}}" style="background:#2563eb;color:white;padding:12px 20px;border-radius:6px;text-decoration:none;">Reset Password</a>
    </p>
    <p>This link expires in <b>{{.Expiry}}</b>.</p>
{{end}}`))
)

// OTPEmail renders the subject and HTML body carrying code for purpose.
func OTPEmail(purpose model.OTPPurpose, code string, ttl time.Duration) (subject, html string, err error) {
	c, ok := otpCopies[purpose]
	if !ok {
		c = otpCopies[model.PurposeEmailVerification]
	}
	var buf bytes.Buffer
	err = otpEmailTmpl.Execute(&buf, struct {
		Title, Code, Expiry string
	}{c.title, code, humanDuration(ttl)})
	if err != nil {
		return "", "", fmt.Errorf("render otp email: %w", err)
	}
	return c.subject, buf.String(), nil
}

// ResetEmail renders the password reset message for link.
func ResetEmail(link string, ttl time.Duration) (subject, html string, err error) {
	var buf bytes.Buffer
	err = resetEmailTmpl.Execute(&buf, struct {
		Link   string
		Expiry string
	}{link, humanDuration(ttl)})
	if err != nil {
		return "", "", fmt.Errorf("render reset email: %w", err)
	}
	return "Reset Your Password - CloudDrive", buf.String(), nil
}

// OTPSMS renders the SMS text carrying code.
func OTPSMS(code string, ttl time.Duration) string {
	return fmt.Sprintf("Your CloudDrive verification code is: %s. This code expires in %s.", code, humanDuration(ttl))
}

func humanDuration(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int64(d/time.Minute), "minute")
	default:
		return plural(int64(d/time.Second), "second")
	}
}
