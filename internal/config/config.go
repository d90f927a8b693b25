// Package config loads and validates application configuration from the environment using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	NotifyDriverSMTP = "smtp"
	NotifyDriverLog  = "log"
)

// Config holds the application configuration
type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"APP_ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	JWTSecret  string        `mapstructure:"JWT_SECRET"`
	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`

	// OTPSalt is mixed into the stored OTP hash; rotating it invalidates all outstanding codes.
	OTPSalt          string        `mapstructure:"OTP_SALT"`
	OTPTTL           time.Duration `mapstructure:"OTP_TTL"`
	ResetTokenTTL    time.Duration `mapstructure:"RESET_TOKEN_TTL"`
	OTPMaxRequests   int           `mapstructure:"OTP_MAX_REQUESTS"`
	OTPRequestWindow time.Duration `mapstructure:"OTP_REQUEST_WINDOW"`
	BcryptCost       int           `mapstructure:"BCRYPT_COST"`

	FrontendURL        string `mapstructure:"FRONTEND_URL"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	NotifyDriver string `mapstructure:"NOTIFY_DRIVER"`
	EmailFrom    string `mapstructure:"EMAIL_FROM"`
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUsername string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`

	SMSAccountSID string `mapstructure:"SMS_ACCOUNT_SID"`
	SMSAuthToken  string `mapstructure:"SMS_AUTH_TOKEN"`
	SMSFrom       string `mapstructure:"SMS_FROM"`
	SMSBaseURL    string `mapstructure:"SMS_BASE_URL"`

	// RedisAddr enables the shared OTP request throttle; empty keeps it in-process.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	CleanupCron      string        `mapstructure:"CLEANUP_CRON"`
	CleanupRetention time.Duration `mapstructure:"CLEANUP_RETENTION"`
	CleanupTimeout   time.Duration `mapstructure:"CLEANUP_TIMEOUT"`
}

// Load builds Config from environment variables (a .env file is loaded by the caller).
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "4000")
	v.SetDefault("APP_ENV", EnvProduction)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("SESSION_TTL", "168h")
	v.SetDefault("OTP_SALT", "")
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("OTP_MAX_REQUESTS", 5)
	v.SetDefault("OTP_REQUEST_WINDOW", "10m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "https://clouddrive.store,https://www.clouddrive.store,http://localhost:3000,http://localhost:5173")
	v.SetDefault("NOTIFY_DRIVER", NotifyDriverSMTP)
	v.SetDefault("EMAIL_FROM", "CloudDrive <no-reply@clouddrive.store>")
	v.SetDefault("SMTP_HOST", "smtp.resend.com")
	v.SetDefault("SMTP_PORT", 465)
	v.SetDefault("SMTP_USERNAME", "resend")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMS_ACCOUNT_SID", "")
	v.SetDefault("SMS_AUTH_TOKEN", "")
	v.SetDefault("SMS_FROM", "")
	v.SetDefault("SMS_BASE_URL", "https://api.twilio.com")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("CLEANUP_CRON", "*/15 * * * *")
	v.SetDefault("CLEANUP_RETENTION", "24h")
	v.SetDefault("CLEANUP_TIMEOUT", "1m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("config: DATABASE_URL environment variable is required")
	}
	if _, err := url.Parse(c.DatabaseURL); err != nil {
		return fmt.Errorf("config: invalid DATABASE_URL: %w", err)
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET environment variable is required")
	}
	if c.OTPSalt == "" {
		return errors.New("config: OTP_SALT environment variable is required")
	}
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("config: APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	switch c.NotifyDriver {
	case NotifyDriverSMTP:
	case NotifyDriverLog:
		if c.IsProduction() {
			return errors.New("config: NOTIFY_DRIVER=log must not be used when APP_ENV=production")
		}
	default:
		return fmt.Errorf("config: unknown NOTIFY_DRIVER %q", c.NotifyDriver)
	}
	if c.OTPTTL <= 0 || c.ResetTokenTTL <= 0 || c.SessionTTL <= 0 {
		return errors.New("config: OTP_TTL, RESET_TOKEN_TTL and SESSION_TTL must be positive")
	}
	if c.OTPMaxRequests <= 0 || c.OTPRequestWindow <= 0 {
		return errors.New("config: OTP_MAX_REQUESTS and OTP_REQUEST_WINDOW must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	return nil
}

// IsDevelopment reports whether development-only behavior (relaxed limits, debug endpoints) is enabled.
func (c *Config) IsDevelopment() bool { return c.Env == EnvDevelopment }

func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

// AllowedOrigins returns the CORS allow-list, including FRONTEND_URL.
func (c *Config) AllowedOrigins() []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range append(strings.Split(c.CORSAllowedOrigins, ","), c.FrontendURL) {
		s := strings.TrimRight(strings.TrimSpace(p), "/")
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
