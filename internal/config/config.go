package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	SiteURL string
	AppEnv  string

	DatabaseURL string

	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string

	SupabaseURL            string
	SupabaseAnonKey        string
	SupabaseServiceRoleKey string
	SupabaseJWTSecret      string

	EmailService string // "smtp" or "log"
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	EmailFrom    string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Bucket       string
	DownloadURLTTL time.Duration

	LicenseSweepSchedule string
	SentryDSN            string
	AllowedOrigins       []string

	RateLimitRPS   float64
	RateLimitBurst int
}

// StorageEnabled reports whether downloads can be served.
func (c *Config) StorageEnabled() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// New loads .env when present and reads the environment. Every missing or
// malformed variable is reported in the returned error.
func New() (*Config, error) {
	_ = godotenv.Load()

	var errs *multierror.Error
	required := func(name string) string {
		v := os.Getenv(name)
		if v == "" {
			errs = multierror.Append(errs, fmt.Errorf("%s environment variable is required", name))
		}
		return v
	}

	cfg := &Config{
		Port:    getenv("PORT", "8080"),
		SiteURL: strings.TrimRight(getenv("SITE_URL", "http://localhost:3000"), "/"),
		AppEnv:  getenv("APP_ENV", "development"),

		DatabaseURL: required("DATABASE_URL"),

		StripeSecretKey:     required("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: required("STRIPE_WEBHOOK_SECRET"),
		Currency:            strings.ToLower(getenv("CURRENCY", "eur")),

		SupabaseURL:            strings.TrimRight(required("SUPABASE_URL"), "/"),
		SupabaseAnonKey:        required("SUPABASE_ANON_KEY"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseJWTSecret:      os.Getenv("SUPABASE_JWT_SECRET"),

		SMTPHost:     os.Getenv("SMTP_HOST"),
		SMTPUsername: os.Getenv("SMTP_USERNAME"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		EmailFrom:    getenv("EMAIL_FROM", "onboarding@apps4eu.eu"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    getenv("S3_REGION", "auto"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Bucket:    getenv("S3_BUCKET_NAME", "products"),

		LicenseSweepSchedule: getenv("LICENSE_SWEEP_SCHEDULE", "@hourly"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		AllowedOrigins:       splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	emailService := os.Getenv("EMAIL_SERVICE")
	if emailService == "" {
		emailService = "log"
		if cfg.SMTPHost != "" {
			emailService = "smtp"
		}
	}
	cfg.EmailService = emailService

	var err error
	if cfg.SMTPPort, err = strconv.Atoi(getenv("SMTP_PORT", "587")); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("SMTP_PORT must be a number: %w", err))
	}
	if cfg.DownloadURLTTL, err = time.ParseDuration(getenv("DOWNLOAD_URL_TTL", "15m")); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("DOWNLOAD_URL_TTL must be a duration: %w", err))
	}
	if cfg.RateLimitRPS, err = strconv.ParseFloat(getenv("RATE_LIMIT_RPS", "5"), 64); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("RATE_LIMIT_RPS must be a number: %w", err))
	}
	if cfg.RateLimitBurst, err = strconv.Atoi(getenv("RATE_LIMIT_BURST", "10")); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("RATE_LIMIT_BURST must be a number: %w", err))
	}

	switch emailService {
	case "smtp":
		if cfg.SMTPHost == "" || cfg.SMTPUsername == "" || cfg.SMTPPassword == "" {
			errs = multierror.Append(errs, fmt.Errorf("SMTP_HOST, SMTP_USERNAME, and SMTP_PASSWORD environment variables are required when using SMTP"))
		}
	case "log":
	default:
		errs = multierror.Append(errs, fmt.Errorf("EMAIL_SERVICE must be smtp or log, got %q", emailService))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
