// Package config loads process configuration from the environment, after
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Stripe struct {
	SecretKey      string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET"`
	PremiumPriceID string `env:"STRIPE_PREMIUM_PRICE_ID"`
}

type Identity struct {
	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`
	HMACSecret        string `env:"IDENTITY_HMAC_SECRET"`
	Issuer            string `env:"IDENTITY_ISSUER"`
	Audience          string `env:"IDENTITY_AUDIENCE"`
}

type WorkerSource struct {
	Dir         string `env:"WORKER_SOURCE_DIR" envDefault:"public"`
	S3Bucket    string `env:"WORKER_S3_BUCKET"`
	S3Prefix    string `env:"WORKER_S3_PREFIX"`
	S3Endpoint  string `env:"WORKER_S3_ENDPOINT"`
	S3Region    string `env:"WORKER_S3_REGION" envDefault:"us-east-1"`
	S3AccessKey string `env:"WORKER_S3_ACCESS_KEY"`
	S3SecretKey string `env:"WORKER_S3_SECRET_KEY"`
}

type Push struct {
	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `env:"VAPID_SUBJECT" envDefault:"mailto:support@flacronsport.com"`
}

type Email struct {
	PostmarkToken string `env:"POSTMARK_TOKEN"`
	FromEmail     string `env:"FROM_EMAIL"`
}

// Config is the full configuration of cmd/daily.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	BaseURL   string `env:"BASE_URL"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	DBPath    string `env:"DB_PATH" envDefault:"daily.db"`
	StaticDir string `env:"STATIC_DIR" envDefault:"static"`

	// PaymentWindow bounds the one-off payment fallback. Zero disables it.
	PaymentWindow time.Duration `env:"ENTITLEMENT_PAYMENT_WINDOW" envDefault:"744h"`
	// CheckLimit is the per-IP budget of entitlement checks per minute.
	CheckLimit int `env:"ENTITLEMENT_CHECK_LIMIT" envDefault:"60"`

	Stripe   Stripe
	Identity Identity
	Worker   WorkerSource
	Push     Push
	Email    Email
}

// Load reads .env from the working directory when present, then parses the
// environment and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the configuration from the environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	firebase := c.Identity.FirebaseProjectID != ""
	hmac := c.Identity.HMACSecret != ""
	switch {
	case firebase && hmac:
		return errors.New("config: set only one of FIREBASE_PROJECT_ID and IDENTITY_HMAC_SECRET")
	case !firebase && !hmac:
		return errors.New("config: one of FIREBASE_PROJECT_ID or IDENTITY_HMAC_SECRET is required")
	case hmac && (c.Identity.Issuer == "" || c.Identity.Audience == ""):
		return errors.New("config: IDENTITY_ISSUER and IDENTITY_AUDIENCE are required with IDENTITY_HMAC_SECRET")
	}
	if c.PaymentWindow < 0 {
		return errors.New("config: ENTITLEMENT_PAYMENT_WINDOW must not be negative")
	}
	if c.CheckLimit <= 0 {
		return errors.New("config: ENTITLEMENT_CHECK_LIMIT must be positive")
	}
	return nil
}

// PushEnabled reports whether VAPID keys are configured.
func (c *Config) PushEnabled() bool {
	return c.Push.VAPIDPublicKey != "" && c.Push.VAPIDPrivateKey != ""
}

// StripeEnabled reports whether the payment provider is configured.
func (c *Config) StripeEnabled() bool {
	return c.Stripe.SecretKey != ""
}
