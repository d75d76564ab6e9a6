package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("IDENTITY_HMAC_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("IDENTITY_ISSUER", "https://issuer.test")
	t.Setenv("IDENTITY_AUDIENCE", "daily")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.PaymentWindow != 31*24*time.Hour {
		t.Errorf("PaymentWindow = %v, want 31 days", cfg.PaymentWindow)
	}
	if cfg.Worker.Dir != "public" {
		t.Errorf("Worker.Dir = %q", cfg.Worker.Dir)
	}
	if cfg.PushEnabled() || cfg.StripeEnabled() {
		t.Error("optional integrations enabled without keys")
	}
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("FIREBASE_PROJECT_ID", "flacron-sports")
	t.Setenv("PORT", "9000")
	t.Setenv("BASE_URL", "https://flacronsport.com/")
	t.Setenv("ENTITLEMENT_PAYMENT_WINDOW", "0s")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_x")
	t.Setenv("WORKER_S3_BUCKET", "workers")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.BaseURL != "https://flacronsport.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.PaymentWindow != 0 {
		t.Errorf("PaymentWindow = %v, want 0", cfg.PaymentWindow)
	}
	if !cfg.StripeEnabled() {
		t.Error("expected stripe enabled")
	}
	if cfg.Worker.S3Bucket != "workers" {
		t.Errorf("S3Bucket = %q", cfg.Worker.S3Bucket)
	}
}

func TestValidateIdentity(t *testing.T) {
	cases := []struct {
		name string
		id   Identity
		want string
	}{
		{"none", Identity{}, "is required"},
		{"both", Identity{FirebaseProjectID: "p", HMACSecret: "s"}, "only one"},
		{"hmac without audience", Identity{HMACSecret: "s", Issuer: "i"}, "IDENTITY_AUDIENCE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Identity: tc.id, CheckLimit: 1}
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestParseBadDuration(t *testing.T) {
	t.Setenv("FIREBASE_PROJECT_ID", "p")
	t.Setenv("ENTITLEMENT_PAYMENT_WINDOW", "a month")
	if _, err := Parse(); err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Errorf("err = %v, want parse env error", err)
	}
}
