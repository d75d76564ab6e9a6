package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flacronsport/daily/internal/metrics"
)

// Sources record which provider record decided a resolution.
const (
	SourceNone         = "none"
	SourceSubscription = "subscription"
	SourcePayment      = "payment"
	SourceError        = "error"
)

// Subscription and payment states that grant access.
const (
	StatusActive    = "active"
	StatusTrialing  = "trialing"
	StatusSucceeded = "succeeded"
)

// DefaultPaymentWindow bounds how long a one-off payment grants access when
// no subscription is active.
const DefaultPaymentWindow = 31 * 24 * time.Hour

// Result is the outcome of one resolution. It is never cached.
type Result struct {
	Premium bool   `json:"isPremium"`
	Source  string `json:"-"`
}

// Payment is the most recent payment record of a customer.
type Payment struct {
	ID      string
	Status  string
	Created time.Time
}

// Provider is the read side of the payment provider the resolver needs.
type Provider interface {
	// FindCustomer looks up the customer whose metadata carries subject.
	FindCustomer(ctx context.Context, subject string) (customerID string, found bool, err error)
	// ListSubscriptionStatuses returns the status of every subscription of the customer.
	ListSubscriptionStatuses(ctx context.Context, customerID string) ([]string, error)
	// LatestPayment returns the most recent payment, or nil if there is none.
	LatestPayment(ctx context.Context, customerID string) (*Payment, error)
}

// NoProvider knows no customers, so every subject resolves to not premium.
type NoProvider struct{}

func (NoProvider) FindCustomer(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func (NoProvider) ListSubscriptionStatuses(context.Context, string) ([]string, error) {
	return nil, nil
}

func (NoProvider) LatestPayment(context.Context, string) (*Payment, error) {
	return nil, nil
}

// Config tunes the resolver.
type Config struct {
	// PaymentWindow bounds the payment fallback. Zero disables the bound.
	PaymentWindow time.Duration
	Now           func() time.Time
}

// Resolver derives entitlement from current provider state.
type Resolver struct {
	provider Provider
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewResolver creates a resolver over provider. m may be nil.
func NewResolver(provider Provider, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{provider: provider, cfg: cfg, metrics: m, logger: logger}
}

// Resolve reports whether subject is premium. Provider failures resolve to
// not premium; Resolve never returns an error and never panics.
func (r *Resolver) Resolve(ctx context.Context, subject string) (res Result) {
	if subject == "" {
		return Result{Source: SourceNone}
	}

	start := r.cfg.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("entitlement provider panic", "subject", subject, "panic", fmt.Sprint(p))
			res = Result{Source: SourceError}
		}
		r.metrics.ObserveResolution(res.Source, r.cfg.Now().Sub(start))
	}()

	res, err := r.resolve(ctx, subject)
	if err != nil {
		r.logger.Error("resolve entitlement", "subject", subject, "error", err)
		return Result{Source: SourceError}
	}
	r.logger.Debug("entitlement resolved", "subject", subject, "premium", res.Premium, "source", res.Source)
	return res
}

func (r *Resolver) resolve(ctx context.Context, subject string) (Result, error) {
	customerID, found, err := r.provider.FindCustomer(ctx, subject)
	if err != nil {
		return Result{}, fmt.Errorf("find customer: %w", err)
	}
	if !found {
		return Result{Source: SourceNone}, nil
	}

	statuses, err := r.provider.ListSubscriptionStatuses(ctx, customerID)
	if err != nil {
		return Result{}, fmt.Errorf("list subscriptions: %w", err)
	}
	for _, s := range statuses {
		if s == StatusActive || s == StatusTrialing {
			return Result{Premium: true, Source: SourceSubscription}, nil
		}
	}

	payment, err := r.provider.LatestPayment(ctx, customerID)
	if err != nil {
		return Result{}, fmt.Errorf("latest payment: %w", err)
	}
	if payment == nil || payment.Status != StatusSucceeded {
		return Result{Source: SourceNone}, nil
	}
	if r.cfg.PaymentWindow > 0 && r.cfg.Now().Sub(payment.Created) > r.cfg.PaymentWindow {
		return Result{Source: SourceNone}, nil
	}
	return Result{Premium: true, Source: SourcePayment}, nil
}

// Premium adapts Resolve to the checker shape used by the propagation
// context. It never returns an error.
func (r *Resolver) Premium(ctx context.Context, subject string) (bool, error) {
	return r.Resolve(ctx, subject).Premium, nil
}
