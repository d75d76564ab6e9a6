package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/billingportal/session"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/flacronsport/daily/internal/entitlement"
)

// SubjectMetadataKey is the customer metadata key holding the identity subject.
const SubjectMetadataKey = "userId"

type Config struct {
	SecretKey      string
	WebhookSecret  string
	PremiumPriceID string
	SuccessURL     string
	CancelURL      string
}

// Client wraps the Stripe API calls the portal makes. It satisfies
// entitlement.Provider.
type Client struct {
	cfg Config
}

var _ entitlement.Provider = (*Client)(nil)

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// searchQuery builds the customer search query for subject. Single quotes
// are escaped so a subject cannot break out of the string literal.
func searchQuery(subject string) string {
	escaped := strings.ReplaceAll(subject, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return fmt.Sprintf("metadata['%s']:'%s'", SubjectMetadataKey, escaped)
}

// FindCustomer returns the customer whose metadata matches subject.
func (c *Client) FindCustomer(ctx context.Context, subject string) (string, bool, error) {
	params := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   searchQuery(subject),
			Context: ctx,
		},
	}
	params.Limit = stripe.Int64(1)
	iter := customer.Search(params)
	if iter.Next() {
		return iter.Customer().ID, true, nil
	}
	if err := iter.Err(); err != nil {
		return "", false, fmt.Errorf("search stripe customer: %w", err)
	}
	return "", false, nil
}

// ListSubscriptionStatuses returns the status of each subscription of customerID.
func (c *Client) ListSubscriptionStatuses(ctx context.Context, customerID string) ([]string, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	var statuses []string
	iter := subscription.List(params)
	for iter.Next() {
		statuses = append(statuses, string(iter.Subscription().Status))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list stripe subscriptions: %w", err)
	}
	return statuses, nil
}

// LatestPayment returns the most recent payment intent of customerID.
func (c *Client) LatestPayment(ctx context.Context, customerID string) (*entitlement.Payment, error) {
	params := &stripe.PaymentIntentListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true
	iter := paymentintent.List(params)
	if iter.Next() {
		pi := iter.PaymentIntent()
		return &entitlement.Payment{
			ID:      pi.ID,
			Status:  string(pi.Status),
			Created: time.Unix(pi.Created, 0).UTC(),
		}, nil
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list stripe payment intents: %w", err)
	}
	return nil, nil
}

// EnsureCustomer returns the customer for subject, creating it with the
// subject in its metadata when none exists.
func (c *Client) EnsureCustomer(ctx context.Context, subject, email string) (string, error) {
	id, found, err := c.FindCustomer(ctx, subject)
	if err != nil {
		return "", err
	}
	if found {
		return id, nil
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata(SubjectMetadataKey, subject)
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession creates a subscription checkout session and returns its URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, customerID, subject string) (string, error) {
	if c.cfg.PremiumPriceID == "" {
		return "", errors.New("premium price id not configured")
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.cfg.PremiumPriceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID:   stripe.String(subject),
		AllowPromotionCodes: stripe.Bool(true),
		SuccessURL:          stripe.String(c.cfg.SuccessURL),
		CancelURL:           stripe.String(c.cfg.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(SubjectMetadataKey, subject)
	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreateBillingPortalSession creates a billing portal session and returns its URL.
func (c *Client) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// CustomerContact reads the identity subject and email stored on a customer.
func (c *Client) CustomerContact(ctx context.Context, customerID string) (subject, email string, err error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := customer.Get(customerID, params)
	if err != nil {
		return "", "", fmt.Errorf("get stripe customer: %w", err)
	}
	return cust.Metadata[SubjectMetadataKey], cust.Email, nil
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}
