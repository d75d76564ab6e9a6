package model

import "time"

// Billing event types that can change a subject's entitlement.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// BillingEvent is the audit record of one processed webhook event. The
// entitlement resolver never reads it.
type BillingEvent struct {
	ID            int64     `json:"id"`
	StripeEventID string    `json:"stripe_event_id"`
	Type          string    `json:"type"`
	Subject       string    `json:"subject"`
	CustomerID    string    `json:"customer_id"`
	CreatedAt     time.Time `json:"created_at"`
}
