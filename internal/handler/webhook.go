package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"golang.org/x/sync/errgroup"

	billingstripe "github.com/flacronsport/daily/internal/billing/stripe"
	"github.com/flacronsport/daily/internal/metrics"
	"github.com/flacronsport/daily/internal/model"
	"github.com/flacronsport/daily/internal/premium"
	"github.com/flacronsport/daily/internal/push"
)

const maxWebhookBytes = 65536

// WebhookBilling verifies events and looks up customers.
type WebhookBilling interface {
	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
	CustomerContact(ctx context.Context, customerID string) (subject, email string, err error)
}

// EventRecorder stores processed events; Record reports false for repeats.
type EventRecorder interface {
	Record(stripeEventID, eventType, subject, customerID string) (bool, error)
}

// StatusPublisher reaches the subject's open pages.
type StatusPublisher interface {
	Publish(subject string, st premium.State) int
}

// PushQueue reaches the subject's installed workers.
type PushQueue interface {
	Enqueue(subject string, payload push.Payload) bool
}

// Mailer sends entitlement emails.
type Mailer interface {
	SendPremiumWelcome(ctx context.Context, toEmail string) error
	SendPremiumEnded(ctx context.Context, toEmail string) error
}

type WebhookConfig struct {
	Billing   WebhookBilling
	Events    EventRecorder
	Checker   premium.Checker
	Publisher StatusPublisher
	Push      PushQueue
	// Mailer is optional.
	Mailer  Mailer
	Metrics *metrics.Metrics
}

type WebhookHandler struct {
	cfg    WebhookConfig
	logger *slog.Logger
}

func NewWebhookHandler(cfg WebhookConfig, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{cfg: cfg, logger: logger}
}

// eventRef is what an event tells us about whose entitlement changed.
type eventRef struct {
	subject    string
	customerID string
	email      string
}

// HandleStripeWebhook handles POST /api/webhooks/stripe.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	event, err := h.cfg.Billing.ConstructWebhookEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature", "error", err)
		h.cfg.Metrics.ObserveWebhook("unknown", "invalid")
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	eventType := string(event.Type)
	log := h.logger.With("event_id", event.ID, "event_type", eventType)

	ref, relevant, err := parseEventRef(event)
	if err != nil {
		log.Error("webhook decode", "error", err)
		h.cfg.Metrics.ObserveWebhook(eventType, "error")
		writeError(w, http.StatusBadRequest, "invalid event object")
		return
	}
	if !relevant {
		h.cfg.Metrics.ObserveWebhook(eventType, "ignored")
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	ctx := r.Context()
	if ref.customerID != "" && (ref.subject == "" || ref.email == "") {
		subject, email, err := h.cfg.Billing.CustomerContact(ctx, ref.customerID)
		if err != nil {
			log.Warn("webhook customer lookup", "customer_id", ref.customerID, "error", err)
		}
		if ref.subject == "" {
			ref.subject = subject
		}
		if ref.email == "" {
			ref.email = email
		}
	}

	inserted, err := h.cfg.Events.Record(event.ID, eventType, ref.subject, ref.customerID)
	if err != nil {
		log.Error("record billing event", "error", err)
		h.cfg.Metrics.ObserveWebhook(eventType, "error")
		writeError(w, http.StatusInternalServerError, "failed to record event")
		return
	}
	if !inserted {
		h.cfg.Metrics.ObserveWebhook(eventType, "duplicate")
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if ref.subject == "" {
		log.Warn("webhook event without subject", "customer_id", ref.customerID)
		h.cfg.Metrics.ObserveWebhook(eventType, "unmatched")
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	isPremium, err := h.cfg.Checker.Premium(ctx, ref.subject)
	if err != nil {
		isPremium = false
	}
	st := premium.State{Premium: isPremium}

	h.notify(ctx, log, eventType, ref, st)

	log.Info("entitlement event processed", "subject", ref.subject, "premium", isPremium)
	h.cfg.Metrics.ObserveWebhook(eventType, "processed")
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// notify fans st out to every channel. Failures are logged and counted,
// never returned to the provider.
func (h *WebhookHandler) notify(ctx context.Context, log *slog.Logger, eventType string, ref eventRef, st premium.State) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n := h.cfg.Publisher.Publish(ref.subject, st)
		h.cfg.Metrics.ObserveNotification("websocket", outcome(n > 0))
		return nil
	})
	g.Go(func() error {
		if !h.cfg.Push.Enqueue(ref.subject, push.StatusPayload(st)) {
			return fmt.Errorf("push queue full")
		}
		return nil
	})
	if h.cfg.Mailer != nil && ref.email != "" {
		g.Go(func() error {
			var err error
			switch {
			case eventType == model.EventCheckoutCompleted && st.Premium:
				err = h.cfg.Mailer.SendPremiumWelcome(gctx, ref.email)
			case eventType == model.EventSubscriptionDeleted && !st.Premium:
				err = h.cfg.Mailer.SendPremiumEnded(gctx, ref.email)
			default:
				return nil
			}
			h.cfg.Metrics.ObserveNotification("email", outcome(err == nil))
			if err != nil {
				return fmt.Errorf("send email: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("entitlement notification", "subject", ref.subject, "error", err)
	}
}

func outcome(ok bool) string {
	if ok {
		return "sent"
	}
	return "skipped"
}

// parseEventRef extracts the subject, customer and email from events that
// can change entitlement. relevant is false for every other event type.
func parseEventRef(event stripe.Event) (ref eventRef, relevant bool, err error) {
	if event.Data == nil {
		return eventRef{}, false, nil
	}
	switch string(event.Type) {
	case model.EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return eventRef{}, true, fmt.Errorf("unmarshal checkout session: %w", err)
		}
		ref.subject = sess.ClientReferenceID
		if ref.subject == "" {
			ref.subject = sess.Metadata[billingstripe.SubjectMetadataKey]
		}
		if sess.Customer != nil {
			ref.customerID = sess.Customer.ID
		}
		if sess.CustomerDetails != nil {
			ref.email = sess.CustomerDetails.Email
		}
	case model.EventSubscriptionCreated, model.EventSubscriptionUpdated, model.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return eventRef{}, true, fmt.Errorf("unmarshal subscription: %w", err)
		}
		ref.subject = sub.Metadata[billingstripe.SubjectMetadataKey]
		if sub.Customer != nil {
			ref.customerID = sub.Customer.ID
		}
	case model.EventPaymentSucceeded, model.EventPaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return eventRef{}, true, fmt.Errorf("unmarshal invoice: %w", err)
		}
		if invoice.Customer != nil {
			ref.customerID = invoice.Customer.ID
		}
		ref.email = invoice.CustomerEmail
	default:
		return eventRef{}, false, nil
	}
	return ref, true, nil
}
