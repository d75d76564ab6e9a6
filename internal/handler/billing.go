package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/flacronsport/daily/internal/identity"
	"github.com/flacronsport/daily/internal/premium"
)

// Billing is the payment provider surface the checkout endpoints use.
type Billing interface {
	FindCustomer(ctx context.Context, subject string) (string, bool, error)
	EnsureCustomer(ctx context.Context, subject, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, customerID, subject string) (string, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

type CheckoutHandler struct {
	billing Billing
	checker premium.Checker
	baseURL string
	logger  *slog.Logger
}

func NewCheckoutHandler(b Billing, checker premium.Checker, baseURL string, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{billing: b, checker: checker, baseURL: baseURL, logger: logger}
}

// CreateCheckoutSession handles POST /api/checkout.
func (h *CheckoutHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := identity.FromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "sign in required")
		return
	}

	if isPremium, err := h.checker.Premium(ctx, claims.Subject); err == nil && isPremium {
		writeError(w, http.StatusConflict, "already premium")
		return
	}

	customerID, err := h.billing.EnsureCustomer(ctx, claims.Subject, claims.Email)
	if err != nil {
		h.logger.Error("ensure customer", "subject", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create customer")
		return
	}

	url, err := h.billing.CreateCheckoutSession(ctx, customerID, claims.Subject)
	if err != nil {
		h.logger.Error("create checkout session", "subject", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create checkout session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

// BillingPortal handles POST /api/billing-portal.
func (h *CheckoutHandler) BillingPortal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, ok := identity.FromContext(ctx)
	if !ok {
		writeError(w, http.StatusUnauthorized, "sign in required")
		return
	}

	customerID, found, err := h.billing.FindCustomer(ctx, claims.Subject)
	if err != nil {
		h.logger.Error("find customer", "subject", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to find billing account")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "no billing account")
		return
	}

	url, err := h.billing.CreateBillingPortalSession(ctx, customerID, h.baseURL+"/")
	if err != nil {
		h.logger.Error("create portal session", "subject", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create portal session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}
