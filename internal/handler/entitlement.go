package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/flacronsport/daily/internal/identity"
	"github.com/flacronsport/daily/internal/premium"
)

type EntitlementHandler struct {
	checker premium.Checker
	logger  *slog.Logger
}

func NewEntitlementHandler(checker premium.Checker, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{checker: checker, logger: logger}
}

type isPremiumRequest struct {
	UserID string `json:"userId"`
}

type isPremiumResponse struct {
	IsPremium bool `json:"isPremium"`
}

// IsPremium handles POST /api/is-premium. The subject always comes from the
// verified token; a body userId naming someone else resolves to false.
func (h *EntitlementHandler) IsPremium(w http.ResponseWriter, r *http.Request) {
	var req isPremiumRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	subject := identity.Subject(r.Context())
	if subject == "" || (req.UserID != "" && req.UserID != subject) {
		writeJSON(w, http.StatusOK, isPremiumResponse{})
		return
	}

	isPremium, err := h.checker.Premium(r.Context(), subject)
	if err != nil {
		h.logger.Warn("entitlement check", "subject", subject, "error", err)
		isPremium = false
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, isPremiumResponse{IsPremium: isPremium})
}
