package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/flacronsport/daily/internal/identity"
	"github.com/flacronsport/daily/internal/model"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// EventLister reads a subject's recorded billing events.
type EventLister interface {
	ListBySubject(subject string, limit int) ([]model.BillingEvent, error)
}

type HistoryHandler struct {
	events EventLister
	logger *slog.Logger
}

func NewHistoryHandler(events EventLister, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{events: events, logger: logger}
}

type historyEntry struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// List handles GET /api/billing/events. Callers only ever see their own
// events; provider ids stay server side.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := identity.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "sign in required")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := h.events.ListBySubject(claims.Subject, limit)
	if err != nil {
		h.logger.Error("failed to list billing events", "subject", claims.Subject, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list billing events")
		return
	}

	out := make([]historyEntry, 0, len(events))
	for _, e := range events {
		out = append(out, historyEntry{Type: e.Type, CreatedAt: e.CreatedAt})
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}
