package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/flacronsport/daily/internal/identity"
	"github.com/flacronsport/daily/internal/premium"
)

// HandleWebSocket returns an HTTP handler that upgrades signed-in requests
// and runs them as Hub clients. originPatterns restricts cross-origin pages;
// an empty list allows same-origin only.
func HandleWebSocket(hub *Hub, verifier identity.Verifier, checker premium.Checker, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := identity.FromContext(r.Context())
		if !ok {
			claims, ok = identity.FromRequest(r, verifier)
		}
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "sign in required"})
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn, claims.Subject, checker, logger)
		client.Run(r.Context())
		conn.Close(ws.StatusNormalClosure, "")
	}
}
