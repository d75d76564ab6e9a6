package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/flacronsport/daily/internal/identity"
)

// RequireIdentity verifies the request's identity token and stores the
// claims in the request context. Requests without a valid token get 401.
func RequireIdentity(verifier identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := identity.FromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			claims, ok := identity.FromRequest(r, verifier)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "sign in required"})
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithClaims(r.Context(), claims)))
		})
	}
}

// OptionalIdentity stores verified claims when the request carries a valid
// token and passes every request through.
func OptionalIdentity(verifier identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := identity.FromRequest(r, verifier); ok {
				r = r.WithContext(identity.WithClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}
