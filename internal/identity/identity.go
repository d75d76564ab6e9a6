// Package identity verifies the signed identity tokens issued by the hosted
// identity provider. Tokens are checked on every read; nothing about a
// session is stored server side.
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// CookieName is the cookie the client refreshes the identity token into.
const CookieName = "firebase_id_token"

var (
	// ErrNoToken is returned when a request carries no identity token.
	ErrNoToken = errors.New("identity: no token")
	// ErrInvalidToken wraps every signature, expiry or claim failure.
	ErrInvalidToken = errors.New("identity: invalid token")
)

// Claims are the verified fields of an identity token.
type Claims struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// Verifier checks a raw token and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, raw string) (Claims, error)
}

// TokenFromRequest returns the identity token from the cookie, falling back
// to an Authorization bearer header.
func TokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}
	return "", ErrNoToken
}

// FromRequest verifies the request's token. Any failure yields ok=false;
// callers treat an invalid token exactly like a missing one.
func FromRequest(r *http.Request, v Verifier) (Claims, bool) {
	if v == nil {
		return Claims{}, false
	}
	raw, err := TokenFromRequest(r)
	if err != nil {
		return Claims{}, false
	}
	claims, err := v.Verify(r.Context(), raw)
	if err != nil || claims.Subject == "" {
		return Claims{}, false
	}
	return claims, true
}

type contextKey struct{}

func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(contextKey{}).(Claims)
	return c, ok
}

// Subject returns the verified subject in ctx, or "" when anonymous.
func Subject(ctx context.Context) string {
	c, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return c.Subject
}
