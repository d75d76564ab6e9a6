// Package adheaders decides, per request, which of two disjoint header and
// meta sets a server-rendered page carries.
package adheaders

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/flacronsport/daily/internal/blocklist"
	"github.com/flacronsport/daily/internal/identity"
	"github.com/flacronsport/daily/internal/premium"
)

// SiteVerification is the vendor's site verification token.
const SiteVerification = "flacron-sports-verification"

// Tiers as sent in the X-Ad-Tier header.
const (
	TierStandard = "standard"
	TierPremium  = "premium"
)

type Meta struct {
	Name    string
	Content string
}

type Link struct {
	Rel         string
	Href        string
	As          string
	CrossOrigin bool
}

// Header renders l as a Link header value.
func (l Link) Header() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<%s>; rel=%s", l.Href, l.Rel)
	if l.As != "" {
		fmt.Fprintf(&b, "; as=%s", l.As)
	}
	if l.CrossOrigin {
		b.WriteString("; crossorigin=anonymous")
	}
	return b.String()
}

// Set is one of the two decorations. The zero value is not valid; use Shape.
type Set struct {
	Premium bool
	Tier    string
	Meta    []Meta
	Links   []Link
}

// Shape returns the premium marker set or the ad pre-connection set.
func Shape(isPremium bool, sig blocklist.Signature) Set {
	if isPremium {
		return Set{
			Premium: true,
			Tier:    TierPremium,
			Meta:    []Meta{{Name: "premium-user", Content: "true"}},
		}
	}

	s := Set{
		Tier: TierStandard,
		Meta: []Meta{{Name: "monetag-site-verification", Content: SiteVerification}},
	}
	for _, origin := range sig.Preconnect {
		s.Links = append(s.Links, Link{Rel: "preconnect", Href: origin, CrossOrigin: true})
	}
	for _, host := range sig.DNSPrefetch {
		s.Links = append(s.Links, Link{Rel: "dns-prefetch", Href: host})
	}
	if sig.LoaderURL != "" {
		s.Links = append(s.Links, Link{Rel: "preload", Href: sig.LoaderURL, As: "script", CrossOrigin: true})
	}
	return s
}

// Write adds the set's response headers to h.
func (s Set) Write(h http.Header) {
	h.Set("X-Ad-Tier", s.Tier)
	for _, l := range s.Links {
		h.Add("Link", l.Header())
	}
}

type contextKey struct{}

func WithSet(ctx context.Context, s Set) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the set chosen for the request, or the standard set
// when the middleware did not run.
func FromContext(ctx context.Context) Set {
	if s, ok := ctx.Value(contextKey{}).(Set); ok {
		return s
	}
	return Shape(false, blocklist.Default)
}

// Middleware verifies the request's identity, resolves entitlement and
// decorates the response. Verified claims are stored in the request context.
func Middleware(verifier identity.Verifier, checker premium.Checker, sig blocklist.Signature, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			isPremium := false
			if claims, ok := identity.FromRequest(r, verifier); ok {
				ctx = identity.WithClaims(ctx, claims)
				p, err := checker.Premium(ctx, claims.Subject)
				if err != nil {
					logger.Warn("shape response entitlement", "subject", claims.Subject, "error", err)
				}
				isPremium = p && err == nil
			}

			set := Shape(isPremium, sig)
			set.Write(w.Header())
			next.ServeHTTP(w, r.WithContext(WithSet(ctx, set)))
		})
	}
}
