package adheaders

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flacronsport/daily/internal/blocklist"
	"github.com/flacronsport/daily/internal/identity"
)

type mapChecker map[string]bool

func (m mapChecker) Premium(ctx context.Context, subject string) (bool, error) {
	if subject == "broken" {
		return true, errors.New("provider down")
	}
	return m[subject], nil
}

func TestShapeSetsAreDisjoint(t *testing.T) {
	std := Shape(false, blocklist.Default)
	prem := Shape(true, blocklist.Default)

	if std.Premium || !prem.Premium {
		t.Fatal("premium flags wrong")
	}
	if len(prem.Links) != 0 {
		t.Errorf("premium set carries %d links", len(prem.Links))
	}
	names := map[string]bool{}
	for _, m := range std.Meta {
		names[m.Name] = true
	}
	for _, m := range prem.Meta {
		if names[m.Name] {
			t.Errorf("meta %q in both sets", m.Name)
		}
	}

	rels := map[string]int{}
	for _, l := range std.Links {
		rels[l.Rel]++
	}
	if rels["preconnect"] != 2 || rels["dns-prefetch"] != 1 || rels["preload"] != 1 {
		t.Errorf("standard links = %v", rels)
	}
}

func TestLinkHeader(t *testing.T) {
	l := Link{Rel: "preload", Href: "https://fpyf8.com/88/tag.min.js", As: "script", CrossOrigin: true}
	want := "<https://fpyf8.com/88/tag.min.js>; rel=preload; as=script; crossorigin=anonymous"
	if got := l.Header(); got != want {
		t.Errorf("Header() = %q, want %q", got, want)
	}
}

func serve(t *testing.T, cookie string) (*httptest.ResponseRecorder, Set, string) {
	t.Helper()
	v, err := identity.NewHMACVerifier("0123456789abcdef0123456789abcdef", "https://issuer.test", "daily")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	var got Set
	var subject string
	h := Middleware(v, mapChecker{"U1": true}, blocklist.Default, slog.Default())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = FromContext(r.Context())
			subject = identity.Subject(r.Context())
		}),
	)

	req := httptest.NewRequest("GET", "/", nil)
	if cookie != "" {
		tok, _ := v.Sign(cookie, "", time.Hour)
		req.AddCookie(&http.Cookie{Name: identity.CookieName, Value: tok})
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, got, subject
}

func TestMiddlewarePremium(t *testing.T) {
	rec, set, subject := serve(t, "U1")
	if !set.Premium {
		t.Fatal("expected premium set")
	}
	if subject != "U1" {
		t.Errorf("subject = %q, want U1", subject)
	}
	if rec.Header().Get("X-Ad-Tier") != TierPremium {
		t.Errorf("X-Ad-Tier = %q", rec.Header().Get("X-Ad-Tier"))
	}
	if len(rec.Header().Values("Link")) != 0 {
		t.Error("premium response carries ad Link headers")
	}
}

func TestMiddlewareStandard(t *testing.T) {
	for _, who := range []string{"", "U2", "broken"} {
		rec, set, _ := serve(t, who)
		if set.Premium {
			t.Errorf("%q: expected standard set", who)
		}
		if rec.Header().Get("X-Ad-Tier") != TierStandard {
			t.Errorf("%q: X-Ad-Tier = %q", who, rec.Header().Get("X-Ad-Tier"))
		}
		links := strings.Join(rec.Header().Values("Link"), ",")
		if !strings.Contains(links, "rel=preconnect") {
			t.Errorf("%q: Link = %q", who, links)
		}
	}
}

func TestFromContextDefault(t *testing.T) {
	if FromContext(context.Background()).Premium {
		t.Error("missing set must default to standard")
	}
}
