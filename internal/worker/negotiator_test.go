package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/flacronsport/daily/internal/blocklist"
	"github.com/flacronsport/daily/internal/identity"
)

const realBody = `// vendor worker
importScripts('https://fpyf8.com/88/tag.min.js');
self.options = {"zoneId": 165368};
`

type mapChecker map[string]bool

func (m mapChecker) Premium(ctx context.Context, subject string) (bool, error) {
	if subject == "broken" {
		return true, errors.New("provider down")
	}
	return m[subject], nil
}

type failingSource struct{}

func (failingSource) Body(ctx context.Context, slot Slot) ([]byte, error) {
	return nil, ErrSourceUnavailable
}

func setupNegotiator(t *testing.T, src Source) (*Negotiator, *identity.HMACVerifier) {
	t.Helper()
	v, err := identity.NewHMACVerifier("0123456789abcdef0123456789abcdef", "https://issuer.test", "daily")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	if src == nil {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, Primary.Object), []byte(realBody), 0o644)
		os.WriteFile(filepath.Join(dir, Secondary.Object), []byte("// secondary\n"+realBody), 0o644)
		src = NewFileSource(dir)
	}
	n, err := NewNegotiator(Config{
		Verifier:  v,
		Checker:   mapChecker{"U1": true, "U2": false},
		Source:    src,
		Signature: blocklist.Default,
	}, slog.Default())
	if err != nil {
		t.Fatalf("new negotiator: %v", err)
	}
	return n, v
}

func request(t *testing.T, v *identity.HMACVerifier, subject string) *http.Request {
	t.Helper()
	req := httptest.NewRequest("GET", "/sw.js", nil)
	if subject != "" {
		tok, err := v.Sign(subject, "", time.Hour)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.AddCookie(&http.Cookie{Name: identity.CookieName, Value: tok})
	}
	return req
}

func TestPremiumGetsEmptyWorker(t *testing.T) {
	n, v := setupNegotiator(t, nil)

	rec := httptest.NewRecorder()
	n.Handler(Primary).ServeHTTP(rec, request(t, v, "U1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	want, _ := RenderEmpty(Primary, blocklist.Default)
	if !bytes.Equal(rec.Body.Bytes(), want) {
		t.Errorf("body does not match the empty worker template:\n%s", rec.Body.String())
	}
	body := rec.Body.String()
	for _, d := range blocklist.Default.Domains {
		if !strings.Contains(body, `"`+d+`"`) {
			t.Errorf("empty worker does not block %s", d)
		}
	}
	if !strings.Contains(body, "status: 204") {
		t.Error("empty worker does not short-circuit blocked fetches")
	}
	if !strings.Contains(body, "event.respondWith(fetch(event.request))") {
		t.Error("empty worker does not pass other fetches through")
	}

	h := rec.Header()
	if got := h.Get("Cache-Control"); got != "no-cache, no-store, must-revalidate" {
		t.Errorf("Cache-Control = %q", got)
	}
	if h.Get("Pragma") != "no-cache" || h.Get("Expires") != "0" {
		t.Errorf("Pragma = %q, Expires = %q", h.Get("Pragma"), h.Get("Expires"))
	}
	if got := h.Get("Content-Type"); !strings.HasPrefix(got, "application/javascript") {
		t.Errorf("Content-Type = %q", got)
	}
	if h.Get("Service-Worker-Allowed") != "/" {
		t.Errorf("Service-Worker-Allowed = %q", h.Get("Service-Worker-Allowed"))
	}
}

func TestAnonymousGetsStoredWorker(t *testing.T) {
	n, v := setupNegotiator(t, nil)

	rec := httptest.NewRecorder()
	n.Handler(Primary).ServeHTTP(rec, request(t, v, ""))

	if rec.Body.String() != realBody {
		t.Errorf("body = %q, want stored body verbatim", rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=3600" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestBodiesAreDisjoint(t *testing.T) {
	n, v := setupNegotiator(t, nil)

	for _, subject := range []string{"U1", "U2", "unknown", "broken", ""} {
		for _, slot := range Slots {
			rec := httptest.NewRecorder()
			n.Handler(slot).ServeHTTP(rec, request(t, v, subject))
			body := rec.Body.String()
			variant := rec.Header().Get("X-Worker-Variant")

			switch variant {
			case VariantEmpty:
				if strings.Contains(body, blocklist.Default.LoaderURL) {
					t.Errorf("%s/%s: empty worker references the loader", subject, slot.Name)
				}
			case VariantReal:
				stored, _ := n.source.Body(context.Background(), slot)
				if body != string(stored) {
					t.Errorf("%s/%s: real body differs from stored", subject, slot.Name)
				}
			default:
				t.Errorf("%s/%s: unexpected variant %q", subject, slot.Name, variant)
			}
			if (subject == "U1") != (variant == VariantEmpty) {
				t.Errorf("%s/%s: variant = %s", subject, slot.Name, variant)
			}
		}
	}
}

func TestInvalidTokenIsAnonymous(t *testing.T) {
	n, _ := setupNegotiator(t, nil)

	req := httptest.NewRequest("GET", "/sw.js", nil)
	req.AddCookie(&http.Cookie{Name: identity.CookieName, Value: "not-a-token"})
	rec := httptest.NewRecorder()
	n.Handler(Primary).ServeHTTP(rec, req)

	if rec.Body.String() != realBody {
		t.Error("invalid token did not fall back to the stored worker")
	}
}

func TestSourceFailureFailsClosed(t *testing.T) {
	n, v := setupNegotiator(t, failingSource{})

	rec := httptest.NewRecorder()
	n.Handler(Secondary).ServeHTTP(rec, request(t, v, "U2"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != stubBody {
		t.Errorf("body = %q, want stub", rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-cache, no-store, must-revalidate" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestMissingFileIsUnavailable(t *testing.T) {
	src := NewFileSource(t.TempDir())
	if _, err := src.Body(context.Background(), Primary); !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
}

type fakeGetter struct {
	key  string
	body string
	err  error
}

func (f *fakeGetter) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.key = *in.Key
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestS3Source(t *testing.T) {
	getter := &fakeGetter{body: realBody}
	src := NewS3SourceWithClient(getter, "workers", "prod")

	body, err := src.Body(context.Background(), Secondary)
	if err != nil {
		t.Fatalf("body: %v", err)
	}
	if string(body) != realBody {
		t.Errorf("body = %q", body)
	}
	if getter.key != "prod/sw2-original.js" {
		t.Errorf("key = %q, want %q", getter.key, "prod/sw2-original.js")
	}

	getter.err = errors.New("no such key")
	if _, err := src.Body(context.Background(), Primary); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
}

func TestOversizedBodyIsRefused(t *testing.T) {
	dir := t.TempDir()
	exact := bytes.Repeat([]byte("a"), maxBodySize)
	os.WriteFile(filepath.Join(dir, Primary.Object), exact, 0o644)
	os.WriteFile(filepath.Join(dir, Secondary.Object), append(exact, 'b'), 0o644)
	src := NewFileSource(dir)

	body, err := src.Body(context.Background(), Primary)
	if err != nil {
		t.Fatalf("body at limit: %v", err)
	}
	if len(body) != maxBodySize {
		t.Errorf("len = %d, want %d", len(body), maxBodySize)
	}
	if _, err := src.Body(context.Background(), Secondary); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("file over limit: err = %v, want ErrSourceUnavailable", err)
	}

	getter := &fakeGetter{body: string(exact) + "b"}
	if _, err := NewS3SourceWithClient(getter, "workers", "").Body(context.Background(), Primary); !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("object over limit: err = %v, want ErrSourceUnavailable", err)
	}

	n, v := setupNegotiator(t, src)
	rec := httptest.NewRecorder()
	n.Handler(Secondary).ServeHTTP(rec, request(t, v, ""))
	if rec.Body.String() != stubBody {
		t.Errorf("oversized body served %d bytes, want stub", rec.Body.Len())
	}
}
