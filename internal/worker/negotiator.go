// Package worker serves the background worker scripts. Each slot has one
// endpoint whose body is chosen per request from the caller's entitlement:
// a pass-through empty worker for premium users, the vendor worker for
// everyone else.
package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"text/template"

	"github.com/flacronsport/daily/internal/blocklist"
	"github.com/flacronsport/daily/internal/identity"
	"github.com/flacronsport/daily/internal/metrics"
	"github.com/flacronsport/daily/internal/premium"
)

// Slot is one worker registration the page keeps.
type Slot struct {
	Name string
	// Path is the negotiator endpoint and registration script URL.
	Path string
	// Object names the stored vendor body.
	Object string
}

var (
	Primary   = Slot{Name: "primary", Path: "/sw.js", Object: "sw-original.js"}
	Secondary = Slot{Name: "secondary", Path: "/sw2.js", Object: "sw2-original.js"}
)

// Slots lists every slot in registration order.
var Slots = []Slot{Primary, Secondary}

// Body variants, as recorded in metrics.
const (
	VariantEmpty = "empty"
	VariantReal  = "real"
	VariantStub  = "stub"
)

const contentType = "application/javascript; charset=utf-8"

// stubBody is served when the vendor body cannot be read.
const stubBody = "// worker unavailable\nself.addEventListener('fetch', function () {});\n"

var emptyTemplate = template.Must(template.New("empty").Funcs(template.FuncMap{
	"js": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}).Parse(`// {{.Slot}} worker, signature {{.Version}}
const BLOCKED = {{js .Domains}};
let premium = true;

self.addEventListener('install', function (event) {
  self.skipWaiting();
});

self.addEventListener('activate', function (event) {
  event.waitUntil(self.clients.claim().then(function () {
    return self.clients.matchAll({ includeUncontrolled: true });
  }).then(function (clients) {
    clients.forEach(function (client) {
      client.postMessage({ type: {{js .RequestType}} });
    });
  }));
});

self.addEventListener('message', function (event) {
  const data = event.data;
  if (!data || data.type !== {{js .UpdateType}} || data.pending) {
    return;
  }
  premium = data.premium === true;
});

self.addEventListener('push', function (event) {
  let data = null;
  try {
    data = event.data ? event.data.json() : null;
  } catch (e) {
    return;
  }
  if (!data || data.type !== {{js .UpdateType}}) {
    return;
  }
  if (!data.pending) {
    premium = data.premium === true;
  }
  const notify = self.clients.matchAll({ includeUncontrolled: true }).then(function (clients) {
    clients.forEach(function (client) {
      client.postMessage({ type: data.type, premium: data.premium === true, pending: data.pending === true });
    });
  });
  const shown = data.title ? self.registration.showNotification(data.title, { body: data.body || '', tag: data.tag || undefined, data: { url: data.url || '/' } }) : Promise.resolve();
  event.waitUntil(Promise.all([notify, shown]));
});

self.addEventListener('fetch', function (event) {
  const url = event.request.url;
  if (premium && BLOCKED.some(function (d) { return url.indexOf(d) !== -1; })) {
    event.respondWith(new Response('', { status: 204 }));
    return;
  }
  event.respondWith(fetch(event.request));
});
`))

// RenderEmpty renders the premium worker for slot. Its only knowledge of
// the vendor is the domain list; it never references the loader.
func RenderEmpty(slot Slot, sig blocklist.Signature) ([]byte, error) {
	var buf bytes.Buffer
	err := emptyTemplate.Execute(&buf, map[string]any{
		"Slot":        slot.Name,
		"Version":     sig.Version,
		"Domains":     sig.Domains,
		"RequestType": TypeRequestStatus,
		"UpdateType":  TypeStatusUpdate,
	})
	if err != nil {
		return nil, fmt.Errorf("render empty worker: %w", err)
	}
	return buf.Bytes(), nil
}

// Config wires a Negotiator.
type Config struct {
	Verifier  identity.Verifier
	Checker   premium.Checker
	Source    Source
	Signature blocklist.Signature
	Metrics   *metrics.Metrics
}

// Negotiator picks the worker body per request.
type Negotiator struct {
	verifier identity.Verifier
	checker  premium.Checker
	source   Source
	metrics  *metrics.Metrics
	logger   *slog.Logger
	empty    map[string][]byte
}

func NewNegotiator(cfg Config, logger *slog.Logger) (*Negotiator, error) {
	n := &Negotiator{
		verifier: cfg.Verifier,
		checker:  cfg.Checker,
		source:   cfg.Source,
		metrics:  cfg.Metrics,
		logger:   logger,
		empty:    make(map[string][]byte),
	}
	for _, slot := range Slots {
		body, err := RenderEmpty(slot, cfg.Signature)
		if err != nil {
			return nil, err
		}
		n.empty[slot.Name] = body
	}
	return n, nil
}

// Handler serves slot.
func (n *Negotiator) Handler(slot Slot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		isPremium := n.premium(r)
		variant, body := n.body(r, slot, isPremium)

		h := w.Header()
		h.Set("Content-Type", contentType)
		h.Set("Service-Worker-Allowed", "/")
		if variant == VariantReal {
			h.Set("Cache-Control", "public, max-age=3600")
		} else {
			h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
			h.Set("Pragma", "no-cache")
			h.Set("Expires", "0")
		}
		h.Set("X-Worker-Variant", variant)

		n.metrics.ObserveWorkerBody(slot.Name, variant)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

func (n *Negotiator) premium(r *http.Request) bool {
	claims, ok := identity.FromRequest(r, n.verifier)
	if !ok {
		return false
	}
	isPremium, err := n.checker.Premium(r.Context(), claims.Subject)
	if err != nil {
		n.logger.Warn("worker entitlement check failed", "subject", claims.Subject, "error", err)
		return false
	}
	return isPremium
}

func (n *Negotiator) body(r *http.Request, slot Slot, isPremium bool) (string, []byte) {
	if isPremium {
		return VariantEmpty, n.empty[slot.Name]
	}
	body, err := n.source.Body(r.Context(), slot)
	if err != nil {
		n.logger.Error("read worker body", "slot", slot.Name, "error", err)
		return VariantStub, []byte(stubBody)
	}
	return VariantReal, body
}
