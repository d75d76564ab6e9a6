package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flacronsport/daily/internal/adheaders"
	"github.com/flacronsport/daily/internal/blocklist"
	"github.com/flacronsport/daily/internal/handler"
	"github.com/flacronsport/daily/internal/identity"
	"github.com/flacronsport/daily/internal/metrics"
	"github.com/flacronsport/daily/internal/middleware"
	"github.com/flacronsport/daily/internal/premium"
	"github.com/flacronsport/daily/internal/push"
	"github.com/flacronsport/daily/internal/store"
	ws "github.com/flacronsport/daily/internal/websocket"
	"github.com/flacronsport/daily/internal/worker"
)

// legacySecondaryPath is the duplicate-download name some browsers saved
// the secondary worker under.
const legacySecondaryPath = "/sw (2).js"

// Billing is the payment provider the checkout and webhook endpoints need.
type Billing interface {
	handler.Billing
	handler.WebhookBilling
}

type Config struct {
	Verifier   identity.Verifier
	Checker    premium.Checker
	Negotiator *worker.Negotiator
	Signature  blocklist.Signature
	// Billing is nil when no payment provider is configured.
	Billing       Billing
	PushStore     *store.PushStore
	EventStore    *store.BillingEventStore
	Notifier      *push.Notifier
	PushPublicKey string
	// Mailer is nil when email is not configured.
	Mailer     handler.Mailer
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	BaseURL    string
	StaticDir  string
	CheckLimit int
	// OriginPatterns lists extra origins allowed to open the entitlement socket.
	OriginPatterns []string
}

type Server struct {
	cfg          Config
	hub          *ws.Hub
	pageH        *handler.PageHandler
	entitlementH *handler.EntitlementHandler
	checkoutH    *handler.CheckoutHandler
	webhookH     *handler.WebhookHandler
	historyH     *handler.HistoryHandler
	pushH        *handler.PushHandler
	rateLimiter  *middleware.RateLimiter
	logger       *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	var checkoutH *handler.CheckoutHandler
	var webhookH *handler.WebhookHandler
	if cfg.Billing != nil {
		checkoutH = handler.NewCheckoutHandler(cfg.Billing, cfg.Checker, cfg.BaseURL, logger.With("component", "checkout"))
		webhookH = handler.NewWebhookHandler(handler.WebhookConfig{
			Billing:   cfg.Billing,
			Events:    cfg.EventStore,
			Checker:   cfg.Checker,
			Publisher: hub,
			Push:      cfg.Notifier,
			Mailer:    cfg.Mailer,
			Metrics:   cfg.Metrics,
		}, logger.With("component", "webhook"))
	}
	var historyH *handler.HistoryHandler
	if cfg.EventStore != nil {
		historyH = handler.NewHistoryHandler(cfg.EventStore, logger.With("component", "history"))
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = "static"
	}
	if cfg.CheckLimit <= 0 {
		cfg.CheckLimit = 60
	}

	return &Server{
		cfg:          cfg,
		hub:          hub,
		pageH:        handler.NewPageHandler("Flacron Sports Daily", logger.With("component", "page")),
		entitlementH: handler.NewEntitlementHandler(cfg.Checker, logger.With("component", "entitlement")),
		checkoutH:    checkoutH,
		webhookH:     webhookH,
		historyH:     historyH,
		pushH:        handler.NewPushHandler(cfg.PushStore, cfg.PushPublicKey, logger.With("component", "push")),
		rateLimiter:  middleware.NewRateLimiter(cfg.CheckLimit, time.Minute),
		logger:       logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Hub returns the websocket hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	shape := adheaders.Middleware(s.cfg.Verifier, s.cfg.Checker, s.cfg.Signature, s.logger.With("component", "adheaders"))
	mux.Handle("GET /{$}", shape(http.HandlerFunc(s.pageH.Home)))

	// Worker slots and their legacy aliases
	primary := s.cfg.Negotiator.Handler(worker.Primary)
	secondary := s.cfg.Negotiator.Handler(worker.Secondary)
	mux.HandleFunc("GET "+worker.Primary.Path, primary)
	mux.HandleFunc("GET "+worker.Secondary.Path, secondary)
	mux.HandleFunc("GET /api/sw", primary)
	mux.HandleFunc("GET /api/sw2", secondary)

	// Entitlement
	optional := middleware.OptionalIdentity(s.cfg.Verifier)
	limited := middleware.RateLimit(s.rateLimiter, middleware.RealIP)
	mux.Handle("POST /api/is-premium", limited(optional(http.HandlerFunc(s.entitlementH.IsPremium))))
	mux.HandleFunc("GET /ws/entitlement", ws.HandleWebSocket(s.hub, s.cfg.Verifier, s.cfg.Checker, s.cfg.OriginPatterns, s.logger.With("component", "websocket")))

	// Billing
	required := middleware.RequireIdentity(s.cfg.Verifier)
	if s.checkoutH != nil {
		mux.Handle("POST /api/checkout", required(http.HandlerFunc(s.checkoutH.CreateCheckoutSession)))
		mux.Handle("POST /api/billing-portal", required(http.HandlerFunc(s.checkoutH.BillingPortal)))
		mux.HandleFunc("POST /api/webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}
	if s.historyH != nil {
		mux.Handle("GET /api/billing/events", required(http.HandlerFunc(s.historyH.List)))
	}

	// Push
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
	mux.Handle("POST /api/push/subscribe", required(http.HandlerFunc(s.pushH.Subscribe)))
	mux.Handle("DELETE /api/push/subscribe", required(http.HandlerFunc(s.pushH.Unsubscribe)))

	mux.HandleFunc("GET /health", s.healthHandler)
	if s.cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))

	return middleware.RequestLogger(s.logger.With("component", "http"))(legacyWorkerPaths(mux))
}

// legacyWorkerPaths redirects saved duplicate worker names to their slot.
func legacyWorkerPaths(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == legacySecondaryPath && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
			http.Redirect(w, r, worker.Secondary.Path, http.StatusPermanentRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
