package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	billingstripe "github.com/flacronsport/daily/internal/billing/stripe"
	"github.com/flacronsport/daily/internal/blocklist"
	"github.com/flacronsport/daily/internal/config"
	"github.com/flacronsport/daily/internal/database"
	"github.com/flacronsport/daily/internal/email"
	"github.com/flacronsport/daily/internal/entitlement"
	"github.com/flacronsport/daily/internal/handler"
	"github.com/flacronsport/daily/internal/identity"
	"github.com/flacronsport/daily/internal/logging"
	"github.com/flacronsport/daily/internal/metrics"
	"github.com/flacronsport/daily/internal/push"
	"github.com/flacronsport/daily/internal/server"
	"github.com/flacronsport/daily/internal/store"
	"github.com/flacronsport/daily/internal/worker"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "vapid-keys" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier, err := newVerifier(ctx, cfg.Identity)
	if err != nil {
		slog.Error("failed to configure identity", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Entitlement is always derived from the payment provider. Without one
	// configured every subject resolves to not premium.
	var billing server.Billing
	var provider entitlement.Provider = entitlement.NoProvider{}
	if cfg.StripeEnabled() {
		sc := billingstripe.NewClient(billingstripe.Config{
			SecretKey:      cfg.Stripe.SecretKey,
			WebhookSecret:  cfg.Stripe.WebhookSecret,
			PremiumPriceID: cfg.Stripe.PremiumPriceID,
			SuccessURL:     cfg.BaseURL + "/?checkout=success",
			CancelURL:      cfg.BaseURL + "/?checkout=cancel",
		})
		billing = sc
		provider = sc
	} else {
		slog.Warn("stripe not configured; all users resolve to standard tier")
	}
	resolver := entitlement.NewResolver(provider, entitlement.Config{
		PaymentWindow: cfg.PaymentWindow,
	}, m, logger.With("component", "entitlement"))

	var source worker.Source
	if cfg.Worker.S3Bucket != "" {
		source = worker.NewS3Source(worker.S3Config{
			Endpoint:  cfg.Worker.S3Endpoint,
			Bucket:    cfg.Worker.S3Bucket,
			Prefix:    cfg.Worker.S3Prefix,
			Region:    cfg.Worker.S3Region,
			AccessKey: cfg.Worker.S3AccessKey,
			SecretKey: cfg.Worker.S3SecretKey,
		})
	} else {
		source = worker.NewFileSource(cfg.Worker.Dir)
	}
	negotiator, err := worker.NewNegotiator(worker.Config{
		Verifier:  verifier,
		Checker:   resolver,
		Source:    source,
		Signature: blocklist.Default,
		Metrics:   m,
	}, logger.With("component", "worker"))
	if err != nil {
		slog.Error("failed to build worker negotiator", "error", err)
		os.Exit(1)
	}

	pushStore := store.NewPushStore(db)
	var sender push.Sender
	if cfg.PushEnabled() {
		sender = push.NewService(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.VAPIDSubject)
	}
	notifier := push.NewNotifier(sender, pushStore, m, logger.With("component", "push"))
	notifier.Start(ctx)
	defer notifier.Stop()

	var mailer handler.Mailer
	if emailClient := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.FromEmail, cfg.BaseURL); emailClient.Configured() {
		mailer = emailClient
	}

	srv := server.New(server.Config{
		Verifier:      verifier,
		Checker:       resolver,
		Negotiator:    negotiator,
		Signature:     blocklist.Default,
		Billing:       billing,
		PushStore:     pushStore,
		EventStore:    store.NewBillingEventStore(db),
		Notifier:      notifier,
		PushPublicKey: cfg.Push.VAPIDPublicKey,
		Mailer:        mailer,
		Metrics:       m,
		Gatherer:      reg,
		BaseURL:       cfg.BaseURL,
		StaticDir:     cfg.StaticDir,
		CheckLimit:    cfg.CheckLimit,
	}, logger)

	go srv.RateLimiter().Run(ctx, 10*time.Minute)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("daily starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL, "signature", blocklist.Default.Version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func newVerifier(ctx context.Context, cfg config.Identity) (identity.Verifier, error) {
	if cfg.FirebaseProjectID != "" {
		return identity.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID)
	}
	return identity.NewHMACVerifier(cfg.HMACSecret, cfg.Issuer, cfg.Audience)
}
