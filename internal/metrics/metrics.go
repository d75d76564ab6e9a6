package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instrumentation for the entitlement pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	resolutions      *prometheus.CounterVec
	resolveDuration  prometheus.Histogram
	workerBodies     *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	notificationSent *prometheus.CounterVec
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daily",
				Subsystem: "entitlement",
				Name:      "resolutions_total",
				Help:      "Entitlement resolutions by deciding source",
			},
			[]string{"source"},
		),
		resolveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "daily",
				Subsystem: "entitlement",
				Name:      "resolve_duration_seconds",
				Help:      "Time spent querying the payment provider per resolution",
				Buckets:   prometheus.DefBuckets,
			},
		),
		workerBodies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daily",
				Subsystem: "worker",
				Name:      "bodies_served_total",
				Help:      "Background worker bodies served by slot and variant",
			},
			[]string{"slot", "variant"},
		),
		webhookEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daily",
				Subsystem: "billing",
				Name:      "webhook_events_total",
				Help:      "Stripe webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		notificationSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "daily",
				Subsystem: "notify",
				Name:      "sent_total",
				Help:      "Entitlement change notifications by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.resolutions, m.resolveDuration, m.workerBodies, m.webhookEvents, m.notificationSent)
	}
	return m
}

// ObserveResolution records one entitlement resolution.
func (m *Metrics) ObserveResolution(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(source).Inc()
	m.resolveDuration.Observe(d.Seconds())
}

// ObserveWorkerBody records one negotiated worker response.
func (m *Metrics) ObserveWorkerBody(slot, variant string) {
	if m == nil {
		return
	}
	m.workerBodies.WithLabelValues(slot, variant).Inc()
}

// ObserveWebhook records one processed webhook event.
func (m *Metrics) ObserveWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// ObserveNotification records one entitlement notification attempt.
func (m *Metrics) ObserveNotification(channel, outcome string) {
	if m == nil {
		return
	}
	m.notificationSent.WithLabelValues(channel, outcome).Inc()
}
