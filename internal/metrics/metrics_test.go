package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveResolution(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveResolution("subscription", 10*time.Millisecond)
	m.ObserveResolution("subscription", 20*time.Millisecond)
	m.ObserveResolution("none", time.Millisecond)

	if got := testutil.ToFloat64(m.resolutions.WithLabelValues("subscription")); got != 2 {
		t.Errorf("subscription resolutions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.resolutions.WithLabelValues("none")); got != 1 {
		t.Errorf("none resolutions = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveResolution("error", time.Second)
	m.ObserveWorkerBody("primary", "empty")
	m.ObserveWebhook("invoice.paid", "ok")
	m.ObserveNotification("push", "sent")
}

func TestObserveWorkerBody(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveWorkerBody("secondary", "real")

	if got := testutil.ToFloat64(m.workerBodies.WithLabelValues("secondary", "real")); got != 1 {
		t.Errorf("worker bodies = %v, want 1", got)
	}
}
