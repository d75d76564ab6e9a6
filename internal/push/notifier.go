package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flacronsport/daily/internal/metrics"
	"github.com/flacronsport/daily/internal/model"
	"github.com/flacronsport/daily/internal/premium"
	"github.com/flacronsport/daily/internal/worker"
)

// sendConcurrency caps parallel sends for one subject.
const sendConcurrency = 4

// Subscriptions is the storage the notifier reads and prunes.
type Subscriptions interface {
	ListBySubject(subject string) ([]model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

type job struct {
	subject string
	payload Payload
}

// Notifier fans status updates out to every subscription a subject holds.
// Notify delivers inline; Enqueue hands the work to the loop started by Start.
type Notifier struct {
	mu      sync.RWMutex
	sender  Sender
	subs    Subscriptions
	metrics *metrics.Metrics
	logger  *slog.Logger
	queue   chan job
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewNotifier creates a notifier. sender may be nil, in which case every
// notification is skipped.
func NewNotifier(sender Sender, subs Subscriptions, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		subs:    subs,
		metrics: m,
		logger:  logger,
		queue:   make(chan job, 64),
	}
}

// StatusPayload builds the payload announcing st.
func StatusPayload(st premium.State) Payload {
	msg := worker.StatusUpdate(st)
	p := Payload{Type: msg.Type, Premium: msg.Premium, Pending: msg.Pending, URL: "/", Tag: "premium-status"}
	if st.Premium {
		p.Title = "Premium is active"
		p.Body = "Ads are now hidden on Flacron Sports Daily."
	} else if !st.Pending {
		p.Title = "Premium has ended"
		p.Body = "Your subscription is no longer active."
	}
	return p
}

// Notify sends payload to every subscription of subject and returns the
// number delivered. Expired subscriptions are deleted.
func (n *Notifier) Notify(ctx context.Context, subject string, payload Payload) (int, error) {
	if n.sender == nil {
		n.metrics.ObserveNotification("push", "disabled")
		return 0, nil
	}
	subs, err := n.subs.ListBySubject(subject)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	var (
		mu   sync.Mutex
		sent int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sendConcurrency)
	for i := range subs {
		sub := &subs[i]
		g.Go(func() error {
			err := n.sender.Send(gctx, sub, data)
			switch {
			case errors.Is(err, ErrExpired):
				n.metrics.ObserveNotification("push", "expired")
				if derr := n.subs.DeleteByEndpoint(sub.Endpoint); derr != nil {
					n.logger.Error("delete expired subscription", "subscription_id", sub.ID, "error", derr)
				}
			case err != nil:
				n.metrics.ObserveNotification("push", "error")
				n.logger.Warn("push send failed", "subscription_id", sub.ID, "error", err)
			default:
				n.metrics.ObserveNotification("push", "sent")
				mu.Lock()
				sent++
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return sent, nil
}

// Enqueue schedules a notification for the running loop. It reports false
// when the queue is full.
func (n *Notifier) Enqueue(subject string, payload Payload) bool {
	select {
	case n.queue <- job{subject: subject, payload: payload}:
		return true
	default:
		n.metrics.ObserveNotification("push", "dropped")
		n.logger.Warn("push queue full", "subject", subject)
		return false
	}
}

// Start begins the delivery loop.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	n.mu.Unlock()

	go func() {
		defer close(n.done)
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-n.queue:
				sent, err := n.Notify(ctx, j.subject, j.payload)
				if err != nil {
					n.logger.Error("push notify", "subject", j.subject, "error", err)
					continue
				}
				n.logger.Debug("push notify", "subject", j.subject, "sent", sent)
			}
		}
	}()
}

// Stop stops the delivery loop and waits for it to exit.
func (n *Notifier) Stop() {
	n.mu.RLock()
	cancel := n.cancel
	done := n.done
	n.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
