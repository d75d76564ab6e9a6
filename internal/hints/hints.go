// Package hints keeps a websocket open to the entitlement endpoint and feeds
// the status updates the server publishes into the page's propagation
// context.
package hints

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	ws "github.com/coder/websocket"

	"github.com/flacronsport/daily/internal/premium"
	"github.com/flacronsport/daily/internal/worker"
)

// DefaultPath is the entitlement socket served by cmd/daily.
const DefaultPath = "/ws/entitlement"

// Target receives status updates for the subject the connection was opened
// for. *premium.Context satisfies it.
type Target interface {
	Subject() string
	Apply(subject string, st premium.State)
}

type Config struct {
	// URL is the absolute ws:// or wss:// address of the socket.
	URL        string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// DialOptions are passed to every dial; tests use them for headers.
	DialOptions *ws.DialOptions
}

// Listener maintains the connection, redialing with backoff.
type Listener struct {
	cfg    Config
	target Target
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func New(cfg Config, target Target, logger *slog.Logger) *Listener {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = time.Minute
	}
	return &Listener{cfg: cfg, target: target, logger: logger}
}

// Run connects and reconnects until ctx is done. Anonymous pages do not
// connect; Run waits for an identity instead.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.cfg.MinBackoff
	for {
		subject := l.target.Subject()
		if subject != "" {
			connected, err := l.session(ctx, subject)
			if ctx.Err() != nil {
				return
			}
			if connected {
				backoff = l.cfg.MinBackoff
			}
			if err != nil {
				l.logger.Debug("entitlement socket closed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.cfg.MaxBackoff)
	}
}

// Reset drops the current connection so the next one is opened for the
// current subject.
func (l *Listener) Reset() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (l *Listener) session(ctx context.Context, subject string) (connected bool, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	conn, _, err := ws.Dial(ctx, l.cfg.URL, l.cfg.DialOptions)
	if err != nil {
		return false, fmt.Errorf("dial entitlement socket: %w", err)
	}
	defer conn.CloseNow()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ws.CloseStatus(err) == ws.StatusNormalClosure {
				return true, nil
			}
			return true, fmt.Errorf("read entitlement socket: %w", err)
		}
		msg, ok, err := worker.ParseMessage(data)
		if err != nil || !ok || msg.Type != worker.TypeStatusUpdate || msg.Pending {
			continue
		}
		l.target.Apply(subject, msg.State())
	}
}
