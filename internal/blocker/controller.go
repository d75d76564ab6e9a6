package blocker

import (
	"log/slog"
	"sync"

	"github.com/flacronsport/daily/internal/blocklist"
	"github.com/flacronsport/daily/internal/page"
	"github.com/flacronsport/daily/internal/premium"
)

// Controller keeps a guard active while the page is known premium.
//
// A pending state leaves the guard as it is. Once premium is established
// the page keeps suppressing ads until a resolution says otherwise. This
// includes an identity switch: after a premium user signs out and another
// signs in, the guard stays installed until the new identity resolves, and
// a non-premium result then removes it.
type Controller struct {
	rt     page.Runtime
	sig    blocklist.Signature
	logger *slog.Logger

	mu     sync.Mutex
	guard  *Guard
	closed bool
}

func NewController(rt page.Runtime, sig blocklist.Signature, logger *slog.Logger) *Controller {
	return &Controller{rt: rt, sig: sig, logger: logger}
}

func (c *Controller) Apply(st premium.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || st.Pending {
		return
	}

	if !st.Premium {
		c.releaseLocked()
		return
	}
	if c.guard != nil {
		return
	}
	g, err := Activate(c.rt, c.sig, c.logger)
	if err != nil {
		c.logger.Error("activate injection blocker", "error", err)
		return
	}
	c.guard = g
}

// Active reports whether the controller currently holds a guard.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guard != nil
}

// Close deactivates the guard and ignores later states.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.releaseLocked()
}

func (c *Controller) releaseLocked() {
	if c.guard == nil {
		return
	}
	c.guard.Deactivate()
	c.guard = nil
}
