// Package premium holds the session-scoped entitlement state every
// page-side component reads. Resolutions run asynchronously; only the most
// recently started one may publish its result.
package premium

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const resolveTimeout = 10 * time.Second

// State is what dependents observe. Pending means unknown, not "not premium".
type State struct {
	Premium bool `json:"premium"`
	Pending bool `json:"pending"`
}

// Snapshot is the server's answer embedded in a rendered page. Pages seed
// their Context from it before re-resolving.
type Snapshot struct {
	Subject string `json:"subject"`
	Premium bool   `json:"premium"`
}

// Checker resolves entitlement for a subject. *entitlement.Resolver and
// *RemoteChecker both satisfy it.
type Checker interface {
	Premium(ctx context.Context, subject string) (bool, error)
}

type subscriber struct {
	id int
	fn func(State)
}

type delivery struct {
	state State
	// only is set when the delivery targets a single new subscriber.
	only int
}

// Context propagates entitlement to its subscribers.
type Context struct {
	checker Checker
	logger  *slog.Logger

	mu         sync.Mutex
	subject    string
	identified bool
	generation uint64
	state      State

	subs       []subscriber
	nextSub    int
	queue      []delivery
	delivering bool

	inflight sync.WaitGroup
}

// New creates a context in the initial pending state.
func New(checker Checker, logger *slog.Logger) *Context {
	return &Context{
		checker: checker,
		logger:  logger,
		state:   State{Pending: true},
	}
}

// State returns the current state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subject returns the identity the current state belongs to.
func (c *Context) Subject() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subject
}

// SetIdentity records the signed-in subject, or "" after sign-out. A change
// moves the context to pending and starts a resolution; setting the same
// identity again does nothing.
func (c *Context) SetIdentity(subject string) {
	c.mu.Lock()
	if c.identified && subject == c.subject {
		c.mu.Unlock()
		return
	}
	c.subject = subject
	c.identified = true
	c.generation++

	if subject == "" {
		c.publishLocked(State{})
		c.mu.Unlock()
		c.drain()
		return
	}

	gen := c.generation
	c.publishLocked(State{Pending: true})
	c.inflight.Add(1)
	c.mu.Unlock()
	c.drain()

	go c.resolve(gen, subject)
}

// Seed starts the context from an answer the server already computed for
// subject, then re-resolves in the background without going pending.
func (c *Context) Seed(subject string, premium bool) {
	c.mu.Lock()
	c.subject = subject
	c.identified = true
	c.generation++
	c.publishLocked(State{Premium: premium && subject != ""})
	c.mu.Unlock()
	c.drain()

	c.Refresh()
}

// Refresh re-resolves the current identity, e.g. after checkout completes.
// The current state stays visible until the new result arrives.
func (c *Context) Refresh() {
	c.mu.Lock()
	if !c.identified || c.subject == "" {
		c.mu.Unlock()
		return
	}
	c.generation++
	gen, subject := c.generation, c.subject
	c.inflight.Add(1)
	c.mu.Unlock()

	go c.resolve(gen, subject)
}

// Apply sets state directly from a status message pushed by the server for
// the current subject.
func (c *Context) Apply(subject string, st State) {
	c.mu.Lock()
	if !c.identified || subject != c.subject {
		c.mu.Unlock()
		return
	}
	c.generation++
	c.publishLocked(st)
	c.mu.Unlock()
	c.drain()
}

// Subscribe registers fn for every state transition, in order. fn first
// receives the current state. Each transition reaches subscribers in the
// order they subscribed. The returned func removes the subscription.
func (c *Context) Subscribe(fn func(State)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.queue = append(c.queue, delivery{state: c.state, only: id + 1})
	c.mu.Unlock()
	c.drain()

	return func() {
		c.mu.Lock()
		c.subs = slices.DeleteFunc(c.subs, func(s subscriber) bool { return s.id == id })
		c.mu.Unlock()
	}
}

// Wait blocks until every started resolution has completed.
func (c *Context) Wait() {
	c.inflight.Wait()
}

func (c *Context) resolve(gen uint64, subject string) {
	defer c.inflight.Done()

	premium := c.check(subject)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug("discarding stale entitlement", "subject", subject, "generation", gen)
		return
	}
	c.publishLocked(State{Premium: premium})
	c.mu.Unlock()
	c.drain()
}

func (c *Context) check(subject string) (premium bool) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("entitlement check panic", "subject", subject, "panic", fmt.Sprint(p))
			premium = false
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	ok, err := c.checker.Premium(ctx, subject)
	if err != nil {
		c.logger.Warn("entitlement check failed", "subject", subject, "error", err)
		return false
	}
	return ok
}

func (c *Context) publishLocked(st State) {
	if st == c.state {
		return
	}
	c.state = st
	c.queue = append(c.queue, delivery{state: st})
}

// drain delivers queued transitions outside the lock. A single caller drains
// at a time, so subscribers see transitions in publish order and may call
// back into the context.
func (c *Context) drain() {
	c.mu.Lock()
	if c.delivering {
		c.mu.Unlock()
		return
	}
	c.delivering = true
	for len(c.queue) > 0 {
		d := c.queue[0]
		c.queue = c.queue[1:]

		var fns []func(State)
		if d.only > 0 {
			for _, s := range c.subs {
				if s.id == d.only-1 {
					fns = append(fns, s.fn)
				}
			}
		} else {
			for _, s := range c.subs {
				fns = append(fns, s.fn)
			}
		}
		c.mu.Unlock()
		for _, fn := range fns {
			fn(d.state)
		}
		c.mu.Lock()
	}
	c.delivering = false
	c.mu.Unlock()
}
