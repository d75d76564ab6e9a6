// Package lifecycle keeps the page's background worker registrations in
// step with the propagated entitlement.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/flacronsport/daily/internal/premium"
	"github.com/flacronsport/daily/internal/worker"
)

const syncTimeout = 30 * time.Second

// RegisterOptions are passed to Container.Register.
type RegisterOptions struct {
	Scope          string
	UpdateViaCache string
}

// Registration is one browser-owned worker registration.
type Registration interface {
	// ScriptURL of the newest worker in the registration.
	ScriptURL() string
	Scope() string
	// PostMessage sends raw to the active worker.
	PostMessage(raw []byte) error
	// Update asks the browser to re-fetch the script.
	Update(ctx context.Context) error
	Unregister(ctx context.Context) error
}

// Container is the page's worker registration table.
type Container interface {
	Supported() bool
	Registrations(ctx context.Context) ([]Registration, error)
	Register(ctx context.Context, scriptURL string, opts RegisterOptions) (Registration, error)
	// OnMessage calls fn for every message a worker posts to the page.
	OnMessage(fn func(raw []byte, reply func([]byte) error)) (stop func(), err error)
}

// Strategy selects how an existing registration is brought up to date.
type Strategy int

const (
	// Message posts the new status to the running worker and asks the
	// browser to re-fetch the script in place.
	Message Strategy = iota
	// Reregister registers a fresh cache-busted script, then removes the
	// registrations it replaces.
	Reregister
)

// Slot is a worker slot as the page registers it.
type Slot struct {
	worker.Slot
	Scope string
	// Legacy lists older script paths that belong to this slot.
	Legacy []string
}

// Slots are the two registrations the page keeps. The browser holds one
// registration per scope, so each slot has its own.
var Slots = []Slot{
	{Slot: worker.Primary, Scope: "/", Legacy: []string{"/api/sw"}},
	{Slot: worker.Secondary, Scope: "/s2/", Legacy: []string{"/api/sw2", "/sw (2).js"}},
}

// Manager syncs registrations on entitlement transitions.
type Manager struct {
	container Container
	strategy  Strategy
	logger    *slog.Logger
	newToken  func() string

	mu    sync.Mutex
	state premium.State
	hint  func()

	syncMu sync.Mutex
	wg     sync.WaitGroup
}

func New(container Container, strategy Strategy, logger *slog.Logger) *Manager {
	m := &Manager{
		container: container,
		strategy:  strategy,
		logger:    logger,
		newToken:  uuid.NewString,
		state:     premium.State{Pending: true},
	}
	if container == nil || !container.Supported() {
		logger.Info("background workers unsupported, lifecycle manager inert")
	}
	return m
}

func (m *Manager) supported() bool {
	return m.container != nil && m.container.Supported()
}

// Listen answers status requests from workers until stop is called.
func (m *Manager) Listen() (stop func()) {
	if !m.supported() {
		return func() {}
	}
	stop, err := m.container.OnMessage(m.HandleMessage)
	if err != nil {
		m.logger.Warn("listen for worker messages", "error", err)
		return func() {}
	}
	return stop
}

// Apply records st and, once it is resolved, syncs the registrations in
// the background. It is meant to be a premium.Context subscriber.
func (m *Manager) Apply(st premium.State) {
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()

	if st.Pending || !m.supported() {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if err := m.Sync(ctx); err != nil {
			m.logger.Error("sync worker registrations", "error", err)
		}
	}()
}

// Wait blocks until background syncs started by Apply have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// State returns the last state the manager saw.
func (m *Manager) State() premium.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Sync brings every slot in line with the current state. Syncs are
// serialized; each one uses the state current when it starts.
func (m *Manager) Sync(ctx context.Context) error {
	if !m.supported() {
		return nil
	}
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	st := m.State()
	if st.Pending {
		return nil
	}

	regs, err := m.container.Registrations(ctx)
	if err != nil {
		return fmt.Errorf("list registrations: %w", err)
	}
	bySlot := make(map[string][]Registration)
	for _, reg := range regs {
		if slot, ok := slotFor(reg); ok {
			bySlot[slot.Name] = append(bySlot[slot.Name], reg)
		}
	}

	var g errgroup.Group
	for _, slot := range Slots {
		g.Go(func() error {
			return m.syncSlot(ctx, slot, bySlot[slot.Name], st)
		})
	}
	return g.Wait()
}

func (m *Manager) syncSlot(ctx context.Context, slot Slot, regs []Registration, st premium.State) error {
	if len(regs) == 0 {
		_, err := m.register(ctx, slot)
		return err
	}
	if m.strategy == Message {
		err := m.notify(ctx, regs, st)
		if err == nil {
			return nil
		}
		m.logger.Warn("in-place worker update failed, re-registering", "slot", slot.Name, "error", err)
	}
	return m.reregister(ctx, slot, regs)
}

func (m *Manager) notify(ctx context.Context, regs []Registration, st premium.State) error {
	raw, err := json.Marshal(worker.StatusUpdate(st))
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	var errs []error
	for _, reg := range regs {
		if err := reg.PostMessage(raw); err != nil {
			errs = append(errs, fmt.Errorf("post status: %w", err))
			continue
		}
		if err := reg.Update(ctx); err != nil {
			errs = append(errs, fmt.Errorf("update registration: %w", err))
		}
	}
	return errors.Join(errs...)
}

// reregister installs the fresh script before removing anything, so a
// failure leaves the old registrations in place.
func (m *Manager) reregister(ctx context.Context, slot Slot, stale []Registration) error {
	fresh, err := m.register(ctx, slot)
	if err != nil {
		return err
	}
	for _, reg := range stale {
		if reg.Scope() == fresh.Scope() {
			// Registering into the same scope replaced it in place.
			continue
		}
		if err := reg.Unregister(ctx); err != nil {
			m.logger.Warn("unregister stale worker", "slot", slot.Name, "script", reg.ScriptURL(), "error", err)
		}
	}
	return nil
}

func (m *Manager) register(ctx context.Context, slot Slot) (Registration, error) {
	script := slot.Path + "?v=" + m.newToken()
	reg, err := m.container.Register(ctx, script, RegisterOptions{Scope: slot.Scope, UpdateViaCache: "none"})
	if err != nil {
		return nil, fmt.Errorf("register %s worker: %w", slot.Name, err)
	}
	m.logger.Debug("registered worker", "slot", slot.Name, "script", script)
	return reg, nil
}

// OnHint sets fn to be called when a worker forwards a status update it
// received by push. The update itself is not trusted; fn should re-resolve.
func (m *Manager) OnHint(fn func()) {
	m.mu.Lock()
	m.hint = fn
	m.mu.Unlock()
}

// HandleMessage answers a worker's status request with the current state.
// Forwarded status updates go to the hint callback. Unknown and malformed
// messages are ignored.
func (m *Manager) HandleMessage(raw []byte, reply func([]byte) error) {
	msg, ok, err := worker.ParseMessage(raw)
	if err != nil {
		m.logger.Debug("ignoring malformed worker message", "error", err)
		return
	}
	if !ok {
		return
	}
	if msg.Type == worker.TypeStatusUpdate {
		m.mu.Lock()
		hint := m.hint
		m.mu.Unlock()
		if hint != nil {
			hint()
		}
		return
	}
	out, err := json.Marshal(worker.StatusUpdate(m.State()))
	if err != nil {
		m.logger.Error("encode status reply", "error", err)
		return
	}
	if err := reply(out); err != nil {
		m.logger.Warn("reply to worker", "error", err)
	}
}

func slotFor(reg Registration) (Slot, bool) {
	u, err := url.Parse(reg.ScriptURL())
	if err != nil {
		return Slot{}, false
	}
	for _, slot := range Slots {
		if u.Path == slot.Path {
			return slot, true
		}
		for _, legacy := range slot.Legacy {
			if u.Path == legacy {
				return slot, true
			}
		}
	}
	return Slot{}, false
}
