// Package websocket pushes entitlement changes to open pages. Each connection
// belongs to one verified subject and only receives that subject's updates.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/flacronsport/daily/internal/premium"
	"github.com/flacronsport/daily/internal/worker"
)

// Hub maintains the set of active clients per subject.
type Hub struct {
	mu       sync.RWMutex
	subjects map[string]map[*Client]struct{}
	logger   *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subjects: make(map[string]map[*Client]struct{}),
		logger:   logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.subjects[c.subject]
	if !ok {
		set = make(map[*Client]struct{})
		h.subjects[c.subject] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if set, ok := h.subjects[c.subject]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
		}
		if len(set) == 0 {
			delete(h.subjects, c.subject)
		}
	}
	h.mu.Unlock()
}

// Publish sends st to every client of subject and returns how many were
// reached. Clients with a full buffer are skipped.
func (h *Hub) Publish(subject string, st premium.State) int {
	data, err := json.Marshal(worker.StatusUpdate(st))
	if err != nil {
		h.logger.Error("marshal status update", "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.subjects[subject] {
		select {
		case c.send <- data:
			n++
		default:
		}
	}
	return n
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subjects {
		n += len(set)
	}
	return n
}
