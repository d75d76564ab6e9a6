// Package blocker neutralizes vendor ad injection on pages of premium users.
// Activate overrides the page's fetch and DOM primitives and returns a Guard
// whose Deactivate puts the originals back.
package blocker

import (
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/flacronsport/daily/internal/blocklist"
	"github.com/flacronsport/daily/internal/page"
)

// SweepInterval is the period of the fallback DOM sweep.
const SweepInterval = 2 * time.Second

// ErrAlreadyActive is returned when a runtime already has an active guard.
var ErrAlreadyActive = errors.New("blocker: already active")

var (
	registryMu sync.Mutex
	active     = make(map[page.Runtime]*Guard)
)

// Guard holds the overrides installed on one runtime.
type Guard struct {
	rt       page.Runtime
	sig      blocklist.Signature
	logger   *slog.Logger
	original page.Primitives

	overridden bool
	disconnect func()
	stop       chan struct{}
	done       chan struct{}
	once       sync.Once

	sweepMu sync.Mutex
	mu      sync.Mutex
	guarded []page.Element
}

// Activate installs the overrides on rt and starts sweeping. A runtime that
// refuses the overrides still gets the sweep.
func Activate(rt page.Runtime, sig blocklist.Signature, logger *slog.Logger) (*Guard, error) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := active[rt]; ok {
		return nil, ErrAlreadyActive
	}

	g := &Guard{
		rt:         rt,
		sig:        sig,
		logger:     logger,
		original:   rt.Primitives(),
		disconnect: func() {},
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	if err := rt.SetPrimitives(g.wrap(g.original)); err != nil {
		logger.Warn("primitive override failed, sweeping only", "error", err)
	} else {
		g.overridden = true
	}

	if disconnect, err := rt.Observe(g.sweep); err != nil {
		logger.Warn("mutation observer unavailable", "error", err)
	} else {
		g.disconnect = disconnect
	}

	g.sweep()
	go g.loop()

	active[rt] = g
	logger.Info("injection blocker active", "signature", sig.Version, "overrides", g.overridden)
	return g, nil
}

// Deactivate restores every original primitive and stops sweeping. It is
// safe to call more than once.
func (g *Guard) Deactivate() {
	g.once.Do(func() {
		close(g.stop)
		<-g.done
		g.disconnect()

		if g.overridden {
			if err := g.rt.SetPrimitives(g.original); err != nil {
				g.logger.Error("restore primitives", "error", err)
			}
		}

		g.mu.Lock()
		for _, el := range g.guarded {
			el.Filter(nil)
		}
		g.guarded = nil
		g.mu.Unlock()

		registryMu.Lock()
		if active[g.rt] == g {
			delete(active, g.rt)
		}
		registryMu.Unlock()
		g.logger.Info("injection blocker inactive")
	})
}

// Overridden reports whether the primitive overrides are installed.
func (g *Guard) Overridden() bool { return g.overridden }

func (g *Guard) loop() {
	defer close(g.done)
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.stop:
			return
		}
	}
}

func (g *Guard) wrap(orig page.Primitives) page.Primitives {
	return page.Primitives{
		Fetch: func(req *page.Request) *page.Response {
			if req != nil && g.sig.MatchURL(req.URL) {
				g.logger.Debug("blocked fetch", "url", req.URL)
				return &page.Response{Status: 200}
			}
			return orig.Fetch(req)
		},
		CreateElement: func(tag string) page.Element {
			el := orig.CreateElement(tag)
			if el == nil {
				return el
			}
			switch strings.ToLower(tag) {
			case "script", "iframe":
				el.Filter(g.allow)
				g.mu.Lock()
				g.guarded = append(g.guarded, el)
				g.mu.Unlock()
			}
			return el
		},
		AppendChild: func(parent, child page.Element) page.Element {
			if g.blocked(child) {
				g.logger.Debug("blocked append", "tag", child.TagName())
				return child
			}
			return orig.AppendChild(parent, child)
		},
		InsertBefore: func(parent, child, ref page.Element) page.Element {
			if g.blocked(child) {
				g.logger.Debug("blocked insert", "tag", child.TagName())
				return child
			}
			return orig.InsertBefore(parent, child, ref)
		},
		SetAttribute: func(el page.Element, name, value string) {
			if !g.allow(name, value) {
				g.logger.Debug("blocked attribute", "name", name, "value", value)
				return
			}
			orig.SetAttribute(el, name, value)
		},
	}
}

func (g *Guard) allow(name, value string) bool {
	return !g.sig.MatchAttribute(name, value)
}

func (g *Guard) blocked(el page.Element) bool {
	if el == nil {
		return false
	}
	return g.sig.MatchElement(Candidate(el, g.sig.ZoneAttr))
}

// sweep removes attached elements that match the signature. Overlapping
// calls are dropped.
func (g *Guard) sweep() {
	if !g.sweepMu.TryLock() {
		return
	}
	defer g.sweepMu.Unlock()

	removed := 0
	for _, el := range g.rt.Document().Elements() {
		switch el.TagName() {
		case "html", "head", "body":
			continue
		}
		if g.sig.MatchElement(Candidate(el, g.sig.ZoneAttr)) {
			el.Remove()
			removed++
		}
	}
	if removed > 0 {
		g.logger.Debug("sweep removed elements", "count", removed)
	}
}

// Candidate builds the view of el the signature matches against.
func Candidate(el page.Element, zoneAttr string) blocklist.Candidate {
	c := blocklist.Candidate{Tag: el.TagName(), Text: el.Text()}
	c.ID, _ = el.Attr("id")
	c.Class, _ = el.Attr("class")
	c.Src, _ = el.Attr("src")
	c.Zone, c.HasZone = el.Attr(zoneAttr)
	return c
}
