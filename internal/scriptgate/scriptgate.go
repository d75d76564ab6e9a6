// Package scriptgate injects or withholds the ad vendor's loader tag
// according to the propagated entitlement.
package scriptgate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/flacronsport/daily/internal/blocklist"
	"github.com/flacronsport/daily/internal/page"
	"github.com/flacronsport/daily/internal/premium"
)

const (
	retryDelay = 500 * time.Millisecond
	maxRetries = 10
)

// Gate owns the loader tag in one document.
type Gate struct {
	rt         page.Runtime
	sig        blocklist.Signature
	logger     *slog.Logger
	retryDelay time.Duration

	mu      sync.Mutex
	closed  bool
	last    premium.State
	retries int
	retry   *time.Timer
}

func New(rt page.Runtime, sig blocklist.Signature, logger *slog.Logger) *Gate {
	return &Gate{rt: rt, sig: sig, logger: logger, retryDelay: retryDelay}
}

// Apply converges the document on st. Pending states are ignored, premium
// removes every loader tag and anything else leaves exactly one.
func (g *Gate) Apply(st premium.State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || st.Pending {
		return
	}
	g.last = st

	tags := g.loaderTags()
	if st.Premium {
		g.stopRetryLocked()
		for _, el := range tags {
			el.Remove()
		}
		if len(tags) > 0 {
			g.logger.Debug("removed ad loader", "count", len(tags))
		}
		return
	}

	if len(tags) == 0 {
		if g.inject() {
			g.retries = 0
		} else {
			g.scheduleRetryLocked()
		}
		return
	}
	for _, el := range tags[1:] {
		el.Remove()
	}
}

// Close removes the loader tag whatever the entitlement and stops the gate.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	g.stopRetryLocked()
	for _, el := range g.loaderTags() {
		el.Remove()
	}
}

// inject adds the loader tag and reports whether it came out complete.
// Overridden primitives may drop the src or zone; such a tag is removed.
func (g *Gate) inject() bool {
	prims := g.rt.Primitives()
	el := prims.CreateElement("script")
	if el == nil {
		g.logger.Warn("create ad loader tag failed")
		return false
	}
	prims.SetAttribute(el, "src", g.sig.LoaderURL)
	prims.SetAttribute(el, g.sig.ZoneAttr, g.sig.LoaderZone)
	prims.SetAttribute(el, "async", "")
	prims.SetAttribute(el, "data-cfasync", "false")

	src, _ := el.Attr("src")
	zone, _ := el.Attr(g.sig.ZoneAttr)
	if src != g.sig.LoaderURL || zone != g.sig.LoaderZone {
		el.Remove()
		g.logger.Warn("ad loader attributes refused, will retry")
		return false
	}

	prims.AppendChild(g.rt.Document().Head(), el)
	if el.Parent() == nil {
		g.logger.Warn("ad loader append refused, will retry")
		return false
	}
	g.logger.Debug("injected ad loader", "src", g.sig.LoaderURL, "zone", g.sig.LoaderZone)
	return true
}

// scheduleRetryLocked re-applies the last state after a delay, a bounded
// number of times.
func (g *Gate) scheduleRetryLocked() {
	if g.retry != nil {
		return
	}
	if g.retries >= maxRetries {
		g.logger.Error("ad loader injection gave up", "attempts", g.retries)
		return
	}
	g.retries++
	g.retry = time.AfterFunc(g.retryDelay, func() {
		g.mu.Lock()
		g.retry = nil
		st := g.last
		g.mu.Unlock()
		g.Apply(st)
	})
}

func (g *Gate) stopRetryLocked() {
	if g.retry != nil {
		g.retry.Stop()
		g.retry = nil
	}
	g.retries = 0
}

func (g *Gate) loaderTags() []page.Element {
	var out []page.Element
	for _, el := range g.rt.Document().Elements() {
		if el.TagName() != "script" {
			continue
		}
		if src, _ := el.Attr("src"); src == g.sig.LoaderURL {
			out = append(out, el)
		}
	}
	return out
}
