package scriptgate

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/flacronsport/daily/internal/blocker"
	"github.com/flacronsport/daily/internal/blocklist"
	"github.com/flacronsport/daily/internal/page/memdom"
	"github.com/flacronsport/daily/internal/premium"
)

func loaders(rt *memdom.Runtime) []*memdom.Node {
	var out []*memdom.Node
	for _, n := range rt.Doc().Find("script") {
		if src, _ := n.Attr("src"); src == blocklist.Default.LoaderURL {
			out = append(out, n)
		}
	}
	return out
}

func TestApplyNotPremiumIsIdempotent(t *testing.T) {
	rt := memdom.New()
	g := New(rt, blocklist.Default, slog.Default())

	g.Apply(premium.State{})
	g.Apply(premium.State{})

	tags := loaders(rt)
	if len(tags) != 1 {
		t.Fatalf("loader tags = %d, want 1", len(tags))
	}

	g.Apply(premium.State{Premium: true})
	if n := len(loaders(rt)); n != 0 {
		t.Errorf("loader tags after premium = %d, want 0", n)
	}
}

func TestLoaderAttributes(t *testing.T) {
	rt := memdom.New()
	g := New(rt, blocklist.Default, slog.Default())
	g.Apply(premium.State{})

	tag := loaders(rt)[0]
	want := map[string]string{
		"data-zone":    "165368",
		"async":        "",
		"data-cfasync": "false",
	}
	for name, value := range want {
		got, ok := tag.Attr(name)
		if !ok {
			t.Errorf("missing attribute %s", name)
			continue
		}
		if got != value {
			t.Errorf("%s = %q, want %q", name, got, value)
		}
	}
	if p := tag.Parent(); p == nil || p.TagName() != "head" {
		t.Error("expected loader in head")
	}
}

func TestPendingIsNoop(t *testing.T) {
	rt := memdom.New()
	g := New(rt, blocklist.Default, slog.Default())

	g.Apply(premium.State{Pending: true})
	if n := len(loaders(rt)); n != 0 {
		t.Fatalf("loader tags while pending = %d, want 0", n)
	}

	g.Apply(premium.State{})
	g.Apply(premium.State{Pending: true, Premium: true})
	if n := len(loaders(rt)); n != 1 {
		t.Errorf("pending state changed tags: %d, want 1", n)
	}
}

func TestDuplicatesCollapsed(t *testing.T) {
	rt := memdom.New()
	g := New(rt, blocklist.Default, slog.Default())
	g.Apply(premium.State{})

	// A second copy added by someone else.
	prims := rt.Primitives()
	extra := prims.CreateElement("script")
	prims.SetAttribute(extra, "src", blocklist.Default.LoaderURL)
	prims.AppendChild(rt.Document().Body(), extra)

	g.Apply(premium.State{})
	if n := len(loaders(rt)); n != 1 {
		t.Errorf("loader tags = %d, want 1", n)
	}
}

func TestCloseRemovesRegardless(t *testing.T) {
	rt := memdom.New()
	g := New(rt, blocklist.Default, slog.Default())
	g.Apply(premium.State{})

	g.Close()
	if n := len(loaders(rt)); n != 0 {
		t.Fatalf("loader tags after close = %d, want 0", n)
	}
	g.Apply(premium.State{})
	if n := len(loaders(rt)); n != 0 {
		t.Errorf("closed gate injected again: %d tags", n)
	}
}

func TestFollowsContext(t *testing.T) {
	rt := memdom.New()
	g := New(rt, blocklist.Default, slog.Default())
	ctx := premium.New(nil, slog.Default())
	cancel := ctx.Subscribe(g.Apply)
	defer cancel()

	if n := len(loaders(rt)); n != 0 {
		t.Fatalf("tags before resolution = %d, want 0", n)
	}
	ctx.SetIdentity("")
	if n := len(loaders(rt)); n != 1 {
		t.Errorf("tags after sign-out = %d, want 1", n)
	}
}

type alwaysPremium struct{}

func (alwaysPremium) Premium(context.Context, string) (bool, error) { return true, nil }

func scripts(rt *memdom.Runtime) int {
	return len(rt.Doc().Find("script"))
}

// The page subscribes the blocker before the gate; a downgrade must leave
// one complete loader tag every time.
func TestDowngradeWithBlockerLeavesOneLoader(t *testing.T) {
	for i := range 100 {
		rt := memdom.New()
		ctx := premium.New(alwaysPremium{}, slog.Default())
		ctrl := blocker.NewController(rt, blocklist.Default, slog.Default())
		g := New(rt, blocklist.Default, slog.Default())
		ctx.Subscribe(ctrl.Apply)
		ctx.Subscribe(g.Apply)

		ctx.SetIdentity("U1")
		ctx.Wait()
		if !ctrl.Active() || len(loaders(rt)) != 0 {
			t.Fatalf("run %d: premium state: blocker active %v, loaders %d", i, ctrl.Active(), len(loaders(rt)))
		}

		ctx.Apply("U1", premium.State{})
		tags := loaders(rt)
		if len(tags) != 1 || scripts(rt) != 1 {
			t.Fatalf("run %d: loaders = %d, scripts = %d, want 1", i, len(tags), scripts(rt))
		}
		if zone, _ := tags[0].Attr("data-zone"); zone != blocklist.Default.LoaderZone {
			t.Fatalf("run %d: data-zone = %q", i, zone)
		}
		if ctrl.Active() {
			t.Fatalf("run %d: blocker still active after downgrade", i)
		}

		g.Close()
		ctrl.Close()
	}
}

func TestInjectRetriesWhileBlocked(t *testing.T) {
	rt := memdom.New()
	guard, err := blocker.Activate(rt, blocklist.Default, slog.Default())
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	g := New(rt, blocklist.Default, slog.Default())
	g.retryDelay = 5 * time.Millisecond
	defer g.Close()

	g.Apply(premium.State{})
	if n := scripts(rt); n != 0 {
		t.Fatalf("scripts while blocked = %d, want 0", n)
	}

	guard.Deactivate()
	deadline := time.Now().Add(2 * time.Second)
	for len(loaders(rt)) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(loaders(rt)); n != 1 {
		t.Fatalf("loaders after unblock = %d, want 1", n)
	}
	if n := scripts(rt); n != 1 {
		t.Errorf("scripts = %d, want 1", n)
	}
}
