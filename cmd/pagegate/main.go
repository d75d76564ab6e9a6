//go:build js && wasm

// Command pagegate is the page-side half of ad suppression. It is built with
// GOOS=js GOARCH=wasm into static/pagegate.wasm and loaded by the home page.
package main

import (
	"context"

	"github.com/flacronsport/daily/internal/blocker"
	"github.com/flacronsport/daily/internal/blocklist"
	"github.com/flacronsport/daily/internal/browser"
	"github.com/flacronsport/daily/internal/hints"
	"github.com/flacronsport/daily/internal/lifecycle"
	"github.com/flacronsport/daily/internal/logging"
	"github.com/flacronsport/daily/internal/premium"
	"github.com/flacronsport/daily/internal/scriptgate"
)

func main() {
	logger := logging.Setup("info", "text")

	// Capture the globals before the vendor loader can touch them.
	rt := browser.NewRuntime()
	sig := blocklist.Default

	pctx := premium.New(premium.NewRemoteChecker(premium.RemoteConfig{URL: premium.DefaultCheckPath}), logger)

	ctrl := blocker.NewController(rt, sig, logger)
	gate := scriptgate.New(rt, sig, logger)
	mgr := lifecycle.New(browser.NewContainer(), lifecycle.Message, logger)
	mgr.OnHint(pctx.Refresh)
	stopWorkers := mgr.Listen()

	// Subscribers run in this order: the blocker lets go of the primitives
	// before the gate injects the loader on a downgrade.
	unsubscribe := []func(){
		pctx.Subscribe(ctrl.Apply),
		pctx.Subscribe(gate.Apply),
		pctx.Subscribe(mgr.Apply),
	}

	if snap, ok := browser.ReadSnapshot(); ok {
		pctx.Seed(snap.Subject, snap.Premium)
	} else {
		pctx.SetIdentity("")
	}

	ctx, cancel := context.WithCancel(context.Background())
	listener := hints.New(hints.Config{URL: browser.SocketURL(hints.DefaultPath)}, pctx, logger)
	go listener.Run(ctx)

	removeHook := browser.Expose("dailyPremium", map[string]func(args []string){
		// Called by the sign-in flow with the new subject, or none on sign-out.
		"setIdentity": func(args []string) {
			subject := ""
			if len(args) > 0 {
				subject = args[0]
			}
			pctx.SetIdentity(subject)
			listener.Reset()
		},
		// Called after checkout returns.
		"refresh": func([]string) {
			pctx.Refresh()
		},
	})

	browser.OnPageHide(func() {
		cancel()
		removeHook()
		for _, fn := range unsubscribe {
			fn()
		}
		stopWorkers()
		ctrl.Close()
		gate.Close()
	})

	select {}
}
