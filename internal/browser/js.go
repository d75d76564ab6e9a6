//go:build js && wasm

// Package browser binds the page-side components to a real browser through
// syscall/js. It implements page.Runtime over window and document and
// lifecycle.Container over navigator.serviceWorker.
//
// Callbacks that the browser invokes must never wait on the event loop, so
// anything that awaits a promise runs on its own goroutine.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"syscall/js"

	"github.com/flacronsport/daily/internal/premium"
)

// SnapshotElementID is the id of the JSON script element the server renders.
const SnapshotElementID = "premium-state"

var errUnsupported = errors.New("browser: not supported")

// await blocks the calling goroutine until p settles or ctx is done.
func await(ctx context.Context, p js.Value) (js.Value, error) {
	type result struct {
		v   js.Value
		err error
	}
	ch := make(chan result, 1)
	onOK := js.FuncOf(func(this js.Value, args []js.Value) any {
		ch <- result{v: arg(args, 0)}
		return nil
	})
	onErr := js.FuncOf(func(this js.Value, args []js.Value) any {
		ch <- result{err: jsError(arg(args, 0))}
		return nil
	})
	release := func() {
		onOK.Release()
		onErr.Release()
	}

	if err := catch(func() { p.Call("then", onOK, onErr) }); err != nil {
		release()
		return js.Undefined(), err
	}

	select {
	case r := <-ch:
		release()
		return r.v, r.err
	case <-ctx.Done():
		// The promise still holds the callbacks.
		go func() {
			<-ch
			release()
		}()
		return js.Undefined(), ctx.Err()
	}
}

// catch runs fn and turns a thrown JS exception into an error.
func catch(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if jerr, ok := p.(js.Error); ok {
				err = jerr
				return
			}
			panic(p)
		}
	}()
	fn()
	return nil
}

func jsError(v js.Value) error {
	if v.Type() == js.TypeObject {
		if msg := v.Get("message"); msg.Type() == js.TypeString {
			return fmt.Errorf("%s: %s", v.Get("name").String(), msg.String())
		}
	}
	return fmt.Errorf("rejected: %s", js.Global().Call("String", v).String())
}

func arg(args []js.Value, i int) js.Value {
	if i < len(args) {
		return args[i]
	}
	return js.Undefined()
}

func present(v js.Value) bool {
	return !v.IsUndefined() && !v.IsNull()
}

// stringify encodes a JS value as JSON.
func stringify(v js.Value) ([]byte, error) {
	var out string
	err := catch(func() {
		out = js.Global().Get("JSON").Call("stringify", v).String()
	})
	if err != nil {
		return nil, fmt.Errorf("stringify: %w", err)
	}
	return []byte(out), nil
}

// parse decodes raw JSON into a JS value.
func parse(raw []byte) (js.Value, error) {
	var v js.Value
	err := catch(func() {
		v = js.Global().Get("JSON").Call("parse", string(raw))
	})
	if err != nil {
		return js.Undefined(), fmt.Errorf("parse: %w", err)
	}
	return v, nil
}

// ReadSnapshot returns the entitlement the server rendered into the page.
func ReadSnapshot() (premium.Snapshot, bool) {
	el := js.Global().Get("document").Call("getElementById", SnapshotElementID)
	if !present(el) {
		return premium.Snapshot{}, false
	}
	var snap premium.Snapshot
	if err := json.Unmarshal([]byte(el.Get("textContent").String()), &snap); err != nil {
		return premium.Snapshot{}, false
	}
	return snap, true
}

// Origin is the page's origin, e.g. https://flacronsport.com.
func Origin() string {
	return js.Global().Get("location").Get("origin").String()
}

// SocketURL turns a same-origin path into a ws:// or wss:// URL.
func SocketURL(path string) string {
	origin := Origin()
	switch {
	case strings.HasPrefix(origin, "https://"):
		return "wss://" + strings.TrimPrefix(origin, "https://") + path
	default:
		return "ws://" + strings.TrimPrefix(origin, "http://") + path
	}
}

// Expose installs window[name] as an object whose methods call the given
// functions on their own goroutine. The returned func removes it.
func Expose(name string, methods map[string]func(args []string)) (remove func()) {
	obj := js.Global().Get("Object").New()
	funcs := make([]js.Func, 0, len(methods))
	for method, fn := range methods {
		f := js.FuncOf(func(this js.Value, args []js.Value) any {
			strs := make([]string, len(args))
			for i, a := range args {
				if a.Type() == js.TypeString {
					strs[i] = a.String()
				}
			}
			go fn(strs)
			return nil
		})
		funcs = append(funcs, f)
		obj.Set(method, f)
	}
	js.Global().Set(name, obj)
	return func() {
		js.Global().Delete(name)
		for _, f := range funcs {
			f.Release()
		}
	}
}

// OnPageHide calls fn once when the page is being unloaded.
func OnPageHide(fn func()) {
	cb := js.FuncOf(func(this js.Value, args []js.Value) any {
		fn()
		return nil
	})
	js.Global().Call("addEventListener", "pagehide", cb, map[string]any{"once": true})
}
