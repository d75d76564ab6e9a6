//go:build js && wasm

package browser

import (
	"context"
	"fmt"
	"sync"
	"syscall/js"

	"github.com/flacronsport/daily/internal/lifecycle"
)

// Container is navigator.serviceWorker.
type Container struct {
	v js.Value
}

func NewContainer() *Container {
	nav := js.Global().Get("navigator")
	if !present(nav) {
		return &Container{v: js.Undefined()}
	}
	return &Container{v: nav.Get("serviceWorker")}
}

func (c *Container) Supported() bool { return present(c.v) }

func (c *Container) Registrations(ctx context.Context) ([]lifecycle.Registration, error) {
	if !c.Supported() {
		return nil, errUnsupported
	}
	list, err := await(ctx, c.v.Call("getRegistrations"))
	if err != nil {
		return nil, fmt.Errorf("get registrations: %w", err)
	}
	out := make([]lifecycle.Registration, 0, list.Length())
	for i := range list.Length() {
		out = append(out, &Registration{v: list.Index(i)})
	}
	return out, nil
}

func (c *Container) Register(ctx context.Context, scriptURL string, opts lifecycle.RegisterOptions) (lifecycle.Registration, error) {
	if !c.Supported() {
		return nil, errUnsupported
	}
	options := map[string]any{}
	if opts.Scope != "" {
		options["scope"] = opts.Scope
	}
	if opts.UpdateViaCache != "" {
		options["updateViaCache"] = opts.UpdateViaCache
	}
	reg, err := await(ctx, c.v.Call("register", scriptURL, options))
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", scriptURL, err)
	}
	return &Registration{v: reg}, nil
}

// OnMessage delivers worker messages as JSON. Replies go back to the
// posting worker, or to the page's controller when the source is unknown.
func (c *Container) OnMessage(fn func(raw []byte, reply func([]byte) error)) (func(), error) {
	if !c.Supported() {
		return nil, errUnsupported
	}
	cb := js.FuncOf(func(this js.Value, args []js.Value) any {
		event := arg(args, 0)
		raw, err := stringify(event.Get("data"))
		if err != nil {
			return nil
		}
		target := event.Get("source")
		if !present(target) {
			target = c.v.Get("controller")
		}
		reply := func(out []byte) error {
			if !present(target) {
				return fmt.Errorf("reply: %w", errUnsupported)
			}
			msg, err := parse(out)
			if err != nil {
				return err
			}
			return catch(func() { target.Call("postMessage", msg) })
		}
		go fn(raw, reply)
		return nil
	})
	c.v.Call("addEventListener", "message", cb)
	if c.v.Get("startMessages").Type() == js.TypeFunction {
		c.v.Call("startMessages")
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.v.Call("removeEventListener", "message", cb)
			cb.Release()
		})
	}, nil
}

// Registration is a ServiceWorkerRegistration.
type Registration struct {
	v js.Value
}

// newest is the installing, waiting or active worker, in that order.
func (r *Registration) newest() js.Value {
	for _, state := range []string{"installing", "waiting", "active"} {
		if w := r.v.Get(state); present(w) {
			return w
		}
	}
	return js.Undefined()
}

func (r *Registration) ScriptURL() string {
	if w := r.newest(); present(w) {
		return w.Get("scriptURL").String()
	}
	return ""
}

func (r *Registration) Scope() string {
	return r.v.Get("scope").String()
}

func (r *Registration) PostMessage(raw []byte) error {
	w := r.v.Get("active")
	if !present(w) {
		return fmt.Errorf("post message: no active worker")
	}
	msg, err := parse(raw)
	if err != nil {
		return err
	}
	return catch(func() { w.Call("postMessage", msg) })
}

func (r *Registration) Update(ctx context.Context) error {
	if _, err := await(ctx, r.v.Call("update")); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

func (r *Registration) Unregister(ctx context.Context) error {
	if _, err := await(ctx, r.v.Call("unregister")); err != nil {
		return fmt.Errorf("unregister: %w", err)
	}
	return nil
}
