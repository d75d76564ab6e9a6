//go:build js && wasm

package browser

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"syscall/js"

	"github.com/flacronsport/daily/internal/page"
)

// ErrOverrideRefused is returned when the page does not accept a
// replacement for one of the globals.
var ErrOverrideRefused = errors.New("browser: primitive override refused")

// slot is one overridable global: an owner object and the property on it.
type slot struct {
	owner    js.Value
	name     string
	original js.Value
}

// Runtime is the live page.
type Runtime struct {
	window js.Value
	doc    *Document

	fetchSlot, createSlot, appendSlot, insertSlot, attrSlot slot

	mu     sync.Mutex
	native page.Primitives
	prims  page.Primitives
	shims  []js.Func
}

// NewRuntime captures the page's original globals. Call it before any other
// script has a chance to replace them.
func NewRuntime() *Runtime {
	window := js.Global()
	document := window.Get("document")
	nodeProto := window.Get("Node").Get("prototype")
	elementProto := window.Get("Element").Get("prototype")

	rt := &Runtime{
		window:     window,
		doc:        &Document{v: document},
		fetchSlot:  slot{owner: window, name: "fetch"},
		createSlot: slot{owner: document, name: "createElement"},
		appendSlot: slot{owner: nodeProto, name: "appendChild"},
		insertSlot: slot{owner: nodeProto, name: "insertBefore"},
		attrSlot:   slot{owner: elementProto, name: "setAttribute"},
	}
	for _, s := range rt.slots() {
		s.original = s.owner.Get(s.name)
	}

	rt.native = page.Primitives{
		Fetch: func(req *page.Request) *page.Response {
			args := []any{window}
			if native, ok := req.Native.([]js.Value); ok {
				for _, a := range native {
					args = append(args, a)
				}
			} else {
				method := req.Method
				if method == "" {
					method = "GET"
				}
				args = append(args, req.URL, map[string]any{"method": method})
			}
			return &page.Response{Native: rt.fetchSlot.original.Call("call", args...)}
		},
		CreateElement: func(tag string) page.Element {
			return wrap(rt.createSlot.original.Call("call", document, tag))
		},
		AppendChild: func(parent, child page.Element) page.Element {
			return wrap(rt.appendSlot.original.Call("call", unwrap(parent), unwrap(child)))
		},
		InsertBefore: func(parent, child, ref page.Element) page.Element {
			return wrap(rt.insertSlot.original.Call("call", unwrap(parent), unwrap(child), unwrap(ref)))
		},
		SetAttribute: func(el page.Element, name, value string) {
			rt.attrSlot.original.Call("call", unwrap(el), name, value)
		},
	}
	rt.prims = rt.native
	return rt
}

func (rt *Runtime) slots() []*slot {
	return []*slot{&rt.fetchSlot, &rt.createSlot, &rt.appendSlot, &rt.insertSlot, &rt.attrSlot}
}

func (rt *Runtime) Document() page.Document { return rt.doc }

func (rt *Runtime) Primitives() page.Primitives {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.prims
}

// SetPrimitives routes the globals through p. Passing the primitives the
// runtime started with puts the page's original functions back.
func (rt *Runtime) SetPrimitives(p page.Primitives) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.isNative(p) {
		rt.prims = p
		rt.uninstallLocked()
		return nil
	}
	if len(rt.shims) == 0 {
		if err := rt.installLocked(); err != nil {
			return err
		}
	}
	rt.prims = p
	return nil
}

func (rt *Runtime) isNative(p page.Primitives) bool {
	return sameFunc(p.Fetch, rt.native.Fetch) &&
		sameFunc(p.CreateElement, rt.native.CreateElement) &&
		sameFunc(p.AppendChild, rt.native.AppendChild) &&
		sameFunc(p.InsertBefore, rt.native.InsertBefore) &&
		sameFunc(p.SetAttribute, rt.native.SetAttribute)
}

func sameFunc(a, b any) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

func (rt *Runtime) current() page.Primitives {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.prims
}

// installLocked replaces every global with a shim that dispatches to the
// current primitives. A global that does not take the shim rolls back the
// ones already replaced.
func (rt *Runtime) installLocked() error {
	shims := []js.Func{
		js.FuncOf(rt.fetchShim),
		js.FuncOf(func(this js.Value, args []js.Value) any {
			return unwrap(rt.current().CreateElement(js.Global().Call("String", arg(args, 0)).String()))
		}),
		js.FuncOf(func(this js.Value, args []js.Value) any {
			return unwrap(rt.current().AppendChild(wrap(this), wrap(arg(args, 0))))
		}),
		js.FuncOf(func(this js.Value, args []js.Value) any {
			return unwrap(rt.current().InsertBefore(wrap(this), wrap(arg(args, 0)), wrap(arg(args, 1))))
		}),
		js.FuncOf(func(this js.Value, args []js.Value) any {
			rt.current().SetAttribute(wrap(this), arg(args, 0).String(), js.Global().Call("String", arg(args, 1)).String())
			return nil
		}),
	}
	rt.shims = shims

	for i, s := range rt.slots() {
		err := catch(func() { s.owner.Set(s.name, shims[i]) })
		if err == nil && !s.owner.Get(s.name).Equal(shims[i].Value) {
			err = ErrOverrideRefused
		}
		if err != nil {
			rt.uninstallLocked()
			return fmt.Errorf("override %s: %w", s.name, err)
		}
	}
	return nil
}

func (rt *Runtime) uninstallLocked() {
	if len(rt.shims) == 0 {
		return
	}
	for _, s := range rt.slots() {
		catch(func() { s.owner.Set(s.name, s.original) })
	}
	for _, f := range rt.shims {
		f.Release()
	}
	rt.shims = nil
}

func (rt *Runtime) fetchShim(this js.Value, args []js.Value) any {
	input := arg(args, 0)
	req := &page.Request{
		Method: "GET",
		URL:    js.Global().Call("String", input).String(),
		Native: append([]js.Value(nil), args...),
	}
	if input.Type() == js.TypeObject && input.Get("url").Type() == js.TypeString {
		req.URL = input.Get("url").String()
		req.Method = input.Get("method").String()
	}
	if init := arg(args, 1); init.Type() == js.TypeObject && init.Get("method").Type() == js.TypeString {
		req.Method = init.Get("method").String()
	}

	resp := rt.current().Fetch(req)
	if resp == nil {
		return js.Global().Get("Promise").Call("reject", js.Global().Get("TypeError").New("fetch blocked"))
	}
	if v, ok := resp.Native.(js.Value); ok {
		return v
	}
	status := resp.Status
	if status == 0 {
		status = 200
	}
	body := js.Global().Get("Response").New(string(resp.Body), map[string]any{"status": status})
	return js.Global().Get("Promise").Call("resolve", body)
}

// Observe calls fn on a goroutine after DOM insertions and attribute
// changes anywhere in the document.
func (rt *Runtime) Observe(fn func()) (func(), error) {
	ctor := rt.window.Get("MutationObserver")
	if !present(ctor) {
		return nil, fmt.Errorf("mutation observer: %w", errUnsupported)
	}
	cb := js.FuncOf(func(this js.Value, args []js.Value) any {
		go fn()
		return nil
	})
	observer := ctor.New(cb)
	err := catch(func() {
		observer.Call("observe", rt.doc.v.Get("documentElement"), map[string]any{
			"childList":       true,
			"subtree":         true,
			"attributes":      true,
			"attributeFilter": []any{"src", "id", "class", "data-zone"},
		})
	})
	if err != nil {
		cb.Release()
		return nil, fmt.Errorf("observe document: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			observer.Call("disconnect")
			cb.Release()
		})
	}, nil
}
