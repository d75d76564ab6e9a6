//go:build js && wasm

package browser

import (
	"strings"
	"sync"
	"syscall/js"

	"github.com/flacronsport/daily/internal/page"
)

// filterKey is the expando property that ties a DOM node to its installed
// filter accessors.
const filterKey = "__dailyFilter"

// filtered properties are the ones a direct assignment can point at a
// remote resource.
var filtered = []string{"src"}

var (
	filtersMu sync.Mutex
	filters   = make(map[int][]js.Func)
	nextID    = 1
)

// Element wraps a DOM node. Non-element nodes (text, fragments) are wrapped
// too; they report their nodeName and have no attributes.
type Element struct {
	v js.Value
}

func wrap(v js.Value) page.Element {
	if !present(v) {
		return nil
	}
	return &Element{v: v}
}

func unwrap(el page.Element) js.Value {
	if e, ok := el.(*Element); ok && e != nil {
		return e.v
	}
	return js.Null()
}

// Value returns the underlying JS node.
func (e *Element) Value() js.Value { return e.v }

func (e *Element) isElement() bool {
	return e.v.Get("nodeType").Int() == 1
}

func (e *Element) TagName() string {
	return strings.ToLower(e.v.Get("nodeName").String())
}

func (e *Element) Attr(name string) (string, bool) {
	if !e.isElement() || !e.v.Call("hasAttribute", name).Bool() {
		return "", false
	}
	return e.v.Call("getAttribute", name).String(), true
}

// Set assigns the property through the page's own setter, so an installed
// filter sees it.
func (e *Element) Set(name, value string) {
	catch(func() { e.v.Set(name, value) })
}

// Filter defines own accessors that shadow the prototype's, consulting f
// before delegating. Filter(nil) deletes them again.
func (e *Element) Filter(f page.AttrFilter) {
	e.release()
	if f == nil || !e.isElement() {
		return
	}

	object := js.Global().Get("Object")
	var funcs []js.Func
	for _, name := range filtered {
		desc := protoDescriptor(e.v, name)
		if !present(desc) || !present(desc.Get("set")) {
			continue
		}
		getter, setter := desc.Get("get"), desc.Get("set")
		get := js.FuncOf(func(this js.Value, args []js.Value) any {
			return getter.Call("call", this)
		})
		set := js.FuncOf(func(this js.Value, args []js.Value) any {
			v := arg(args, 0)
			if !f(name, js.Global().Call("String", v).String()) {
				return nil
			}
			setter.Call("call", this, v)
			return nil
		})
		err := catch(func() {
			object.Call("defineProperty", e.v, name, map[string]any{
				"configurable": true,
				"enumerable":   true,
				"get":          get,
				"set":          set,
			})
		})
		if err != nil {
			get.Release()
			set.Release()
			continue
		}
		funcs = append(funcs, get, set)
	}
	if len(funcs) == 0 {
		return
	}

	filtersMu.Lock()
	id := nextID
	nextID++
	filters[id] = funcs
	filtersMu.Unlock()
	e.v.Set(filterKey, id)
}

// release removes accessors installed by a previous Filter call.
func (e *Element) release() {
	key := e.v.Get(filterKey)
	if key.Type() != js.TypeNumber {
		return
	}
	for _, name := range filtered {
		e.v.Delete(name)
	}
	e.v.Delete(filterKey)

	filtersMu.Lock()
	funcs := filters[key.Int()]
	delete(filters, key.Int())
	filtersMu.Unlock()
	for _, f := range funcs {
		f.Release()
	}
}

func (e *Element) Text() string {
	t := e.v.Get("textContent")
	if t.Type() != js.TypeString {
		return ""
	}
	return t.String()
}

func (e *Element) SetText(s string) {
	e.v.Set("textContent", s)
}

func (e *Element) Parent() page.Element {
	return wrap(e.v.Get("parentElement"))
}

func (e *Element) Remove() {
	parent := e.v.Get("parentNode")
	if !present(parent) {
		return
	}
	catch(func() { parent.Call("removeChild", e.v) })
}

// protoDescriptor finds the accessor for name on v's prototype chain.
func protoDescriptor(v js.Value, name string) js.Value {
	object := js.Global().Get("Object")
	for proto := object.Call("getPrototypeOf", v); present(proto); proto = object.Call("getPrototypeOf", proto) {
		if desc := object.Call("getOwnPropertyDescriptor", proto, name); present(desc) {
			return desc
		}
	}
	return js.Undefined()
}

// Document wraps window.document.
type Document struct {
	v js.Value
}

func (d *Document) Head() page.Element { return wrap(d.v.Get("head")) }
func (d *Document) Body() page.Element { return wrap(d.v.Get("body")) }

func (d *Document) Elements() []page.Element {
	all := d.v.Call("getElementsByTagName", "*")
	n := all.Length()
	out := make([]page.Element, 0, n)
	for i := range n {
		out = append(out, &Element{v: all.Index(i)})
	}
	return out
}
