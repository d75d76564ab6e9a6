// Package memdom is an in-memory page.Runtime that page-side components are
// tested against.
package memdom

import (
	"errors"
	"strings"
	"sync"

	"github.com/flacronsport/daily/internal/page"
)

// ErrOverrideRefused is returned by SetPrimitives when the runtime is
// configured to reject overrides.
var ErrOverrideRefused = errors.New("memdom: primitive override refused")

// Node is an element of the in-memory document.
type Node struct {
	rt       *Runtime
	tag      string
	attrs    map[string]string
	text     string
	parent   *Node
	children []*Node
	filter   page.AttrFilter
}

func (n *Node) TagName() string { return n.tag }

func (n *Node) Attr(name string) (string, bool) {
	n.rt.mu.Lock()
	defer n.rt.mu.Unlock()
	v, ok := n.attrs[strings.ToLower(name)]
	return v, ok
}

func (n *Node) Set(name, value string) {
	n.rt.mu.Lock()
	f := n.filter
	n.rt.mu.Unlock()
	if f != nil && !f(name, value) {
		return
	}
	n.rt.setAttr(n, name, value)
}

func (n *Node) Filter(f page.AttrFilter) {
	n.rt.mu.Lock()
	n.filter = f
	n.rt.mu.Unlock()
}

func (n *Node) Text() string {
	n.rt.mu.Lock()
	defer n.rt.mu.Unlock()
	var b strings.Builder
	n.collectText(&b)
	return b.String()
}

func (n *Node) collectText(b *strings.Builder) {
	b.WriteString(n.text)
	for _, c := range n.children {
		c.collectText(b)
	}
}

func (n *Node) SetText(s string) {
	n.rt.mu.Lock()
	n.text = s
	n.rt.mu.Unlock()
}

func (n *Node) Parent() page.Element {
	n.rt.mu.Lock()
	defer n.rt.mu.Unlock()
	if n.parent == nil {
		return nil
	}
	return n.parent
}

func (n *Node) Remove() {
	n.rt.mu.Lock()
	defer n.rt.mu.Unlock()
	n.detachLocked()
}

func (n *Node) detachLocked() {
	p := n.parent
	if p == nil {
		return
	}
	for i, c := range p.children {
		if c == n {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	n.parent = nil
}

// Attached reports whether n is reachable from the document root.
func (n *Node) Attached() bool {
	n.rt.mu.Lock()
	defer n.rt.mu.Unlock()
	for cur := n; cur != nil; cur = cur.parent {
		if cur == n.rt.root {
			return true
		}
	}
	return false
}

// Document is the in-memory document of a Runtime.
type Document struct {
	rt *Runtime
}

func (d *Document) Head() page.Element { return d.rt.head }
func (d *Document) Body() page.Element { return d.rt.body }

func (d *Document) Elements() []page.Element {
	d.rt.mu.Lock()
	defer d.rt.mu.Unlock()
	var out []page.Element
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, c := range n.children {
			out = append(out, c)
			walk(c)
		}
	}
	walk(d.rt.root)
	return out
}

// Find returns attached elements with the given tag.
func (d *Document) Find(tag string) []*Node {
	var out []*Node
	for _, el := range d.Elements() {
		if el.TagName() == tag {
			out = append(out, el.(*Node))
		}
	}
	return out
}

// Runtime is an in-memory page.
type Runtime struct {
	mu        sync.Mutex
	root      *Node
	head      *Node
	body      *Node
	doc       *Document
	prims     page.Primitives
	native    page.Primitives
	observers map[int]func()
	nextObs   int

	// RefuseOverrides makes SetPrimitives fail.
	RefuseOverrides bool
	// Network answers fetches made through the native primitive.
	Network func(req *page.Request) *page.Response

	fetchMu sync.Mutex
	fetched []string
}

// New returns a runtime holding an empty html/head/body document.
func New() *Runtime {
	rt := &Runtime{observers: make(map[int]func())}
	rt.root = rt.newNode("html")
	rt.head = rt.newNode("head")
	rt.body = rt.newNode("body")
	rt.head.parent, rt.body.parent = rt.root, rt.root
	rt.root.children = []*Node{rt.head, rt.body}
	rt.doc = &Document{rt: rt}

	rt.native = page.Primitives{
		Fetch:         rt.fetch,
		CreateElement: rt.createElement,
		AppendChild:   rt.appendChild,
		InsertBefore:  rt.insertBefore,
		SetAttribute:  rt.setAttribute,
	}
	rt.prims = rt.native
	return rt
}

// Native returns the primitives the runtime started with.
func (rt *Runtime) Native() page.Primitives { return rt.native }

func (rt *Runtime) Document() page.Document { return rt.doc }

// Doc returns the concrete document.
func (rt *Runtime) Doc() *Document { return rt.doc }

func (rt *Runtime) Primitives() page.Primitives {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.prims
}

func (rt *Runtime) SetPrimitives(p page.Primitives) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.RefuseOverrides {
		return ErrOverrideRefused
	}
	rt.prims = p
	return nil
}

func (rt *Runtime) Observe(fn func()) (func(), error) {
	rt.mu.Lock()
	id := rt.nextObs
	rt.nextObs++
	rt.observers[id] = fn
	rt.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			rt.mu.Lock()
			delete(rt.observers, id)
			rt.mu.Unlock()
		})
	}, nil
}

// Observers returns the number of connected mutation observers.
func (rt *Runtime) Observers() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.observers)
}

// Fetched returns the URLs that reached the native fetch.
func (rt *Runtime) Fetched() []string {
	rt.fetchMu.Lock()
	defer rt.fetchMu.Unlock()
	return append([]string(nil), rt.fetched...)
}

func (rt *Runtime) newNode(tag string) *Node {
	return &Node{rt: rt, tag: strings.ToLower(tag), attrs: make(map[string]string)}
}

func (rt *Runtime) notify() {
	rt.mu.Lock()
	fns := make([]func(), 0, len(rt.observers))
	for _, fn := range rt.observers {
		fns = append(fns, fn)
	}
	rt.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (rt *Runtime) fetch(req *page.Request) *page.Response {
	rt.fetchMu.Lock()
	rt.fetched = append(rt.fetched, req.URL)
	rt.fetchMu.Unlock()
	if rt.Network != nil {
		return rt.Network(req)
	}
	return &page.Response{Status: 200, Body: []byte("ok"), Native: req.URL}
}

func (rt *Runtime) createElement(tag string) page.Element {
	return rt.newNode(tag)
}

func (rt *Runtime) appendChild(parent, child page.Element) page.Element {
	return rt.insertBefore(parent, child, nil)
}

func (rt *Runtime) insertBefore(parent, child, ref page.Element) page.Element {
	p, ok := parent.(*Node)
	c, ok2 := child.(*Node)
	if !ok || !ok2 {
		return child
	}
	r, _ := ref.(*Node)

	rt.mu.Lock()
	c.detachLocked()
	idx := len(p.children)
	if r != nil {
		for i, existing := range p.children {
			if existing == r {
				idx = i
				break
			}
		}
	}
	p.children = append(p.children, nil)
	copy(p.children[idx+1:], p.children[idx:])
	p.children[idx] = c
	c.parent = p
	rt.mu.Unlock()

	rt.notify()
	return child
}

func (rt *Runtime) setAttribute(el page.Element, name, value string) {
	n, ok := el.(*Node)
	if !ok {
		return
	}
	rt.setAttr(n, name, value)
}

func (rt *Runtime) setAttr(n *Node, name, value string) {
	name = strings.ToLower(name)
	rt.mu.Lock()
	n.attrs[name] = value
	rt.mu.Unlock()
	rt.notify()
}
