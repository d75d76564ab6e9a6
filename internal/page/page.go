// Package page describes the browser surface the page-side components act
// on: a document of elements and the global primitives that scripts use to
// fetch and to build the DOM. The in-memory memdom package and the
// syscall/js binding in internal/browser both implement it.
package page

// AttrFilter reports whether assigning value to the named property may
// proceed.
type AttrFilter func(name, value string) bool

// Element is a DOM element.
type Element interface {
	TagName() string
	Attr(name string) (string, bool)
	// Set assigns a property directly (el.src = v), honoring any filter.
	Set(name, value string)
	// Filter installs f in front of direct property assignment.
	Filter(f AttrFilter)
	Text() string
	SetText(s string)
	Parent() Element
	Remove()
}

// Document is the live document.
type Document interface {
	Head() Element
	Body() Element
	// Elements returns every attached element in document order.
	Elements() []Element
}

// Request is an outbound network request.
type Request struct {
	Method string
	URL    string
	// Native carries the runtime's own request arguments, if any.
	Native any
}

// Response is the result of a fetch. Native carries the runtime's own
// response value; it is nil for synthesized responses.
type Response struct {
	Status int
	Body   []byte
	Native any
}

type (
	FetchFunc         func(req *Request) *Response
	CreateElementFunc func(tag string) Element
	AppendChildFunc   func(parent, child Element) Element
	InsertBeforeFunc  func(parent, child, ref Element) Element
	SetAttributeFunc  func(el Element, name, value string)
)

// Primitives are the overridable globals page scripts call.
type Primitives struct {
	Fetch         FetchFunc
	CreateElement CreateElementFunc
	AppendChild   AppendChildFunc
	InsertBefore  InsertBeforeFunc
	SetAttribute  SetAttributeFunc
}

// Runtime is one page: its document, its current primitives and a
// mutation feed.
type Runtime interface {
	Document() Document
	Primitives() Primitives
	// SetPrimitives replaces the globals. It fails when the runtime refuses
	// the override.
	SetPrimitives(p Primitives) error
	// Observe calls fn after DOM insertions and attribute changes until
	// disconnect is called.
	Observe(fn func()) (disconnect func(), err error)
}

// Append attaches child to parent through the runtime's current primitives.
func Append(rt Runtime, parent, child Element) Element {
	return rt.Primitives().AppendChild(parent, child)
}

// Create builds an element through the runtime's current primitives.
func Create(rt Runtime, tag string) Element {
	return rt.Primitives().CreateElement(tag)
}
