package dispatch

import "context"

// Context carries everything a Receiver or Router needs beyond its own
// kwargs: the authority the dispatch was presented with, the raw kwargs
// (for handlers that want to inspect siblings), and a free-form Extra
// slot connections use to stash themselves (frontend.Conn, gateway
// identity, ...) without dispatch depending on any transport package.
type Context struct {
	Sign   Authority
	Kwargs map[string]any
	Extra  any
}

// Receiver terminates a dispatch path. kwargs is the full keyword map
// carried by the envelope for this call.
type Receiver func(ctx context.Context, dc *Context, kwargs map[string]any) error

// NextFunc continues dispatch on a child object for the remainder of the
// path. A Router calls it at most once; the router does not complete
// until the returned error (if any) is observed.
type NextFunc func(obj Dispatchable) error

// Router continues a dispatch path onto a child Dispatchable via next.
type Router func(ctx context.Context, dc *Context, kwargs map[string]any, next NextFunc) error

// ProxyHandler is implemented by a Dispatchable whose Node has no
// registered handler for some path segments but still wants to accept
// them, forwarding the remaining suffix elsewhere (the canonical use is
// a front-end forwarding "location.<anything>" into a location process).
type ProxyHandler interface {
	ProxyMethod(ctx context.Context, rest []string, sign Authority, kwargs map[string]any) error
}

// Dispatchable is any object dispatch can walk a path onto: it exposes
// the explicit registration table built for it at construction time.
type Dispatchable interface {
	Node() *Node
}

type routerEntry struct {
	fn       Router
	required Authority
}

type receiverEntry struct {
	fn       Receiver
	required Authority
}

// Node is the explicit router/receiver registration table for one
// Dispatchable, replacing dynamic attribute lookup with a map lookup per
// path segment (see SPEC_FULL.md §4.1).
type Node struct {
	routers   map[string]routerEntry
	receivers map[string]receiverEntry
	proxy     ProxyHandler
}

// NewNode creates an empty registration table.
func NewNode() *Node {
	return &Node{
		routers:   make(map[string]routerEntry),
		receivers: make(map[string]receiverEntry),
	}
}

// Route registers a router handler for a path segment name.
func (n *Node) Route(name string, required Authority, fn Router) *Node {
	n.routers[name] = routerEntry{fn: fn, required: required}
	return n
}

// Receive registers a terminal handler for a path segment name.
func (n *Node) Receive(name string, required Authority, fn Receiver) *Node {
	n.receivers[name] = receiverEntry{fn: fn, required: required}
	return n
}

// WithProxy attaches a catch-all proxy handler, invoked when a path
// segment has no registered router or receiver.
func (n *Node) WithProxy(p ProxyHandler) *Node {
	n.proxy = p
	return n
}
