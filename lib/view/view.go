// Package view defines the boundary between the binding engine and the
// outside world: the rendering toolkit that owns view nodes and the
// transport that carries messages to views living in another process.
//
// The engine never draws anything. It creates, updates and destroys view
// nodes through a Toolkit and, for deferred sessions, mirrors every patch
// over a Transport. Both are implemented outside the core; lib/htmlview and
// lib/transport provide reference implementations.
package view

import "context"

// Node is a toolkit-owned handle for one rendered element.
type Node interface {
	// ID returns the identifier the toolkit assigned to the node. It is
	// stable for the node's lifetime and unique within a root.
	ID() string
}

// Descriptor describes the view node a component asks the toolkit to create.
type Descriptor struct {
	Kind   string // class identity, e.g. "slider-1a2b3c4d"
	Ref    string // component reference, unique per process
	Root   string
	Parent Node // nil for the top-level node of a root
}

// Update is a single property change addressed to a node. Node is either the
// id of a component view node or a template node id scoped to it.
type Update struct {
	Node     string `msgpack:"node" json:"node"`
	Property string `msgpack:"property" json:"property"`
	Value    any    `msgpack:"value" json:"value"`
}

// EventKind distinguishes DOM-like events from property changes made in
// the view.
type EventKind string

const (
	EventDOM      EventKind = "dom"
	EventProperty EventKind = "property"
)

// Event is a view-originated event.
//
// For EventDOM, Node is the template node id the event fired on (looped
// nodes carry their expanded id, e.g. "option-2") and Name is the event
// name without the "on" prefix. For EventProperty, Name is the view-facing
// property name and Value its new value.
type Event struct {
	Kind    EventKind      `msgpack:"kind" json:"kind"`
	Ref     string         `msgpack:"ref" json:"ref"`
	Node    string         `msgpack:"node,omitempty" json:"node,omitempty"`
	Name    string         `msgpack:"name" json:"name"`
	Value   any            `msgpack:"value,omitempty" json:"value,omitempty"`
	Payload map[string]any `msgpack:"payload,omitempty" json:"payload,omitempty"`

	// Index is the loop position of Node, or -1. Set by the dispatcher.
	Index int `msgpack:"-" json:"-"`
}

// LinkSpec announces a view-side link between two rendered nodes.
type LinkSpec struct {
	Source   string `msgpack:"source" json:"source"`
	Property string `msgpack:"property" json:"property"`
	Target   string `msgpack:"target" json:"target"`
	Code     string `msgpack:"code" json:"code"`
}

// MessageKind names the payload carried by a Message.
type MessageKind string

const (
	MessageCreate  MessageKind = "create"
	MessagePatch   MessageKind = "patch"
	MessageDestroy MessageKind = "destroy"
	MessageEvent   MessageKind = "event"
	MessageLink    MessageKind = "link"
)

// Message is the unit exchanged over a Transport. A patch carries every
// update for one view node produced by one batch, in commit order. A create
// carries the node's initial properties as updates, plus its class and the
// ref of its parent component.
type Message struct {
	Kind    MessageKind `msgpack:"kind" json:"kind"`
	Root    string      `msgpack:"root" json:"root"`
	Ref     string      `msgpack:"ref,omitempty" json:"ref,omitempty"`
	Class   string      `msgpack:"class,omitempty" json:"class,omitempty"`
	Parent  string      `msgpack:"parent,omitempty" json:"parent,omitempty"`
	Updates []Update    `msgpack:"updates,omitempty" json:"updates,omitempty"`
	Event   *Event      `msgpack:"event,omitempty" json:"event,omitempty"`
	Link    *LinkSpec   `msgpack:"link,omitempty" json:"link,omitempty"`
}

// Toolkit is the rendering toolkit boundary.
type Toolkit interface {
	CreateViewNode(desc Descriptor, props map[string]any) (Node, error)
	UpdateViewNode(node Node, delta []Update) error
	DestroyViewNode(node Node) error
	// Subscribe registers cb for events named event on node. The special
	// name "*" receives every event of the node.
	Subscribe(node Node, event string, cb func(Event)) (unsubscribe func())
}

// Transport is the message channel used by deferred sessions.
type Transport interface {
	Send(ctx context.Context, root string, msg Message) error
	OnMessage(root string, handler func(Message)) (unsubscribe func())
}

// LinkApplier is implemented by toolkits that can install view-side links.
// Toolkits without it only see links through the transport.
type LinkApplier interface {
	ApplyLink(node Node, spec LinkSpec) error
}
