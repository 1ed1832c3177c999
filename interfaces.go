package panel

import "github.com/vishalbelsare/panel/lib/view"

// Toolkit creates, updates and destroys view nodes and reports their
// events. lib/htmlview provides an in-memory implementation.
//
//	tk := htmlview.New()
//	s, err := reg.NewSession("root-1", tk)
type Toolkit = view.Toolkit

// Transport carries messages to views in another process. Sessions opened
// with WithTransport mirror every patch over it and accept view events
// from it. lib/transport provides a websocket implementation.
type Transport = view.Transport

// Node is a toolkit-owned view node.
type Node = view.Node

// Update is one property change addressed to a view node.
type Update = view.Update

// Event is an event reported by a view: a DOM event fired on a template
// node, or a property changed in the view.
type Event = view.Event

// Message is the unit exchanged over a Transport.
type Message = view.Message
