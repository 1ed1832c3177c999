package panel

import (
	"strings"

	"github.com/vishalbelsare/panel/lib/markup"
)

// CallbackKind distinguishes the two ways a class method is attached to a
// template node.
type CallbackKind int

const (
	// InlineCallback is an event attribute bound in the template, e.g.
	// onclick=${_click}.
	InlineCallback CallbackKind = iota
	// DOMCallback is a method named _<node>_<event> for an event listed in
	// the class's DOM-event map.
	DOMCallback
)

func (k CallbackKind) String() string {
	if k == DOMCallback {
		return "dom"
	}
	return "inline"
}

// Callback is one entry of a class's callback table.
type Callback struct {
	Kind   CallbackKind
	Node   string
	Event  string // without the "on" prefix
	Method string
}

// callbackTable holds a class's callbacks keyed by node id.
type callbackTable map[string][]Callback

func buildCallbacks(plan *markup.Plan, methods map[string]Method) callbackTable {
	t := callbackTable{}
	for _, cb := range plan.Inline {
		t[cb.Node] = append(t[cb.Node], Callback{
			Kind:   InlineCallback,
			Node:   cb.Node,
			Event:  strings.TrimPrefix(cb.Attr, "on"),
			Method: cb.Method,
		})
	}
	for _, node := range sortedKeys(plan.Events) {
		for _, ev := range plan.Events[node] {
			name := "_" + node + "_" + ev
			if _, ok := methods[name]; !ok {
				continue
			}
			t[node] = append(t[node], Callback{Kind: DOMCallback, Node: node, Event: ev, Method: name})
		}
	}
	return t
}

// match returns the callbacks for an event fired on node, inline callbacks
// first.
func (t callbackTable) match(node, event string) []Callback {
	var out []Callback
	for _, cb := range t[node] {
		if cb.Event == event {
			out = append(out, cb)
		}
	}
	return out
}

// viewCallbacks is the "callbacks" property sent to the view: for each node
// the event attributes it must forward.
func (t callbackTable) viewCallbacks() map[string][][2]string {
	out := map[string][][2]string{}
	for node, cbs := range t {
		for _, cb := range cbs {
			if cb.Kind == InlineCallback {
				out[node] = append(out[node], [2]string{"on" + cb.Event, cb.Method})
			}
		}
	}
	return out
}
