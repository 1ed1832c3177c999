// Package htmlview is an in-memory view toolkit. It keeps every node's
// properties and live attribute values, records each batch of updates it
// receives, lets callers fire events as a browser would, and renders a
// root to HTML.
//
// It is the reference Toolkit: tests use it to observe exactly what the
// engine sends, and servers use it to produce a root's initial page.
package htmlview

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vishalbelsare/panel/lib/view"
)

// Node is a view node owned by a Toolkit.
type Node struct {
	t      *Toolkit
	id     string
	kind   string
	root   string
	parent *Node

	props  map[string]any
	attrs  map[string]map[string]any // template node id -> attribute -> value
	subs   map[uint64]subscription
	closed bool
}

type subscription struct {
	event string
	fn    func(view.Event)
}

// ID returns the node id, which is the component's ref.
func (n *Node) ID() string { return n.id }

// Kind returns the class identity the node was created for.
func (n *Node) Kind() string { return n.kind }

// Root returns the root the node belongs to.
func (n *Node) Root() string { return n.root }

// Batch is one UpdateViewNode call.
type Batch struct {
	Root    string
	Node    string
	Updates []view.Update
}

type nodeKey struct{ root, id string }

// Toolkit implements view.Toolkit in memory. It is safe for concurrent use.
type Toolkit struct {
	mu        sync.Mutex
	nodes     map[nodeKey]*Node
	tops      map[string][]*Node // root -> top-level nodes in creation order
	batches   []Batch
	links     []view.LinkSpec
	created   int
	destroyed int
	seq       uint64
}

var _ view.Toolkit = (*Toolkit)(nil)
var _ view.LinkApplier = (*Toolkit)(nil)

// New returns an empty toolkit.
func New() *Toolkit {
	return &Toolkit{nodes: map[nodeKey]*Node{}, tops: map[string][]*Node{}}
}

func (t *Toolkit) CreateViewNode(desc view.Descriptor, props map[string]any) (view.Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := nodeKey{desc.Root, desc.Ref}
	if n, ok := t.nodes[key]; ok && !n.closed {
		return nil, fmt.Errorf("htmlview: node %s already exists in root %s", desc.Ref, desc.Root)
	}
	n := &Node{
		t:     t,
		id:    desc.Ref,
		kind:  desc.Kind,
		root:  desc.Root,
		props: map[string]any{},
		attrs: map[string]map[string]any{},
		subs:  map[uint64]subscription{},
	}
	for k, v := range props {
		n.props[k] = v
	}
	if desc.Parent != nil {
		p, ok := desc.Parent.(*Node)
		if !ok {
			return nil, fmt.Errorf("htmlview: parent %s was not created by this toolkit", desc.Parent.ID())
		}
		n.parent = p
	} else {
		t.tops[desc.Root] = append(t.tops[desc.Root], n)
	}
	t.nodes[key] = n
	t.created++
	return n, nil
}

func (t *Toolkit) UpdateViewNode(node view.Node, delta []view.Update) error {
	n, err := t.own(node)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.closed {
		return fmt.Errorf("htmlview: update of destroyed node %s", n.id)
	}
	for _, u := range delta {
		if u.Node == n.id {
			n.props[u.Property] = u.Value
			continue
		}
		if n.attrs[u.Node] == nil {
			n.attrs[u.Node] = map[string]any{}
		}
		n.attrs[u.Node][u.Property] = u.Value
	}
	t.batches = append(t.batches, Batch{Root: n.root, Node: n.id, Updates: append([]view.Update(nil), delta...)})
	return nil
}

func (t *Toolkit) DestroyViewNode(node view.Node) error {
	n, err := t.own(node)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.subs = map[uint64]subscription{}
	delete(t.nodes, nodeKey{n.root, n.id})
	if n.parent == nil {
		tops := t.tops[n.root]
		for i, top := range tops {
			if top == n {
				t.tops[n.root] = append(tops[:i], tops[i+1:]...)
				break
			}
		}
	}
	t.destroyed++
	return nil
}

func (t *Toolkit) Subscribe(node view.Node, event string, cb func(view.Event)) (unsubscribe func()) {
	n, err := t.own(node)
	if err != nil {
		return func() {}
	}
	t.mu.Lock()
	t.seq++
	id := t.seq
	n.subs[id] = subscription{event: event, fn: cb}
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(n.subs, id)
		t.mu.Unlock()
	}
}

// ApplyLink records a view-side link.
func (t *Toolkit) ApplyLink(node view.Node, spec view.LinkSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.links = append(t.links, spec)
	return nil
}

func (t *Toolkit) own(node view.Node) (*Node, error) {
	n, ok := node.(*Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("htmlview: node %v was not created by this toolkit", node)
	}
	return n, nil
}

// Fire delivers ev to the subscribers of node ref in root, as a browser
// would. ev.Ref defaults to ref.
func (t *Toolkit) Fire(root, ref string, ev view.Event) error {
	t.mu.Lock()
	n, ok := t.nodes[nodeKey{root, ref}]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("htmlview: no node %s in root %s", ref, root)
	}
	ids := make([]uint64, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var fns []func(view.Event)
	for _, id := range ids {
		if s := n.subs[id]; s.event == "*" || s.event == ev.Name {
			fns = append(fns, s.fn)
		}
	}
	t.mu.Unlock()

	if ev.Ref == "" {
		ev.Ref = ref
	}
	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

// Click fires a click on a template node.
func (t *Toolkit) Click(root, ref, node string) error {
	return t.Fire(root, ref, view.Event{Kind: view.EventDOM, Node: node, Name: "click"})
}

// SetProperty reports a property changed by the user.
func (t *Toolkit) SetProperty(root, ref, prop string, value any) error {
	return t.Fire(root, ref, view.Event{Kind: view.EventProperty, Name: prop, Value: value})
}

// Node returns the live node for ref in root.
func (t *Toolkit) Node(root, ref string) (*Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[nodeKey{root, ref}]
	return n, ok
}

// Prop returns a node property.
func (n *Node) Prop(name string) any {
	n.t.mu.Lock()
	defer n.t.mu.Unlock()
	return n.props[name]
}

// Attr returns the last value sent for an attribute of a template node.
func (n *Node) Attr(node, attr string) (any, bool) {
	n.t.mu.Lock()
	defer n.t.mu.Unlock()
	v, ok := n.attrs[node][attr]
	return v, ok
}

// Destroyed reports whether the node has been destroyed.
func (n *Node) Destroyed() bool {
	n.t.mu.Lock()
	defer n.t.mu.Unlock()
	return n.closed
}

// Batches returns every batch received since the last Reset.
func (t *Toolkit) Batches() []Batch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Batch(nil), t.batches...)
}

// Links returns the view-side links applied so far.
func (t *Toolkit) Links() []view.LinkSpec {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]view.LinkSpec(nil), t.links...)
}

// Counts returns how many nodes were created and destroyed since the last
// Reset.
func (t *Toolkit) Counts() (created, destroyed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.created, t.destroyed
}

// Live returns the number of live nodes in root.
func (t *Toolkit) Live(root string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k := range t.nodes {
		if k.root == root {
			n++
		}
	}
	return n
}

// Reset forgets recorded batches, links and counts. Nodes are kept.
func (t *Toolkit) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batches = nil
	t.links = nil
	t.created, t.destroyed = 0, 0
}
