package panel

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// Origin identifies where a change came from. The zero Origin is a change
// made in process.
type Origin struct {
	Root string
	Node string
}

// IsView reports whether the change was made in a view.
func (o Origin) IsView() bool { return o.Root != "" }

// Change is one committed property change.
type Change struct {
	Name   string
	Old    any
	New    any
	Origin Origin
}

type watcher struct {
	names map[string]bool // nil watches everything
	fn    func([]Change)
}

type handler struct {
	node  string // "*" for any node
	event string // "*" for any event
	fn    func(Event)
}

var refSeq atomic.Uint64

// Component is an instance of a Class. Its property values are safe for
// concurrent use; watchers and handlers run on the goroutine that made the
// change.
type Component struct {
	class *Class
	ref   string

	mu        sync.Mutex
	values    map[string]any
	watchers  map[uint64]*watcher
	handlers  map[uint64]*handler
	seq       uint64
	suspended map[string]int
	views     map[string]*viewState // root -> view
	links     map[*Link]struct{}
	destroyed bool
}

// New creates an instance with the class defaults overridden by values.
func (c *Class) New(values map[string]any) (*Component, error) {
	comp := &Component{
		class:     c,
		ref:       c.name + "-" + strconv.FormatUint(refSeq.Add(1), 10),
		values:    make(map[string]any, len(c.params)),
		watchers:  map[uint64]*watcher{},
		handlers:  map[uint64]*handler{},
		suspended: map[string]int{},
		views:     map[string]*viewState{},
		links:     map[*Link]struct{}{},
	}
	for _, p := range c.params {
		v, err := p.normalize(defaultValue(p))
		if err != nil {
			return nil, err
		}
		comp.values[p.Name] = v
	}
	for name, v := range values {
		p, ok := c.Param(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no property %q", ErrNotDeclared, c.name, name)
		}
		nv, err := p.normalize(v)
		if err != nil {
			return nil, err
		}
		comp.values[name] = nv
	}
	return comp, nil
}

// MustNew is like New but panics on error.
func (c *Class) MustNew(values map[string]any) *Component {
	comp, err := c.New(values)
	if err != nil {
		panic(err)
	}
	return comp
}

func defaultValue(p Param) any {
	if p.Default != nil {
		return p.Default
	}
	switch p.Kind {
	case Bool:
		return false
	case Int:
		return 0
	case Float:
		return 0.0
	case String:
		return ""
	}
	return nil
}

// Ref returns the component's process-unique reference.
func (c *Component) Ref() string { return c.ref }

// Class returns the component's class.
func (c *Component) Class() *Class { return c.class }

func (c *Component) String() string { return c.ref }

// Get returns the current value of a property, or nil if it is not declared.
func (c *Component) Get(name string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Values returns a snapshot of every property value.
func (c *Component) Values() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Set changes one property. Setting a property to its current value does
// nothing.
func (c *Component) Set(name string, value any) error {
	return c.commit(map[string]any{name: value}, Origin{})
}

// Update changes several properties in one atomic commit. Watchers see a
// single batch and every bound view receives at most one message.
func (c *Component) Update(values map[string]any) error {
	return c.commit(values, Origin{})
}

// Watch registers fn to receive committed changes to the named properties,
// or to every property when no names are given. The returned function
// removes the watcher.
func (c *Component) Watch(fn func([]Change), names ...string) (unwatch func()) {
	w := &watcher{fn: fn}
	if len(names) > 0 {
		w.names = map[string]bool{}
		for _, n := range names {
			w.names[n] = true
		}
	}
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.watchers[id] = w
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

// On registers fn for the named DOM event of a template node. Either may be
// "*" to match anything. Views rendered from now on are asked to forward
// the event.
func (c *Component) On(node, event string, fn func(Event)) (off func()) {
	h := &handler{node: node, event: event, fn: fn}
	c.mu.Lock()
	c.seq++
	id := c.seq
	c.handlers[id] = h
	views := c.viewList()
	c.mu.Unlock()
	for _, vs := range views {
		vs.announceEvent(node, event)
	}
	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// Suspend drops changes made in views to the named properties until the
// returned function is called. Suspensions nest.
func (c *Component) Suspend(names ...string) (resume func()) {
	c.mu.Lock()
	for _, n := range names {
		c.suspended[n]++
	}
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			for _, n := range names {
				if c.suspended[n]--; c.suspended[n] <= 0 {
					delete(c.suspended, n)
				}
			}
			c.mu.Unlock()
		})
	}
}

// Destroy removes the component from every session it is rendered in and
// disposes its links. A destroyed component can still be read but no
// longer reaches any view.
func (c *Component) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	views := c.viewList()
	links := make([]*Link, 0, len(c.links))
	for l := range c.links {
		links = append(links, l)
	}
	c.mu.Unlock()

	for _, vs := range views {
		vs.session.Cleanup(c)
	}
	for _, l := range links {
		l.Dispose()
	}
}

// viewList returns the component's views in root order. c.mu must be held.
func (c *Component) viewList() []*viewState {
	out := make([]*viewState, 0, len(c.views))
	for _, root := range sortedKeys(c.views) {
		out = append(out, c.views[root])
	}
	return out
}

func (c *Component) view(root string) *viewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.views[root]
}

func (c *Component) isSuspended(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended[name] > 0
}

// commit applies values atomically. Projection into bound views happens
// under the component lock so views observe commits in commit order;
// watchers run after the lock is released.
func (c *Component) commit(values map[string]any, origin Origin) error {
	c.mu.Lock()
	if c.destroyed && origin.IsView() {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDestroyed, c.ref)
	}
	normalized := make(map[string]any, len(values))
	for name, v := range values {
		p, ok := c.class.Param(name)
		if !ok {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s has no property %q", ErrNotDeclared, c.class.name, name)
		}
		nv, err := p.normalize(v)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		normalized[name] = nv
	}
	var changes []Change
	for _, name := range c.class.paramNames() {
		nv, ok := normalized[name]
		if !ok || equal(c.values[name], nv) {
			continue
		}
		changes = append(changes, Change{Name: name, Old: c.values[name], New: nv, Origin: origin})
		c.values[name] = nv
	}
	if len(changes) == 0 {
		c.mu.Unlock()
		return nil
	}

	views := c.viewList()
	var releases []func()
	for _, vs := range views {
		releases = append(releases, vs.session.Hold())
	}
	for _, vs := range views {
		vs.project(changes, origin)
	}
	type call struct {
		fn    func([]Change)
		batch []Change
	}
	var calls []call
	for _, id := range sortedIDs(c.watchers) {
		w := c.watchers[id]
		if batch := w.filter(changes); len(batch) > 0 {
			calls = append(calls, call{w.fn, batch})
		}
	}
	c.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
	for _, cl := range calls {
		cl.fn(cl.batch)
	}
	return nil
}

func (w *watcher) filter(changes []Change) []Change {
	if w.names == nil {
		return changes
	}
	var out []Change
	for _, ch := range changes {
		if w.names[ch.Name] {
			out = append(out, ch)
		}
	}
	return out
}

// handlersFor returns the instance handlers matching an event, in
// registration order.
func (c *Component) handlersFor(node, event string) []func(Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []func(Event)
	for _, id := range sortedIDs(c.handlers) {
		h := c.handlers[id]
		if (h.node == "*" || h.node == node) && (h.event == "*" || h.event == event) {
			out = append(out, h.fn)
		}
	}
	return out
}

// handlerEvents returns the node -> events registered with On.
func (c *Component) handlerEvents() map[string][]string {
	out := map[string][]string{}
	for _, id := range sortedIDs(c.handlers) {
		h := c.handlers[id]
		out[h.node] = append(out[h.node], h.event)
	}
	return out
}
