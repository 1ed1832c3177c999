package panel

import (
	"maps"
	"slices"

	"github.com/vishalbelsare/panel/lib/markup"
	"github.com/vishalbelsare/panel/lib/view"
)

// viewState is one component's binding to one root. Its fields are guarded
// by the component's mutex.
type viewState struct {
	session *Session
	comp    *Component
	node    view.Node
	parent  *viewState      // nil for top-level and bound views
	names   map[string]bool // properties synchronized with the node

	rendered bool // the node was created by Render and is owned here
	top      bool // rendered by Session.Render rather than as a child
	refs     int  // parents holding this view, plus one when top

	html     string
	loops    []markup.LoopRecord
	slots    map[string][]*Component // expanded slot id -> children
	children map[string][]string
	events   map[string]map[string]bool

	unsubscribe []func()
}

// remoteNode stands in for a node that only exists on the far side of a
// transport.
type remoteNode string

func (n remoteNode) ID() string { return string(n) }

// Render creates c's view node in this session, together with the nodes
// of every child component its slots reference. Rendering a component
// twice in one root fails with ErrAlreadyBound.
func (s *Session) Render(c *Component) (view.Node, error) {
	if s.isClosed() {
		return nil, &BindingError{Class: c.class.name, Ref: c.ref, Root: s.root, Msg: "session closed", Err: ErrSessionClosed}
	}
	release := s.Hold()
	defer release()

	c.mu.Lock()
	defer c.mu.Unlock()
	if vs := c.views[s.root]; vs != nil {
		if vs.rendered && !vs.top {
			// Already on screen as a child; promote it.
			vs.top = true
			vs.refs++
			return vs.node, nil
		}
		return nil, &BindingError{Class: c.class.name, Ref: c.ref, Root: s.root, Msg: "already rendered", Err: ErrAlreadyBound}
	}
	vs, err := s.renderLocked(c, nil)
	if err != nil {
		return nil, err
	}
	vs.top = true
	vs.refs = 1
	return vs.node, nil
}

// renderLocked creates the view for c. c.mu must be held.
func (s *Session) renderLocked(c *Component, parent *viewState) (*viewState, error) {
	if c.destroyed {
		return nil, &BindingError{Class: c.class.name, Ref: c.ref, Root: s.root, Msg: "component destroyed", Err: ErrDestroyed}
	}
	s.destroyDetached(c)
	cls := c.class
	html, loops, err := cls.plan.Expand(c.values, c.ref)
	if err != nil {
		return nil, &BindingError{Class: cls.name, Ref: c.ref, Root: s.root, Msg: err.Error(), Err: ErrInvalidValue}
	}
	vs := &viewState{
		session:  s,
		comp:     c,
		parent:   parent,
		names:    map[string]bool{},
		rendered: true,
		html:     html,
		loops:    loops,
		events:   cls.viewEvents(),
	}
	for _, name := range cls.paramNames() {
		if _, ok := cls.renames.ViewName(name); ok {
			vs.names[name] = true
		}
	}
	for node, evs := range c.handlerEvents() {
		for _, ev := range evs {
			vs.addEvent(node, ev)
		}
	}
	slots := vs.computeSlots()
	vs.children = childRefs(slots)

	props := cls.renames.ToView(c.values)
	props[PropHTML] = html
	props[PropLooped] = loopedProp(loops)
	props[PropChildren] = vs.children
	props[PropEvents] = vs.eventsProp()
	props[PropCallbacks] = cls.callbacks.viewCallbacks()

	var parentNode view.Node
	if parent != nil {
		parentNode = parent.node
	}
	if s.toolkit != nil {
		node, err := s.toolkit.CreateViewNode(view.Descriptor{Kind: cls.kind, Ref: c.ref, Root: s.root, Parent: parentNode}, props)
		if err != nil {
			return nil, &BindingError{Class: cls.name, Ref: c.ref, Root: s.root, Msg: "create view node: " + err.Error()}
		}
		vs.node = node
	} else {
		vs.node = remoteNode(c.ref)
	}
	msg := view.Message{Kind: view.MessageCreate, Root: s.root, Ref: c.ref, Class: cls.kind}
	if parent != nil {
		msg.Parent = parent.comp.ref
	}
	for _, name := range slices.Sorted(maps.Keys(props)) {
		msg.Updates = append(msg.Updates, view.Update{Node: vs.node.ID(), Property: name, Value: props[name]})
	}
	s.out.push(msg)

	c.views[s.root] = vs
	s.register(vs)

	vs.slots = map[string][]*Component{}
	held := map[*Component]bool{}
	for _, id := range sortedKeys(slots) {
		for _, child := range slots[id] {
			if held[child] || s.acquire(child, vs) {
				held[child] = true
				vs.slots[id] = append(vs.slots[id], child)
			}
		}
	}

	if s.toolkit != nil {
		ref := c.ref
		vs.unsubscribe = append(vs.unsubscribe, s.toolkit.Subscribe(vs.node, "*", func(ev view.Event) {
			ev.Ref = ref
			s.Dispatch(s.ctx, ev)
		}))
	}
	for l := range c.links {
		l.announce(s)
	}
	return vs, nil
}

// acquire renders child under parent, or takes another reference to its
// existing view in this root. It reports whether the child is now held.
func (s *Session) acquire(child *Component, parent *viewState) bool {
	for p := parent; p != nil; p = p.parent {
		if p.comp == child {
			s.logger.Printf("root %s: %s contains itself; skipping", s.root, child.ref)
			return false
		}
	}
	child.mu.Lock()
	defer child.mu.Unlock()
	if vs := child.views[s.root]; vs != nil {
		vs.refs++
		return true
	}
	vs, err := s.renderLocked(child, parent)
	if err != nil {
		s.logger.Printf("root %s: render child %s of %s: %v", s.root, child.ref, parent.comp.ref, err)
		return false
	}
	vs.refs = 1
	return true
}

// releaseChild drops one reference to child's view, tearing it down when
// no parent holds it any more.
func (s *Session) releaseChild(child *Component) {
	child.mu.Lock()
	defer child.mu.Unlock()
	vs := child.views[s.root]
	if vs == nil || vs.session != s {
		return
	}
	if vs.refs--; vs.refs <= 0 {
		s.teardownLocked(vs)
	}
}

// Cleanup removes c's view from this session and releases its children.
// Children another parent still holds in this root survive.
func (s *Session) Cleanup(c *Component) {
	release := s.Hold()
	defer release()
	s.cleanup(c)
}

func (s *Session) cleanup(c *Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vs := c.views[s.root]
	if vs == nil || vs.session != s {
		s.destroyDetached(c)
		return
	}
	if !vs.rendered {
		s.unbindLocked(vs)
		return
	}
	s.teardownLocked(vs)
}

// teardownLocked destroys a rendered view. vs.comp.mu must be held.
func (s *Session) teardownLocked(vs *viewState) {
	s.releaseSlots(vs)
	s.unbindLocked(vs)
	s.destroyNode(vs.comp, vs.node)
}

// detachLocked unbinds a rendered view but keeps its node until the
// component is cleaned up or rendered again. vs.comp.mu must be held.
func (s *Session) detachLocked(vs *viewState) {
	s.releaseSlots(vs)
	s.unbindLocked(vs)
	s.mu.Lock()
	s.detached[vs.comp] = vs.node
	s.mu.Unlock()
}

func (s *Session) releaseSlots(vs *viewState) {
	released := map[*Component]bool{}
	for _, id := range sortedKeys(vs.slots) {
		for _, child := range vs.slots[id] {
			if !released[child] {
				released[child] = true
				s.releaseChild(child)
			}
		}
	}
	vs.slots = nil
}

// destroyDetached removes the node c left behind when it was unbound.
func (s *Session) destroyDetached(c *Component) {
	s.mu.Lock()
	node, ok := s.detached[c]
	delete(s.detached, c)
	s.mu.Unlock()
	if ok {
		s.destroyNode(c, node)
	}
}

func (s *Session) destroyNode(c *Component, node view.Node) {
	if s.toolkit != nil {
		if err := s.toolkit.DestroyViewNode(node); err != nil {
			s.logger.Printf("root %s: destroy %s: %v", s.root, c.ref, err)
		}
	}
	s.out.push(view.Message{Kind: view.MessageDestroy, Root: s.root, Ref: c.ref})
}

// unbindLocked removes the binding without touching the node.
// vs.comp.mu must be held.
func (s *Session) unbindLocked(vs *viewState) {
	for _, unsub := range vs.unsubscribe {
		unsub()
	}
	vs.unsubscribe = nil
	delete(vs.comp.views, s.root)
	s.unregister(vs)
	s.out.drop(vs)
	for l := range vs.comp.links {
		l.forget(s.root)
	}
}

// computeSlots maps every expanded slot id to the components it holds.
func (vs *viewState) computeSlots() map[string][]*Component {
	c := vs.comp
	plan := c.class.plan
	out := map[string][]*Component{}
	for _, id := range plan.IDs {
		coll, ok := plan.Children[id]
		if !ok {
			continue
		}
		v := c.values[coll]
		if !plan.IsLooped(id) {
			out[id] = components(v)
			continue
		}
		var rec markup.LoopRecord
		for _, r := range vs.loops {
			if r.Base == id {
				rec = r
			}
		}
		items := loopItems(v, rec)
		for i, eid := range rec.IDs {
			var comps []*Component
			if i < len(items) {
				comps = components(items[i])
			}
			out[eid] = comps
		}
	}
	return out
}

func loopItems(v any, rec markup.LoopRecord) []any {
	switch x := v.(type) {
	case []any:
		return x
	case map[string]any:
		out := make([]any, len(rec.Keys))
		for i, k := range rec.Keys {
			out[i] = x[k]
		}
		return out
	}
	return nil
}

// reconcile brings the rendered children in line with the current slot
// contents. Children present before and after keep their view node.
func (vs *viewState) reconcile() {
	s := vs.session
	next := vs.computeSlots()
	var before []*Component
	held := map[*Component]bool{}
	for _, id := range sortedKeys(vs.slots) {
		for _, child := range vs.slots[id] {
			if !held[child] {
				held[child] = true
				before = append(before, child)
			}
		}
	}
	kept := map[*Component]bool{}
	slots := map[string][]*Component{}
	for _, id := range sortedKeys(next) {
		slots[id] = []*Component{}
		for _, child := range next[id] {
			switch {
			case held[child]:
				kept[child] = true
				slots[id] = append(slots[id], child)
			case kept[child]:
				slots[id] = append(slots[id], child)
			case s.acquire(child, vs):
				kept[child] = true
				held[child] = true
				slots[id] = append(slots[id], child)
			}
		}
	}
	for _, child := range before {
		if !kept[child] {
			s.releaseChild(child)
		}
	}
	vs.slots = slots
}

// project turns committed changes into updates for this view. It runs
// with vs.comp.mu held. Changes that came from this root are not sent back.
func (vs *viewState) project(changes []Change, origin Origin) {
	c := vs.comp
	cls := c.class
	echo := origin.Root == vs.session.root
	changed := map[string]bool{}
	for _, ch := range changes {
		if vs.names[ch.Name] {
			changed[ch.Name] = true
		}
	}
	var updates []view.Update
	if !echo {
		for _, ch := range changes {
			if !changed[ch.Name] || (vs.rendered && !cls.data[ch.Name]) {
				continue
			}
			name, _ := cls.renames.ViewName(ch.Name)
			updates = append(updates, view.Update{Node: vs.node.ID(), Property: name, Value: cls.renames.toViewValue(ch.Name, ch.New)})
		}
	}
	if vs.rendered {
		if !echo {
			for _, id := range cls.plan.IDs {
				for _, b := range cls.plan.Attrs[id] {
					if touches(b.Params, changed) {
						updates = append(updates, view.Update{Node: id, Property: b.Attr, Value: bindingValue(b, c.values)})
					}
				}
			}
		}
		updates = append(updates, vs.rerender(changed)...)
	}
	if len(updates) > 0 {
		vs.session.out.enqueue(vs, updates)
	}
}

// rerender expands the template again when a literal or loop collection
// changed and reconciles child slots.
func (vs *viewState) rerender(changed map[string]bool) []view.Update {
	c := vs.comp
	cls := c.class
	var updates []view.Update
	if touches(cls.plan.Literals, changed) {
		html, loops, err := cls.plan.Expand(c.values, c.ref)
		if err != nil {
			vs.session.logger.Printf("root %s: expand %s: %v", vs.session.root, c.ref, err)
			return nil
		}
		oldLooped, newLooped := loopedProp(vs.loops), loopedProp(loops)
		vs.loops = loops
		if html != vs.html {
			vs.html = html
			updates = append(updates, view.Update{Node: vs.node.ID(), Property: PropHTML, Value: html})
		}
		if !maps.EqualFunc(oldLooped, newLooped, slices.Equal[[]string]) {
			updates = append(updates, view.Update{Node: vs.node.ID(), Property: PropLooped, Value: newLooped})
		}
	}
	if touches(cls.slots(), changed) {
		vs.reconcile()
		children := childRefs(vs.slots)
		if !maps.EqualFunc(vs.children, children, slices.Equal[[]string]) {
			vs.children = children
			updates = append(updates, view.Update{Node: vs.node.ID(), Property: PropChildren, Value: children})
		}
	}
	return updates
}

// announceEvent asks the view to forward an event registered after the
// node was created.
func (vs *viewState) announceEvent(node, event string) {
	c := vs.comp
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.views[vs.session.root] != vs || !vs.rendered {
		return
	}
	if !vs.addEvent(node, event) {
		return
	}
	vs.session.out.enqueue(vs, []view.Update{{Node: vs.node.ID(), Property: PropEvents, Value: vs.eventsProp()}})
}

// addEvent records a forwarded event. Events the class declares keep
// their flag.
func (vs *viewState) addEvent(node, event string) bool {
	if _, ok := vs.events[node][event]; ok {
		return false
	}
	if vs.events[node] == nil {
		vs.events[node] = map[string]bool{}
	}
	vs.events[node][event] = false
	return true
}

func (vs *viewState) eventsProp() map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(vs.events))
	for node, evs := range vs.events {
		out[node] = maps.Clone(evs)
	}
	return out
}

// bindingValue evaluates an attribute binding. A binding that is exactly
// one property keeps the property's value; anything else is text.
func bindingValue(b markup.AttrBinding, values map[string]any) any {
	if len(b.Params) == 1 && b.Template == "{"+b.Params[0]+"}" {
		return exportValue(values[b.Params[0]])
	}
	return b.Eval(values)
}

func touches(names []string, changed map[string]bool) bool {
	for _, n := range names {
		if changed[n] {
			return true
		}
	}
	return false
}

func childRefs(slots map[string][]*Component) map[string][]string {
	out := make(map[string][]string, len(slots))
	for id, comps := range slots {
		refs := make([]string, 0, len(comps))
		for _, c := range comps {
			refs = append(refs, c.ref)
		}
		out[id] = refs
	}
	return out
}

func loopedProp(loops []markup.LoopRecord) map[string][]string {
	out := make(map[string][]string, len(loops))
	for _, rec := range loops {
		out[rec.Base] = slices.Clone(rec.IDs)
	}
	return out
}
