package panel

import (
	"fmt"
	"slices"
)

// Bind synchronizes the named properties of c with a node the caller
// created in s's toolkit. With no names every property the view can see is
// bound. Use Session.Render to let the session create the node itself.
func Bind(c *Component, s *Session, node Node, names ...string) error {
	if s.isClosed() {
		return &BindingError{Class: c.class.name, Ref: c.ref, Root: s.root, Msg: "session closed", Err: ErrSessionClosed}
	}
	if node == nil {
		return &BindingError{Class: c.class.name, Ref: c.ref, Root: s.root, Msg: "nil node"}
	}
	if len(names) == 0 {
		names = c.class.paramNames()
		names = slices.DeleteFunc(names, func(n string) bool {
			_, visible := c.class.renames.ViewName(n)
			return !visible
		})
	}
	bound := map[string]bool{}
	for _, n := range names {
		if _, ok := c.class.Param(n); !ok {
			return &BindingError{Class: c.class.name, Ref: c.ref, Root: s.root, Name: n,
				Msg: fmt.Sprintf("no property %q", n), Err: ErrNotDeclared}
		}
		if _, visible := c.class.renames.ViewName(n); !visible {
			return &BindingError{Class: c.class.name, Ref: c.ref, Root: s.root, Name: n,
				Msg: fmt.Sprintf("property %q is suppressed", n), Err: ErrNotDeclared}
		}
		bound[n] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return &BindingError{Class: c.class.name, Ref: c.ref, Root: s.root, Msg: "component destroyed", Err: ErrDestroyed}
	}
	if c.views[s.root] != nil {
		return &BindingError{Class: c.class.name, Ref: c.ref, Root: s.root, Msg: "already bound", Err: ErrAlreadyBound}
	}
	vs := &viewState{session: s, comp: c, node: node, names: bound, events: map[string]map[string]bool{}}
	c.views[s.root] = vs
	s.register(vs)
	if s.toolkit != nil {
		ref := c.ref
		vs.unsubscribe = append(vs.unsubscribe, s.toolkit.Subscribe(node, "*", func(ev Event) {
			ev.Ref = ref
			s.Dispatch(s.ctx, ev)
		}))
	}
	for l := range c.links {
		l.announce(s)
	}
	return nil
}

// Unbind stops synchronizing c with its view in root. A rendered node is
// left in place until Session.Cleanup, Session.Close or a new Render
// removes it; its children are released at once. Events that arrive for
// the binding afterwards are ignored.
func Unbind(c *Component, root string) {
	c.mu.Lock()
	vs := c.views[root]
	c.mu.Unlock()
	if vs == nil {
		return
	}
	s := vs.session
	release := s.Hold()
	defer release()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.views[root] != vs {
		return
	}
	if vs.rendered {
		s.detachLocked(vs)
		return
	}
	s.unbindLocked(vs)
}

// PushStateChange sets a property and pushes the change to every view the
// component is bound in.
func PushStateChange(c *Component, name string, value any) error {
	return c.Set(name, value)
}

// ReceiveViewChange applies a change the view made to the view-facing
// property viewProp of the component ref. Changes for refs no longer bound
// in the root, and for unmapped, write-only, unbound or suspended
// properties, are logged and ignored. The change is pushed to every
// other root the component is bound in, but not back to this one.
func (s *Session) ReceiveViewChange(ref, viewProp string, value any) error {
	release := s.Hold()
	defer release()
	return s.receive(ref, viewProp, value)
}
