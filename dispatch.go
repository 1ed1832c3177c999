package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vishalbelsare/panel/lib/view"
)

type dispatcher interface {
	dispatch(ctx context.Context, ev view.Event)
	close()
}

// immediateDispatcher handles events on the reporting goroutine. Events
// reported while one is being handled are queued and drained by the
// active call, in order.
type immediateDispatcher struct {
	s      *Session
	mu     sync.Mutex
	queue  []view.Event
	active bool
}

func (d *immediateDispatcher) dispatch(ctx context.Context, ev view.Event) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	if d.active {
		d.mu.Unlock()
		return
	}
	d.active = true
	for len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		d.s.handle(ctx, next)
		d.mu.Lock()
	}
	d.active = false
	d.mu.Unlock()
}

func (d *immediateDispatcher) close() {}

type inbound struct {
	ev   view.Event
	done chan struct{} // barrier marker when non-nil
}

// deferredDispatcher queues events for the session goroutine.
type deferredDispatcher struct {
	s    *Session
	in   chan inbound
	stop chan struct{}
	once sync.Once
}

func newDeferredDispatcher(s *Session, size int) *deferredDispatcher {
	return &deferredDispatcher{s: s, in: make(chan inbound, size), stop: make(chan struct{})}
}

func (d *deferredDispatcher) dispatch(ctx context.Context, ev view.Event) {
	select {
	case d.in <- inbound{ev: ev}:
	case <-d.stop:
		d.s.report(&DispatchError{Root: d.s.root, Ref: ev.Ref, Node: ev.Node, Event: ev.Name, Err: ErrSessionClosed})
	case <-ctx.Done():
		d.s.report(&DispatchError{Root: d.s.root, Ref: ev.Ref, Node: ev.Node, Event: ev.Name, Err: ctx.Err()})
	}
}

func (d *deferredDispatcher) run() {
	defer d.s.wg.Done()
	for {
		select {
		case item := <-d.in:
			if item.done != nil {
				close(item.done)
				continue
			}
			d.s.handle(d.s.ctx, item.ev)
		case <-d.stop:
			return
		}
	}
}

func (d *deferredDispatcher) barrier(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case d.in <- inbound{done: done}:
	case <-d.stop:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-d.stop:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *deferredDispatcher) close() {
	d.once.Do(func() { close(d.stop) })
}

// Dispatch delivers a view event to the component it names. Failures are
// reported to Registry.OnError, never returned.
func (s *Session) Dispatch(ctx context.Context, ev Event) {
	if s.isClosed() {
		s.report(&DispatchError{Root: s.root, Ref: ev.Ref, Node: ev.Node, Event: ev.Name, Err: ErrSessionClosed})
		return
	}
	s.disp.dispatch(ctx, ev)
}

// handle runs one event under the session's turn lock, inside a hold so
// everything it changes reaches the view as one message per node.
func (s *Session) handle(ctx context.Context, ev view.Event) {
	s.turn.Lock()
	defer s.turn.Unlock()
	release := s.Hold()
	defer release()

	ev.Index = -1
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		switch ev.Kind {
		case view.EventProperty:
			err = s.receive(ev.Ref, ev.Name, ev.Value)
		case view.EventDOM, "":
			err = s.handleDOM(ctx, &ev)
		default:
			err = fmt.Errorf("%w: unknown event kind %q", ErrInvalidFormat, ev.Kind)
		}
	}()
	if err != nil {
		var de *DispatchError
		if !errors.As(err, &de) {
			err = &DispatchError{Root: s.root, Ref: ev.Ref, Node: ev.Node, Event: ev.Name, Err: err}
		}
		s.report(err)
	}
}

// receive applies a property change made in the view.
func (s *Session) receive(ref, viewProp string, value any) error {
	vs := s.lookupView(ref)
	if vs == nil {
		s.logger.Printf("root %s: ignoring change to %s.%s: %v", s.root, ref, viewProp, ErrStaleRef)
		return nil
	}
	c := vs.comp
	rt := c.class.renames
	name, ok := rt.PropName(viewProp)
	switch {
	case !ok:
		s.logger.Printf("root %s: ignoring change to unmapped view property %s.%s", s.root, ref, viewProp)
		return nil
	case !rt.Writable(name):
		s.logger.Printf("root %s: ignoring change to write-only property %s.%s", s.root, ref, name)
		return nil
	case !vs.names[name] && !c.class.linked[name]:
		s.logger.Printf("root %s: ignoring change to unbound property %s.%s", s.root, ref, name)
		return nil
	case c.isSuspended(name):
		s.logger.Printf("root %s: ignoring change to suspended property %s.%s", s.root, ref, name)
		return nil
	}
	v, err := rt.fromViewValue(name, value)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %v", ErrInvalidValue, ref, name, err)
	}
	if c.view(s.root) != vs {
		// Unbound while the event was in flight.
		return nil
	}
	return c.commit(map[string]any{name: v}, Origin{Root: s.root, Node: vs.node.ID()})
}

// handleDOM runs the class callbacks and instance handlers for a DOM event.
func (s *Session) handleDOM(ctx context.Context, ev *view.Event) error {
	vs := s.lookupView(ev.Ref)
	if vs == nil {
		return fmt.Errorf("%w: %s is not bound in root %s", ErrStaleRef, ev.Ref, s.root)
	}
	c := vs.comp
	cls := c.class
	if ev.Node != "" && ev.Node != vs.node.ID() {
		base, index := cls.plan.BaseID(ev.Node)
		if !s.knownNode(vs, base, index) {
			return &DispatchError{Root: s.root, Ref: ev.Ref, Node: ev.Node, Event: ev.Name,
				Err: fmt.Errorf("%w: no node %s", ErrStaleRef, ev.Node)}
		}
		ev.Node, ev.Index = base, index
	}
	var errs []error
	for _, cb := range cls.callbacks.match(ev.Node, ev.Name) {
		if err := cls.methods[cb.Method](ctx, c, *ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", cb.Method, err))
		}
	}
	for _, fn := range c.handlersFor(ev.Node, ev.Name) {
		fn(*ev)
	}
	if len(errs) > 0 {
		return &DispatchError{Root: s.root, Ref: ev.Ref, Node: ev.Node, Event: ev.Name, Err: errors.Join(errs...)}
	}
	return nil
}

func (s *Session) knownNode(vs *viewState, base string, index int) bool {
	plan := vs.comp.class.plan
	if index < 0 {
		for _, id := range plan.IDs {
			if id == base {
				return true
			}
		}
		return false
	}
	c := vs.comp
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range vs.loops {
		if rec.Base == base {
			return index < len(rec.IDs)
		}
	}
	return false
}

func (s *Session) report(err error) {
	s.registry.report(err)
}
