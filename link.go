package panel

import (
	"fmt"
	"log"
	"sync"

	"github.com/vishalbelsare/panel/lib/view"
)

// LinkEntry connects one source property, or one source event, to one
// target property.
type LinkEntry struct {
	Source string // property name, or event name when Event is set
	Target string

	// Event makes Source the name of a DOM event of the source component.
	// Node restricts it to one template node; empty means any node.
	Event bool
	Node  string

	// Transform converts values on their way to the target. For event
	// sources it receives the Event; without it the event's Value is
	// copied. Inverse converts target values back for bidirectional links.
	Transform func(any) any
	Inverse   func(any) any

	// Code is run by views, not in process. Entries with code are
	// announced to every root where both components are bound.
	Code string
}

// LinkOptions configures NewLink.
type LinkOptions struct {
	Entries       []LinkEntry
	Bidirectional bool

	// Logger receives propagation failures. The default is the logger of
	// a session the failing component is bound in.
	Logger *log.Logger
}

// Link keeps properties of two components in step until disposed.
type Link struct {
	source *Component
	target *Component
	opts   LinkOptions

	mu        sync.Mutex
	disposed  bool
	undo      []func()
	announced map[string]bool // roots the view-side entries were sent to
	wrote     map[linkKey]any // last value propagated into each property
}

type linkKey struct {
	c    *Component
	name string
}

// NewLink validates opts and starts propagating changes from source to
// target, and back again when the link is bidirectional.
func NewLink(source, target *Component, opts LinkOptions) (*Link, error) {
	if source == nil || target == nil {
		return nil, &LinkError{Msg: "nil component"}
	}
	l := &Link{
		source:    source,
		target:    target,
		opts:      opts,
		announced: map[string]bool{},
		wrote:     map[linkKey]any{},
	}
	if len(opts.Entries) == 0 {
		return nil, l.errorf("", "no entries")
	}
	for _, e := range opts.Entries {
		if err := l.check(e); err != nil {
			return nil, err
		}
	}

	for _, e := range opts.Entries {
		switch {
		case e.Code != "":
		case e.Event:
			node := e.Node
			if node == "" {
				node = "*"
			}
			l.undo = append(l.undo, source.On(node, e.Source, func(ev Event) {
				v := ev.Value
				if e.Transform != nil {
					v = e.Transform(ev)
				}
				l.propagate(target, e.Target, v)
			}))
		default:
			l.undo = append(l.undo, source.Watch(func(changes []Change) {
				for _, ch := range changes {
					if l.echo(source, ch) {
						continue
					}
					v := ch.New
					if e.Transform != nil {
						v = e.Transform(v)
					}
					l.propagate(target, e.Target, v)
				}
			}, e.Source))
			if opts.Bidirectional {
				l.undo = append(l.undo, target.Watch(func(changes []Change) {
					for _, ch := range changes {
						if l.echo(target, ch) {
							continue
						}
						v := ch.New
						if e.Inverse != nil {
							v = e.Inverse(v)
						}
						l.propagate(source, e.Source, v)
					}
				}, e.Target))
			}
		}
	}

	source.mu.Lock()
	source.links[l] = struct{}{}
	views := source.viewList()
	source.mu.Unlock()
	target.mu.Lock()
	target.links[l] = struct{}{}
	target.mu.Unlock()
	for _, vs := range views {
		l.announce(vs.session)
	}
	return l, nil
}

func (l *Link) errorf(name, format string, args ...any) error {
	return &LinkError{Source: l.source.ref, Target: l.target.ref, Name: name, Msg: fmt.Sprintf(format, args...)}
}

func (l *Link) check(e LinkEntry) error {
	src, tgt := l.source.class, l.target.class
	tp, ok := tgt.Param(e.Target)
	if e.Target != "" && !ok {
		return l.errorf(e.Target, "target %s has no property %q", tgt.name, e.Target)
	}
	if e.Code != "" {
		if e.Event {
			return nil
		}
		if _, ok := src.Param(e.Source); !ok {
			return l.errorf(e.Source, "source %s has no property %q", src.name, e.Source)
		}
		return nil
	}
	if !ok {
		return l.errorf(e.Source, "entry for %q has no target", e.Source)
	}
	if e.Event {
		if l.opts.Bidirectional {
			return l.errorf(e.Source, "event %q cannot be the source of a bidirectional link", e.Source)
		}
		if e.Source == "" {
			return l.errorf("", "event entry without an event name")
		}
		return nil
	}
	sp, ok := src.Param(e.Source)
	if !ok {
		return l.errorf(e.Source, "source %s has no property %q", src.name, e.Source)
	}
	if e.Transform == nil && !sp.Kind.convertible(tp.Kind) {
		return l.errorf(e.Source, "cannot copy %s %q into %s %q without a transform", sp.Kind, e.Source, tp.Kind, e.Target)
	}
	if l.opts.Bidirectional {
		if e.Transform != nil && e.Inverse == nil {
			return l.errorf(e.Source, "bidirectional link with a transform needs an inverse")
		}
		if e.Inverse == nil && !tp.Kind.convertible(sp.Kind) {
			return l.errorf(e.Target, "cannot copy %s %q back into %s %q without an inverse", tp.Kind, e.Target, sp.Kind, e.Source)
		}
	}
	return nil
}

func (l *Link) propagate(c *Component, name string, v any) {
	if p, ok := c.class.Param(name); ok {
		if nv, err := p.normalize(v); err == nil {
			v = nv
		}
	}
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.wrote[linkKey{c, name}] = v
	l.mu.Unlock()
	if err := c.Set(name, v); err != nil {
		l.logger(c).Printf("link %s -> %s: set %s.%s: %v", l.source.ref, l.target.ref, c.ref, name, err)
	}
}

func (l *Link) logger(c *Component) *log.Logger {
	if l.opts.Logger != nil {
		return l.opts.Logger
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if views := c.viewList(); len(views) > 0 {
		return views[0].session.logger
	}
	return defaultLogger()
}

// echo reports whether ch is the link's own write coming back, which
// must not be propagated again.
func (l *Link) echo(c *Component, ch Change) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed {
		return true
	}
	key := linkKey{c, ch.Name}
	v, ok := l.wrote[key]
	if !ok {
		return false
	}
	delete(l.wrote, key)
	return equal(v, ch.New)
}

// announce sends the view-side entries to s once both ends are bound
// there. It may run with a component lock held.
func (l *Link) announce(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.disposed || l.announced[s.root] {
		return
	}
	src, tgt := s.lookupView(l.source.ref), s.lookupView(l.target.ref)
	if src == nil || tgt == nil || src.comp != l.source || tgt.comp != l.target {
		return
	}
	for _, e := range l.opts.Entries {
		if e.Code == "" {
			continue
		}
		prop := e.Source
		if !e.Event {
			if name, ok := l.source.class.renames.ViewName(e.Source); ok {
				prop = name
			}
		}
		s.out.enqueueLink(src, view.LinkSpec{Source: src.node.ID(), Property: prop, Target: tgt.node.ID(), Code: e.Code})
		l.announced[s.root] = true
	}
}

// forget is called when either end leaves root.
func (l *Link) forget(root string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.announced, root)
}

// Dispose stops the link. It is safe to call more than once and while
// events are being dispatched.
func (l *Link) Dispose() {
	l.mu.Lock()
	if l.disposed {
		l.mu.Unlock()
		return
	}
	l.disposed = true
	undo := l.undo
	l.undo = nil
	l.mu.Unlock()

	for _, fn := range undo {
		fn()
	}
	for _, c := range []*Component{l.source, l.target} {
		c.mu.Lock()
		delete(c.links, l)
		c.mu.Unlock()
	}
}

// Source returns the link's source component.
func (l *Link) Source() *Component { return l.source }

// Target returns the link's target component.
func (l *Link) Target() *Component { return l.target }
