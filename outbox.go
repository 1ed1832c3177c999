package panel

import (
	"context"
	"sync"

	"github.com/vishalbelsare/panel/lib/view"
)

// patch collects the updates for one view node within a hold. Updates to
// the same (node, property) merge; the last value wins and the first
// position is kept.
type patch struct {
	vs      *viewState
	updates []view.Update
	index   map[[2]string]int
}

type pendingLink struct {
	vs   *viewState
	spec view.LinkSpec
}

type outgoing struct {
	msg  view.Message
	done chan struct{} // barrier marker when non-nil
}

// outbox is a session's outgoing side. Patches are delivered to the
// toolkit when the outermost hold is released; deferred sessions also
// queue them for the transport goroutine.
type outbox struct {
	s *Session

	mu     sync.Mutex
	cond   *sync.Cond
	depth  int
	order  []*patch
	byView map[*viewState]*patch
	links  []pendingLink
	queue  []outgoing
	closed bool
}

func newOutbox(s *Session) *outbox {
	o := &outbox{s: s, byView: map[*viewState]*patch{}}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) hold() {
	o.mu.Lock()
	o.depth++
	o.mu.Unlock()
}

func (o *outbox) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.depth--; o.depth <= 0 {
		o.depth = 0
		o.flushLocked()
	}
}

func (o *outbox) enqueue(vs *viewState, updates []view.Update) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.byView[vs]
	if p == nil {
		p = &patch{vs: vs, index: map[[2]string]int{}}
		o.byView[vs] = p
		o.order = append(o.order, p)
	}
	for _, u := range updates {
		key := [2]string{u.Node, u.Property}
		if i, ok := p.index[key]; ok {
			p.updates[i].Value = u.Value
			continue
		}
		p.index[key] = len(p.updates)
		p.updates = append(p.updates, u)
	}
	if o.depth == 0 {
		o.flushLocked()
	}
}

func (o *outbox) enqueueLink(vs *viewState, spec view.LinkSpec) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.links = append(o.links, pendingLink{vs, spec})
	if o.depth == 0 {
		o.flushLocked()
	}
}

// push queues a message for the transport without waiting for the hold.
// Creations and destructions use it so they precede the patches of the
// batch that caused them.
func (o *outbox) push(msg view.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pushLocked(msg)
}

func (o *outbox) pushLocked(msg view.Message) {
	if o.s.opts.transport == nil || o.closed {
		return
	}
	o.queue = append(o.queue, outgoing{msg: msg})
	o.cond.Signal()
}

// drop discards pending updates for a view that is going away.
func (o *outbox) drop(vs *viewState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p := o.byView[vs]; p != nil {
		delete(o.byView, vs)
		for i, q := range o.order {
			if q == p {
				o.order = append(o.order[:i], o.order[i+1:]...)
				break
			}
		}
	}
	links := o.links[:0]
	for _, l := range o.links {
		if l.vs != vs {
			links = append(links, l)
		}
	}
	o.links = links
}

func (o *outbox) flushLocked() {
	patches, links := o.order, o.links
	o.order, o.links = nil, nil
	o.byView = map[*viewState]*patch{}
	s := o.s
	for _, p := range patches {
		if s.toolkit != nil {
			if err := s.toolkit.UpdateViewNode(p.vs.node, p.updates); err != nil {
				s.logger.Printf("root %s: update %s: %v", s.root, p.vs.comp.ref, err)
			}
		}
		o.pushLocked(view.Message{Kind: view.MessagePatch, Root: s.root, Ref: p.vs.comp.ref, Updates: p.updates})
	}
	for _, l := range links {
		if la, ok := s.toolkit.(view.LinkApplier); ok {
			if err := la.ApplyLink(l.vs.node, l.spec); err != nil {
				s.logger.Printf("root %s: link %s -> %s: %v", s.root, l.spec.Source, l.spec.Target, err)
			}
		}
		spec := l.spec
		o.pushLocked(view.Message{Kind: view.MessageLink, Root: s.root, Ref: l.vs.comp.ref, Link: &spec})
	}
}

// run hands queued messages to the transport until the outbox is closed
// and drained.
func (o *outbox) run() {
	defer o.s.wg.Done()
	for {
		o.mu.Lock()
		for len(o.queue) == 0 && !o.closed {
			o.cond.Wait()
		}
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		batch := o.queue
		o.queue = nil
		o.mu.Unlock()

		for _, out := range batch {
			if out.done != nil {
				close(out.done)
				continue
			}
			o.send(out.msg)
		}
	}
}

func (o *outbox) send(msg view.Message) {
	s := o.s
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.sendTimeout)
	defer cancel()
	if err := s.opts.transport.Send(ctx, s.root, msg); err != nil {
		s.logger.Printf("root %s: send %s %s: %v", s.root, msg.Kind, msg.Ref, err)
	}
}

// barrier waits until everything queued before it has been sent.
func (o *outbox) barrier(ctx context.Context) error {
	o.mu.Lock()
	if o.s.opts.transport == nil || o.closed {
		o.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	o.queue = append(o.queue, outgoing{done: done})
	o.cond.Signal()
	o.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushLocked()
	o.closed = true
	o.cond.Broadcast()
}
