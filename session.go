package panel

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vishalbelsare/panel/lib/view"
)

// Mode selects how a session delivers patches and handles view events.
type Mode int

const (
	// Immediate sessions deliver patches to the toolkit synchronously and
	// handle view events on the goroutine that reports them.
	Immediate Mode = iota
	// Deferred sessions queue view events for the session's own goroutine
	// and mirror every patch over a Transport.
	Deferred
)

func (m Mode) String() string {
	if m == Deferred {
		return "deferred"
	}
	return "immediate"
}

// ParseMode parses "immediate" or "deferred".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "immediate":
		return Immediate, nil
	case "deferred":
		return Deferred, nil
	}
	return Immediate, fmt.Errorf("panel: unknown session mode %q", s)
}

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 5 * time.Second
)

type sessionOptions struct {
	mode        Mode
	transport   view.Transport
	queueSize   int
	sendTimeout time.Duration
	logger      *log.Logger
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

// WithMode selects the delivery mode.
func WithMode(m Mode) SessionOption {
	return func(o *sessionOptions) { o.mode = m }
}

// WithTransport mirrors patches over t and accepts view events from it.
// It implies Deferred.
func WithTransport(t view.Transport) SessionOption {
	return func(o *sessionOptions) {
		o.transport = t
		o.mode = Deferred
	}
}

// WithQueueSize bounds the inbound event queue of a deferred session.
func WithQueueSize(n int) SessionOption {
	return func(o *sessionOptions) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithSendTimeout bounds each transport send.
func WithSendTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		if d > 0 {
			o.sendTimeout = d
		}
	}
}

// WithSessionLogger overrides the registry's logger for one session.
func WithSessionLogger(l *log.Logger) SessionOption {
	return func(o *sessionOptions) { o.logger = l }
}

// Session is one root: a view tree kept in sync with the components
// rendered into it. Sessions are created by Registry.NewSession.
type Session struct {
	root     string
	registry *Registry
	toolkit  view.Toolkit
	opts     sessionOptions
	logger   *log.Logger

	turn sync.Mutex // one event handled at a time
	out  *outbox
	disp dispatcher

	mu       sync.Mutex
	views    map[string]*viewState // ref -> view
	detached map[*Component]view.Node
	closed   bool

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()
}

func newSession(r *Registry, root string, tk view.Toolkit, opts []SessionOption) (*Session, error) {
	o := sessionOptions{queueSize: defaultQueueSize, sendTimeout: defaultSendTimeout, logger: r.logger}
	for _, opt := range opts {
		opt(&o)
	}
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrBinding)
	}
	if tk == nil && o.transport == nil {
		return nil, fmt.Errorf("%w: root %s has neither a toolkit nor a transport", ErrBinding, root)
	}
	if tk == nil && o.mode == Immediate {
		return nil, fmt.Errorf("%w: immediate root %s needs a toolkit", ErrBinding, root)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		root:     root,
		registry: r,
		toolkit:  tk,
		opts:     o,
		logger:   o.logger,
		views:    map[string]*viewState{},
		detached: map[*Component]view.Node{},
		ctx:      ctx,
		cancel:   cancel,
	}
	s.out = newOutbox(s)
	if o.mode == Deferred {
		d := newDeferredDispatcher(s, o.queueSize)
		s.disp = d
		s.wg.Add(1)
		go d.run()
		if o.transport != nil {
			s.wg.Add(1)
			go s.out.run()
			s.unsubscribe = o.transport.OnMessage(root, s.receiveMessage)
		}
	} else {
		s.disp = &immediateDispatcher{s: s}
	}
	return s, nil
}

// Root returns the session's root id.
func (s *Session) Root() string { return s.root }

// Mode returns the session's delivery mode.
func (s *Session) Mode() Mode { return s.opts.mode }

// Registry returns the registry the session belongs to.
func (s *Session) Registry() *Registry { return s.registry }

// Hold defers delivery of patches until release is called, merging every
// update made in between into one message per view node. Holds nest; the
// outermost release flushes.
func (s *Session) Hold() (release func()) {
	s.out.hold()
	var once sync.Once
	return func() { once.Do(s.out.release) }
}

// Batch runs fn inside a Hold.
func (s *Session) Batch(fn func()) {
	release := s.Hold()
	defer release()
	fn()
}

// Flush waits until every event queued so far has been handled and every
// resulting message has been handed to the transport. It returns at once
// for immediate sessions.
func (s *Session) Flush(ctx context.Context) error {
	if s.opts.mode == Immediate {
		return nil
	}
	if d, ok := s.disp.(*deferredDispatcher); ok {
		if err := d.barrier(ctx); err != nil {
			return err
		}
	}
	return s.out.barrier(ctx)
}

// Components returns the components bound in this session, ordered by ref.
func (s *Session) Components() []*Component {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Component, 0, len(s.views))
	for _, ref := range sortedKeys(s.views) {
		out = append(out, s.views[ref].comp)
	}
	return out
}

// Lookup returns the component bound under ref.
func (s *Session) Lookup(ref string) (*Component, bool) {
	vs := s.lookupView(ref)
	if vs == nil {
		return nil, false
	}
	return vs.comp, true
}

// Node returns the view node of a component bound in this session.
func (s *Session) Node(c *Component) (view.Node, bool) {
	vs := s.lookupView(c.ref)
	if vs == nil || vs.comp != c {
		return nil, false
	}
	return vs.node, true
}

func (s *Session) lookupView(ref string) *viewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views[ref]
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// register records a bound view. The registry sees the component only after
// the session does, so registry readers never observe a half-bound view.
func (s *Session) register(vs *viewState) {
	s.mu.Lock()
	s.views[vs.comp.ref] = vs
	s.mu.Unlock()
	s.registry.add(s.root, vs.comp)
}

func (s *Session) unregister(vs *viewState) {
	s.registry.remove(s.root, vs.comp)
	s.mu.Lock()
	if s.views[vs.comp.ref] == vs {
		delete(s.views, vs.comp.ref)
	}
	s.mu.Unlock()
}

// Close cleans up every component rendered in the session, stops its
// goroutines and removes it from the registry. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var tops, bound []*viewState
	for _, ref := range sortedKeys(s.views) {
		vs := s.views[ref]
		switch {
		case vs.top:
			tops = append(tops, vs)
		case !vs.rendered:
			bound = append(bound, vs)
		}
	}
	s.mu.Unlock()

	release := s.Hold()
	for _, vs := range tops {
		s.cleanup(vs.comp)
	}
	for _, vs := range bound {
		Unbind(vs.comp, s.root)
	}
	s.mu.Lock()
	var left []*Component
	for c := range s.detached {
		left = append(left, c)
	}
	s.mu.Unlock()
	for _, c := range left {
		s.destroyDetached(c)
	}
	release()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.disp.close()
	s.out.close()
	s.wg.Wait()
	s.cancel()
	s.registry.dropSession(s.root, s)
	return nil
}

// receiveMessage accepts messages arriving over the transport.
func (s *Session) receiveMessage(msg view.Message) {
	if msg.Kind != view.MessageEvent || msg.Event == nil {
		s.logger.Printf("root %s: ignoring %s message from view", s.root, msg.Kind)
		return
	}
	ev := *msg.Event
	if ev.Ref == "" {
		ev.Ref = msg.Ref
	}
	s.Dispatch(s.ctx, ev)
}
