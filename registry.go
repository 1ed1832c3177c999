package panel

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Registry maps root ids to their sessions and to the components rendered
// under them. It is the only structure shared between sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	members  map[string]map[string]*Component // root -> ref -> component
	encoder  *Encoder
	logger   *log.Logger

	// OnError receives dispatch failures. The default logs them.
	// Customize this before opening sessions.
	OnError func(error)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used by the registry and its sessions.
func WithLogger(l *log.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithKey sets the key used to sign root tokens handed to views. Keys
// shorter than 32 bytes are stretched with SHA-256. Panics if the encoder
// cannot be created.
func WithKey(key []byte) RegistryOption {
	return func(r *Registry) {
		enc, err := NewEncoder(key)
		if err != nil {
			panic(fmt.Sprintf("panel: failed to create encoder: %v", err))
		}
		r.encoder = enc
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: map[string]*Session{},
		members:  map[string]map[string]*Component{},
		logger:   defaultLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.OnError = func(err error) {
		r.logger.Printf("%v", err)
	}
	return r
}

// Encoder returns the registry's token encoder, or nil when no key was set.
func (r *Registry) Encoder() *Encoder {
	return r.encoder
}

// NewSession opens a root. Immediate sessions need a toolkit; deferred
// sessions need a toolkit, a transport, or both.
func (r *Registry) NewSession(root string, tk Toolkit, opts ...SessionOption) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[root]; exists {
		return nil, &BindingError{Root: root, Msg: "root already open", Err: ErrAlreadyBound}
	}
	s, err := newSession(r, root, tk, opts)
	if err != nil {
		return nil, err
	}
	r.sessions[root] = s
	r.members[root] = map[string]*Component{}
	return s, nil
}

// Session returns the open session for root.
func (r *Registry) Session(root string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[root]
	return s, ok
}

// Roots returns the open roots in sorted order.
func (r *Registry) Roots() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sessions)
}

// Components returns the components rendered under root, ordered by ref.
func (r *Registry) Components(root string) []*Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.members[root]
	out := make([]*Component, 0, len(m))
	for _, ref := range sortedKeys(m) {
		out = append(out, m[ref])
	}
	return out
}

// Lookup finds a component by root and ref.
func (r *Registry) Lookup(root, ref string) (*Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.members[root][ref]
	return c, ok
}

// CloseSession closes root's session, if it is open.
func (r *Registry) CloseSession(root string) error {
	s, ok := r.Session(root)
	if !ok {
		return nil
	}
	return s.Close()
}

// Close closes every open session.
func (r *Registry) Close() error {
	for _, root := range r.Roots() {
		if err := r.CloseSession(root); err != nil {
			return err
		}
	}
	return nil
}

// Dispatch delivers a view event to root's session. Events for roots that
// are not open are reported as stale.
func (r *Registry) Dispatch(ctx context.Context, root string, ev Event) {
	s, ok := r.Session(root)
	if !ok {
		r.report(&DispatchError{Root: root, Ref: ev.Ref, Node: ev.Node, Event: ev.Name, Err: ErrStaleRef})
		return
	}
	s.Dispatch(ctx, ev)
}

// ReceiveViewChange applies a property change made in root's view of the
// component ref. viewProp is the view-facing name. Changes for roots that
// are not open are logged and dropped.
func (r *Registry) ReceiveViewChange(root, ref, viewProp string, value any) error {
	s, ok := r.Session(root)
	if !ok {
		r.logger.Printf("root %s: ignoring change to %s.%s: root is not open", root, ref, viewProp)
		return nil
	}
	return s.ReceiveViewChange(ref, viewProp, value)
}

func (r *Registry) add(root string, c *Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.members[root]; m != nil {
		m[c.ref] = c
	}
}

func (r *Registry) remove(root string, c *Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.members[root]; m != nil && m[c.ref] == c {
		delete(m, c.ref)
	}
}

func (r *Registry) dropSession(root string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[root] == s {
		delete(r.sessions, root)
		delete(r.members, root)
	}
}

func (r *Registry) report(err error) {
	if r.OnError != nil {
		r.OnError(err)
	}
}
