// Package transport carries session messages to views over websockets.
//
// A Server implements view.Transport. Views connect to it over HTTP, one
// connection per root; the root is taken from the request by a Resolver.
// Messages sent for a root with no connected view are kept, up to the
// backlog, and delivered when the view connects.
//
//	srv := transport.NewServer(transport.WithResolver(transport.QueryToken(enc, time.Hour)))
//	http.Handle("/ws", srv)
//	s, err := reg.NewSession(root, nil, panel.WithTransport(srv))
package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vishalbelsare/panel/lib/encoding"
	"github.com/vishalbelsare/panel/lib/view"
)

// ErrNoRoot is returned by resolvers when a request names no root.
var ErrNoRoot = errors.New("transport: request names no root")

// Resolver extracts the root a connecting view belongs to.
type Resolver func(r *http.Request) (string, error)

// QueryRoot reads the root from the "root" query parameter. It trusts the
// client and is meant for development.
func QueryRoot(r *http.Request) (string, error) {
	root := r.URL.Query().Get("root")
	if root == "" {
		return "", ErrNoRoot
	}
	return root, nil
}

// QueryToken reads a root token made by Encoder.RootToken from the
// "token" query parameter. Tokens older than maxAge are rejected.
func QueryToken(enc *encoding.Encoder, maxAge time.Duration) Resolver {
	return func(r *http.Request) (string, error) {
		tok := r.URL.Query().Get("token")
		if tok == "" {
			return "", ErrNoRoot
		}
		return enc.ParseRootToken(tok, false, maxAge)
	}
}

// Option configures a Server.
type Option func(*Server)

// WithFormat selects the frame format. The default is msgpack.
func WithFormat(f encoding.Format) Option {
	return func(s *Server) { s.format = f }
}

// WithResolver sets how requests are mapped to roots. The default is
// QueryRoot.
func WithResolver(fn Resolver) Option {
	return func(s *Server) { s.resolve = fn }
}

// WithBacklog bounds the messages kept per root while no view is
// connected. The oldest are dropped first.
func WithBacklog(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.backlog = n
		}
	}
}

// WithUpgrader sets a custom websocket upgrader.
func WithUpgrader(u *websocket.Upgrader) Option {
	return func(s *Server) { s.upgrader = u }
}

// WithOnDisconnect registers fn to run when the view of a root goes away
// and no newer connection replaced it.
func WithOnDisconnect(fn func(root string)) Option {
	return func(s *Server) { s.onDisconnect = fn }
}

// WithLogger sets the server's logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

type handlerEntry struct {
	id uint64
	fn func(view.Message)
}

// Server is a websocket view.Transport.
type Server struct {
	upgrader *websocket.Upgrader
	format   encoding.Format
	backlog  int
	resolve  Resolver
	logger   *log.Logger

	onDisconnect func(root string)

	mu       sync.Mutex
	conns    map[string]*conn
	handlers map[string][]handlerEntry
	pending  map[string][]view.Message
	seq      uint64
	closed   bool
}

var _ view.Transport = (*Server)(nil)

type conn struct {
	root string
	ws   *websocket.Conn
	wmu  sync.Mutex // gorilla allows one writer at a time
}

// NewServer creates a server with no connections.
func NewServer(opts ...Option) *Server {
	s := &Server{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		backlog:  64,
		resolve:  QueryRoot,
		logger:   log.New(os.Stderr, "[panel/transport] ", log.LstdFlags),
		conns:    map[string]*conn{},
		handlers: map[string][]handlerEntry{},
		pending:  map[string][]view.Message{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Format returns the frame format.
func (s *Server) Format() encoding.Format { return s.format }

// ServeHTTP upgrades the request and serves the view until it
// disconnects. A second connection for the same root replaces the first.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	root, err := s.resolve(r)
	if err != nil {
		status := http.StatusForbidden
		if errors.Is(err, ErrNoRoot) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied.
		s.logger.Printf("root %s: upgrade: %v", root, err)
		return
	}
	c := &conn{root: root, ws: ws}
	if !s.attach(c) {
		ws.Close()
		return
	}
	defer s.detach(c)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("root %s: read: %v", root, err)
			}
			return
		}
		msg, err := encoding.UnmarshalMessage(s.format, data)
		if err != nil {
			s.logger.Printf("root %s: %v", root, err)
			continue
		}
		msg.Root = root
		s.deliver(root, msg)
	}
}

// attach registers c and writes the backlog before any later Send can
// reach the connection.
func (s *Server) attach(c *conn) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if old := s.conns[c.root]; old != nil {
		old.ws.Close()
	}
	s.conns[c.root] = c
	backlog := s.pending[c.root]
	delete(s.pending, c.root)
	c.wmu.Lock()
	s.mu.Unlock()
	defer c.wmu.Unlock()

	for _, msg := range backlog {
		if err := s.write(c, msg); err != nil {
			s.logger.Printf("root %s: backlog: %v", c.root, err)
			return true
		}
	}
	return true
}

func (s *Server) detach(c *conn) {
	s.mu.Lock()
	current := s.conns[c.root] == c
	if current {
		delete(s.conns, c.root)
	}
	s.mu.Unlock()
	c.ws.Close()
	if current && s.onDisconnect != nil {
		s.onDisconnect(c.root)
	}
}

func (s *Server) deliver(root string, msg view.Message) {
	s.mu.Lock()
	handlers := append([]handlerEntry(nil), s.handlers[root]...)
	s.mu.Unlock()
	if len(handlers) == 0 {
		s.logger.Printf("root %s: no handler for %s message", root, msg.Kind)
		return
	}
	for _, h := range handlers {
		h.fn(msg)
	}
}

// Send writes msg to root's view, or keeps it until the view connects.
// The write gives up when ctx is done.
func (s *Server) Send(ctx context.Context, root string, msg view.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("transport: server closed")
	}
	c := s.conns[root]
	if c == nil {
		q := append(s.pending[root], msg)
		if len(q) > s.backlog {
			s.logger.Printf("root %s: backlog full, dropping %d message(s)", root, len(q)-s.backlog)
			q = q[len(q)-s.backlog:]
		}
		s.pending[root] = q
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if d, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(d)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return s.write(c, msg)
}

// write sends one frame. c.wmu must be held.
func (s *Server) write(c *conn, msg view.Message) error {
	data, err := encoding.MarshalMessage(s.format, msg)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(frameType(s.format), data)
}

// OnMessage registers handler for messages from root's view.
func (s *Server) OnMessage(root string, handler func(view.Message)) (unsubscribe func()) {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.handlers[root] = append(s.handlers[root], handlerEntry{id: id, fn: handler})
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		hs := s.handlers[root]
		for i, h := range hs {
			if h.id == id {
				s.handlers[root] = append(hs[:i:i], hs[i+1:]...)
				break
			}
		}
		if len(s.handlers[root]) == 0 {
			delete(s.handlers, root)
		}
	}
}

// Connected reports whether a view is connected for root.
func (s *Server) Connected(root string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[root] != nil
}

// Forget drops the backlog of a root that will not be served again.
func (s *Server) Forget(root string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, root)
}

// Close disconnects every view. Later sends fail.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = map[string]*conn{}
	s.pending = map[string][]view.Message{}
	s.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
	return nil
}

func frameType(f encoding.Format) int {
	if f == encoding.JSON {
		return websocket.TextMessage
	}
	return websocket.BinaryMessage
}
