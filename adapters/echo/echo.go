// Package panelecho provides Echo framework integration for panel sessions.
//
// Mount the websocket transport onto an Echo instance or group, then open
// a deferred session per page:
//
//	e := echo.New()
//	m := panelecho.Mount(e)
//	s, token, err := m.Open(root, tk)
//
// Or mount on a group with middleware:
//
//	g := e.Group("/app", authMiddleware)
//	m := panelecho.MountGroup(g)
package panelecho

import (
	"crypto/rand"
	"fmt"
	"log"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/vishalbelsare/panel"
	"github.com/vishalbelsare/panel/lib/encoding"
	"github.com/vishalbelsare/panel/lib/htmlview"
	"github.com/vishalbelsare/panel/lib/transport"
)

// Option configures the Mount and MountGroup functions.
type Option func(*options)

type options struct {
	key         []byte
	path        string
	format      encoding.Format
	tokenMaxAge time.Duration
	backlog     int
	logger      *log.Logger
	session     []panel.SessionOption
	closeOnExit bool
}

// WithKey sets the key root tokens are signed with.
// The key must be 32 bytes of cryptographically random data.
// If not provided, a random key is generated (suitable for development only).
func WithKey(key []byte) Option {
	return func(o *options) {
		o.key = key
	}
}

// WithPath sets the URL path of the websocket endpoint.
// Defaults to "/ws".
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithFormat sets the frame format. Defaults to msgpack.
func WithFormat(f encoding.Format) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithTokenMaxAge bounds the age of root tokens accepted on connect.
func WithTokenMaxAge(d time.Duration) Option {
	return func(o *options) {
		o.tokenMaxAge = d
	}
}

// WithCloseOnDisconnect closes a root's session when its view disconnects.
// Views that reconnect after that find their root gone.
func WithCloseOnDisconnect() Option {
	return func(o *options) {
		o.closeOnExit = true
	}
}

// WithLogger sets the logger of the registry and the transport.
func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithConfig applies a loaded configuration.
func WithConfig(cfg *panel.Config) Option {
	return func(o *options) {
		o.path = cfg.Transport.Path
		if f, err := encoding.ParseFormat(cfg.Transport.Format); err == nil {
			o.format = f
		}
		if key, err := cfg.Key(); err == nil && key != nil {
			o.key = key
		}
		o.tokenMaxAge = time.Duration(cfg.Transport.TokenMaxAge)
		o.backlog = cfg.Transport.Backlog
		o.session = cfg.SessionOptions()
	}
}

// Mounted is a registry whose sessions are served over a websocket
// endpoint.
type Mounted struct {
	*panel.Registry
	Transport *transport.Server
	path      string
	session   []panel.SessionOption
}

// Mount creates a registry and mounts the websocket endpoint on an Echo
// instance.
//
//	e := echo.New()
//	m := panelecho.Mount(e)
//
//	// With options:
//	m := panelecho.Mount(e, panelecho.WithKey(key))
func Mount(e *echo.Echo, opts ...Option) *Mounted {
	m := newMounted(opts)
	e.GET(m.path, echo.WrapHandler(m.Transport))
	return m
}

// MountGroup creates a registry and mounts the websocket endpoint on an
// Echo group. This allows the endpoint to share middleware with the group
// (auth, logging, etc.).
//
//	g := e.Group("/app", authMiddleware)
//	m := panelecho.MountGroup(g)
func MountGroup(g *echo.Group, opts ...Option) *Mounted {
	m := newMounted(opts)
	g.GET(m.path, echo.WrapHandler(m.Transport))
	return m
}

func newMounted(opts []Option) *Mounted {
	o := &options{path: "/ws", tokenMaxAge: 24 * time.Hour}
	for _, opt := range opts {
		opt(o)
	}

	key := o.key
	if key == nil {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("panelecho: failed to generate random key: %v", err))
		}
	}

	regOpts := []panel.RegistryOption{panel.WithKey(key)}
	if o.logger != nil {
		regOpts = append(regOpts, panel.WithLogger(o.logger))
	}
	reg := panel.NewRegistry(regOpts...)
	m := &Mounted{Registry: reg, path: o.path, session: o.session}
	srvOpts := []transport.Option{
		transport.WithFormat(o.format),
		transport.WithResolver(transport.QueryToken(reg.Encoder(), o.tokenMaxAge)),
		transport.WithBacklog(o.backlog),
		transport.WithLogger(o.logger),
	}
	if o.closeOnExit {
		srvOpts = append(srvOpts, transport.WithOnDisconnect(func(root string) {
			reg.CloseSession(root)
			m.Transport.Forget(root)
		}))
	}
	m.Transport = transport.NewServer(srvOpts...)
	return m
}

// Path returns the websocket endpoint path.
func (m *Mounted) Path() string { return m.path }

// Open opens a deferred session for root mirrored over the websocket and
// returns the token the view must present on connect. tk may be nil when
// the page is rendered elsewhere.
func (m *Mounted) Open(root string, tk panel.Toolkit, opts ...panel.SessionOption) (*panel.Session, string, error) {
	token, err := m.Token(root)
	if err != nil {
		return nil, "", err
	}
	all := append(append([]panel.SessionOption(nil), m.session...), opts...)
	all = append(all, panel.WithTransport(m.Transport))
	s, err := m.NewSession(root, tk, all...)
	if err != nil {
		return nil, "", err
	}
	return s, token, nil
}

// Close closes every session and disconnects every view.
func (m *Mounted) Close() error {
	err := m.Registry.Close()
	m.Transport.Close()
	return err
}

// Render writes a templ component to the Echo response.
//
//	func handler(c echo.Context) error {
//	    return panelecho.Render(c, myTemplate())
//	}
func Render(c echo.Context, component templ.Component) error {
	c.Response().Header().Set("Content-Type", "text/html; charset=utf-8")
	return component.Render(c.Request().Context(), c.Response())
}

// Document writes the current state of root as HTML.
func Document(c echo.Context, tk *htmlview.Toolkit, root string) error {
	return Render(c, tk.Document(root))
}
