package transport

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vishalbelsare/panel/lib/encoding"
	"github.com/vishalbelsare/panel/lib/view"
)

// Client is the view end of a connection. Tests and Go views use it.
type Client struct {
	ws     *websocket.Conn
	format encoding.Format
	wmu    sync.Mutex
}

// Dial connects to a Server at url, e.g. "ws://host/ws?root=r1".
func Dial(ctx context.Context, url string, f encoding.Format) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &Client{ws: ws, format: f}, nil
}

// Send writes one message to the server.
func (c *Client) Send(msg view.Message) error {
	data, err := encoding.MarshalMessage(c.format, msg)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(frameType(c.format), data)
}

// SendEvent reports a view event for the component ref.
func (c *Client) SendEvent(ev view.Event) error {
	return c.Send(view.Message{Kind: view.MessageEvent, Ref: ev.Ref, Event: &ev})
}

// Next blocks until the next message arrives. Only one goroutine may call
// Next at a time.
func (c *Client) Next() (view.Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return view.Message{}, err
	}
	return encoding.UnmarshalMessage(c.format, data)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.wmu.Lock()
	c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.wmu.Unlock()
	return c.ws.Close()
}
