package feed

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// State is the connector's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var ErrNotConnected = errors.New("feed: not connected")

// controlFrame is the upstream subscribe/unsubscribe control message.
type controlFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// dataFrame is an upstream data message. Only "trade" frames carry ticks;
// every other type is ignored.
type dataFrame struct {
	Type string      `json:"type"`
	Data []tradeItem `json:"data"`
}

type tradeItem struct {
	Symbol string  `json:"s"`
	Price  float64 `json:"p"`
}

// Conn abstracts a single upstream streaming connection so tests can inject
// a fake transport.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer establishes upstream connections.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// WebsocketDialer is the production Dialer backed by gorilla/websocket.
type WebsocketDialer struct {
	Token string
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	target := rawURL
	if d.Token != "" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("token", d.Token)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn: conn}, nil
}

type websocketConn struct {
	conn *websocket.Conn
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, msg, err := c.conn.ReadMessage()
	return msg, err
}

func (c *websocketConn) WriteJSON(v interface{}) error {
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *websocketConn) Close() error {
	return c.conn.Close()
}
