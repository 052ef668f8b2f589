// Package gateway adapts raw downstream websocket connections to the hub's
// client interface: a read pump for subscribe/unsubscribe requests and a
// write pump draining a buffered send channel.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Vivek-1102/Capx/internal/hub"
	"github.com/Vivek-1102/Capx/internal/protocol"
)

const maxMessageSize = 64 * 1024

var errClientClosed = errors.New("gateway: client closed")

type ClientAdapter struct {
	id     string
	conn   net.Conn
	hub    *hub.Hub
	send   chan []byte
	logger *zap.Logger

	closeMu sync.Mutex
	closed  bool

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger, sendBuffer int) *ClientAdapter {
	return &ClientAdapter{
		id:         uuid.NewString(),
		conn:       conn,
		hub:        h,
		send:       make(chan []byte, sendBuffer),
		logger:     logger,
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

// Start registers the client with the hub (which pushes the initial
// snapshot) and launches the pumps.
func (c *ClientAdapter) Start(ctx context.Context) {
	go c.writePump()
	c.hub.Register(ctx, c)
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.id }

// Send queues a message for delivery. A full buffer drops the message (slow
// consumers must not stall the broadcast); a closed client reports failure so
// the hub can drop it from the registry.
func (c *ClientAdapter) Send(b []byte) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- b:
	default:
		// Backpressure: drop rather than block the broadcast.
	}
	return nil
}

// Close shuts the send channel; the write pump then closes the connection.
func (c *ClientAdapter) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *ClientAdapter) sendError(msg string) {
	b, err := json.Marshal(protocol.ErrorMessage{Type: protocol.TypeError, Message: msg})
	if err == nil {
		c.Send(b)
	}
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			break
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			break
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			break
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			break
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		if header.OpCode == ws.OpClose {
			break
		}
		if header.OpCode == ws.OpPong {
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			continue
		}

		if header.OpCode == ws.OpText {
			var req protocol.WSRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				c.sendError("Invalid JSON")
				continue
			}

			symbol := strings.TrimSpace(req.Symbol)
			if symbol == "" {
				c.sendError("Missing symbol")
				continue
			}

			switch req.Action {
			case protocol.ActionSubscribe:
				c.hub.HandleSubscribe(c, symbol)
			case protocol.ActionUnsubscribe:
				c.hub.HandleUnsubscribe(c, symbol)
			default:
				c.sendError("Unknown action: " + req.Action)
			}
		}
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				c.conn.Write(ws.CompiledClose)
				return
			}
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
