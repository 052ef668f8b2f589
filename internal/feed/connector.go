// Package feed owns the single connection to the upstream streaming price
// source. It decodes trade frames into ticks, holds the authoritative set of
// currently subscribed symbols, and reconnects with a flat delay, re-sending
// a subscribe frame for every wanted symbol after each reconnect.
package feed

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Vivek-1102/Capx/pkg/models"
)

type Connector struct {
	url            string
	dialer         Dialer
	logger         *zap.Logger
	reconnectDelay time.Duration

	ticks chan models.Tick

	state atomic.Int32

	// Guards conn and the subscribed-symbol set. Writes to the connection
	// are serialized under the same lock.
	mu         sync.Mutex
	conn       Conn
	subscribed map[string]struct{}
}

func NewConnector(url string, dialer Dialer, reconnectDelay time.Duration, logger *zap.Logger) *Connector {
	return &Connector{
		url:            url,
		dialer:         dialer,
		logger:         logger,
		reconnectDelay: reconnectDelay,
		ticks:          make(chan models.Tick, 256),
		subscribed:     make(map[string]struct{}),
	}
}

// Ticks returns the channel of decoded ticks, in wire arrival order. The
// channel is closed when Run returns.
func (c *Connector) Ticks() <-chan models.Tick {
	return c.ticks
}

// State returns the current connection state.
func (c *Connector) State() State {
	return State(c.state.Load())
}

// Subscribe adds symbol to the subscribed set and, when connected, sends the
// upstream subscribe frame. The caller is responsible for only invoking this
// on a 0->1 subscriber-count transition.
func (c *Connector) Subscribe(symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscribed[symbol] = struct{}{}
	if c.conn == nil {
		// Will be picked up by resubscription on the next connect.
		return ErrNotConnected
	}
	return c.conn.WriteJSON(controlFrame{Type: "subscribe", Symbol: symbol})
}

// Unsubscribe removes symbol from the subscribed set and, when connected,
// sends the upstream unsubscribe frame. Only called on a 1->0 transition.
func (c *Connector) Unsubscribe(symbol string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.subscribed, symbol)
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(controlFrame{Type: "unsubscribe", Symbol: symbol})
}

// Subscribed reports whether symbol is currently in the subscribed set.
func (c *Connector) Subscribed(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribed[symbol]
	return ok
}

// Run drives the connect / read / reconnect loop until ctx is cancelled.
// The loop is the sole owner of the connection, so a retry can never race a
// live connection into a double-connect.
func (c *Connector) Run(ctx context.Context) {
	defer close(c.ticks)
	defer c.closeConn()

	// Unblock a pending read when the context is cancelled.
	go func() {
		<-ctx.Done()
		c.closeConn()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.state.Store(int32(StateConnecting))
		conn, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			c.state.Store(int32(StateDisconnected))
			c.logger.Warn("Feed connect failed", zap.Error(err))
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.state.Store(int32(StateConnected))
		c.logger.Info("Feed connected", zap.String("url", c.url))

		c.resubscribeAll()
		c.readLoop(ctx)

		c.closeConn()
		c.state.Store(int32(StateDisconnected))

		select {
		case <-ctx.Done():
			return
		default:
		}
		c.logger.Warn("Feed disconnected, scheduling reconnect",
			zap.Duration("delay", c.reconnectDelay))
		if !c.sleep(ctx) {
			return
		}
	}
}

// resubscribeAll re-sends a subscribe frame for every symbol in the
// subscribed set, exactly once each. Safe to repeat after every reconnect:
// upstream subscribes are idempotent.
func (c *Connector) resubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for symbol := range c.subscribed {
		if err := c.conn.WriteJSON(controlFrame{Type: "subscribe", Symbol: symbol}); err != nil {
			c.logger.Warn("Resubscribe failed", zap.String("symbol", symbol), zap.Error(err))
			return
		}
	}
}

func (c *Connector) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Feed read error", zap.Error(err))
			}
			return
		}

		var frame dataFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			// Malformed payloads are logged and swallowed; the stream continues.
			c.logger.Error("Feed decode error", zap.Error(err), zap.ByteString("payload", msg))
			continue
		}
		if frame.Type != "trade" {
			continue
		}

		for _, item := range frame.Data {
			tick := models.Tick{Symbol: item.Symbol, Price: item.Price}
			select {
			case c.ticks <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *Connector) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Connector) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.reconnectDelay):
		return true
	}
}
