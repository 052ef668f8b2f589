// Package hub is the coordination point of the relay: it owns the subscriber
// registry, the per-symbol subscriber refcounts, and the tick fan-out.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Vivek-1102/Capx/internal/cache"
	"github.com/Vivek-1102/Capx/internal/feed"
	"github.com/Vivek-1102/Capx/internal/protocol"
	"github.com/Vivek-1102/Capx/pkg/models"
)

// ClientInterface is a connected downstream subscriber channel.
type ClientInterface interface {
	ID() string
	Send(b []byte) error
	Close()
}

// Upstream is the feed connector surface the hub drives. Subscribe and
// Unsubscribe are only invoked on 0->1 and 1->0 refcount transitions.
type Upstream interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
}

// Ledger is the persisted instrument list used for the initial snapshot.
type Ledger interface {
	FindAll(ctx context.Context) ([]models.Instrument, error)
}

// TickSink receives every handled tick, best effort. The firehose implements
// this; a nil sink disables mirroring.
type TickSink interface {
	Publish(ctx context.Context, tick models.Tick)
}

type Hub struct {
	upstream Upstream
	ledger   Ledger
	cache    *cache.PriceCache
	sink     TickSink
	logger   *zap.Logger

	mu         sync.RWMutex
	clients    map[ClientInterface]bool
	clientSubs map[ClientInterface]map[string]bool
	refCount   map[string]int
	// Ledger-driven interest (buy holds a subscription open until the
	// position is sold down to zero), tracked separately from clients so a
	// disconnect never releases it.
	ledgerHeld map[string]bool
}

func NewHub(upstream Upstream, ledger Ledger, priceCache *cache.PriceCache, sink TickSink, logger *zap.Logger) *Hub {
	return &Hub{
		upstream:   upstream,
		ledger:     ledger,
		cache:      priceCache,
		sink:       sink,
		logger:     logger,
		clients:    make(map[ClientInterface]bool),
		clientSubs: make(map[ClientInterface]map[string]bool),
		refCount:   make(map[string]int),
		ledgerHeld: make(map[string]bool),
	}
}

// Run consumes decoded ticks until the channel closes or ctx is cancelled.
// A single consumer goroutine serializes HandleTick, so same-symbol cache
// updates apply in arrival order.
func (h *Hub) Run(ctx context.Context, ticks <-chan models.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			h.HandleTick(ctx, tick)
		}
	}
}

// HandleTick updates the live price cache and broadcasts the update to every
// registered client.
func (h *Hub) HandleTick(ctx context.Context, tick models.Tick) {
	h.cache.Set(tick.Symbol, tick.Price)

	payload, err := json.Marshal(protocol.UpdateMessage{Type: protocol.TypeUpdate, Data: tick})
	if err != nil {
		h.logger.Error("Marshal update failed", zap.Error(err))
		return
	}
	h.Broadcast(payload)

	if h.sink != nil {
		h.sink.Publish(ctx, tick)
	}
}

// Broadcast delivers payload to every registered client. A client whose send
// fails is unregistered as a side effect; the failure never reaches the
// remaining clients.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	targets := make([]ClientInterface, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	var failed []ClientInterface
	for _, client := range targets {
		if err := client.Send(payload); err != nil {
			failed = append(failed, client)
		}
	}
	for _, client := range failed {
		h.logger.Info("Dropping client on send failure", zap.String("client", client.ID()))
		h.Unregister(client)
	}
}

// Register adds a client to the registry and pushes the initial snapshot.
func (h *Hub) Register(ctx context.Context, client ClientInterface) {
	h.mu.Lock()
	h.clients[client] = true
	h.clientSubs[client] = make(map[string]bool)
	h.mu.Unlock()

	views, err := h.Snapshot(ctx)
	if err != nil {
		h.logger.Error("Snapshot failed", zap.Error(err))
		views = []models.InstrumentView{}
	}
	payload, err := json.Marshal(protocol.InitialMessage{Type: protocol.TypeInitial, Data: views})
	if err != nil {
		h.logger.Error("Marshal initial failed", zap.Error(err))
		return
	}
	if err := client.Send(payload); err != nil {
		h.Unregister(client)
	}
}

// Unregister removes a client, releasing every symbol it had interest in as
// if it had unsubscribed from each.
func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	if subs, ok := h.clientSubs[client]; ok {
		for symbol := range subs {
			h.decRef(symbol)
		}
		delete(h.clientSubs, client)
	}
	delete(h.clients, client)
	h.mu.Unlock()
	client.Close()
}

// HandleSubscribe records the client's interest in symbol. The upstream
// subscribe frame is sent only on the 0->1 transition of the refcount.
func (h *Hub) HandleSubscribe(client ClientInterface, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.clientSubs[client]
	if !ok {
		return
	}
	if subs[symbol] {
		// Idempotent: repeated subscribes from the same client count once.
		return
	}
	subs[symbol] = true
	h.incRef(symbol)
}

// HandleUnsubscribe drops the client's interest in symbol. The upstream
// unsubscribe frame is sent only on the 1->0 transition.
func (h *Hub) HandleUnsubscribe(client ClientInterface, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.clientSubs[client]
	if !ok || !subs[symbol] {
		return
	}
	delete(subs, symbol)
	h.decRef(symbol)
}

// Acquire holds an upstream subscription open on behalf of the ledger (a
// bought position). Idempotent per symbol.
func (h *Hub) Acquire(symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ledgerHeld[symbol] {
		return
	}
	h.ledgerHeld[symbol] = true
	h.incRef(symbol)
}

// Release drops the ledger's hold on symbol (position sold down to zero).
func (h *Hub) Release(symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.ledgerHeld[symbol] {
		return
	}
	delete(h.ledgerHeld, symbol)
	h.decRef(symbol)
}

// Snapshot merges the persisted instrument list with the live price cache.
// Cached symbols without a ledger record are included as price-only rows.
func (h *Hub) Snapshot(ctx context.Context) ([]models.InstrumentView, error) {
	instruments, err := h.ledger.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	prices := h.cache.Snapshot()

	views := make([]models.InstrumentView, 0, len(instruments))
	for _, inst := range instruments {
		view := models.InstrumentView{
			Ticker:   inst.Ticker,
			Name:     inst.Name,
			Quantity: inst.Quantity,
			BuyPrice: inst.BuyPrice,
		}
		if price, ok := prices[inst.Ticker]; ok {
			view.LivePrice = price
		}
		views = append(views, view)
		delete(prices, inst.Ticker)
	}
	for symbol, price := range prices {
		views = append(views, models.InstrumentView{Ticker: symbol, LivePrice: price})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Ticker < views[j].Ticker })
	return views, nil
}

// incRef and decRef run under h.mu; serializing the count transitions here is
// what keeps duplicate or premature upstream (un)subscribes impossible.
func (h *Hub) incRef(symbol string) {
	h.refCount[symbol]++
	if h.refCount[symbol] == 1 {
		if err := h.upstream.Subscribe(symbol); err != nil && !errors.Is(err, feed.ErrNotConnected) {
			h.logger.Error("Upstream subscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func (h *Hub) decRef(symbol string) {
	h.refCount[symbol]--
	if h.refCount[symbol] <= 0 {
		delete(h.refCount, symbol)
		if err := h.upstream.Unsubscribe(symbol); err != nil && !errors.Is(err, feed.ErrNotConnected) {
			h.logger.Error("Upstream unsubscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
}
