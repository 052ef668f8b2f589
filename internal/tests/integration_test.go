package tests

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gobwas/ws"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Vivek-1102/Capx/internal/api"
	"github.com/Vivek-1102/Capx/internal/cache"
	"github.com/Vivek-1102/Capx/internal/feed"
	"github.com/Vivek-1102/Capx/internal/gateway"
	"github.com/Vivek-1102/Capx/internal/hub"
	"github.com/Vivek-1102/Capx/internal/ledger"
	"github.com/Vivek-1102/Capx/pkg/models"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// startUpstream runs a fake upstream feed server. The test receives each
// accepted connection for pushing trade frames, and every control frame read
// from it on a channel.
func startUpstream(t *testing.T) (*httptest.Server, chan *websocket.Conn, chan string) {
	t.Helper()
	connCh := make(chan *websocket.Conn, 2)
	controlCh := make(chan string, 16)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- conn
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			controlCh <- string(msg)
		}
	}))
	t.Cleanup(server.Close)
	return server, connCh, controlCh
}

type relayFixture struct {
	server *httptest.Server
	store  ledger.Store
}

func startRelay(t *testing.T, upstreamURL string) *relayFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := ledger.NewRedisStore(rdb)
	priceCache := cache.NewPriceCache()
	logger := zap.NewNop()

	connector := feed.NewConnector(upstreamURL, &feed.WebsocketDialer{}, 50*time.Millisecond, logger)
	wsHub := hub.NewHub(connector, store, priceCache, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go connector.Run(ctx)
	go wsHub.Run(ctx, connector.Ticks())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		client := gateway.NewClient(conn, wsHub, logger, 64)
		client.Start(ctx)
	})
	api.NewHandler(store, priceCache, wsHub, nil, 0, logger).Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &relayFixture{server: server, store: store}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func connectWS(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(serverURL)+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect to websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read websocket message: %v", err)
	}
	return string(msg)
}

func TestEndToEnd_TickRelay(t *testing.T) {
	upstream, connCh, controlCh := startUpstream(t)
	fixture := startRelay(t, wsURL(upstream.URL))

	fixture.store.Create(context.Background(), models.Instrument{
		Ticker: "BINANCE:BTCUSDT", Name: "BTCUSDT", Quantity: 2, BuyPrice: 60000,
	})

	var feedConn *websocket.Conn
	select {
	case feedConn = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Connector never reached the upstream server")
	}

	client := connectWS(t, fixture.server.URL)

	// On connect the server pushes the full snapshot.
	initial := readMessage(t, client)
	if !strings.Contains(initial, `"initial"`) || !strings.Contains(initial, "BINANCE:BTCUSDT") {
		t.Fatalf("Expected initial snapshot with ledger content, got: %s", initial)
	}

	// Subscribing forwards a control frame upstream (0->1 transition).
	client.WriteMessage(websocket.TextMessage, []byte(`{"action":"subscribe","symbol":"BINANCE:BTCUSDT"}`))
	select {
	case frame := <-controlCh:
		if !strings.Contains(frame, `"subscribe"`) || !strings.Contains(frame, "BINANCE:BTCUSDT") {
			t.Fatalf("Unexpected upstream control frame: %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Upstream subscribe frame never sent")
	}

	// A trade frame from upstream reaches the client as an update.
	feedConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"trade","data":[{"s":"BINANCE:BTCUSDT","p":65000.5}]}`))

	update := readMessage(t, client)
	if !strings.Contains(update, `"update"`) || !strings.Contains(update, "65000.5") {
		t.Fatalf("Expected update with price 65000.5, got: %s", update)
	}

	// Unsubscribing on the last interested client sends the 1->0 frame.
	client.WriteMessage(websocket.TextMessage, []byte(`{"action":"unsubscribe","symbol":"BINANCE:BTCUSDT"}`))
	select {
	case frame := <-controlCh:
		if !strings.Contains(frame, `"unsubscribe"`) {
			t.Fatalf("Expected upstream unsubscribe, got: %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Upstream unsubscribe frame never sent")
	}
}

func TestEndToEnd_BuySellOverREST(t *testing.T) {
	upstream, connCh, controlCh := startUpstream(t)
	fixture := startRelay(t, wsURL(upstream.URL))

	select {
	case <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Connector never reached the upstream server")
	}

	fixture.store.Create(context.Background(), models.Instrument{
		Ticker: "BINANCE:ETHUSDT", Name: "ETHUSDT", Quantity: 0, BuyPrice: 3400,
	})

	// Buy: quantity up, upstream subscription ensured.
	resp, err := http.Post(fixture.server.URL+"/api/instruments/BINANCE:ETHUSDT/buy",
		"application/json", strings.NewReader(`{"quantity":2}`))
	if err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on buy, got %d", resp.StatusCode)
	}
	select {
	case frame := <-controlCh:
		if !strings.Contains(frame, `"subscribe"`) {
			t.Fatalf("Expected upstream subscribe after buy, got: %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Buy never triggered an upstream subscribe")
	}

	// Sell more than held: rejected, nothing changes.
	resp, err = http.Post(fixture.server.URL+"/api/instruments/BINANCE:ETHUSDT/sell",
		"application/json", strings.NewReader(`{"quantity":5}`))
	if err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 422 on oversell, got %d", resp.StatusCode)
	}

	// Sell to zero: upstream subscription dropped.
	resp, err = http.Post(fixture.server.URL+"/api/instruments/BINANCE:ETHUSDT/sell",
		"application/json", strings.NewReader(`{"quantity":2}`))
	if err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on sell, got %d", resp.StatusCode)
	}
	select {
	case frame := <-controlCh:
		if !strings.Contains(frame, `"unsubscribe"`) {
			t.Fatalf("Expected upstream unsubscribe after selling to zero, got: %s", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Selling to zero never dropped the upstream subscription")
	}
}

func TestEndToEnd_InvalidJSON(t *testing.T) {
	upstream, _, _ := startUpstream(t)
	fixture := startRelay(t, wsURL(upstream.URL))

	client := connectWS(t, fixture.server.URL)
	readMessage(t, client) // initial snapshot

	client.WriteMessage(websocket.TextMessage, []byte(`{"action": "subsc`))

	msg := readMessage(t, client)
	if !strings.Contains(msg, "error") {
		t.Errorf("Expected error message for bad JSON, got: %s", msg)
	}
}
