// feedsim is a local stand-in for the upstream price feed. It speaks the same
// wire protocol: subscribe/unsubscribe control frames in, trade frames out,
// with prices on a random walk around fixed bases.
package main

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var basePrices = map[string]float64{
	"BINANCE:BTCUSDT":  65000.0,
	"BINANCE:ETHUSDT":  3400.0,
	"BINANCE:SOLUSDT":  145.0,
	"BINANCE:DOGEUSDT": 0.12,
}

const defaultBasePrice = 100.0

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type controlFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type tradeFrame struct {
	Type string      `json:"type"`
	Data []tradeItem `json:"data"`
}

type tradeItem struct {
	Symbol string  `json:"s"`
	Price  float64 `json:"p"`
}

type session struct {
	conn   *websocket.Conn
	logger *zap.Logger

	mu         sync.Mutex
	subscribed map[string]float64 // symbol -> current walk price
	rand       *rand.Rand
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	addr := os.Getenv("FEEDSIM_ADDR")
	if addr == "" {
		addr = ":9090"
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Upgrade failed", zap.Error(err))
			return
		}

		s := &session{
			conn:       conn,
			logger:     logger,
			subscribed: make(map[string]float64),
			rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
		}
		go s.emitLoop()
		s.readLoop()
	})

	logger.Info("Feed simulator started", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, nil); err != nil {
		logger.Fatal("HTTP Error", zap.Error(err))
	}
}

func (s *session) readLoop() {
	defer s.conn.Close()

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame controlFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			s.logger.Warn("Bad control frame", zap.ByteString("payload", msg))
			continue
		}

		symbol := strings.TrimSpace(frame.Symbol)
		if symbol == "" {
			continue
		}

		s.mu.Lock()
		switch frame.Type {
		case "subscribe":
			if _, ok := s.subscribed[symbol]; !ok {
				base, ok := basePrices[symbol]
				if !ok {
					base = defaultBasePrice
				}
				s.subscribed[symbol] = base
			}
		case "unsubscribe":
			delete(s.subscribed, symbol)
		}
		s.mu.Unlock()
	}
}

func (s *session) emitLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		items := make([]tradeItem, 0, len(s.subscribed))
		for symbol, price := range s.subscribed {
			// Random walk: drift up to 0.5% per tick
			price += price * (s.rand.Float64() - 0.5) / 100
			s.subscribed[symbol] = price
			items = append(items, tradeItem{Symbol: symbol, Price: price})
		}
		s.mu.Unlock()

		if len(items) == 0 {
			continue
		}

		if err := s.conn.WriteJSON(tradeFrame{Type: "trade", Data: items}); err != nil {
			return
		}
	}
}
