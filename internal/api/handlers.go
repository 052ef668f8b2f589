// Package api is the request/response surface over the instrument ledger:
// list (with lazy seeding), buy, and sell.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Vivek-1102/Capx/internal/cache"
	"github.com/Vivek-1102/Capx/internal/hub"
	"github.com/Vivek-1102/Capx/internal/ledger"
	"github.com/Vivek-1102/Capx/pkg/models"
)

// FeedInterest is the hub surface the ledger drives: a bought position holds
// an upstream subscription open, selling to zero drops it.
type FeedInterest interface {
	Acquire(symbol string)
	Release(symbol string)
}

type Handler struct {
	store    ledger.Store
	cache    *cache.PriceCache
	interest FeedInterest
	logger   *zap.Logger

	defaultTickers []string
	minInstruments int
}

func NewHandler(store ledger.Store, priceCache *cache.PriceCache, interest FeedInterest, defaultTickers []string, minInstruments int, logger *zap.Logger) *Handler {
	return &Handler{
		store:          store,
		cache:          priceCache,
		interest:       interest,
		logger:         logger,
		defaultTickers: defaultTickers,
		minInstruments: minInstruments,
	}
}

// Register mounts the REST routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/instruments", h.listInstruments)
	mux.HandleFunc("POST /api/instruments/{symbol}/buy", h.buy)
	mux.HandleFunc("POST /api/instruments/{symbol}/sell", h.sell)
}

type quantityRequest struct {
	Quantity int64 `json:"quantity"`
}

type quantityResponse struct {
	Ticker   string `json:"ticker"`
	Quantity int64  `json:"quantity"`
}

func (h *Handler) listInstruments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	instruments, err := h.store.FindAll(ctx)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "ledger unavailable")
		return
	}

	if len(instruments) < h.minInstruments {
		instruments = h.seedDefaults(r, instruments)
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
		view.LivePrice = prices[inst.Ticker]
		views = append(views, view)
	}

	h.writeJSON(w, http.StatusOK, views)
}

// seedDefaults lazily creates the default instrument set, using the cached
// live price as cost basis. Symbols with no cached price yet are skipped;
// they get seeded on a later list call once a tick has arrived.
func (h *Handler) seedDefaults(r *http.Request, existing []models.Instrument) []models.Instrument {
	ctx := r.Context()

	present := make(map[string]bool, len(existing))
	for _, inst := range existing {
		present[inst.Ticker] = true
	}

	for _, ticker := range h.defaultTickers {
		if present[ticker] {
			continue
		}
		price, ok := h.cache.Get(ticker)
		if !ok {
			continue
		}
		inst := models.Instrument{
			Ticker:   ticker,
			Name:     displayName(ticker),
			Quantity: 1,
			BuyPrice: price,
		}
		if err := h.store.Create(ctx, inst); err != nil {
			h.logger.Error("Seed create failed", zap.String("symbol", ticker), zap.Error(err))
			continue
		}
		h.interest.Acquire(ticker)
		existing = append(existing, inst)
	}
	return existing
}

func (h *Handler) buy(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")

	qty, ok := h.decodeQuantity(w, r)
	if !ok {
		return
	}

	newQty, err := h.store.UpdateQuantity(r.Context(), symbol, qty)
	if err != nil {
		h.writeStoreError(w, symbol, err)
		return
	}

	// A held position keeps the upstream subscription alive.
	h.interest.Acquire(symbol)
	h.writeJSON(w, http.StatusOK, quantityResponse{Ticker: symbol, Quantity: newQty})
}

func (h *Handler) sell(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")

	qty, ok := h.decodeQuantity(w, r)
	if !ok {
		return
	}

	newQty, err := h.store.UpdateQuantity(r.Context(), symbol, -qty)
	if err != nil {
		h.writeStoreError(w, symbol, err)
		return
	}

	if newQty == 0 {
		h.interest.Release(symbol)
	}
	h.writeJSON(w, http.StatusOK, quantityResponse{Ticker: symbol, Quantity: newQty})
}

func (h *Handler) decodeQuantity(w http.ResponseWriter, r *http.Request) (int64, bool) {
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return 0, false
	}
	if req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "quantity must be positive")
		return 0, false
	}
	return req.Quantity, true
}

func (h *Handler) writeStoreError(w http.ResponseWriter, symbol string, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "unknown instrument: "+symbol)
	case errors.Is(err, ledger.ErrInsufficientQuantity):
		h.writeError(w, http.StatusUnprocessableEntity, "insufficient quantity for "+symbol)
	default:
		h.logger.Error("Ledger update failed", zap.String("symbol", symbol), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "ledger unavailable")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Encode response failed", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// displayName derives a readable name from an exchange-qualified ticker,
// e.g. "BINANCE:BTCUSDT" -> "BTCUSDT".
func displayName(ticker string) string {
	if i := strings.LastIndex(ticker, ":"); i >= 0 && i+1 < len(ticker) {
		return ticker[i+1:]
	}
	return ticker
}

var _ FeedInterest = (*hub.Hub)(nil)
