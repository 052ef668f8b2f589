package models

// Tick represents a single market tick for a symbol. Ticks are ephemeral:
// only the latest price per symbol is retained in the live cache.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// Instrument is a tracked ledger record: a held position with its cost basis.
type Instrument struct {
	Ticker   string  `json:"ticker"`
	Name     string  `json:"name"`
	Quantity int64   `json:"quantity"`
	BuyPrice float64 `json:"buyPrice"`
}

// InstrumentView is an Instrument merged with the latest cached live price,
// as pushed to a freshly connected subscriber.
type InstrumentView struct {
	Ticker    string  `json:"ticker"`
	Name      string  `json:"name"`
	Quantity  int64   `json:"quantity"`
	BuyPrice  float64 `json:"buyPrice"`
	LivePrice float64 `json:"livePrice"`
}
