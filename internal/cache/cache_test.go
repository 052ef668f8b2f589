package cache

import "testing"

func TestPriceCache_LastWriteWins(t *testing.T) {
	c := NewPriceCache()

	c.Set("BINANCE:BTCUSDT", 64000.0)
	c.Set("BINANCE:BTCUSDT", 64500.25)
	c.Set("BINANCE:BTCUSDT", 65000.5)

	price, ok := c.Get("BINANCE:BTCUSDT")
	if !ok {
		t.Fatal("Expected a cached price")
	}
	if price != 65000.5 {
		t.Errorf("Expected last observed price 65000.5, got %v", price)
	}
}

func TestPriceCache_GetMissing(t *testing.T) {
	c := NewPriceCache()

	if _, ok := c.Get("NEVER:SEEN"); ok {
		t.Error("Expected no data for a never-observed symbol")
	}
}

func TestPriceCache_SnapshotIsCopy(t *testing.T) {
	c := NewPriceCache()
	c.Set("AAPL", 150.0)

	snap := c.Snapshot()
	snap["AAPL"] = 0

	if price, _ := c.Get("AAPL"); price != 150.0 {
		t.Errorf("Mutating a snapshot must not affect the cache, got %v", price)
	}
}
