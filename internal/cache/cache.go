// Package cache holds the latest observed price per symbol.
//
// The cache is last-write-wins and lives for the process lifetime; there is
// no TTL and no eviction. It is written only from the relay's tick loop and
// read from the broadcast and snapshot paths.
package cache

import "sync"

type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]float64)}
}

// Get returns the most recent price for symbol, or false if never observed.
func (c *PriceCache) Get(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[symbol]
	return price, ok
}

// Set overwrites the price for symbol unconditionally.
func (c *PriceCache) Set(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
}

// Snapshot returns a copy of the full cache content.
func (c *PriceCache) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.prices))
	for sym, price := range c.prices {
		out[sym] = price
	}
	return out
}
