package pricing

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/vtrader/broker"
	"github.com/shopspring/decimal"
)

// Where a tick came from.
const (
	SourceLive      = "live"
	SourceSynthetic = "synthetic"
)

var ErrPriceNotFound = fmt.Errorf("price %w", broker.ErrNotFound)

var two = decimal.NewFromInt(2)

type Tick struct {
	Symbol string          `json:"symbol"`
	Time   time.Time       `json:"timestamp"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Source string          `json:"source"`
}

func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(two)
}

func (t Tick) Spread() decimal.Decimal {
	return t.Ask.Sub(t.Bid)
}

// Valid reports whether a tick is usable: named, positive, and not crossed.
func (t Tick) Valid() bool {
	return t.Symbol != "" && t.Bid.IsPositive() && t.Ask.IsPositive() && t.Ask.GreaterThanOrEqual(t.Bid)
}

// Cache holds the latest quote per symbol. Writes are last-writer-wins.
type Cache struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewCache() *Cache {
	return &Cache{ticks: make(map[string]Tick)}
}

func (c *Cache) Set(t Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks[t.Symbol] = t
}

func (c *Cache) Get(symbol string) (Tick, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[symbol]
	if !ok {
		return Tick{}, fmt.Errorf("%s: %w", symbol, ErrPriceNotFound)
	}
	return t, nil
}

// Symbols lists every symbol that has been populated, sorted.
func (c *Cache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.ticks))
	for s := range c.ticks {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
