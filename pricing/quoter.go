package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/vtrader/broker"
)

// Quoter resolves the price used for an order or a close: the cached quote
// when there is one, otherwise a synthetic quote seeded from BasePrices.
type Quoter struct {
	cache    *Cache
	fallback bool
	now      func() time.Time
}

func NewQuoter(cache *Cache, fallback bool) *Quoter {
	return &Quoter{cache: cache, fallback: fallback, now: time.Now}
}

func (q *Quoter) Cache() *Cache { return q.cache }

// Quote fails with broker.ErrStaleQuote when no price exists at all.
func (q *Quoter) Quote(symbol string) (Tick, error) {
	t, err := q.cache.Get(symbol)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrPriceNotFound) {
		return Tick{}, err
	}

	base, ok := BasePrices[symbol]
	if !q.fallback || !ok {
		return Tick{}, fmt.Errorf("%s: %w", symbol, broker.ErrStaleQuote)
	}

	t = QuoteAt(symbol, base, q.now())
	q.cache.Set(t)
	return t, nil
}
