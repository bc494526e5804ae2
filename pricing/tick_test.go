package pricing

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/vtrader/broker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCacheSetGet(t *testing.T) {
	t.Parallel()

	c := NewCache()
	p := Tick{Symbol: "EURUSD", Bid: d("1.1"), Ask: d("1.2")}
	c.Set(p)

	got, err := c.Get("EURUSD")
	assert.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestCacheGetMissing(t *testing.T) {
	t.Parallel()

	c := NewCache()
	got, err := c.Get("NOSUCH")
	assert.ErrorIs(t, err, ErrPriceNotFound)
	assert.ErrorIs(t, err, broker.ErrNotFound)
	assert.Equal(t, Tick{}, got)
}

func TestCacheLastWriterWins(t *testing.T) {
	t.Parallel()

	c := NewCache()
	c.Set(Tick{Symbol: "EURUSD", Bid: d("1.1"), Ask: d("1.2")})
	c.Set(Tick{Symbol: "EURUSD", Bid: d("1.0"), Ask: d("1.1")})

	got, err := c.Get("EURUSD")
	require.NoError(t, err)
	assert.True(t, got.Bid.Equal(d("1.0")))
	assert.Equal(t, []string{"EURUSD"}, c.Symbols())
}

func TestCacheConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := NewCache()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(2)
		go func() {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%d", w)
			for i := 0; i < 200; i++ {
				c.Set(Tick{Symbol: sym, Bid: decimal.NewFromInt(int64(i + 1)), Ask: decimal.NewFromInt(int64(i + 2))})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, _ = c.Get(fmt.Sprintf("SYM%d", w))
				_ = c.Symbols()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, c.Symbols(), 4)
}

func TestTickMidSpreadValid(t *testing.T) {
	t.Parallel()

	tk := Tick{Symbol: "EURUSD", Bid: d("1.0865"), Ask: d("1.0870")}
	assert.True(t, tk.Mid().Equal(d("1.08675")))
	assert.True(t, tk.Spread().Equal(d("0.0005")))
	assert.True(t, tk.Valid())

	assert.False(t, Tick{Symbol: "EURUSD", Bid: d("1.1"), Ask: d("1.0")}.Valid())
	assert.False(t, Tick{Symbol: "EURUSD", Bid: decimal.Zero, Ask: d("1.0")}.Valid())
	assert.False(t, Tick{Bid: d("1.0"), Ask: d("1.1")}.Valid())
}

func TestQuoterPrefersCache(t *testing.T) {
	t.Parallel()

	c := NewCache()
	want := Tick{Symbol: "EURUSD", Bid: d("1.2"), Ask: d("1.3"), Source: SourceLive}
	c.Set(want)

	got, err := NewQuoter(c, true).Quote("EURUSD")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestQuoterSynthesizesKnownSymbol(t *testing.T) {
	t.Parallel()

	c := NewCache()
	q := NewQuoter(c, true)
	q.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	got, err := q.Quote("EURUSD")
	require.NoError(t, err)
	assert.Equal(t, SourceSynthetic, got.Source)
	assert.True(t, got.Valid())
	assert.True(t, got.Mid().Sub(d("1.0850")).Abs().LessThan(d("0.00001")))

	cached, err := c.Get("EURUSD")
	require.NoError(t, err)
	assert.Equal(t, got, cached)
}

func TestQuoterStaleQuote(t *testing.T) {
	t.Parallel()

	_, err := NewQuoter(NewCache(), true).Quote("XAUXAG")
	assert.ErrorIs(t, err, broker.ErrStaleQuote)

	_, err = NewQuoter(NewCache(), false).Quote("EURUSD")
	assert.ErrorIs(t, err, broker.ErrStaleQuote)
}
