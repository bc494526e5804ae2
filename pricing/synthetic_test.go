package pricing

import (
	"testing"
	"time"

	"github.com/rustyeddy/vtrader/broker"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSyntheticNextStaysInBounds(t *testing.T) {
	t.Parallel()

	s := NewSynthetic(1)
	for _, start := range []string{"1.0850", "149.50", "0.6050", "0.00010"} {
		p := d(start)
		for i := 0; i < 5000; i++ {
			next := s.Next(p)
			change := next.Sub(p).Abs()

			assert.True(t, change.LessThanOrEqual(p.Mul(DefaultMaxStep)), "step %s -> %s too large", p, next)
			assert.True(t, next.GreaterThanOrEqual(p.Mul(DefaultFloor)), "step %s -> %s below floor", p, next)
			assert.True(t, next.IsPositive())
			p = next
		}
	}
}

func TestSyntheticNextFloorClamp(t *testing.T) {
	t.Parallel()

	s := NewSynthetic(3)
	s.maxStep = d("0.5")
	p := d("1.0")
	for i := 0; i < 1000; i++ {
		next := s.Next(p)
		assert.True(t, next.GreaterThanOrEqual(p.Mul(DefaultFloor)))
	}
}

func TestSyntheticNextNonPositive(t *testing.T) {
	t.Parallel()
	assert.True(t, NewSynthetic(1).Next(decimal.Zero).IsZero())
}

func TestQuoteAtSpread(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q := QuoteAt("EURUSD", d("1.0850"), at)

	assert.Equal(t, "EURUSD", q.Symbol)
	assert.Equal(t, SourceSynthetic, q.Source)
	assert.True(t, q.Bid.Equal(d("1.08489")), "bid %s", q.Bid)
	assert.True(t, q.Ask.Equal(d("1.08511")), "ask %s", q.Ask)
	assert.True(t, q.Bid.Equal(q.Bid.Round(broker.PricePlaces)))
	assert.True(t, q.Time.Equal(at))
}

func TestSyntheticStep(t *testing.T) {
	t.Parallel()

	s := NewSynthetic(9)
	prev := QuoteAt("GBPUSD", d("1.2650"), time.Now())
	next := s.Step(prev, time.Now())

	assert.Equal(t, "GBPUSD", next.Symbol)
	assert.True(t, next.Valid())
	assert.True(t, next.Mid().Sub(prev.Mid()).Abs().LessThanOrEqual(prev.Mid().Mul(d("0.0201"))))
}
