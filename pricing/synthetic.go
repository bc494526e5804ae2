package pricing

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rustyeddy/vtrader/broker"
	"github.com/shopspring/decimal"
)

// BasePrices seeds synthetic quotes for symbols that have never been quoted.
var BasePrices = map[string]decimal.Decimal{
	"EURUSD": decimal.RequireFromString("1.0850"),
	"GBPUSD": decimal.RequireFromString("1.2650"),
	"USDJPY": decimal.RequireFromString("149.50"),
	"AUDUSD": decimal.RequireFromString("0.6550"),
	"USDCAD": decimal.RequireFromString("1.3650"),
	"USDCHF": decimal.RequireFromString("0.9100"),
	"NZDUSD": decimal.RequireFromString("0.6050"),
}

var (
	// DefaultMaxStep bounds one synthetic move to 2% of the previous price.
	DefaultMaxStep = decimal.RequireFromString("0.02")
	// DefaultFloor keeps one synthetic step at or above 80% of the previous price.
	DefaultFloor = decimal.RequireFromString("0.8")
	// SpreadRatio is the relative bid/ask spread of synthetic quotes (2 pips on ~1.0).
	SpreadRatio = decimal.RequireFromString("0.0002")
)

// Synthetic generates a bounded random walk for demo and fallback prices.
type Synthetic struct {
	mu      sync.Mutex
	rng     *rand.Rand
	maxStep decimal.Decimal
	floor   decimal.Decimal
}

func NewSynthetic(seed int64) *Synthetic {
	return &Synthetic{
		rng:     rand.New(rand.NewSource(seed)),
		maxStep: DefaultMaxStep,
		floor:   DefaultFloor,
	}
}

// Next moves prev by a uniform step in [-maxStep, +maxStep] of prev. The
// change is truncated to quote precision so rounding never widens it, and
// the result never drops below floor*prev.
func (s *Synthetic) Next(prev decimal.Decimal) decimal.Decimal {
	if !prev.IsPositive() {
		return prev
	}

	s.mu.Lock()
	u := s.rng.Float64()*2 - 1
	s.mu.Unlock()

	change := prev.Mul(s.maxStep).Mul(decimal.NewFromFloat(u)).Truncate(broker.PricePlaces)
	next := prev.Add(change)

	if lo := prev.Mul(s.floor); next.LessThan(lo) {
		next = lo
	}
	return next
}

// QuoteAt builds a bid/ask pair around mid with the synthetic spread.
func QuoteAt(symbol string, mid decimal.Decimal, at time.Time) Tick {
	half := mid.Mul(SpreadRatio).Div(two)
	bid := mid.Sub(half).Round(broker.PricePlaces)
	ask := mid.Add(half).Round(broker.PricePlaces)
	if ask.LessThan(bid) {
		ask = bid
	}
	return Tick{Symbol: symbol, Time: at, Bid: bid, Ask: ask, Source: SourceSynthetic}
}

// Step returns the next synthetic quote after prev.
func (s *Synthetic) Step(prev Tick, at time.Time) Tick {
	return QuoteAt(prev.Symbol, s.Next(prev.Mid()), at)
}
