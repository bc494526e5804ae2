package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNormalizeSymbol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"EURUSD", "EURUSD", false},
		{" eur/usd ", "EURUSD", false},
		{"EUR_USD", "EURUSD", false},
		{"", "", true},
		{"EU", "", true},
		{"EUR-USD", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeSymbol(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarketOrderRequestValidate(t *testing.T) {
	t.Parallel()

	neg := d("-1")

	tests := []struct {
		name    string
		req     MarketOrderRequest
		wantErr bool
	}{
		{"ok", MarketOrderRequest{Symbol: "eurusd", Side: Buy, Volume: d("0.1")}, false},
		{"min volume", MarketOrderRequest{Symbol: "EURUSD", Side: Sell, Volume: d("0.01")}, false},
		{"max volume", MarketOrderRequest{Symbol: "EURUSD", Side: Sell, Volume: d("100")}, false},
		{"below min", MarketOrderRequest{Symbol: "EURUSD", Side: Buy, Volume: d("0.001")}, true},
		{"above max", MarketOrderRequest{Symbol: "EURUSD", Side: Buy, Volume: d("100.01")}, true},
		{"three decimals", MarketOrderRequest{Symbol: "EURUSD", Side: Buy, Volume: d("0.125")}, true},
		{"zero", MarketOrderRequest{Symbol: "EURUSD", Side: Buy, Volume: decimal.Zero}, true},
		{"bad side", MarketOrderRequest{Symbol: "EURUSD", Side: "HOLD", Volume: d("1")}, true},
		{"bad symbol", MarketOrderRequest{Symbol: "?", Side: Buy, Volume: d("1")}, true},
		{"negative stop", MarketOrderRequest{Symbol: "EURUSD", Side: Buy, Volume: d("1"), StopLoss: &neg}, true},
		{"negative target", MarketOrderRequest{Symbol: "EURUSD", Side: Buy, Volume: d("1"), TakeProfit: &neg}, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNormalizesSymbol(t *testing.T) {
	t.Parallel()
	req := MarketOrderRequest{Symbol: "gbp/usd", Side: Buy, Volume: d("1")}
	require.NoError(t, req.Validate())
	assert.Equal(t, "GBPUSD", req.Symbol)
}

func TestParseSide(t *testing.T) {
	t.Parallel()

	s, err := ParseSide("buy")
	require.NoError(t, err)
	assert.Equal(t, Buy, s)

	s, err = ParseSide(" SELL ")
	require.NoError(t, err)
	assert.Equal(t, Sell, s)

	_, err = ParseSide("short")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMarginLevelJSON(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(MarginLevel{Unbounded: true})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	b, err = json.Marshal(MarginLevel{Value: d("935.48")})
	require.NoError(t, err)
	assert.Equal(t, `"935.48"`, string(b))

	var l MarginLevel
	require.NoError(t, json.Unmarshal([]byte("null"), &l))
	assert.True(t, l.Unbounded)

	require.NoError(t, json.Unmarshal([]byte(`"120.5"`), &l))
	assert.False(t, l.Unbounded)
	assert.True(t, l.Value.Equal(d("120.5")))
}

func TestPositionCloneDetachesThresholds(t *testing.T) {
	t.Parallel()

	sl := d("1.08")
	p := Position{ID: "p1", StopLoss: &sl}
	c := p.Clone()
	*c.StopLoss = d("2")

	assert.True(t, p.StopLoss.Equal(d("1.08")))
}

func TestKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "InsufficientMargin", Kind(fmt.Errorf("open: %w", ErrInsufficientMargin)))
	assert.Equal(t, "StoreUnavailable", Kind(fmt.Errorf("x: %w", ErrStoreUnavailable)))
	assert.Equal(t, "NotFound", Kind(ErrNotFound))
	assert.Equal(t, "StaleQuote", Kind(ErrStaleQuote))
	assert.Equal(t, "InvalidInput", Kind(ErrInvalidInput))
	assert.Equal(t, "FeedUnavailable", Kind(ErrFeedUnavailable))
	assert.Equal(t, "Internal", Kind(errors.New("boom")))
}
