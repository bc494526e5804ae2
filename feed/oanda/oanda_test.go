package oanda

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/vtrader/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		symbol     string
		instrument string
	}{
		{"EURUSD", "EUR_USD"},
		{"USDJPY", "USD_JPY"},
		{"XAUUSD", "XAU_USD"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.symbol, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.instrument, ToProvider(tt.symbol))
			assert.Equal(t, tt.symbol, FromProvider(tt.instrument))
		})
	}
}

func TestBaseURL(t *testing.T) {
	t.Parallel()

	u, err := BaseURL("practice")
	require.NoError(t, err)
	assert.Equal(t, PracticeURL, u)

	_, err = BaseURL("live")
	assert.Error(t, err)
	_, err = BaseURL("staging")
	assert.Error(t, err)
}

func TestToTick(t *testing.T) {
	t.Parallel()

	var msg priceMsg
	require.NoError(t, jsonUnmarshal(`{"type":"PRICE","time":"2024-01-15T09:00:00.123456789Z","instrument":"EUR_USD","bids":[{"price":"1.08480"}],"asks":[{"price":"1.08500"}]}`, &msg))
	tick, ok := toTick(msg)
	require.True(t, ok)
	assert.Equal(t, "EURUSD", tick.Symbol)
	assert.True(t, decimal.RequireFromString("1.0848").Equal(tick.Bid))
	assert.True(t, decimal.RequireFromString("1.085").Equal(tick.Ask))
	assert.Equal(t, pricing.SourceLive, tick.Source)
	assert.Equal(t, 2024, tick.Time.Year())

	require.NoError(t, jsonUnmarshal(`{"type":"HEARTBEAT","time":"2024-01-15T09:00:05Z"}`, &msg))
	_, ok = toTick(msg)
	assert.False(t, ok)

	require.NoError(t, jsonUnmarshal(`{"type":"PRICE","instrument":"EUR_USD","bids":[],"asks":[{"price":"1.085"}]}`, &msg))
	_, ok = toTick(msg)
	assert.False(t, ok)
}

type streamServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []string // instruments per request
	auth     []string
	status   int
}

func newStreamServer(t *testing.T, status int) *streamServer {
	t.Helper()
	s := &streamServer{status: status}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		insts := r.URL.Query().Get("instruments")
		s.mu.Lock()
		s.requests = append(s.requests, insts)
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		s.mu.Unlock()

		if s.status != http.StatusOK {
			http.Error(w, `{"errorMessage":"Insufficient authorization"}`, s.status)
			return
		}
		if r.URL.Path != "/v3/accounts/101-001/pricing/stream" {
			http.NotFound(w, r)
			return
		}

		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"type":"HEARTBEAT","time":"2024-01-15T09:00:00Z"}`)
		fmt.Fprintln(w, `not json`)
		fmt.Fprintln(w, `{"type":"PRICE","time":"2024-01-15T09:00:01Z","instrument":"EUR_USD","bids":[{"price":"1.0848"}],"asks":[{"price":"1.0850"}]}`)
		flusher.Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *streamServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func jsonUnmarshal(s string, v *priceMsg) error {
	*v = priceMsg{}
	return json.Unmarshal([]byte(s), v)
}

func TestClientStreamsPrices(t *testing.T) {
	t.Parallel()

	srv := newStreamServer(t, http.StatusOK)
	c := New(Config{URL: srv.URL, Token: "secret", AccountID: "101-001", ReconnectDelay: 10 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Subscribe(ctx, "EURUSD"))
	c.Start(ctx)

	select {
	case tick := <-c.Ticks():
		assert.Equal(t, "EURUSD", tick.Symbol)
		assert.True(t, decimal.RequireFromString("1.0848").Equal(tick.Bid))
	case <-time.After(2 * time.Second):
		t.Fatal("no tick")
	}

	srv.mu.Lock()
	assert.Equal(t, "Bearer secret", srv.auth[0])
	srv.mu.Unlock()
	assert.Equal(t, []string{"EUR_USD"}, srv.seen())
}

func TestSubscriptionChangeReopensStream(t *testing.T) {
	t.Parallel()

	srv := newStreamServer(t, http.StatusOK)
	c := New(Config{URL: srv.URL, Token: "secret", AccountID: "101-001", ReconnectDelay: 10 * time.Millisecond})
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	c.Start(ctx)
	require.NoError(t, c.Subscribe(ctx, "EURUSD"))
	require.Eventually(t, func() bool { return len(srv.seen()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Subscribe(ctx, "GBPUSD"))
	require.Eventually(t, func() bool {
		seen := srv.seen()
		return seen[len(seen)-1] == "EUR_USD,GBP_USD"
	}, 2*time.Second, 5*time.Millisecond)

	// Subscribing twice changes nothing.
	n := len(srv.seen())
	require.NoError(t, c.Subscribe(ctx, "GBPUSD"))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, srv.seen(), n)

	require.NoError(t, c.Unsubscribe(ctx, "EURUSD"))
	require.Eventually(t, func() bool {
		seen := srv.seen()
		return seen[len(seen)-1] == "GBP_USD"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClientGivesUpAndClosesTicks(t *testing.T) {
	t.Parallel()

	srv := newStreamServer(t, http.StatusUnauthorized)
	c := New(Config{URL: srv.URL, Token: "bad", AccountID: "101-001", MaxReconnects: 2, ReconnectDelay: time.Millisecond})

	ctx := context.Background()
	require.NoError(t, c.Subscribe(ctx, "EURUSD"))
	c.Start(ctx)

	select {
	case _, ok := <-c.Ticks():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("ticks not closed")
	}
	assert.Len(t, srv.seen(), 3)
	require.NoError(t, c.Close())
}

func TestCloseWithoutStart(t *testing.T) {
	t.Parallel()

	c := New(Config{Token: "t", AccountID: "a"})
	require.NoError(t, c.Close())
	_, ok := <-c.Ticks()
	assert.False(t, ok)
}
