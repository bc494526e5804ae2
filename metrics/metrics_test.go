package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rustyeddy/vtrader/broker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	r := New()
	r.TickIngested("EURUSD", "live")
	r.TickIngested("EURUSD", "live")
	r.TickIngested("EURUSD", "synthetic")
	r.TickDropped("EURUSD")
	r.TransportFailed("subscribe")
	r.OrderPlaced("EURUSD", broker.Buy)
	r.OrderRejected("InsufficientMargin")
	r.PositionClosed("EURUSD", broker.ReasonStopLoss)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.TicksIngested.WithLabelValues("EURUSD", "live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TicksIngested.WithLabelValues("EURUSD", "synthetic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TicksDropped.WithLabelValues("EURUSD")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TransportFailure.WithLabelValues("subscribe")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OrdersPlaced.WithLabelValues("EURUSD", "BUY")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.OrdersRejected.WithLabelValues("InsufficientMargin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PositionsClosed.WithLabelValues("EURUSD", "StopLoss")))
}

func TestRegistriesAreIndependent(t *testing.T) {
	t.Parallel()

	a, b := New(), New()
	a.OrderRejected("StaleQuote")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.OrdersRejected.WithLabelValues("StaleQuote")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	r := New()
	r.OrderPlaced("GBPUSD", broker.Sell)
	r.ObserveRequest("/accounts/{user}", http.MethodGet, http.StatusOK, 3*time.Millisecond)

	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `vtrader_orders_placed_total{side="SELL",symbol="GBPUSD"} 1`)
	assert.Contains(t, string(body), `vtrader_http_request_duration_seconds_count{method="GET",route="/accounts/{user}",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
