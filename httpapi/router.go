// Package httpapi exposes the trading facade over HTTP and a websocket
// event stream.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/rustyeddy/vtrader/feed"
	"github.com/rustyeddy/vtrader/metrics"
	"github.com/rustyeddy/vtrader/pricing"
	"github.com/rustyeddy/vtrader/trading"
)

type Deps struct {
	Facade  *trading.Facade
	Quoter  *pricing.Quoter
	Feed    *feed.Adapter     // optional, for /health
	Metrics *metrics.Registry // optional
	Origin  string            // allowed websocket origin, "*" for any
}

type handler struct {
	d        Deps
	hub      *hub
	upgrader websocket.Upgrader
}

// NewRouter builds the routes. The returned stop function detaches the
// event stream from the facade.
func NewRouter(d Deps) (http.Handler, func()) {
	h := &handler{
		d:   d,
		hub: newHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowOrigin(r, d.Origin) },
		},
	}
	stop := d.Facade.Subscribe(h.hub)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	r.Get("/health", h.health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}
	r.Get("/prices/{symbol}", h.price)

	r.Route("/accounts/{user}", func(r chi.Router) {
		r.Get("/", h.summary)
		r.Post("/orders", h.placeOrder)
		r.Get("/positions", h.positions)
		r.Post("/positions/close-all", h.closeAll)
		r.Post("/positions/{id}/close", h.closePosition)
		r.Get("/history", h.history)
		r.Get("/equity", h.equity)
		r.Get("/stream", h.stream)
	})
	return r, stop
}

// instrument logs and times every request against its route pattern.
func (h *handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if h.d.Metrics != nil {
			h.d.Metrics.ObserveRequest(route, r.Method, status, elapsed)
		}
		log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func allowOrigin(r *http.Request, origin string) bool {
	if origin == "" || origin == "*" {
		return true
	}
	got := r.Header.Get("Origin")
	return got == "" || got == origin
}
