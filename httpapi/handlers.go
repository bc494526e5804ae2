package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rustyeddy/vtrader/broker"
	"github.com/rustyeddy/vtrader/feed"
	"github.com/rustyeddy/vtrader/journal"
	"github.com/rustyeddy/vtrader/trading"
)

const maxBody = 1 << 16

type healthResponse struct {
	Status  string              `json:"status"`
	Symbols []feed.SymbolStatus `json:"symbols,omitempty"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.d.Feed != nil {
		resp.Symbols = h.d.Feed.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) price(w http.ResponseWriter, r *http.Request) {
	sym, err := broker.NormalizeSymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	tick, err := h.d.Quoter.Quote(sym)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.d.Facade.AccountSummary(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req broker.MarketOrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", broker.ErrInvalidInput, err))
		return
	}

	p, err := h.d.Facade.PlaceOrder(r.Context(), chi.URLParam(r, "user"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) positions(w http.ResponseWriter, r *http.Request) {
	ps, err := h.d.Facade.Positions(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *handler) closePosition(w http.ResponseWriter, r *http.Request) {
	res, err := h.d.Facade.ClosePosition(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type closeAllResponse struct {
	Closed []trading.CloseResult `json:"closed"`
	Error  *ErrorResponse        `json:"error,omitempty"`
}

// closeAll reports the positions closed before any failure alongside it.
func (h *handler) closeAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.d.Facade.CloseAll(r.Context(), chi.URLParam(r, "user"))
	resp := closeAllResponse{Closed: results}
	if resp.Closed == nil {
		resp.Closed = []trading.CloseResult{}
	}
	if err != nil {
		if len(results) == 0 {
			writeError(w, r, err)
			return
		}
		kind := broker.Kind(err)
		resp.Error = &ErrorResponse{Error: err.Error(), Kind: kind}
		writeJSON(w, statusOf(kind), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func wantsCSV(r *http.Request) bool {
	return r.URL.Query().Get("format") == "csv"
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	recs, err := h.d.Facade.History(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if wantsCSV(r) {
		w.Header().Set("Content-Type", "text/csv")
		_ = journal.WriteHistoryCSV(w, recs)
		return
	}
	if recs == nil {
		recs = []broker.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handler) equity(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: since: %v", broker.ErrInvalidInput, err))
			return
		}
		since = t
	}

	snaps, err := h.d.Facade.Equity(r.Context(), chi.URLParam(r, "user"), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if wantsCSV(r) {
		w.Header().Set("Content-Type", "text/csv")
		_ = journal.WriteEquityCSV(w, snaps)
		return
	}
	if snaps == nil {
		snaps = []broker.EquitySnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}
