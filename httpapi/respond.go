package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/rustyeddy/vtrader/broker"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("writing response")
	}
}

// statusOf maps the error taxonomy onto HTTP.
func statusOf(kind string) int {
	switch kind {
	case "InvalidInput":
		return http.StatusBadRequest
	case "NotFound":
		return http.StatusNotFound
	case "InsufficientMargin", "StaleQuote":
		return http.StatusUnprocessableEntity
	case "StoreUnavailable", "FeedUnavailable":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := broker.Kind(err)
	status := statusOf(kind)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Str("kind", kind).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}
