package broker

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrNotFound           = errors.New("not found")
	ErrStaleQuote         = errors.New("no price available")
	ErrStoreUnavailable   = errors.New("store unavailable")

	// ErrFeedUnavailable is recovered inside the feed by switching to
	// synthetic prices. It is never returned to trading callers.
	ErrFeedUnavailable = errors.New("feed unavailable")
)

// Kind names the error class for callers, or "Internal" for anything
// outside the taxonomy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrInsufficientMargin):
		return "InsufficientMargin"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrStaleQuote):
		return "StaleQuote"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	case errors.Is(err, ErrFeedUnavailable):
		return "FeedUnavailable"
	}
	return "Internal"
}
