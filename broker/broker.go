package broker

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// PricePlaces is the number of decimals carried by quotes.
	PricePlaces = 5
	// VolumePlaces is the number of decimals allowed in a lot size.
	VolumePlaces = 2
)

var (
	MinVolume = decimal.RequireFromString("0.01")
	MaxVolume = decimal.NewFromInt(100)
)

// Side is the direction of a market order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("%w: order type %q", ErrInvalidInput, s)
}

// State is where a position is in its lifecycle. OPEN -> CLOSING -> CLOSED.
type State string

const (
	StateOpen    State = "OPEN"
	StateClosing State = "CLOSING"
	StateClosed  State = "CLOSED"
)

// Close reasons recorded on history rows.
const (
	ReasonManual     = "ManualClose"
	ReasonStopLoss   = "StopLoss"
	ReasonTakeProfit = "TakeProfit"
)

// Account is the persisted part of a virtual account. Equity, free margin
// and margin level are derived from it and the open positions; see Summary.
//
// Initial is the starting balance. With no deposits or withdrawals,
// Balance always equals Initial plus the sum of closed-trade P&L.
type Account struct {
	UserID     string          `json:"user_id"`
	Initial    decimal.Decimal `json:"initial_balance"`
	Balance    decimal.Decimal `json:"balance"`
	MarginUsed decimal.Decimal `json:"margin_used"`
	Leverage   int             `json:"leverage"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Position struct {
	ID           string           `json:"position_id"`
	UserID       string           `json:"user_id"`
	Symbol       string           `json:"symbol"`
	Side         Side             `json:"order_type"`
	Volume       decimal.Decimal  `json:"volume"`
	OpenPrice    decimal.Decimal  `json:"open_price"`
	CurrentPrice decimal.Decimal  `json:"current_price"`
	ProfitLoss   decimal.Decimal  `json:"profit_loss"`
	Margin       decimal.Decimal  `json:"margin"`
	StopLoss     *decimal.Decimal `json:"stop_loss"`
	TakeProfit   *decimal.Decimal `json:"take_profit"`
	OpenTime     time.Time        `json:"open_time"`
	State        State            `json:"status"`
}

// Clone returns a copy that shares no pointers with p.
func (p Position) Clone() Position {
	if p.StopLoss != nil {
		sl := *p.StopLoss
		p.StopLoss = &sl
	}
	if p.TakeProfit != nil {
		tp := *p.TakeProfit
		p.TakeProfit = &tp
	}
	return p
}

// TradeRecord is the immutable history row written when a position closes.
// PositionID doubles as the idempotency key for the append.
type TradeRecord struct {
	PositionID string          `json:"position_id"`
	UserID     string          `json:"user_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"order_type"`
	Volume     decimal.Decimal `json:"volume"`
	OpenPrice  decimal.Decimal `json:"open_price"`
	ClosePrice decimal.Decimal `json:"close_price"`
	ProfitLoss decimal.Decimal `json:"profit_loss"`
	Margin     decimal.Decimal `json:"margin"`
	OpenTime   time.Time       `json:"open_time"`
	CloseTime  time.Time       `json:"close_time"`
	Reason     string          `json:"reason"`
}

type MarginStatus string

const (
	MarginSafe    MarginStatus = "SAFE"
	MarginWarning MarginStatus = "WARNING"
	MarginDanger  MarginStatus = "DANGER"
)

// MarginLevel is equity / margin used * 100. It is unbounded while no
// margin is in use.
type MarginLevel struct {
	Value     decimal.Decimal
	Unbounded bool
}

func (l MarginLevel) String() string {
	if l.Unbounded {
		return "inf"
	}
	return l.Value.StringFixed(2)
}

// MarshalJSON encodes an unbounded level as null.
func (l MarginLevel) MarshalJSON() ([]byte, error) {
	if l.Unbounded {
		return []byte("null"), nil
	}
	return json.Marshal(l.Value)
}

func (l *MarginLevel) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*l = MarginLevel{Unbounded: true}
		return nil
	}
	l.Unbounded = false
	return json.Unmarshal(b, &l.Value)
}

// Summary is the caller-facing account view.
type Summary struct {
	UserID        string          `json:"user_id"`
	Balance       decimal.Decimal `json:"balance"`
	Equity        decimal.Decimal `json:"equity"`
	MarginUsed    decimal.Decimal `json:"margin_used"`
	FreeMargin    decimal.Decimal `json:"free_margin"`
	MarginLevel   MarginLevel     `json:"margin_level"`
	MarginStatus  MarginStatus    `json:"margin_status"`
	Leverage      int             `json:"leverage"`
	OpenPositions int             `json:"open_positions"`
}

type EquitySnapshot struct {
	UserID      string          `json:"user_id"`
	Time        time.Time       `json:"time"`
	Balance     decimal.Decimal `json:"balance"`
	Equity      decimal.Decimal `json:"equity"`
	MarginUsed  decimal.Decimal `json:"margin_used"`
	FreeMargin  decimal.Decimal `json:"free_margin"`
	MarginLevel MarginLevel     `json:"margin_level"`
}

type MarketOrderRequest struct {
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"order_type"`
	Volume     decimal.Decimal  `json:"volume"`
	StopLoss   *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit *decimal.Decimal `json:"take_profit,omitempty"`
}

// Validate normalizes the symbol and checks side, volume and thresholds.
func (r *MarketOrderRequest) Validate() error {
	sym, err := NormalizeSymbol(r.Symbol)
	if err != nil {
		return err
	}
	r.Symbol = sym

	if r.Side != Buy && r.Side != Sell {
		return fmt.Errorf("%w: order type %q", ErrInvalidInput, r.Side)
	}
	if r.Volume.LessThan(MinVolume) || r.Volume.GreaterThan(MaxVolume) {
		return fmt.Errorf("%w: volume %s outside [%s, %s]", ErrInvalidInput, r.Volume, MinVolume, MaxVolume)
	}
	if !r.Volume.Equal(r.Volume.Truncate(VolumePlaces)) {
		return fmt.Errorf("%w: volume %s has more than %d decimals", ErrInvalidInput, r.Volume, VolumePlaces)
	}
	if r.StopLoss != nil && !r.StopLoss.IsPositive() {
		return fmt.Errorf("%w: stop loss must be positive", ErrInvalidInput)
	}
	if r.TakeProfit != nil && !r.TakeProfit.IsPositive() {
		return fmt.Errorf("%w: take profit must be positive", ErrInvalidInput)
	}
	return nil
}

var symbolRE = regexp.MustCompile(`^[A-Z0-9]{3,12}$`)

// NormalizeSymbol upper-cases a symbol and strips pair separators, so
// "eur/usd" and "EUR_USD" both become "EURUSD".
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	sym = strings.NewReplacer("/", "", "_", "").Replace(sym)
	if !symbolRE.MatchString(sym) {
		return "", fmt.Errorf("%w: symbol %q", ErrInvalidInput, s)
	}
	return sym, nil
}
