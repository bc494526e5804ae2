// Package margin holds the pure margin and profit/loss arithmetic for
// virtual accounts. Nothing here keeps state or blocks.
package margin

import (
	"fmt"

	"github.com/rustyeddy/vtrader/broker"
	"github.com/rustyeddy/vtrader/pricing"
	"github.com/shopspring/decimal"
)

// LotSize is the number of base-currency units in 1.0 lot.
var LotSize = decimal.NewFromInt(100000)

var (
	hundred      = decimal.NewFromInt(100)
	dangerLevel  = decimal.NewFromInt(100)
	warningLevel = decimal.NewFromInt(200)
)

// Required is volume * LotSize * price / leverage.
func Required(volume, price decimal.Decimal, leverage int) (decimal.Decimal, error) {
	if leverage <= 0 {
		return decimal.Zero, fmt.Errorf("%w: leverage %d", broker.ErrInvalidInput, leverage)
	}
	if !volume.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: volume %s", broker.ErrInvalidInput, volume)
	}
	return volume.Mul(LotSize).Mul(price).Div(decimal.NewFromInt(int64(leverage))), nil
}

// EntryPrice is the fill side for opening: buys pay the ask, sells take the bid.
func EntryPrice(side broker.Side, t pricing.Tick) decimal.Decimal {
	if side == broker.Sell {
		return t.Bid
	}
	return t.Ask
}

// Mark is the side a position is valued and closed against: longs on the
// bid, shorts on the ask.
func Mark(side broker.Side, t pricing.Tick) decimal.Decimal {
	if side == broker.Sell {
		return t.Ask
	}
	return t.Bid
}

// PLAt is the profit or loss of a position if it were closed at price.
func PLAt(side broker.Side, openPrice, volume, price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(openPrice)
	if side == broker.Sell {
		diff = openPrice.Sub(price)
	}
	return diff.Mul(volume).Mul(LotSize)
}

// FloatingPL values a position against the current quote.
func FloatingPL(p broker.Position, t pricing.Tick) decimal.Decimal {
	return PLAt(p.Side, p.OpenPrice, p.Volume, Mark(p.Side, t))
}

func Equity(balance decimal.Decimal, pls ...decimal.Decimal) decimal.Decimal {
	eq := balance
	for _, pl := range pls {
		eq = eq.Add(pl)
	}
	return eq
}

func Level(equity, marginUsed decimal.Decimal) broker.MarginLevel {
	if marginUsed.IsZero() {
		return broker.MarginLevel{Unbounded: true}
	}
	return broker.MarginLevel{Value: equity.Div(marginUsed).Mul(hundred)}
}

func StatusOf(marginUsed decimal.Decimal, level broker.MarginLevel) broker.MarginStatus {
	switch {
	case marginUsed.IsZero() || level.Unbounded:
		return broker.MarginSafe
	case level.Value.LessThan(dangerLevel):
		return broker.MarginDanger
	case level.Value.LessThan(warningLevel):
		return broker.MarginWarning
	}
	return broker.MarginSafe
}

// Summarize derives the account view from the ledger record and positions
// whose ProfitLoss is already marked.
func Summarize(acct broker.Account, positions []broker.Position) broker.Summary {
	pls := make([]decimal.Decimal, 0, len(positions))
	for _, p := range positions {
		pls = append(pls, p.ProfitLoss)
	}
	equity := Equity(acct.Balance, pls...)
	level := Level(equity, acct.MarginUsed)

	return broker.Summary{
		UserID:        acct.UserID,
		Balance:       acct.Balance,
		Equity:        equity,
		MarginUsed:    acct.MarginUsed,
		FreeMargin:    equity.Sub(acct.MarginUsed),
		MarginLevel:   level,
		MarginStatus:  StatusOf(acct.MarginUsed, level),
		Leverage:      acct.Leverage,
		OpenPositions: len(positions),
	}
}
