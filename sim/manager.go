// Package sim runs virtual accounts: the Ledger holds balances and margin,
// the Manager opens, marks and closes positions against them.
package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rustyeddy/vtrader/broker"
	"github.com/rustyeddy/vtrader/id"
	"github.com/rustyeddy/vtrader/journal"
	"github.com/rustyeddy/vtrader/margin"
	"github.com/rustyeddy/vtrader/pricing"
	"github.com/shopspring/decimal"
)

// Manager is not safe for concurrent mutations of the same account;
// trading.Facade serializes them.
type Manager struct {
	ledger *Ledger
	quoter *pricing.Quoter
	now    func() time.Time
	newID  func() string
}

func NewManager(ledger *Ledger, quoter *pricing.Quoter) *Manager {
	return &Manager{
		ledger: ledger,
		quoter: quoter,
		now:    time.Now,
		newID:  id.New,
	}
}

func (m *Manager) Ledger() *Ledger { return m.ledger }

func (m *Manager) Quoter() *pricing.Quoter { return m.quoter }

// Snapshot is a copy of an account's state. History is newest first and
// must not be modified.
type Snapshot struct {
	Account   broker.Account
	Positions []broker.Position
	History   []broker.TradeRecord
}

func (m *Manager) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	b, err := m.ledger.book(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Account:   b.acct,
		Positions: b.openPositions(),
		History:   b.history,
	}, nil
}

// Open fills a market order at the ask for buys and the bid for sells.
func (m *Manager) Open(ctx context.Context, userID string, req broker.MarketOrderRequest) (broker.Position, error) {
	if err := req.Validate(); err != nil {
		return broker.Position{}, err
	}

	b, err := m.ledger.book(ctx, userID)
	if err != nil {
		return broker.Position{}, err
	}

	tick, err := m.quoter.Quote(req.Symbol)
	if err != nil {
		return broker.Position{}, fmt.Errorf("open %s: %w", req.Symbol, err)
	}

	price := margin.EntryPrice(req.Side, tick)
	required, err := margin.Required(req.Volume, price, b.acct.Leverage)
	if err != nil {
		return broker.Position{}, err
	}

	free := m.equity(b).Sub(b.acct.MarginUsed)
	if free.LessThan(required) {
		return broker.Position{}, fmt.Errorf("%w: required %s, free %s",
			broker.ErrInsufficientMargin, required.StringFixed(2), free.StringFixed(2))
	}

	now := m.now().UTC()
	p := broker.Position{
		ID:           m.newID(),
		UserID:       userID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Volume:       req.Volume,
		OpenPrice:    price,
		CurrentPrice: price,
		ProfitLoss:   decimal.Zero,
		Margin:       required,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		OpenTime:     now,
		State:        broker.StateOpen,
	}
	p = p.Clone()
	acct := withOpen(b.acct, required, now)

	// Account first: a position row never exists without its margin
	// reserved. Reload repairs margin reserved for a missing position.
	err = m.atomic(ctx, userID, func(ctx context.Context, w journal.Writer) error {
		if err := w.WriteAccount(ctx, acct); err != nil {
			return err
		}
		return w.WritePosition(ctx, p)
	})
	if err != nil {
		return broker.Position{}, storeErr("open position", err)
	}
	m.ledger.reserve(b, acct, p)

	log.Info().
		Str("user", userID).
		Str("position", p.ID).
		Str("symbol", p.Symbol).
		Str("side", string(p.Side)).
		Str("volume", p.Volume.String()).
		Str("price", p.OpenPrice.String()).
		Str("margin", p.Margin.String()).
		Msg("position opened")

	return p.Clone(), nil
}

// RefreshPosition marks p against the current quote.
func (m *Manager) RefreshPosition(p *broker.Position) error {
	tick, err := m.quoter.Quote(p.Symbol)
	if err != nil {
		return err
	}
	p.CurrentPrice = margin.Mark(p.Side, tick)
	p.ProfitLoss = margin.FloatingPL(*p, tick)
	return nil
}

// Refresh marks every open position of the account, persists the marks
// and returns the positions whose stop loss or take profit was crossed.
// Positions without any quote keep their previous mark.
func (m *Manager) Refresh(ctx context.Context, userID string) ([]Trigger, error) {
	b, err := m.ledger.book(ctx, userID)
	if err != nil {
		return nil, err
	}

	updated := b.openPositions()
	if len(updated) == 0 {
		return nil, nil
	}

	var triggers []Trigger
	for i := range updated {
		p := &updated[i]
		if err := m.RefreshPosition(p); err != nil {
			log.Debug().Err(err).Str("user", userID).Str("position", p.ID).Msg("refresh skipped")
			continue
		}
		if reason, ok := triggered(p, p.CurrentPrice); ok {
			triggers = append(triggers, Trigger{PositionID: p.ID, Reason: reason})
		}
	}

	err = m.atomic(ctx, userID, func(ctx context.Context, w journal.Writer) error {
		for _, p := range updated {
			if err := w.WritePosition(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("refresh positions", err)
	}

	for _, p := range updated {
		if cur, ok := b.positions[p.ID]; ok && cur.State == broker.StateOpen {
			cur.CurrentPrice = p.CurrentPrice
			cur.ProfitLoss = p.ProfitLoss
		}
	}
	return triggers, nil
}

// Close realizes a position at the bid for buys and the ask for sells.
// Closing an unknown or already closed position is ErrNotFound.
func (m *Manager) Close(ctx context.Context, userID, positionID, reason string) (broker.TradeRecord, error) {
	if reason == "" {
		reason = broker.ReasonManual
	}

	b, err := m.ledger.book(ctx, userID)
	if err != nil {
		return broker.TradeRecord{}, err
	}

	p, ok := b.positions[positionID]
	if !ok || p.State != broker.StateOpen {
		return broker.TradeRecord{}, fmt.Errorf("position %q: %w", positionID, broker.ErrNotFound)
	}

	tick, err := m.quoter.Quote(p.Symbol)
	if err != nil {
		return broker.TradeRecord{}, fmt.Errorf("close %s: %w", positionID, err)
	}

	closePrice := margin.Mark(p.Side, tick)
	pl := margin.PLAt(p.Side, p.OpenPrice, p.Volume, closePrice)
	now := m.now().UTC()

	rec := broker.TradeRecord{
		PositionID: p.ID,
		UserID:     userID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Volume:     p.Volume,
		OpenPrice:  p.OpenPrice,
		ClosePrice: closePrice,
		ProfitLoss: pl,
		Margin:     p.Margin,
		OpenTime:   p.OpenTime,
		CloseTime:  now,
		Reason:     reason,
	}
	acct := withClose(b.acct, pl, p.Margin, now)

	p.State = broker.StateClosing
	err = m.atomic(ctx, userID, func(ctx context.Context, w journal.Writer) error {
		if err := w.WriteAccount(ctx, acct); err != nil {
			return err
		}
		if err := w.AppendHistory(ctx, rec); err != nil {
			return err
		}
		return w.DeletePosition(ctx, rec.PositionID)
	})
	if err != nil {
		p.State = broker.StateOpen
		if errors.Is(err, journal.ErrDuplicateHistory) {
			log.Warn().Str("user", userID).Str("position", positionID).Msg("position already in history")
			return broker.TradeRecord{}, fmt.Errorf("position %q already closed: %w", positionID, broker.ErrNotFound)
		}
		return broker.TradeRecord{}, storeErr("close position", err)
	}
	m.ledger.settle(b, acct, rec)

	log.Info().
		Str("user", userID).
		Str("position", rec.PositionID).
		Str("symbol", rec.Symbol).
		Str("price", rec.ClosePrice.String()).
		Str("pl", rec.ProfitLoss.String()).
		Str("reason", reason).
		Msg("position closed")

	return rec, nil
}

// equity is the balance plus floating P&L marked fresh from the quoter.
// A position without any quote counts at its last mark.
func (m *Manager) equity(b *book) decimal.Decimal {
	pls := make([]decimal.Decimal, 0, len(b.positions))
	for _, p := range b.positions {
		cp := p.Clone()
		if err := m.RefreshPosition(&cp); err != nil {
			pls = append(pls, p.ProfitLoss)
			continue
		}
		pls = append(pls, cp.ProfitLoss)
	}
	return margin.Equity(b.acct.Balance, pls...)
}

// atomic runs fn in one store transaction under the store timeout. Any
// failure leaves the account dirty so it is reloaded before next use.
func (m *Manager) atomic(ctx context.Context, userID string, fn func(ctx context.Context, w journal.Writer) error) error {
	ctx, cancel := m.ledger.storeCtx(ctx)
	defer cancel()

	err := m.ledger.store.Atomic(ctx, func(w journal.Writer) error { return fn(ctx, w) })
	if err != nil {
		m.ledger.markDirty(userID)
	}
	return err
}
