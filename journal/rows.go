package journal

import (
	"github.com/rustyeddy/vtrader/broker"
	"github.com/shopspring/decimal"
)

const (
	accountColumns  = `user_id, initial_balance, balance, margin_used, leverage, created_at, updated_at`
	positionColumns = `position_id, user_id, symbol, side, volume, open_price, current_price, profit_loss, margin, stop_loss, take_profit, open_time, state`
	historyColumns  = `position_id, user_id, symbol, side, volume, open_price, close_price, profit_loss, margin, open_time, close_time, reason`
	equityColumns   = `user_id, time, balance, equity, margin_used, free_margin, margin_level`
)

func accountArgs(a broker.Account) []any {
	return []any{a.UserID, a.Initial, a.Balance, a.MarginUsed, a.Leverage, a.CreatedAt.UTC(), a.UpdatedAt.UTC()}
}

func positionArgs(p broker.Position) []any {
	return []any{
		p.ID, p.UserID, p.Symbol, string(p.Side),
		p.Volume, p.OpenPrice, p.CurrentPrice, p.ProfitLoss, p.Margin,
		nullable(p.StopLoss), nullable(p.TakeProfit),
		p.OpenTime.UTC(), string(p.State),
	}
}

func historyArgs(r broker.TradeRecord) []any {
	return []any{
		r.PositionID, r.UserID, r.Symbol, string(r.Side),
		r.Volume, r.OpenPrice, r.ClosePrice, r.ProfitLoss, r.Margin,
		r.OpenTime.UTC(), r.CloseTime.UTC(), r.Reason,
	}
}

func equityArgs(e broker.EquitySnapshot) []any {
	level := decimal.NullDecimal{Decimal: e.MarginLevel.Value, Valid: !e.MarginLevel.Unbounded}
	return []any{e.UserID, e.Time.UTC(), e.Balance, e.Equity, e.MarginUsed, e.FreeMargin, level}
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func scanAccount(s scanner) (broker.Account, error) {
	var a broker.Account
	err := s.Scan(&a.UserID, &a.Initial, &a.Balance, &a.MarginUsed, &a.Leverage, &a.CreatedAt, &a.UpdatedAt)
	a.CreatedAt, a.UpdatedAt = a.CreatedAt.UTC(), a.UpdatedAt.UTC()
	return a, err
}

func scanPosition(s scanner) (broker.Position, error) {
	var (
		p           broker.Position
		side, state string
		sl, tp      decimal.NullDecimal
	)
	err := s.Scan(
		&p.ID, &p.UserID, &p.Symbol, &side,
		&p.Volume, &p.OpenPrice, &p.CurrentPrice, &p.ProfitLoss, &p.Margin,
		&sl, &tp, &p.OpenTime, &state,
	)
	if err != nil {
		return broker.Position{}, err
	}
	p.Side = broker.Side(side)
	p.State = broker.State(state)
	p.OpenTime = p.OpenTime.UTC()
	if sl.Valid {
		p.StopLoss = &sl.Decimal
	}
	if tp.Valid {
		p.TakeProfit = &tp.Decimal
	}
	return p, nil
}

func scanRecord(s scanner) (broker.TradeRecord, error) {
	var (
		r    broker.TradeRecord
		side string
	)
	err := s.Scan(
		&r.PositionID, &r.UserID, &r.Symbol, &side,
		&r.Volume, &r.OpenPrice, &r.ClosePrice, &r.ProfitLoss, &r.Margin,
		&r.OpenTime, &r.CloseTime, &r.Reason,
	)
	r.Side = broker.Side(side)
	r.OpenTime, r.CloseTime = r.OpenTime.UTC(), r.CloseTime.UTC()
	return r, err
}

func scanEquity(s scanner) (broker.EquitySnapshot, error) {
	var (
		e     broker.EquitySnapshot
		level decimal.NullDecimal
	)
	err := s.Scan(&e.UserID, &e.Time, &e.Balance, &e.Equity, &e.MarginUsed, &e.FreeMargin, &level)
	e.Time = e.Time.UTC()
	e.MarginLevel = broker.MarginLevel{Value: level.Decimal, Unbounded: !level.Valid}
	return e, err
}
