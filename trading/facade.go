// Package trading is the single entry point for callers. Mutations are
// serialized per account; views read the last committed snapshot.
package trading

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rustyeddy/vtrader/broker"
	"github.com/rustyeddy/vtrader/margin"
	"github.com/rustyeddy/vtrader/sim"
	"github.com/shopspring/decimal"
)

// Observer is notified after a mutation commits and the account lock is
// released. Implementations must not block for long.
type Observer interface {
	OnAccountUpdated(s broker.Summary)
	OnPositionClosed(rec broker.TradeRecord)
}

// Stats receives order activity. metrics.Registry implements it.
type Stats interface {
	OrderPlaced(symbol string, side broker.Side)
	OrderRejected(kind string)
	PositionClosed(symbol, reason string)
}

// PriceFeed keeps quotes flowing for symbols with open positions.
// feed.Adapter implements it.
type PriceFeed interface {
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(ctx context.Context, symbol string) error
}

type nopStats struct{}

func (nopStats) OrderPlaced(string, broker.Side) {}
func (nopStats) OrderRejected(string)            {}
func (nopStats) PositionClosed(string, string)   {}

type Options struct {
	// EnforceStops closes positions whose stop loss or take profit was
	// crossed during RefreshAll.
	EnforceStops bool
	Stats        Stats
	Feed         PriceFeed
}

type CloseResult struct {
	ClosePrice decimal.Decimal    `json:"close_price"`
	ProfitLoss decimal.Decimal    `json:"profit_loss"`
	Record     broker.TradeRecord `json:"record"`
}

func resultOf(rec broker.TradeRecord) CloseResult {
	return CloseResult{ClosePrice: rec.ClosePrice, ProfitLoss: rec.ProfitLoss, Record: rec}
}

type account struct {
	mu   sync.Mutex
	snap atomic.Pointer[sim.Snapshot]

	// tracked maps each position holding a feed reference to its symbol.
	tracked map[string]string

	// followMu is taken before mu is released so feed reference changes
	// reach the feed in commit order.
	followMu sync.Mutex
}

// store publishes s and returns the symbols to subscribe and unsubscribe
// so that every open position holds exactly one feed reference.
func (a *account) store(s *sim.Snapshot) (add, drop []string) {
	a.snap.Store(s)

	open := make(map[string]bool, len(s.Positions))
	for _, p := range s.Positions {
		open[p.ID] = true
		if _, ok := a.tracked[p.ID]; !ok {
			a.tracked[p.ID] = p.Symbol
			add = append(add, p.Symbol)
		}
	}
	for id, sym := range a.tracked {
		if !open[id] {
			delete(a.tracked, id)
			drop = append(drop, sym)
		}
	}
	return add, drop
}

type Facade struct {
	mgr  *sim.Manager
	opts Options

	mu       sync.Mutex
	accounts map[string]*account

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

func NewFacade(mgr *sim.Manager, opts Options) *Facade {
	if opts.Stats == nil {
		opts.Stats = nopStats{}
	}
	return &Facade{
		mgr:       mgr,
		opts:      opts,
		accounts:  make(map[string]*account),
		observers: make(map[int]Observer),
	}
}

func (f *Facade) Manager() *sim.Manager { return f.mgr }

// Subscribe registers o and returns a function that removes it.
func (f *Facade) Subscribe(o Observer) func() {
	f.obsMu.Lock()
	id := f.nextObs
	f.nextObs++
	f.observers[id] = o
	f.obsMu.Unlock()

	return func() {
		f.obsMu.Lock()
		delete(f.observers, id)
		f.obsMu.Unlock()
	}
}

func (f *Facade) account(userID string) *account {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[userID]
	if !ok {
		a = &account{tracked: make(map[string]string)}
		f.accounts[userID] = a
	}
	return a
}

// withAccount runs fn under the account lock, republishes the snapshot
// and then notifies observers of the closes fn reported.
func (f *Facade) withAccount(ctx context.Context, userID string, fn func() ([]broker.TradeRecord, error)) (*sim.Snapshot, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", broker.ErrInvalidInput)
	}
	a := f.account(userID)

	a.mu.Lock()
	closed, err := fn()
	snap, add, drop := f.publish(ctx, a, userID)
	a.followMu.Lock()
	a.mu.Unlock()

	f.follow(ctx, add, drop)
	a.followMu.Unlock()
	f.notify(snap, closed)
	return snap, err
}

// publish stores a fresh snapshot. On failure the old one is dropped so
// the next view reloads.
func (f *Facade) publish(ctx context.Context, a *account, userID string) (*sim.Snapshot, []string, []string) {
	s, err := f.mgr.Snapshot(ctx, userID)
	if err != nil {
		a.snap.Store(nil)
		log.Warn().Err(err).Str("user", userID).Msg("snapshot not published")
		return nil, nil, nil
	}
	add, drop := a.store(&s)
	return &s, add, drop
}

// follow moves feed references after the account lock is released. The
// caller holds the account's followMu.
func (f *Facade) follow(ctx context.Context, add, drop []string) {
	if f.opts.Feed == nil {
		return
	}
	for _, sym := range add {
		if err := f.opts.Feed.Subscribe(ctx, sym); err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("feed subscribe failed")
		}
	}
	for _, sym := range drop {
		if err := f.opts.Feed.Unsubscribe(ctx, sym); err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("feed unsubscribe failed")
		}
	}
}

func (f *Facade) notify(snap *sim.Snapshot, closed []broker.TradeRecord) {
	f.obsMu.RLock()
	obs := make([]Observer, 0, len(f.observers))
	for _, o := range f.observers {
		obs = append(obs, o)
	}
	f.obsMu.RUnlock()

	if len(obs) == 0 {
		return
	}
	for _, rec := range closed {
		for _, o := range obs {
			o.OnPositionClosed(rec)
		}
	}
	if snap != nil {
		s := f.summarize(snap)
		for _, o := range obs {
			o.OnAccountUpdated(s)
		}
	}
}

// snapshot returns the published snapshot, loading it under the account
// lock the first time.
func (f *Facade) snapshot(ctx context.Context, userID string) (*sim.Snapshot, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", broker.ErrInvalidInput)
	}
	a := f.account(userID)
	if s := a.snap.Load(); s != nil {
		return s, nil
	}

	a.mu.Lock()
	if s := a.snap.Load(); s != nil {
		a.mu.Unlock()
		return s, nil
	}
	s, err := f.mgr.Snapshot(ctx, userID)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	add, drop := a.store(&s)
	a.followMu.Lock()
	a.mu.Unlock()

	f.follow(ctx, add, drop)
	a.followMu.Unlock()
	return &s, nil
}

// marked copies positions and marks them against the cache. Positions
// without a cached quote keep their last mark.
func (f *Facade) marked(snap *sim.Snapshot) []broker.Position {
	cache := f.mgr.Quoter().Cache()
	out := make([]broker.Position, len(snap.Positions))
	for i, p := range snap.Positions {
		p = p.Clone()
		if t, err := cache.Get(p.Symbol); err == nil {
			p.CurrentPrice = margin.Mark(p.Side, t)
			p.ProfitLoss = margin.FloatingPL(p, t)
		}
		out[i] = p
	}
	return out
}

func (f *Facade) summarize(snap *sim.Snapshot) broker.Summary {
	return margin.Summarize(snap.Account, f.marked(snap))
}

// PlaceOrder opens a market position.
func (f *Facade) PlaceOrder(ctx context.Context, userID string, req broker.MarketOrderRequest) (broker.Position, error) {
	var p broker.Position
	_, err := f.withAccount(ctx, userID, func() ([]broker.TradeRecord, error) {
		var err error
		p, err = f.mgr.Open(ctx, userID, req)
		return nil, err
	})
	if err != nil {
		f.opts.Stats.OrderRejected(broker.Kind(err))
		return broker.Position{}, err
	}
	f.opts.Stats.OrderPlaced(p.Symbol, p.Side)
	return p, nil
}

// ClosePosition closes one position manually.
func (f *Facade) ClosePosition(ctx context.Context, userID, positionID string) (CloseResult, error) {
	var rec broker.TradeRecord
	_, err := f.withAccount(ctx, userID, func() ([]broker.TradeRecord, error) {
		var err error
		rec, err = f.mgr.Close(ctx, userID, positionID, broker.ReasonManual)
		if err != nil {
			return nil, err
		}
		return []broker.TradeRecord{rec}, nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	f.opts.Stats.PositionClosed(rec.Symbol, rec.Reason)
	return resultOf(rec), nil
}

// CloseAll closes every open position of the account, oldest first. It
// stops at the first failure and returns what was closed before it.
func (f *Facade) CloseAll(ctx context.Context, userID string) ([]CloseResult, error) {
	var out []CloseResult
	_, err := f.withAccount(ctx, userID, func() ([]broker.TradeRecord, error) {
		snap, err := f.mgr.Snapshot(ctx, userID)
		if err != nil {
			return nil, err
		}

		var closed []broker.TradeRecord
		for _, p := range snap.Positions {
			rec, err := f.mgr.Close(ctx, userID, p.ID, broker.ReasonManual)
			if err != nil {
				return closed, err
			}
			closed = append(closed, rec)
			out = append(out, resultOf(rec))
			f.opts.Stats.PositionClosed(rec.Symbol, rec.Reason)
		}
		return closed, nil
	})
	return out, err
}

// RefreshAll re-marks the account's positions and, when enforcing stops,
// closes the ones that crossed a threshold. Close failures are logged and
// joined into the returned error; the remaining triggers still run.
func (f *Facade) RefreshAll(ctx context.Context, userID string) (broker.Summary, error) {
	snap, err := f.withAccount(ctx, userID, func() ([]broker.TradeRecord, error) {
		triggers, err := f.mgr.Refresh(ctx, userID)
		if err != nil || !f.opts.EnforceStops {
			return nil, err
		}

		var closed []broker.TradeRecord
		var errs []error
		for _, tr := range triggers {
			rec, err := f.mgr.Close(ctx, userID, tr.PositionID, tr.Reason)
			if errors.Is(err, broker.ErrNotFound) {
				continue
			}
			if err != nil {
				log.Warn().Err(err).Str("user", userID).Str("position", tr.PositionID).Str("reason", tr.Reason).Msg("stop close failed")
				errs = append(errs, err)
				continue
			}
			closed = append(closed, rec)
			f.opts.Stats.PositionClosed(rec.Symbol, rec.Reason)
		}
		return closed, errors.Join(errs...)
	})
	if snap == nil {
		if err != nil {
			return broker.Summary{}, err
		}
		return f.AccountSummary(ctx, userID)
	}
	return f.summarize(snap), err
}

// AccountSummary creates the account on first use.
func (f *Facade) AccountSummary(ctx context.Context, userID string) (broker.Summary, error) {
	snap, err := f.snapshot(ctx, userID)
	if err != nil {
		return broker.Summary{}, err
	}
	return f.summarize(snap), nil
}

// Positions returns the open positions marked at current prices, oldest
// first.
func (f *Facade) Positions(ctx context.Context, userID string) ([]broker.Position, error) {
	snap, err := f.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return f.marked(snap), nil
}

// History returns closed trades, newest first.
func (f *Facade) History(ctx context.Context, userID string) ([]broker.TradeRecord, error) {
	snap, err := f.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append([]broker.TradeRecord(nil), snap.History...), nil
}

// Equity returns the recorded equity curve since the given time.
func (f *Facade) Equity(ctx context.Context, userID string, since time.Time) ([]broker.EquitySnapshot, error) {
	return f.mgr.Ledger().EquityCurve(ctx, userID, since)
}

// RecordEquity appends the account's current summary to its equity curve.
func (f *Facade) RecordEquity(ctx context.Context, userID string, at time.Time) error {
	s, err := f.AccountSummary(ctx, userID)
	if err != nil {
		return err
	}
	return f.mgr.Ledger().RecordEquity(ctx, broker.EquitySnapshot{
		UserID:      userID,
		Time:        at.UTC(),
		Balance:     s.Balance,
		Equity:      s.Equity,
		MarginUsed:  s.MarginUsed,
		FreeMargin:  s.FreeMargin,
		MarginLevel: s.MarginLevel,
	})
}
