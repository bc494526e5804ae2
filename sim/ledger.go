package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rustyeddy/vtrader/broker"
	"github.com/rustyeddy/vtrader/journal"
	"github.com/shopspring/decimal"
)

const (
	DefaultStartingBalance = 1000
	DefaultLeverage        = 100
	DefaultStoreTimeout    = 5 * time.Second
)

type LedgerOptions struct {
	StartingBalance decimal.Decimal
	Leverage        int
	StoreTimeout    time.Duration
}

func (o *LedgerOptions) setDefaults() {
	if o.StartingBalance.IsZero() {
		o.StartingBalance = decimal.NewFromInt(DefaultStartingBalance)
	}
	if o.Leverage <= 0 {
		o.Leverage = DefaultLeverage
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
}

// book is the in-memory state of one account. Callers serialize access
// per account; the Ledger only guards the map of books.
type book struct {
	acct      broker.Account
	positions map[string]*broker.Position
	history   []broker.TradeRecord // newest first, never mutated in place
	dirty     bool
}

func (b *book) openPositions() []broker.Position {
	out := make([]broker.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p.Clone())
	}
	sortPositions(out)
	return out
}

func sortPositions(ps []broker.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].OpenTime.Equal(ps[j].OpenTime) {
			return ps[i].OpenTime.Before(ps[j].OpenTime)
		}
		return ps[i].ID < ps[j].ID
	})
}

// Ledger owns the virtual accounts. Balance and margin only change through
// reserve and settle, which Manager calls after the store has committed.
type Ledger struct {
	store journal.Store
	opts  LedgerOptions
	now   func() time.Time

	mu    sync.Mutex
	books map[string]*book
}

func NewLedger(store journal.Store, opts LedgerOptions) *Ledger {
	opts.setDefaults()
	return &Ledger{
		store: store,
		opts:  opts,
		now:   time.Now,
		books: make(map[string]*book),
	}
}

func (l *Ledger) Store() journal.Store { return l.store }

// GetOrCreate returns the account for userID, creating it with the
// starting balance and leverage on first use.
func (l *Ledger) GetOrCreate(ctx context.Context, userID string) (broker.Account, error) {
	b, err := l.book(ctx, userID)
	if err != nil {
		return broker.Account{}, err
	}
	return b.acct, nil
}

// Known returns the user IDs the store knows about.
func (l *Ledger) Known(ctx context.Context) ([]string, error) {
	ctx, cancel := l.storeCtx(ctx)
	defer cancel()

	users, err := l.store.ListAccounts(ctx)
	if err != nil {
		return nil, storeErr("list accounts", err)
	}
	return users, nil
}

// RecordEquity appends a point to the account's equity curve.
func (l *Ledger) RecordEquity(ctx context.Context, snap broker.EquitySnapshot) error {
	ctx, cancel := l.storeCtx(ctx)
	defer cancel()

	if err := l.store.RecordEquity(ctx, snap); err != nil {
		return storeErr("record equity", err)
	}
	return nil
}

// EquityCurve returns the snapshots recorded since the given time, oldest
// first.
func (l *Ledger) EquityCurve(ctx context.Context, userID string, since time.Time) ([]broker.EquitySnapshot, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", broker.ErrInvalidInput)
	}

	ctx, cancel := l.storeCtx(ctx)
	defer cancel()

	snaps, err := l.store.ListEquity(ctx, userID, since)
	if err != nil {
		return nil, storeErr("list equity", err)
	}
	return snaps, nil
}

func (l *Ledger) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.opts.StoreTimeout)
}

// book returns the cached book, loading it when missing or dirty.
func (l *Ledger) book(ctx context.Context, userID string) (*book, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", broker.ErrInvalidInput)
	}

	l.mu.Lock()
	b, ok := l.books[userID]
	l.mu.Unlock()
	if ok && !b.dirty {
		return b, nil
	}

	b, err := l.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.books[userID] = b
	l.mu.Unlock()
	return b, nil
}

func (l *Ledger) markDirty(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.books[userID]; ok {
		b.dirty = true
	}
}

// load reads an account from the store and repairs any drift left by an
// interrupted close: positions that already have a history record are
// removed, the balance is re-derived from the history and margin used from
// the remaining positions.
func (l *Ledger) load(ctx context.Context, userID string) (*book, error) {
	ctx, cancel := l.storeCtx(ctx)
	defer cancel()

	acct, err := l.store.ReadAccount(ctx, userID)
	if errors.Is(err, journal.ErrAccountNotFound) {
		now := l.now().UTC()
		acct, err = l.store.CreateAccount(ctx, broker.Account{
			UserID:     userID,
			Initial:    l.opts.StartingBalance,
			Balance:    l.opts.StartingBalance,
			MarginUsed: decimal.Zero,
			Leverage:   l.opts.Leverage,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err == nil {
			log.Info().Str("user", userID).Str("balance", acct.Balance.String()).Int("leverage", acct.Leverage).Msg("account created")
		}
	}
	if err != nil {
		return nil, storeErr("read account", err)
	}

	positions, err := l.store.ReadOpenPositions(ctx, userID)
	if err != nil {
		return nil, storeErr("read positions", err)
	}
	history, err := l.store.ReadHistory(ctx, userID)
	if err != nil {
		return nil, storeErr("read history", err)
	}

	closed := make(map[string]bool, len(history))
	realized := decimal.Zero
	for _, rec := range history {
		closed[rec.PositionID] = true
		realized = realized.Add(rec.ProfitLoss)
	}

	b := &book{positions: make(map[string]*broker.Position, len(positions)), history: history}
	var stale []string
	used := decimal.Zero
	for i := range positions {
		p := positions[i]
		if closed[p.ID] {
			stale = append(stale, p.ID)
			continue
		}
		p.State = broker.StateOpen
		used = used.Add(p.Margin)
		b.positions[p.ID] = &p
	}

	fixed := acct
	fixed.MarginUsed = used
	if !acct.Initial.IsZero() {
		fixed.Balance = acct.Initial.Add(realized)
	}

	if len(stale) > 0 || !fixed.Balance.Equal(acct.Balance) || !fixed.MarginUsed.Equal(acct.MarginUsed) {
		log.Warn().
			Str("user", userID).
			Strs("stale_positions", stale).
			Str("balance", acct.Balance.String()).
			Str("balance_fixed", fixed.Balance.String()).
			Str("margin_used", acct.MarginUsed.String()).
			Str("margin_used_fixed", fixed.MarginUsed.String()).
			Msg("repairing account drift")

		fixed.UpdatedAt = l.now().UTC()
		err := l.store.Atomic(ctx, func(w journal.Writer) error {
			for _, id := range stale {
				if err := w.DeletePosition(ctx, id); err != nil && !errors.Is(err, journal.ErrPositionNotFound) {
					return err
				}
			}
			return w.WriteAccount(ctx, fixed)
		})
		if err != nil {
			return nil, storeErr("repair account", err)
		}
	}
	b.acct = fixed
	return b, nil
}

// reserve records a committed open.
func (l *Ledger) reserve(b *book, acct broker.Account, p broker.Position) {
	b.acct = acct
	b.positions[p.ID] = &p
}

// settle records a committed close.
func (l *Ledger) settle(b *book, acct broker.Account, rec broker.TradeRecord) {
	b.acct = acct
	delete(b.positions, rec.PositionID)
	b.history = append([]broker.TradeRecord{rec}, b.history...)
}

// withOpen is the account after reserving margin for a new position.
func withOpen(a broker.Account, margin decimal.Decimal, at time.Time) broker.Account {
	a.MarginUsed = a.MarginUsed.Add(margin)
	a.UpdatedAt = at
	return a
}

// withClose is the account after realizing pl and releasing margin.
func withClose(a broker.Account, pl, margin decimal.Decimal, at time.Time) broker.Account {
	a.Balance = a.Balance.Add(pl)
	a.MarginUsed = a.MarginUsed.Sub(margin)
	if a.MarginUsed.IsNegative() {
		a.MarginUsed = decimal.Zero
	}
	a.UpdatedAt = at
	return a
}

// storeErr classifies a store failure. Not-found errors pass through;
// everything else, timeouts included, is ErrStoreUnavailable.
func storeErr(op string, err error) error {
	if errors.Is(err, broker.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, broker.ErrStoreUnavailable, err)
}
