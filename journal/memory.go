package journal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/vtrader/broker"
)

// Op names a Memory operation for fault injection.
type Op string

const (
	OpReadAccount    Op = "ReadAccount"
	OpListAccounts   Op = "ListAccounts"
	OpCreateAccount  Op = "CreateAccount"
	OpReadPositions  Op = "ReadOpenPositions"
	OpReadHistory    Op = "ReadHistory"
	OpRecordEquity   Op = "RecordEquity"
	OpListEquity     Op = "ListEquity"
	OpWriteAccount   Op = "WriteAccount"
	OpWritePosition  Op = "WritePosition"
	OpDeletePosition Op = "DeletePosition"
	OpAppendHistory  Op = "AppendHistory"
	OpCommit         Op = "Commit"
)

// Memory is an in-process Store used by tests and the demo. Failures can
// be injected per operation, and Atomic can be switched to apply writes
// one by one so that a failure leaves a partial write behind.
type Memory struct {
	mu sync.Mutex
	tx sync.Mutex // one Atomic at a time

	accounts  map[string]broker.Account
	positions map[string]broker.Position
	history   map[string]broker.TradeRecord
	equity    []broker.EquitySnapshot

	faults        map[Op][]error
	delay         time.Duration
	noTransaction bool
}

func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[string]broker.Account),
		positions: make(map[string]broker.Position),
		history:   make(map[string]broker.TradeRecord),
		faults:    make(map[Op][]error),
	}
}

// FailNext makes the next call of op return err. Calls queue up.
func (m *Memory) FailNext(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], err)
}

// SetDelay makes every operation wait d, or until its context is done.
func (m *Memory) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// DisableTransactions makes Atomic apply each write as it happens and
// keep them when a later write fails.
func (m *Memory) DisableTransactions() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noTransaction = true
}

// enter waits out the configured delay and pops a pending fault for op.
// It is called without m.mu held.
func (m *Memory) enter(ctx context.Context, op Op) error {
	m.mu.Lock()
	d := m.delay
	m.mu.Unlock()

	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popFault(op)
}

func (m *Memory) popFault(op Op) error {
	q := m.faults[op]
	if len(q) == 0 {
		return nil
	}
	err := q[0]
	m.faults[op] = q[1:]
	return err
}

func (m *Memory) ReadAccount(ctx context.Context, userID string) (broker.Account, error) {
	if err := m.enter(ctx, OpReadAccount); err != nil {
		return broker.Account{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[userID]
	if !ok {
		return broker.Account{}, fmt.Errorf("%q: %w", userID, ErrAccountNotFound)
	}
	return a, nil
}

func (m *Memory) ListAccounts(ctx context.Context) ([]string, error) {
	if err := m.enter(ctx, OpListAccounts); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.accounts))
	for user := range m.accounts {
		out = append(out, user)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) CreateAccount(ctx context.Context, a broker.Account) (broker.Account, error) {
	if err := m.enter(ctx, OpCreateAccount); err != nil {
		return broker.Account{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.accounts[a.UserID]; ok {
		return cur, nil
	}
	m.accounts[a.UserID] = a
	return a, nil
}

func (m *Memory) ReadOpenPositions(ctx context.Context, userID string) ([]broker.Position, error) {
	if err := m.enter(ctx, OpReadPositions); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []broker.Position
	for _, p := range m.positions {
		if p.UserID == userID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].OpenTime.Before(out[j].OpenTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) ReadHistory(ctx context.Context, userID string) ([]broker.TradeRecord, error) {
	if err := m.enter(ctx, OpReadHistory); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []broker.TradeRecord
	for _, r := range m.history {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CloseTime.Equal(out[j].CloseTime) {
			return out[i].CloseTime.After(out[j].CloseTime)
		}
		return out[i].PositionID > out[j].PositionID
	})
	return out, nil
}

func (m *Memory) RecordEquity(ctx context.Context, e broker.EquitySnapshot) error {
	if err := m.enter(ctx, OpRecordEquity); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, e)
	return nil
}

func (m *Memory) ListEquity(ctx context.Context, userID string, since time.Time) ([]broker.EquitySnapshot, error) {
	if err := m.enter(ctx, OpListEquity); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []broker.EquitySnapshot
	for _, e := range m.equity {
		if e.UserID == userID && !e.Time.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

// Atomic stages writes against a copy of the state and swaps it in on
// success. With transactions disabled the writes land immediately.
func (m *Memory) Atomic(ctx context.Context, fn func(w Writer) error) error {
	m.tx.Lock()
	defer m.tx.Unlock()

	m.mu.Lock()
	direct := m.noTransaction
	m.mu.Unlock()

	if direct {
		return fn(&memWriter{m: m, live: true})
	}

	w := &memWriter{m: m, stage: m.snapshot()}
	if err := fn(w); err != nil {
		return err
	}
	if err := m.enter(ctx, OpCommit); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = w.stage.accounts
	m.positions = w.stage.positions
	m.history = w.stage.history
	return nil
}

func (m *Memory) Close() error { return nil }

type memState struct {
	accounts  map[string]broker.Account
	positions map[string]broker.Position
	history   map[string]broker.TradeRecord
}

// snapshot copies the maps Atomic may change.
func (m *Memory) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &memState{
		accounts:  make(map[string]broker.Account, len(m.accounts)),
		positions: make(map[string]broker.Position, len(m.positions)),
		history:   make(map[string]broker.TradeRecord, len(m.history)),
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.positions {
		s.positions[k] = v.Clone()
	}
	for k, v := range m.history {
		s.history[k] = v
	}
	return s
}

type memWriter struct {
	m     *Memory
	live  bool
	stage *memState
}

func (w *memWriter) state() *memState {
	if w.live {
		return &memState{accounts: w.m.accounts, positions: w.m.positions, history: w.m.history}
	}
	return w.stage
}

func (w *memWriter) WriteAccount(ctx context.Context, a broker.Account) error {
	if err := w.m.enter(ctx, OpWriteAccount); err != nil {
		return err
	}
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.state().accounts[a.UserID] = a
	return nil
}

func (w *memWriter) WritePosition(ctx context.Context, p broker.Position) error {
	if err := w.m.enter(ctx, OpWritePosition); err != nil {
		return err
	}
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.state().positions[p.ID] = p.Clone()
	return nil
}

func (w *memWriter) DeletePosition(ctx context.Context, positionID string) error {
	if err := w.m.enter(ctx, OpDeletePosition); err != nil {
		return err
	}
	w.m.mu.Lock()
	defer w.m.mu.Unlock()

	s := w.state()
	if _, ok := s.positions[positionID]; !ok {
		return fmt.Errorf("%q: %w", positionID, ErrPositionNotFound)
	}
	delete(s.positions, positionID)
	return nil
}

func (w *memWriter) AppendHistory(ctx context.Context, rec broker.TradeRecord) error {
	if err := w.m.enter(ctx, OpAppendHistory); err != nil {
		return err
	}
	w.m.mu.Lock()
	defer w.m.mu.Unlock()

	s := w.state()
	if _, ok := s.history[rec.PositionID]; ok {
		return fmt.Errorf("%q: %w", rec.PositionID, ErrDuplicateHistory)
	}
	s.history[rec.PositionID] = rec
	return nil
}
