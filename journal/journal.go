// Package journal persists virtual accounts, their open positions, the
// closed-trade history and the equity curve.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/vtrader/broker"
)

var (
	ErrAccountNotFound  = fmt.Errorf("account %w", broker.ErrNotFound)
	ErrPositionNotFound = fmt.Errorf("position %w", broker.ErrNotFound)

	// ErrDuplicateHistory is returned by AppendHistory when the position
	// already has a history record.
	ErrDuplicateHistory = errors.New("history record already exists")
)

// Writer is the set of mutations available inside Store.Atomic. Either
// all of them commit or none do.
type Writer interface {
	WriteAccount(ctx context.Context, a broker.Account) error
	WritePosition(ctx context.Context, p broker.Position) error
	DeletePosition(ctx context.Context, positionID string) error
	AppendHistory(ctx context.Context, rec broker.TradeRecord) error
}

type Store interface {
	ReadAccount(ctx context.Context, userID string) (broker.Account, error)

	// ListAccounts returns every known user ID, sorted.
	ListAccounts(ctx context.Context) ([]string, error)

	// CreateAccount inserts a unless an account for a.UserID already
	// exists, and returns whichever row is stored.
	CreateAccount(ctx context.Context, a broker.Account) (broker.Account, error)

	ReadOpenPositions(ctx context.Context, userID string) ([]broker.Position, error)

	// ReadHistory returns closed trades newest first.
	ReadHistory(ctx context.Context, userID string) ([]broker.TradeRecord, error)

	RecordEquity(ctx context.Context, e broker.EquitySnapshot) error

	// ListEquity returns snapshots taken at or after since, oldest first.
	ListEquity(ctx context.Context, userID string, since time.Time) ([]broker.EquitySnapshot, error)

	Atomic(ctx context.Context, fn func(w Writer) error) error
	Close() error
}

// scanner is satisfied by *sql.Row, *sql.Rows, pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}
