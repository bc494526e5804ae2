package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rustyeddy/vtrader/broker"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and applies
// Schema.
func NewSQLite(path string) (*SQLite, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serializes writers anyway; one connection keeps transactions
	// from tripping over each other with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) CreateAccount(ctx context.Context, a broker.Account) (broker.Account, error) {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		accountArgs(a)...,
	)
	if err != nil {
		return broker.Account{}, err
	}
	return j.ReadAccount(ctx, a.UserID)
}

func (j *SQLite) RecordEquity(ctx context.Context, e broker.EquitySnapshot) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO equity (`+equityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		equityArgs(e)...,
	)
	return err
}

func (j *SQLite) Atomic(ctx context.Context, fn func(w Writer) error) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(sqliteWriter{tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

type sqliteWriter struct {
	tx *sql.Tx
}

func (w sqliteWriter) WriteAccount(ctx context.Context, a broker.Account) error {
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			balance = excluded.balance,
			margin_used = excluded.margin_used,
			leverage = excluded.leverage,
			updated_at = excluded.updated_at`,
		accountArgs(a)...,
	)
	return err
}

func (w sqliteWriter) WritePosition(ctx context.Context, p broker.Position) error {
	_, err := w.tx.ExecContext(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO UPDATE SET
			current_price = excluded.current_price,
			profit_loss = excluded.profit_loss,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			state = excluded.state`,
		positionArgs(p)...,
	)
	return err
}

func (w sqliteWriter) DeletePosition(ctx context.Context, positionID string) error {
	res, err := w.tx.ExecContext(ctx, `DELETE FROM positions WHERE position_id = ?`, positionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%q: %w", positionID, ErrPositionNotFound)
	}
	return nil
}

func (w sqliteWriter) AppendHistory(ctx context.Context, rec broker.TradeRecord) error {
	res, err := w.tx.ExecContext(ctx, `
		INSERT INTO history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(position_id) DO NOTHING`,
		historyArgs(rec)...,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%q: %w", rec.PositionID, ErrDuplicateHistory)
	}
	return nil
}
