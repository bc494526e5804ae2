package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rustyeddy/vtrader/broker"
)

type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn, verifies the connection and applies
// PostgresSchema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, PostgresSchema); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func (j *Postgres) ReadAccount(ctx context.Context, userID string) (broker.Account, error) {
	row := j.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return broker.Account{}, fmt.Errorf("%q: %w", userID, ErrAccountNotFound)
		}
		return broker.Account{}, err
	}
	return a, nil
}

func (j *Postgres) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := j.pool.Query(ctx, `SELECT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (j *Postgres) CreateAccount(ctx context.Context, a broker.Account) (broker.Account, error) {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING`,
		accountArgs(a)...,
	)
	if err != nil {
		return broker.Account{}, err
	}
	return j.ReadAccount(ctx, a.UserID)
}

func (j *Postgres) ReadOpenPositions(ctx context.Context, userID string) ([]broker.Position, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE user_id = $1
		ORDER BY open_time ASC, position_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (j *Postgres) ReadHistory(ctx context.Context, userID string) ([]broker.TradeRecord, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT `+historyColumns+`
		FROM history
		WHERE user_id = $1
		ORDER BY close_time DESC, position_id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.TradeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (j *Postgres) RecordEquity(ctx context.Context, e broker.EquitySnapshot) error {
	_, err := j.pool.Exec(ctx, `
		INSERT INTO equity (`+equityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		equityArgs(e)...,
	)
	return err
}

func (j *Postgres) ListEquity(ctx context.Context, userID string, since time.Time) ([]broker.EquitySnapshot, error) {
	rows, err := j.pool.Query(ctx, `
		SELECT `+equityColumns+`
		FROM equity
		WHERE user_id = $1 AND time >= $2
		ORDER BY time ASC`, userID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.EquitySnapshot
	for rows.Next() {
		e, err := scanEquity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *Postgres) Atomic(ctx context.Context, fn func(w Writer) error) error {
	tx, err := j.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(pgWriter{tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (j *Postgres) Close() error {
	j.pool.Close()
	return nil
}

type pgWriter struct {
	tx pgx.Tx
}

func (w pgWriter) WriteAccount(ctx context.Context, a broker.Account) error {
	_, err := w.tx.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			balance = excluded.balance,
			margin_used = excluded.margin_used,
			leverage = excluded.leverage,
			updated_at = excluded.updated_at`,
		accountArgs(a)...,
	)
	return err
}

func (w pgWriter) WritePosition(ctx context.Context, p broker.Position) error {
	_, err := w.tx.Exec(ctx, `
		INSERT INTO positions (`+positionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (position_id) DO UPDATE SET
			current_price = excluded.current_price,
			profit_loss = excluded.profit_loss,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			state = excluded.state`,
		positionArgs(p)...,
	)
	return err
}

func (w pgWriter) DeletePosition(ctx context.Context, positionID string) error {
	tag, err := w.tx.Exec(ctx, `DELETE FROM positions WHERE position_id = $1`, positionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%q: %w", positionID, ErrPositionNotFound)
	}
	return nil
}

func (w pgWriter) AppendHistory(ctx context.Context, rec broker.TradeRecord) error {
	tag, err := w.tx.Exec(ctx, `
		INSERT INTO history (`+historyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (position_id) DO NOTHING`,
		historyArgs(rec)...,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%q: %w", rec.PositionID, ErrDuplicateHistory)
	}
	return nil
}
