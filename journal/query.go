package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/vtrader/broker"
)

// ReadAccount returns a single account by user ID.
func (j *SQLite) ReadAccount(ctx context.Context, userID string) (broker.Account, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = ?`, userID)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return broker.Account{}, fmt.Errorf("%q: %w", userID, ErrAccountNotFound)
		}
		return broker.Account{}, err
	}
	return a, nil
}

func (j *SQLite) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT user_id FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadOpenPositions returns the account's open positions, oldest first.
func (j *SQLite) ReadOpenPositions(ctx context.Context, userID string) ([]broker.Position, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+positionColumns+`
		FROM positions
		WHERE user_id = ?
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) ReadHistory(ctx context.Context, userID string) ([]broker.TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+historyColumns+`
		FROM history
		WHERE user_id = ?
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) ListEquity(ctx context.Context, userID string, since time.Time) ([]broker.EquitySnapshot, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT `+equityColumns+`
		FROM equity
		WHERE user_id = ? AND time >= ?
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
