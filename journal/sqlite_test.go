package journal

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	assert.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('accounts','positions','history','equity')`)
	assert.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	for _, table := range []string{"accounts", "positions", "history", "equity"} {
		assert.True(t, found[table], table)
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, path := newTestSQLite(t)

	_, err := j.CreateAccount(ctx, testAccount("u1"))
	require.NoError(t, err)
	p := testPosition("P1", "u1")
	require.NoError(t, j.Atomic(ctx, func(w Writer) error { return w.WritePosition(ctx, p) }))
	require.NoError(t, j.Close())

	j2, err := NewSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j2.Close() })

	acct, err := j2.ReadAccount(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acct.Balance.Equal(d("1000")))

	open, err := j2.ReadOpenPositions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "P1", open[0].ID)
}

func TestSQLiteStoresDecimalsExactly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j, path := newTestSQLite(t)

	a := testAccount("u1")
	a.Balance = d("1000.123456789")
	require.NoError(t, j.Atomic(ctx, func(w Writer) error { return w.WriteAccount(ctx, a) }))

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var balance string
	require.NoError(t, db.QueryRow(`SELECT balance FROM accounts WHERE user_id = 'u1'`).Scan(&balance))
	assert.Equal(t, "1000.123456789", balance)
}
