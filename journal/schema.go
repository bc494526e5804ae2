package journal

// Schema is the SQLite layout. Decimals are stored as TEXT so they round
// trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id TEXT PRIMARY KEY,
	initial_balance TEXT NOT NULL,
	balance TEXT NOT NULL,
	margin_used TEXT NOT NULL,
	leverage INTEGER NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	volume TEXT NOT NULL,
	open_price TEXT NOT NULL,
	current_price TEXT NOT NULL,
	profit_loss TEXT NOT NULL,
	margin TEXT NOT NULL,
	stop_loss TEXT,
	take_profit TEXT,
	open_time DATETIME NOT NULL,
	state TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_user ON positions(user_id);

CREATE TABLE IF NOT EXISTS history (
	position_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	volume TEXT NOT NULL,
	open_price TEXT NOT NULL,
	close_price TEXT NOT NULL,
	profit_loss TEXT NOT NULL,
	margin TEXT NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_user_close ON history(user_id, close_time);

CREATE TABLE IF NOT EXISTS equity (
	user_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	balance TEXT NOT NULL,
	equity TEXT NOT NULL,
	margin_used TEXT NOT NULL,
	free_margin TEXT NOT NULL,
	margin_level TEXT
);

CREATE INDEX IF NOT EXISTS idx_equity_user_time ON equity(user_id, time);
`

// PostgresSchema is the same layout with native numeric columns.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id TEXT PRIMARY KEY,
	initial_balance NUMERIC NOT NULL,
	balance NUMERIC NOT NULL,
	margin_used NUMERIC NOT NULL,
	leverage INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	volume NUMERIC NOT NULL,
	open_price NUMERIC NOT NULL,
	current_price NUMERIC NOT NULL,
	profit_loss NUMERIC NOT NULL,
	margin NUMERIC NOT NULL,
	stop_loss NUMERIC,
	take_profit NUMERIC,
	open_time TIMESTAMPTZ NOT NULL,
	state TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_positions_user ON positions(user_id);

CREATE TABLE IF NOT EXISTS history (
	position_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	volume NUMERIC NOT NULL,
	open_price NUMERIC NOT NULL,
	close_price NUMERIC NOT NULL,
	profit_loss NUMERIC NOT NULL,
	margin NUMERIC NOT NULL,
	open_time TIMESTAMPTZ NOT NULL,
	close_time TIMESTAMPTZ NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_user_close ON history(user_id, close_time);

CREATE TABLE IF NOT EXISTS equity (
	user_id TEXT NOT NULL,
	time TIMESTAMPTZ NOT NULL,
	balance NUMERIC NOT NULL,
	equity NUMERIC NOT NULL,
	margin_used NUMERIC NOT NULL,
	free_margin NUMERIC NOT NULL,
	margin_level NUMERIC
);

CREATE INDEX IF NOT EXISTS idx_equity_user_time ON equity(user_id, time);
`
