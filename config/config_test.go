package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NotNil(t, cfg)
	assert.Equal(t, 1000.0, cfg.Account.StartingBalance)
	assert.Equal(t, 100, cfg.Account.Leverage)
	assert.Equal(t, ProviderSynthetic, cfg.Feed.Provider)
	assert.Len(t, cfg.Feed.Symbols, 7)
	assert.True(t, cfg.Sweep.EnforceStops)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"valid config", func(c *Config) {}, ""},
		{"zero balance", func(c *Config) { c.Account.StartingBalance = 0 }, "account.starting_balance must be positive"},
		{"zero leverage", func(c *Config) { c.Account.Leverage = 0 }, "account.leverage must be at least 1"},
		{"unknown provider", func(c *Config) { c.Feed.Provider = "polygon" }, "feed.provider must be"},
		{"finnhub without token", func(c *Config) { c.Feed.Provider = ProviderFinnhub }, "feed.token"},
		{"finnhub with token", func(c *Config) { c.Feed.Provider = ProviderFinnhub; c.Feed.Token = "t" }, ""},
		{"oanda without token", func(c *Config) { c.Feed.Provider = ProviderOanda }, "feed.token"},
		{"oanda without account", func(c *Config) { c.Feed.Provider = ProviderOanda; c.Feed.Token = "t" }, "feed.account_id"},
		{"oanda", func(c *Config) { c.Feed.Provider = ProviderOanda; c.Feed.Token = "t"; c.Feed.AccountID = "101-001" }, ""},
		{"bad symbol", func(c *Config) { c.Feed.Symbols = []string{"EUR-USD!"} }, "feed.symbols"},
		{"zero tick interval", func(c *Config) { c.Feed.TickInterval = 0 }, "feed intervals must be positive"},
		{"negative reconnects", func(c *Config) { c.Feed.MaxReconnects = -1 }, "feed.max_reconnects"},
		{"unknown store", func(c *Config) { c.Store.Type = "csv" }, "store.type must be"},
		{"sqlite without path", func(c *Config) { c.Store.DBPath = "" }, "store db_path required"},
		{"postgres without dsn", func(c *Config) { c.Store.Type = StorePostgres }, "store dsn"},
		{"memory store", func(c *Config) { c.Store.Type = StoreMemory; c.Store.DBPath = "" }, ""},
		{"zero store timeout", func(c *Config) { c.Store.Timeout = 0 }, "store.timeout must be positive"},
		{"zero sweep", func(c *Config) { c.Sweep.Interval = 0 }, "sweep.interval must be positive"},
		{"no addr", func(c *Config) { c.HTTP.Addr = "" }, "http.addr is required"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadFromFileYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vtrader.yaml")
	data := `
account:
  starting_balance: 5000
store:
  type: memory
sweep:
  interval: 10s
  enforce_stops: false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, cfg.Account.StartingBalance)
	assert.Equal(t, 100, cfg.Account.Leverage)
	assert.Equal(t, StoreMemory, cfg.Store.Type)
	assert.Equal(t, 10*time.Second, cfg.Sweep.Interval.Std())
	assert.False(t, cfg.Sweep.EnforceStops)
	assert.True(t, cfg.Sweep.RecordEquity)
	assert.Equal(t, 5*time.Second, cfg.Store.Timeout.Std())
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vtrader.json")
	data := `{"feed": {"provider": "synthetic", "tick_interval": "250ms"}, "http": {"addr": ":9090"}}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Feed.TickInterval.Std())
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("sweep:\n  interval: soon\n"), 0600))
	_, err = LoadFromFile(bad)
	assert.ErrorContains(t, err, "parse config")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("store:\n  type: csv\n"), 0600))
	_, err = LoadFromFile(invalid)
	assert.ErrorContains(t, err, "invalid config")
}

func TestSaveAndReload(t *testing.T) {
	for _, name := range []string{"cfg.yaml", "cfg.json"} {
		name := name
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := Default()
			cfg.Store.Type = StoreMemory
			cfg.Feed.StaleAfter = Duration(7 * time.Second)
			require.NoError(t, cfg.SaveToFile(path))

			got, err := LoadFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, got)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvFinnhubToken, "tok")
	t.Setenv(EnvDBDSN, "postgres://localhost/vtrader")
	t.Setenv(EnvHTTPAddr, "127.0.0.1:9000")

	path := filepath.Join(t.TempDir(), "vtrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte("feed:\n  provider: finnhub\nstore:\n  type: postgres\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Feed.Token)
	assert.Equal(t, "postgres://localhost/vtrader", cfg.Store.DSN)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
}

func TestOandaTokenFromEnv(t *testing.T) {
	t.Setenv(EnvFinnhubToken, "finnhub-token")
	t.Setenv(EnvOandaToken, "oanda-token")

	path := filepath.Join(t.TempDir(), "vtrader.yaml")
	require.NoError(t, os.WriteFile(path, []byte("feed:\n  provider: oanda\n  account_id: 101-001\nstore:\n  type: memory\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "oanda-token", cfg.Feed.Token)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.Store.Type)
}

func TestLoadEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte(EnvFinnhubToken+"=from-file\n"), 0600))

	t.Setenv(EnvFinnhubToken, "")
	require.NoError(t, os.Unsetenv(EnvFinnhubToken))
	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "from-file", os.Getenv(EnvFinnhubToken))

	assert.Error(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env")))
}
