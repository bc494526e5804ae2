package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/vtrader/broker"
	"github.com/rustyeddy/vtrader/config"
	"github.com/rustyeddy/vtrader/journal"
	"github.com/rustyeddy/vtrader/pricing"
	"github.com/rustyeddy/vtrader/trading"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		cfgFile, exportOutput, exportSince = "", "", ""
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDemoScenario(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runDemo(context.Background(), &out))

	got := out.String()
	assert.Contains(t, got, "Opened BUY 0.1 EURUSD @ 1.085, margin 108.50")
	assert.Contains(t, got, "Equity:       $1015.00")
	assert.Contains(t, got, "Margin Level: 935.48 (SAFE)")
	assert.Contains(t, got, "Closed @ 1.0865, P/L 15.00")

	last := got[strings.LastIndex(got, "Closed @"):]
	assert.Contains(t, last, "Balance:      $1015.00")
	assert.Contains(t, last, "Margin Used:  $0.00")
	assert.Contains(t, last, "Margin Level: inf (SAFE)")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "vtrader version "+version+"\n", out)
}

func TestConfigInitAndValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vtrader.yaml")

	out, err := execute(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	out, err = execute(t, "config", "validate", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Feed: synthetic (7 symbols)")
	assert.Contains(t, out, "Store: sqlite")
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  type: csv\n"), 0600))

	_, err := execute(t, "config", "validate", "-f", path)
	assert.ErrorContains(t, err, "validation failed")
}

func TestExportFromSQLite(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "vtrader.db")

	store, err := journal.NewSQLite(dbPath)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Store.DBPath = dbPath
	cache := pricing.NewCache()
	eng := newEngine(store, cache, cfg, trading.Options{})
	ctx := context.Background()

	cache.Set(pricing.Tick{Symbol: "EURUSD", Bid: decimal.RequireFromString("1.0848"), Ask: decimal.RequireFromString("1.0850"), Time: time.Now(), Source: pricing.SourceLive})
	p, err := eng.facade.PlaceOrder(ctx, "alice", broker.MarketOrderRequest{Symbol: "EURUSD", Side: broker.Buy, Volume: decimal.RequireFromString("0.1")})
	require.NoError(t, err)
	cache.Set(pricing.Tick{Symbol: "EURUSD", Bid: decimal.RequireFromString("1.0865"), Ask: decimal.RequireFromString("1.0870"), Time: time.Now(), Source: pricing.SourceLive})
	_, err = eng.facade.ClosePosition(ctx, "alice", p.ID)
	require.NoError(t, err)
	require.NoError(t, eng.facade.RecordEquity(ctx, "alice", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, store.Close())

	cfgPath := filepath.Join(dir, "vtrader.yaml")
	require.NoError(t, cfg.SaveToFile(cfgPath))

	out, err := execute(t, "export", "history", "alice", "-c", cfgPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], p.ID+",EURUSD,BUY,"))
	assert.True(t, strings.HasSuffix(lines[1], ",15.00,"+broker.ReasonManual))

	csvPath := filepath.Join(dir, "equity.csv")
	_, err = execute(t, "export", "equity", "alice", "-c", cfgPath, "--since", "2024-01-01T00:00:00Z", "-o", csvPath)
	require.NoError(t, err)
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "time,balance,equity,margin_used,free_margin,margin_level\n2024-03-01T12:00:00Z,1015.00,1015.00,0.00,1015.00,\n", string(data))

	_, err = execute(t, "export", "equity", "alice", "-c", cfgPath, "--since", "March")
	assert.ErrorContains(t, err, "since")
}
