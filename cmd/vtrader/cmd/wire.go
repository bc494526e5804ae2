package cmd

import (
	"context"
	"fmt"

	"github.com/rustyeddy/vtrader/config"
	"github.com/rustyeddy/vtrader/journal"
	"github.com/rustyeddy/vtrader/pricing"
	"github.com/rustyeddy/vtrader/sim"
	"github.com/rustyeddy/vtrader/trading"
	"github.com/shopspring/decimal"
)

func openStore(ctx context.Context, cfg config.StoreConfig) (journal.Store, error) {
	switch cfg.Type {
	case config.StoreMemory:
		return journal.NewMemory(), nil
	case config.StoreSQLite:
		j, err := journal.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
		}
		return j, nil
	case config.StorePostgres:
		ctx, cancel := context.WithTimeout(ctx, cfg.Timeout.Std())
		defer cancel()
		j, err := journal.NewPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return j, nil
	}
	return nil, fmt.Errorf("unknown store type %q", cfg.Type)
}

// engine is the account stack shared by serve, demo and export.
type engine struct {
	cache  *pricing.Cache
	quoter *pricing.Quoter
	facade *trading.Facade
}

func newEngine(store journal.Store, cache *pricing.Cache, cfg *config.Config, opts trading.Options) *engine {
	quoter := pricing.NewQuoter(cache, true)
	ledger := sim.NewLedger(store, sim.LedgerOptions{
		StartingBalance: decimal.NewFromFloat(cfg.Account.StartingBalance),
		Leverage:        cfg.Account.Leverage,
		StoreTimeout:    cfg.Store.Timeout.Std(),
	})
	opts.EnforceStops = cfg.Sweep.EnforceStops
	return &engine{
		cache:  cache,
		quoter: quoter,
		facade: trading.NewFacade(sim.NewManager(ledger, quoter), opts),
	}
}
