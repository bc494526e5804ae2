package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rustyeddy/vtrader/config"
	"github.com/rustyeddy/vtrader/feed"
	"github.com/rustyeddy/vtrader/feed/finnhub"
	"github.com/rustyeddy/vtrader/feed/oanda"
	"github.com/rustyeddy/vtrader/httpapi"
	"github.com/rustyeddy/vtrader/metrics"
	"github.com/rustyeddy/vtrader/pricing"
	"github.com/rustyeddy/vtrader/trading"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trading API",
	Long: `Serve the account API, the price feed and the periodic account sweep.

Example:
  vtrader serve -c vtrader.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// newTransport starts the configured live price source. Synthetic
// pricing needs none.
func newTransport(ctx context.Context, cfg config.FeedConfig) (feed.Transport, error) {
	switch cfg.Provider {
	case config.ProviderFinnhub:
		c := finnhub.New(finnhub.Config{
			URL:            cfg.URL,
			Token:          cfg.Token,
			MaxReconnects:  cfg.MaxReconnects,
			ReconnectDelay: cfg.ReconnectDelay.Std(),
		})
		c.Start(ctx)
		return c, nil
	case config.ProviderOanda:
		c := oanda.New(oanda.Config{
			URL:            cfg.URL,
			Token:          cfg.Token,
			AccountID:      cfg.AccountID,
			MaxReconnects:  cfg.MaxReconnects,
			ReconnectDelay: cfg.ReconnectDelay.Std(),
		})
		c.Start(ctx)
		return c, nil
	case config.ProviderSynthetic:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown feed provider %q", cfg.Provider)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := metrics.New()

	transport, err := newTransport(ctx, cfg.Feed)
	if err != nil {
		return err
	}
	if transport != nil {
		defer transport.Close()
	}

	cache := pricing.NewCache()
	adapter := feed.NewAdapter(transport, cache, feed.Options{
		TickInterval:     cfg.Feed.TickInterval.Std(),
		StaleAfter:       cfg.Feed.StaleAfter.Std(),
		SubscribeTimeout: cfg.Feed.SubscribeTimeout.Std(),
		Stats:            reg,
	})
	eng := newEngine(store, cache, cfg, trading.Options{Stats: reg, Feed: adapter})

	for _, sym := range cfg.Feed.Symbols {
		if err := adapter.Subscribe(ctx, sym); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}

	handler, detach := httpapi.NewRouter(httpapi.Deps{
		Facade:  eng.facade,
		Quoter:  eng.quoter,
		Feed:    adapter,
		Metrics: reg,
		Origin:  cfg.HTTP.Origin,
	})
	defer detach()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := trading.NewSweeper(eng.facade, trading.SweeperOptions{
		Interval:     cfg.Sweep.Interval.Std(),
		RecordEquity: cfg.Sweep.RecordEquity,
	})

	var wg sync.WaitGroup
	errc := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = adapter.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		_ = sweeper.Run(runCtx)
	}()
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Str("feed", cfg.Feed.Provider).Str("store", cfg.Store.Type).Msg("vtrader serving")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err = <-errc:
		log.Error().Err(err).Msg("http server failed")
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutCancel()
	if serr := srv.Shutdown(shutCtx); serr != nil {
		log.Warn().Err(serr).Msg("http shutdown")
	}
	cancel()
	wg.Wait()
	return err
}
