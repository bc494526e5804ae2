package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/vtrader/broker"
	"github.com/rustyeddy/vtrader/config"
	"github.com/rustyeddy/vtrader/journal"
	"github.com/rustyeddy/vtrader/pricing"
	"github.com/rustyeddy/vtrader/trading"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through a single EURUSD trade",
	Long: `Run a worked example against an in-memory account:

  1. Open BUY 0.1 lot EURUSD at ask 1.0850 on a 1000 balance at 1:100
  2. Move the market to bid 1.0865 / ask 1.0870
  3. Show equity, margin level and status
  4. Close at the bid and show the settled balance`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDemo(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func runDemo(ctx context.Context, w io.Writer) error {
	cfg := config.Default()
	cfg.Store.Type = config.StoreMemory

	eng := newEngine(journal.NewMemory(), pricing.NewCache(), cfg, trading.Options{})
	const user = "demo"
	at := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	quote := func(bid, ask string) {
		eng.cache.Set(pricing.Tick{
			Symbol: "EURUSD",
			Time:   at,
			Bid:    decimal.RequireFromString(bid),
			Ask:    decimal.RequireFromString(ask),
			Source: pricing.SourceSynthetic,
		})
		at = at.Add(time.Minute)
	}

	quote("1.0848", "1.0850")
	p, err := eng.facade.PlaceOrder(ctx, user, broker.MarketOrderRequest{
		Symbol: "EURUSD",
		Side:   broker.Buy,
		Volume: decimal.RequireFromString("0.1"),
	})
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	fmt.Fprintf(w, "Opened %s %s %s @ %s, margin %s\n", p.Side, p.Volume, p.Symbol, p.OpenPrice, p.Margin.StringFixed(2))

	quote("1.0865", "1.0870")
	s, err := eng.facade.AccountSummary(ctx, user)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	printSummary(w, s)

	res, err := eng.facade.ClosePosition(ctx, user, p.ID)
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	fmt.Fprintf(w, "Closed @ %s, P/L %s\n", res.ClosePrice, res.ProfitLoss.StringFixed(2))

	s, err = eng.facade.AccountSummary(ctx, user)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	printSummary(w, s)
	return nil
}

func printSummary(w io.Writer, s broker.Summary) {
	fmt.Fprintf(w, "  Balance:      $%s\n", s.Balance.StringFixed(2))
	fmt.Fprintf(w, "  Equity:       $%s\n", s.Equity.StringFixed(2))
	fmt.Fprintf(w, "  Margin Used:  $%s\n", s.MarginUsed.StringFixed(2))
	fmt.Fprintf(w, "  Free Margin:  $%s\n", s.FreeMargin.StringFixed(2))
	fmt.Fprintf(w, "  Margin Level: %s (%s)\n", s.MarginLevel, s.MarginStatus)
}
