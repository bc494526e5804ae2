package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rustyeddy/vtrader/journal"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export account data as CSV",
	Long: `Export closed trades or the equity curve of an account from the
configured store.

Examples:
  vtrader export history alice -o alice-trades.csv
  vtrader export equity alice --since 2024-01-01T00:00:00Z`,
}

var exportHistoryCmd = &cobra.Command{
	Use:   "history <user>",
	Short: "Export closed trades, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportHistory,
}

var exportEquityCmd = &cobra.Command{
	Use:   "equity <user>",
	Short: "Export recorded equity snapshots",
	Args:  cobra.ExactArgs(1),
	RunE:  runExportEquity,
}

var (
	exportOutput string
	exportSince  string
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportHistoryCmd)
	exportCmd.AddCommand(exportEquityCmd)

	exportCmd.PersistentFlags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	exportEquityCmd.Flags().StringVar(&exportSince, "since", "", "only snapshots at or after this RFC3339 time")
}

func runExportHistory(cmd *cobra.Command, args []string) error {
	return withExport(cmd, func(store journal.Store, w io.Writer) error {
		recs, err := store.ReadHistory(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		return journal.WriteHistoryCSV(w, recs)
	})
}

func runExportEquity(cmd *cobra.Command, args []string) error {
	var since time.Time
	if exportSince != "" {
		t, err := time.Parse(time.RFC3339, exportSince)
		if err != nil {
			return fmt.Errorf("since: %w", err)
		}
		since = t
	}
	return withExport(cmd, func(store journal.Store, w io.Writer) error {
		snaps, err := store.ListEquity(cmd.Context(), args[0], since)
		if err != nil {
			return fmt.Errorf("read equity: %w", err)
		}
		return journal.WriteEquityCSV(w, snaps)
	})
}

func withExport(cmd *cobra.Command, fn func(store journal.Store, w io.Writer) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	var w io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOutput, err)
		}
		defer f.Close()
		w = f
	}
	return fn(store, w)
}
