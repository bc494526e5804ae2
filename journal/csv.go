package journal

import (
	"encoding/csv"
	"io"
	"time"

	"github.com/rustyeddy/vtrader/broker"
)

var (
	historyHeader = []string{"position_id", "symbol", "order_type", "volume", "open_price", "close_price", "open_time", "close_time", "profit_loss", "reason"}
	equityHeader  = []string{"time", "balance", "equity", "margin_used", "free_margin", "margin_level"}
)

// WriteHistoryCSV exports closed trades in the order given.
func WriteHistoryCSV(w io.Writer, recs []broker.TradeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(historyHeader); err != nil {
		return err
	}
	for _, r := range recs {
		err := cw.Write([]string{
			r.PositionID,
			r.Symbol,
			string(r.Side),
			r.Volume.StringFixed(broker.VolumePlaces),
			r.OpenPrice.StringFixed(broker.PricePlaces),
			r.ClosePrice.StringFixed(broker.PricePlaces),
			r.OpenTime.UTC().Format(time.RFC3339),
			r.CloseTime.UTC().Format(time.RFC3339),
			r.ProfitLoss.StringFixed(2),
			r.Reason,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEquityCSV exports an equity curve. An unbounded margin level is
// written as an empty field.
func WriteEquityCSV(w io.Writer, snaps []broker.EquitySnapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(equityHeader); err != nil {
		return err
	}
	for _, e := range snaps {
		level := ""
		if !e.MarginLevel.Unbounded {
			level = e.MarginLevel.String()
		}
		err := cw.Write([]string{
			e.Time.UTC().Format(time.RFC3339),
			e.Balance.StringFixed(2),
			e.Equity.StringFixed(2),
			e.MarginUsed.StringFixed(2),
			e.FreeMargin.StringFixed(2),
			level,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
