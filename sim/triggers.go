package sim

import (
	"github.com/rustyeddy/vtrader/broker"
	"github.com/shopspring/decimal"
)

// Trigger is a position whose mark crossed its stop loss or take profit.
type Trigger struct {
	PositionID string
	Reason     string
}

func hitStopLoss(p *broker.Position, mark decimal.Decimal) bool {
	if p.StopLoss == nil {
		return false
	}
	if p.Side == broker.Buy {
		return mark.LessThanOrEqual(*p.StopLoss)
	}
	return mark.GreaterThanOrEqual(*p.StopLoss)
}

func hitTakeProfit(p *broker.Position, mark decimal.Decimal) bool {
	if p.TakeProfit == nil {
		return false
	}
	if p.Side == broker.Buy {
		return mark.GreaterThanOrEqual(*p.TakeProfit)
	}
	return mark.LessThanOrEqual(*p.TakeProfit)
}

// triggered reports which threshold, if any, the mark has crossed. A stop
// loss wins when both have.
func triggered(p *broker.Position, mark decimal.Decimal) (string, bool) {
	switch {
	case hitStopLoss(p, mark):
		return broker.ReasonStopLoss, true
	case hitTakeProfit(p, mark):
		return broker.ReasonTakeProfit, true
	}
	return "", false
}
