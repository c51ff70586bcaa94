package ledger

// Stats are derived from cash, open positions, trades and the equity curve.
type Stats struct {
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	PnLPercentage float64 `json:"pnl_percentage"`
	WinRate       float64 `json:"win_rate"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	TotalAssets   float64 `json:"total_assets"`
	TotalTrades   int     `json:"total_trades"`
	ClosingTrades int     `json:"closing_trades"`
	WinningTrades int     `json:"winning_trades"`
}

// computeStats treats the fee of an opening fill as realized: it has left
// cash for good. TotalPnL therefore equals TotalAssets minus initial capital.
func computeStats(initial, cash float64, positions map[string]*Position, trades []Trade, curve []EquityPoint) Stats {
	var s Stats

	s.TotalAssets = cash
	for _, p := range positions {
		s.TotalAssets += p.value(p.CurrentPrice)
		s.UnrealizedPnL += p.UnrealizedPnL()
	}

	for _, t := range trades {
		if t.Closing {
			s.RealizedPnL += t.RealizedPnL
			s.ClosingTrades++
			if t.RealizedPnL > 0 {
				s.WinningTrades++
			}
		} else {
			s.RealizedPnL -= t.Fee
		}
	}
	s.TotalTrades = len(trades)
	s.TotalPnL = s.RealizedPnL + s.UnrealizedPnL

	if initial > 0 {
		s.PnLPercentage = s.TotalPnL / initial * 100
	}
	if s.ClosingTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.ClosingTrades)
	}
	s.MaxDrawdown = MaxDrawdown(curve)
	return s
}

// MaxDrawdown is the largest peak-to-trough decline of the curve as a
// fraction of the peak.
func MaxDrawdown(curve []EquityPoint) float64 {
	var peak, worst float64
	for i, pt := range curve {
		if i == 0 || pt.Equity > peak {
			peak = pt.Equity
			continue
		}
		if peak > 0 {
			if dd := (peak - pt.Equity) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
