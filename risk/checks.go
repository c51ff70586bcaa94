package risk

import (
	"fmt"
	"math"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	Notional    float64
	PlannedRisk float64
	PlannedPct  float64
	PlannedRR   float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Codes returns the violation codes in the order they were found.
func (d Decision) Codes() []string {
	out := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		out = append(out, v.Code)
	}
	return out
}

// Evaluate checks a sized entry against the policy.
func Evaluate(p Policy, in Intent, acct Account) Decision {
	d := Decision{Allowed: true}

	if in.Quantity <= 0 || in.Entry <= 0 {
		d.add("NO_QUANTITY", "quantity and entry must be positive")
		return d
	}

	d.Notional = in.Quantity * in.Entry
	d.PlannedRisk = PlannedRisk(in.Quantity, in.Entry, in.Stop)
	d.PlannedPct = RiskPct(d.PlannedRisk, acct.Equity)
	d.PlannedRR = RR(in.Entry, in.Stop, in.TakeProfit)

	if p.MinOrderValue > 0 && d.Notional < p.MinOrderValue {
		d.add("BELOW_MIN_ORDER",
			fmt.Sprintf("order value %.2f below minimum %.2f", d.Notional, p.MinOrderValue))
	}
	if !in.Adding && p.MaxOpenPositions > 0 && acct.OpenPositions >= p.MaxOpenPositions {
		d.add("TOO_MANY_POSITIONS",
			fmt.Sprintf("open positions %d >= max %d", acct.OpenPositions, p.MaxOpenPositions))
	}
	if cost := d.Notional * (1 + p.TakerFee); cost > acct.Cash {
		d.add("INSUFFICIENT_CASH",
			fmt.Sprintf("order cost %.2f exceeds cash %.2f", cost, acct.Cash))
	}
	// A small tolerance absorbs float noise from sizing exactly at the cap.
	if p.MaxRiskPerTrade > 0 && d.PlannedPct > p.MaxRiskPerTrade*(1+1e-9) {
		d.add("RISK_TOO_HIGH",
			fmt.Sprintf("planned risk %.2f%% exceeds max %.2f%%", 100*d.PlannedPct, 100*p.MaxRiskPerTrade))
	}
	if p.MinRR > 0 && d.PlannedRR < p.MinRR {
		d.add("RR_TOO_LOW",
			fmt.Sprintf("RR %.2f below minimum %.2f", d.PlannedRR, p.MinRR))
	}

	return d
}

// PlannedRisk is the quote-currency loss if the stop is hit.
func PlannedRisk(qty, entry, stop float64) float64 {
	return math.Abs(qty * (entry - stop))
}

// RR is the reward to risk ratio of an entry with its exits. Zero when the
// stop sits at the entry.
func RR(entry, stop, takeProfit float64) float64 {
	loss := math.Abs(entry - stop)
	if loss == 0 {
		return 0
	}
	return math.Abs(takeProfit-entry) / loss
}

// RiskPct is plannedRisk as a fraction of equity; infinite without equity.
func RiskPct(plannedRisk, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / equity
}
