package risk

import (
	"fmt"

	"github.com/rustyeddy/autotrader/broker"
)

// Settings are the per-strategy risk limits, all expressed as fractions.
type Settings struct {
	MaxPositionFraction float64 `json:"max_position_fraction" yaml:"max_position_fraction"`
	MaxRiskPerTrade     float64 `json:"max_risk_per_trade" yaml:"max_risk_per_trade"`
	StopLossFraction    float64 `json:"stop_loss_fraction" yaml:"stop_loss_fraction"`
	TakeProfitFraction  float64 `json:"take_profit_fraction" yaml:"take_profit_fraction"`
}

func DefaultSettings() Settings {
	return Settings{
		MaxPositionFraction: 0.30,
		MaxRiskPerTrade:     0.02,
		StopLossFraction:    0.05,
		TakeProfitFraction:  0.10,
	}
}

func (s Settings) Validate() error {
	check := func(name string, v float64) error {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0,1], got %v", name, v)
		}
		return nil
	}
	if err := check("max_position_fraction", s.MaxPositionFraction); err != nil {
		return err
	}
	if err := check("max_risk_per_trade", s.MaxRiskPerTrade); err != nil {
		return err
	}
	if err := check("stop_loss_fraction", s.StopLossFraction); err != nil {
		return err
	}
	return check("take_profit_fraction", s.TakeProfitFraction)
}

// Sizing is the result of SizeOrder.
type Sizing struct {
	Budget     float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	// Capped is set when the budget was scaled down to respect MaxRiskPerTrade.
	Capped bool
}

// SizeOrder turns available cash and a signal confidence into an order
// quantity and exit prices.
//
// The budget is cash × MaxPositionFraction × confidence. When the loss at the
// stop would exceed cash × MaxRiskPerTrade the budget shrinks until it does
// not; the order is never rejected for that reason alone.
func SizeOrder(cash, confidence, entry float64, side broker.PositionSide, s Settings) Sizing {
	if cash <= 0 || entry <= 0 {
		return Sizing{}
	}
	confidence = clamp(confidence, 0, 1)

	out := Sizing{
		StopLoss:   StopLossPrice(entry, side, s.StopLossFraction),
		TakeProfit: TakeProfitPrice(entry, side, s.TakeProfitFraction),
	}

	budget := cash * s.MaxPositionFraction * confidence
	maxLoss := cash * s.MaxRiskPerTrade
	if s.StopLossFraction > 0 && budget*s.StopLossFraction > maxLoss {
		budget = maxLoss / s.StopLossFraction
		out.Capped = true
	}
	if budget <= 0 {
		return out
	}

	out.Budget = budget
	out.Quantity = budget / entry
	return out
}

// StopLossPrice is below entry for longs and above it for shorts.
func StopLossPrice(entry float64, side broker.PositionSide, frac float64) float64 {
	return entry * (1 - side.Sign()*frac)
}

// TakeProfitPrice is above entry for longs and below it for shorts.
func TakeProfitPrice(entry float64, side broker.PositionSide, frac float64) float64 {
	return entry * (1 + side.Sign()*frac)
}

func clamp(v, lo, hi float64) float64 {
	if v != v || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
