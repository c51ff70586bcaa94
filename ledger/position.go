package ledger

import (
	"time"

	"github.com/rustyeddy/autotrader/broker"
)

// Position is an open holding in one symbol. Quantity is always positive;
// direction is carried by Side.
type Position struct {
	Symbol             string              `json:"symbol"`
	Side               broker.PositionSide `json:"side"`
	Quantity           float64             `json:"quantity"`
	EntryPrice         float64             `json:"entry_price"`
	StopLoss           float64             `json:"stop_loss"`
	TakeProfit         float64             `json:"take_profit"`
	StopLossFraction   float64             `json:"stop_loss_fraction"`
	TakeProfitFraction float64             `json:"take_profit_fraction"`
	CurrentPrice       float64             `json:"current_price"`
	OpenedAt           time.Time           `json:"opened_at"`
}

func (p Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.EntryPrice) * p.Quantity * p.Side.Sign()
}

// PnLFraction is the move from entry in the position's favour.
func (p Position) PnLFraction() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * p.Side.Sign()
}

// value is the position's contribution to total assets at price. Shorts are
// a liability.
func (p Position) value(price float64) float64 {
	return p.Side.Sign() * p.Quantity * price
}

// Trade is the immutable record of one applied fill.
type Trade struct {
	ID          string      `json:"id"`
	OrderID     string      `json:"order_id"`
	Symbol      string      `json:"symbol"`
	Side        broker.Side `json:"side"`
	Quantity    float64     `json:"quantity"`
	Price       float64     `json:"price"`
	Fee         float64     `json:"fee"`
	RealizedPnL float64     `json:"realized_pnl"`
	Reason      string      `json:"reason"`
	// Closing is set when the fill reduced or closed a position.
	Closing bool      `json:"closing"`
	Time    time.Time `json:"time"`
}

type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}
