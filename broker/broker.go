// Package broker defines the order vocabulary shared by the engine and the
// execution contract that paper and live executors implement.
package broker

import (
	"context"
	"fmt"
	"strings"
)

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the side that reduces a position opened with s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// PositionSide is the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Sign is +1 for long and -1 for short.
func (p PositionSide) Sign() float64 {
	if p == Short {
		return -1
	}
	return 1
}

// OpenedBy returns the position side an opening order of side s creates.
func OpenedBy(s Side) PositionSide {
	if s == Sell {
		return Short
	}
	return Long
}

// Closing returns the order side that closes a position of side p.
func (p PositionSide) Closing() Side {
	if p == Short {
		return Buy
	}
	return Sell
}

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending         Status = "pending"
	StatusFilled          Status = "filled"
	StatusPartiallyFilled Status = "partially_filled"
	StatusCancelled       Status = "cancelled"
	StatusError           Status = "error"
)

// Terminal reports whether no further fills can happen. A partially filled
// order is still working on the exchange until it is cancelled.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusError:
		return true
	}
	return false
}

// Mode selects the execution variant for a session.
type Mode string

const (
	Paper Mode = "paper"
	Live  Mode = "live"
)

// ParseMode accepts "paper" or "live" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Paper:
		return Paper, nil
	case Live:
		return Live, nil
	default:
		return "", fmt.Errorf("unknown trading mode %q (want paper|live)", s)
	}
}

// Order is a market order request. Price is the reference price a paper
// executor fills at; live executors ignore it except for logging.
type Order struct {
	ID       string
	Symbol   string
	Side     Side
	Quantity float64
	Price    float64
}

// Result is the outcome of an order, identical for every executor.
type Result struct {
	OrderID        string
	Status         Status
	FilledQuantity float64
	AvgFillPrice   float64
	Fee            float64
}

// Filled reports whether any quantity was executed and must be applied to
// the ledger.
func (r Result) Filled() bool {
	return r.FilledQuantity > 0 && (r.Status == StatusFilled || r.Status == StatusPartiallyFilled || r.Status == StatusCancelled)
}

// Executor places and cancels orders.
type Executor interface {
	Place(ctx context.Context, o Order) (Result, error)
	Cancel(ctx context.Context, orderID string) (Result, error)
	Mode() Mode
}

// Exchange is the minimal exchange client a live executor drives.
type Exchange interface {
	PlaceOrder(ctx context.Context, o Order) (exchangeOrderID string, err error)
	CancelOrder(ctx context.Context, symbol, exchangeOrderID string) error
	GetOrderStatus(ctx context.Context, symbol, exchangeOrderID string) (Result, error)
}
