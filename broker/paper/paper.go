// Package paper is a simulated executor: every order fills immediately and
// in full at its reference price.
package paper

import (
	"context"
	"sync"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/errs"
	"github.com/rustyeddy/autotrader/pkg/id"
)

const DefaultTakerFee = 0.0025

type Executor struct {
	mu      sync.Mutex
	fee     float64
	results map[string]broker.Result
}

var _ broker.Executor = (*Executor)(nil)

// New returns a paper executor charging takerFee on notional. A negative fee
// selects DefaultTakerFee; zero means no fees.
func New(takerFee float64) *Executor {
	if takerFee < 0 {
		takerFee = DefaultTakerFee
	}
	return &Executor{
		fee:     takerFee,
		results: make(map[string]broker.Result),
	}
}

func (e *Executor) Mode() broker.Mode { return broker.Paper }

func (e *Executor) Place(ctx context.Context, o broker.Order) (broker.Result, error) {
	const op = "paper.place"

	if o.Quantity <= 0 {
		return broker.Result{OrderID: o.ID, Status: broker.StatusError}, errs.Validationf(op, "quantity must be positive, got %v", o.Quantity)
	}
	if o.Price <= 0 {
		return broker.Result{OrderID: o.ID, Status: broker.StatusError}, errs.Validationf(op, "price must be positive, got %v", o.Price)
	}
	if !o.Side.Valid() {
		return broker.Result{OrderID: o.ID, Status: broker.StatusError}, errs.Validationf(op, "invalid side %q", o.Side)
	}
	if o.ID == "" {
		o.ID = id.Order()
	}

	res := broker.Result{
		OrderID:        o.ID,
		Status:         broker.StatusFilled,
		FilledQuantity: o.Quantity,
		AvgFillPrice:   o.Price,
		Fee:            o.Quantity * o.Price * e.fee,
	}

	e.mu.Lock()
	e.results[o.ID] = res
	e.mu.Unlock()

	return res, nil
}

// Cancel never cancels anything: paper orders are filled on placement, so a
// known order reports its fill.
func (e *Executor) Cancel(ctx context.Context, orderID string) (broker.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, ok := e.results[orderID]
	if !ok {
		return broker.Result{OrderID: orderID, Status: broker.StatusError}, errs.Validationf("paper.cancel", "unknown order %q", orderID)
	}
	return res, nil
}
