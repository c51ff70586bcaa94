// Package monitor watches open positions and closes them when they reach
// their stop-loss or take-profit.
package monitor

import (
	"context"
	"time"

	"github.com/rustyeddy/autotrader/internal/errs"
	"github.com/rustyeddy/autotrader/internal/logger"
	"github.com/rustyeddy/autotrader/internal/metrics"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/market"
)

const (
	DefaultInterval = 10 * time.Second

	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
)

// tolerance absorbs float error when the price sits exactly on a threshold.
const tolerance = 1e-12

// Evaluate returns the exit reason triggered by p at its current price, or
// "" to hold. Stop-loss wins when both would trigger.
func Evaluate(p ledger.Position) string {
	if p.CurrentPrice <= 0 || p.EntryPrice <= 0 {
		return ""
	}
	f := p.PnLFraction()
	if p.StopLossFraction > 0 && f <= -p.StopLossFraction+tolerance {
		return ReasonStopLoss
	}
	if p.TakeProfitFraction > 0 && f >= p.TakeProfitFraction-tolerance {
		return ReasonTakeProfit
	}
	return ""
}

// Book is the part of the ledger the monitor needs.
type Book interface {
	Positions() []ledger.Position
	Mark(ctx context.Context, symbol string, price float64) error
}

// Closer exits a whole position with an ordinary order.
type Closer interface {
	ClosePosition(ctx context.Context, symbol, reason string) error
}

// CloserFunc adapts a function to Closer.
type CloserFunc func(ctx context.Context, symbol, reason string) error

func (f CloserFunc) ClosePosition(ctx context.Context, symbol, reason string) error {
	return f(ctx, symbol, reason)
}

type Monitor struct {
	book     Book
	prices   market.PriceSource
	closer   Closer
	interval time.Duration
	rec      *metrics.Recorder
}

// New returns a monitor checking every interval; zero selects
// DefaultInterval. rec may be nil.
func New(book Book, prices market.PriceSource, closer Closer, interval time.Duration, rec *metrics.Recorder) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		book:     book,
		prices:   prices,
		closer:   closer,
		interval: interval,
		rec:      rec,
	}
}

func (m *Monitor) Interval() time.Duration { return m.interval }

// Run checks positions every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logger.Debug(ctx, "position monitor started", "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			logger.Debug(ctx, "position monitor stopped")
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Report summarises one pass.
type Report struct {
	Checked int
	// Closed maps symbol to exit reason.
	Closed map[string]string
	// Errors holds one monitoring error per failed symbol.
	Errors map[string]error
}

// Tick runs one pass over the open positions. A failure on one symbol is
// logged and counted; the others are still checked.
func (m *Monitor) Tick(ctx context.Context) Report {
	r := Report{Closed: map[string]string{}, Errors: map[string]error{}}

	for _, p := range m.book.Positions() {
		if ctx.Err() != nil {
			break
		}
		r.Checked++

		reason, err := m.check(ctx, p)
		if err != nil {
			err = errs.Wrap(err, errs.KindMonitoring, "monitor "+p.Symbol)
			r.Errors[p.Symbol] = err
			m.rec.RecordMonitorError(p.Symbol)
			logger.ErrorWithErr(ctx, "position check failed", err, "symbol", p.Symbol)
			continue
		}
		if reason != "" {
			r.Closed[p.Symbol] = reason
		}
	}
	return r
}

func (m *Monitor) check(ctx context.Context, p ledger.Position) (string, error) {
	price, err := m.prices.GetCurrentPrice(ctx, p.Symbol)
	if err != nil {
		return "", err
	}
	if err := m.book.Mark(ctx, p.Symbol, price); err != nil {
		return "", err
	}

	p.CurrentPrice = price
	reason := Evaluate(p)
	if reason == "" {
		return "", nil
	}

	logger.Risk(ctx, p.Symbol, reason,
		"side", p.Side,
		"entry", p.EntryPrice,
		"price", price,
		"pnl_fraction", p.PnLFraction(),
	)
	if err := m.closer.ClosePosition(ctx, p.Symbol, reason); err != nil {
		return "", err
	}
	return reason, nil
}
