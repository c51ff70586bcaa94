// Package ledger owns a session's cash, positions and trade history.
//
// All mutation goes through ApplyFill and Mark under one mutex. Readers get
// deep copies. Journal writes happen after the lock is released and never
// undo applied state.
package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/errs"
	"github.com/rustyeddy/autotrader/internal/logger"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/pkg/id"
	"github.com/rustyeddy/autotrader/risk"
)

// Fill is a terminal execution to apply. Exit fractions are used when the
// fill opens or adds to a position; zero selects the defaults.
type Fill struct {
	OrderID            string
	Symbol             string
	Side               broker.Side
	Quantity           float64
	Price              float64
	Fee                float64
	Reason             string
	StopLossFraction   float64
	TakeProfitFraction float64
	Time               time.Time
}

// dustQuantity is the residual treated as fully closed.
const dustQuantity = 1e-12

type Ledger struct {
	mu        sync.Mutex
	initial   float64
	cash      float64
	positions map[string]*Position
	trades    []Trade
	curve     []EquityPoint

	sessionID string
	journal   journal.Journal
	now       func() time.Time
}

type Option func(*Ledger)

// WithJournal sends trade, position and equity events to j, tagged with
// sessionID.
func WithJournal(j journal.Journal, sessionID string) Option {
	return func(l *Ledger) {
		l.journal = j
		l.sessionID = sessionID
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(initialCapital float64, opts ...Option) *Ledger {
	l := &Ledger{
		initial:   initialCapital,
		cash:      initialCapital,
		positions: make(map[string]*Position),
		journal:   journal.Nop{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.curve = append(l.curve, EquityPoint{Time: l.now(), Equity: initialCapital})
	return l
}

// events collects journal writes made under the lock.
type events struct {
	trade    *journal.TradeRecord
	position *journal.PositionRecord
	equity   journal.EquitySnapshot
}

// ApplyFill applies one terminal fill exactly as given. Callers must not
// apply the same execution twice.
func (l *Ledger) ApplyFill(ctx context.Context, f Fill) (Trade, error) {
	const op = "ledger.apply_fill"

	if f.Symbol == "" {
		return Trade{}, errs.Validationf(op, "symbol is required")
	}
	if !f.Side.Valid() {
		return Trade{}, errs.Validationf(op, "invalid side %q", f.Side)
	}
	if !(f.Quantity > 0) || !(f.Price > 0) || f.Fee < 0 || math.IsInf(f.Quantity, 0) || math.IsInf(f.Price, 0) {
		return Trade{}, errs.Validationf(op, "invalid fill qty=%v price=%v fee=%v", f.Quantity, f.Price, f.Fee)
	}
	if f.Time.IsZero() {
		f.Time = l.now()
	}

	l.mu.Lock()

	pos, hasPos := l.positions[f.Symbol]
	var prev *Position
	if hasPos {
		cp := *pos
		prev = &cp
	}
	cashBefore := l.cash
	valueBefore := l.totalValueLocked(f.Symbol, f.Price)

	if f.Side == broker.Buy && f.Quantity*f.Price+f.Fee > l.cash+1e-9 {
		l.mu.Unlock()
		return Trade{}, errs.Validationf(op, "insufficient cash: need %.2f, have %.2f", f.Quantity*f.Price+f.Fee, cashBefore)
	}

	tr := Trade{
		ID:       id.Trade(),
		OrderID:  f.OrderID,
		Symbol:   f.Symbol,
		Side:     f.Side,
		Quantity: f.Quantity,
		Price:    f.Price,
		Fee:      f.Fee,
		Reason:   f.Reason,
		Time:     f.Time,
	}

	var event string
	switch {
	case !hasPos:
		side := broker.OpenedBy(f.Side)
		slf, tpf := exitFractions(f, nil)
		pos = &Position{
			Symbol:             f.Symbol,
			Side:               side,
			Quantity:           f.Quantity,
			EntryPrice:         f.Price,
			StopLossFraction:   slf,
			TakeProfitFraction: tpf,
			StopLoss:           risk.StopLossPrice(f.Price, side, slf),
			TakeProfit:         risk.TakeProfitPrice(f.Price, side, tpf),
			CurrentPrice:       f.Price,
			OpenedAt:           f.Time,
		}
		l.positions[f.Symbol] = pos
		event = journal.PositionOpen

	case broker.OpenedBy(f.Side) == pos.Side:
		qty := pos.Quantity + f.Quantity
		pos.EntryPrice = (pos.EntryPrice*pos.Quantity + f.Price*f.Quantity) / qty
		pos.Quantity = qty
		pos.StopLossFraction, pos.TakeProfitFraction = exitFractions(f, pos)
		pos.StopLoss = risk.StopLossPrice(pos.EntryPrice, pos.Side, pos.StopLossFraction)
		pos.TakeProfit = risk.TakeProfitPrice(pos.EntryPrice, pos.Side, pos.TakeProfitFraction)
		pos.CurrentPrice = f.Price
		event = journal.PositionUpdate

	default:
		if f.Quantity > pos.Quantity*(1+1e-9) {
			l.mu.Unlock()
			return Trade{}, errs.Validationf(op, "fill %v exceeds open %s quantity %v for %s", f.Quantity, pos.Side, pos.Quantity, f.Symbol)
		}
		tr.Closing = true
		tr.RealizedPnL = (f.Price-pos.EntryPrice)*f.Quantity*pos.Side.Sign() - f.Fee
		pos.Quantity -= f.Quantity
		pos.CurrentPrice = f.Price
		event = journal.PositionUpdate
		if pos.Quantity <= dustQuantity {
			pos.Quantity = 0
			delete(l.positions, f.Symbol)
			event = journal.PositionClose
		}
	}

	if f.Side == broker.Buy {
		l.cash -= f.Quantity*f.Price + f.Fee
	} else {
		l.cash += f.Quantity*f.Price - f.Fee
	}

	if err := l.checkLocked(op, f, cashBefore, valueBefore); err != nil {
		l.cash = cashBefore
		if prev != nil {
			l.positions[f.Symbol] = prev
		} else {
			delete(l.positions, f.Symbol)
		}
		l.mu.Unlock()
		logger.ErrorWithErr(ctx, "fill rolled back", err, "symbol", f.Symbol, "order_id", f.OrderID)
		return Trade{}, err
	}

	l.trades = append(l.trades, tr)
	ev := events{
		trade:    l.tradeRecord(tr),
		position: l.positionRecord(*pos, event, f.Time),
		equity:   l.appendEquityLocked(f.Time),
	}
	l.mu.Unlock()

	l.emit(ctx, ev)
	return tr, nil
}

func exitFractions(f Fill, existing *Position) (sl, tp float64) {
	d := risk.DefaultSettings()
	sl, tp = d.StopLossFraction, d.TakeProfitFraction
	if existing != nil {
		sl, tp = existing.StopLossFraction, existing.TakeProfitFraction
	}
	if f.StopLossFraction > 0 {
		sl = f.StopLossFraction
	}
	if f.TakeProfitFraction > 0 {
		tp = f.TakeProfitFraction
	}
	return sl, tp
}

// totalValueLocked values every position at its mark, except symbol which
// is valued at price.
func (l *Ledger) totalValueLocked(symbol string, price float64) float64 {
	var v float64
	for s, p := range l.positions {
		if s == symbol {
			v += p.value(price)
			continue
		}
		v += p.value(p.CurrentPrice)
	}
	return v
}

// checkLocked enforces non-negative quantities and cash conservation: at the
// fill price, a fill only moves the fee out of total assets.
func (l *Ledger) checkLocked(op string, f Fill, cashBefore, valueBefore float64) error {
	for s, p := range l.positions {
		if p.Quantity < 0 {
			return errs.E(errs.KindFatal, op, fmt.Sprintf("negative quantity %v for %s", p.Quantity, s))
		}
	}
	before := cashBefore + valueBefore - f.Fee
	after := l.cash + l.totalValueLocked(f.Symbol, f.Price)
	tol := 1e-6 * math.Max(1, math.Abs(before))
	if math.Abs(after-before) > tol {
		return errs.E(errs.KindFatal, op, fmt.Sprintf("cash conservation violated: %.8f != %.8f", after, before))
	}
	return nil
}

// Mark sets the current price of an open position.
func (l *Ledger) Mark(ctx context.Context, symbol string, price float64) error {
	if !(price > 0) {
		return errs.Validationf("ledger.mark", "price must be positive, got %v", price)
	}

	l.mu.Lock()
	pos, ok := l.positions[symbol]
	if !ok {
		l.mu.Unlock()
		return errs.Validationf("ledger.mark", "no open position for %s", symbol)
	}
	pos.CurrentPrice = price
	snap := l.appendEquityLocked(l.now())
	l.mu.Unlock()

	l.emit(ctx, events{equity: snap})
	return nil
}

func (l *Ledger) appendEquityLocked(at time.Time) journal.EquitySnapshot {
	equity := l.cash
	var unrealized float64
	for _, p := range l.positions {
		equity += p.value(p.CurrentPrice)
		unrealized += p.UnrealizedPnL()
	}
	l.curve = append(l.curve, EquityPoint{Time: at, Equity: equity})
	return journal.EquitySnapshot{
		SessionID:     l.sessionID,
		Time:          at,
		Cash:          l.cash,
		Equity:        equity,
		UnrealizedPnL: unrealized,
		OpenPositions: len(l.positions),
	}
}

func (l *Ledger) tradeRecord(t Trade) *journal.TradeRecord {
	return &journal.TradeRecord{
		TradeID:     t.ID,
		OrderID:     t.OrderID,
		SessionID:   l.sessionID,
		Symbol:      t.Symbol,
		Side:        string(t.Side),
		Quantity:    t.Quantity,
		Price:       t.Price,
		Fee:         t.Fee,
		RealizedPnL: t.RealizedPnL,
		Reason:      t.Reason,
		Time:        t.Time,
	}
}

func (l *Ledger) positionRecord(p Position, event string, at time.Time) *journal.PositionRecord {
	return &journal.PositionRecord{
		SessionID:  l.sessionID,
		Symbol:     p.Symbol,
		Side:       string(p.Side),
		Event:      event,
		Quantity:   p.Quantity,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Time:       at,
	}
}

func (l *Ledger) emit(ctx context.Context, ev events) {
	if ev.trade != nil {
		if err := l.journal.RecordTrade(*ev.trade); err != nil {
			logger.ErrorWithErr(ctx, "journal trade", err, "trade_id", ev.trade.TradeID)
		}
	}
	if ev.position != nil {
		if err := l.journal.RecordPosition(*ev.position); err != nil {
			logger.ErrorWithErr(ctx, "journal position", err, "symbol", ev.position.Symbol)
		}
	}
	if err := l.journal.RecordEquity(ev.equity); err != nil {
		logger.ErrorWithErr(ctx, "journal equity", err)
	}
}

// Position returns a copy of the open position for symbol.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of all open positions sorted by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionsLocked()
}

func (l *Ledger) positionsLocked() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

func (l *Ledger) InitialCapital() float64 { return l.initial }

func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return computeStats(l.initial, l.cash, l.positions, l.trades, l.curve)
}

// Snapshot is a point-in-time copy of the ledger.
type Snapshot struct {
	InitialCapital float64       `json:"initial_capital"`
	Cash           float64       `json:"cash"`
	Positions      []Position    `json:"positions"`
	Trades         []Trade       `json:"trades"`
	Equity         []EquityPoint `json:"equity"`
	Stats          Stats         `json:"stats"`
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		InitialCapital: l.initial,
		Cash:           l.cash,
		Positions:      l.positionsLocked(),
		Trades:         append([]Trade(nil), l.trades...),
		Equity:         append([]EquityPoint(nil), l.curve...),
		Stats:          computeStats(l.initial, l.cash, l.positions, l.trades, l.curve),
	}
}
