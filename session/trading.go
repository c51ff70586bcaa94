package session

import (
	"context"
	"errors"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/backoff"
	"github.com/rustyeddy/autotrader/internal/errs"
	"github.com/rustyeddy/autotrader/internal/logger"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/pkg/id"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/signal"
)

// signalLoop evaluates every symbol once per strategy cadence, backing off
// after a failed pass.
func (c *Controller) signalLoop(ctx context.Context, s *session) {
	cadence := s.def.Cadence
	if cadence <= 0 {
		cadence = c.cfg.SignalBackoff
	}
	for {
		wait := cadence
		if err := c.signalPass(ctx, s); err != nil && ctx.Err() == nil {
			logger.ErrorWithErr(ctx, "signal pass failed", err, "session_id", s.id, "retry_in", c.cfg.SignalBackoff)
			wait = c.cfg.SignalBackoff
		}
		if backoff.Sleep(ctx, wait) != nil {
			return
		}
	}
}

// signalPass evaluates each symbol. A symbol with an order already in flight
// is skipped.
func (c *Controller) signalPass(ctx context.Context, s *session) error {
	var failed []error
	for _, sym := range s.symbols {
		if ctx.Err() != nil {
			return nil
		}
		err := c.evaluate(ctx, s, sym)
		if err == nil || errors.Is(err, errs.ErrOrderInFlight) {
			continue
		}
		logger.Warn(ctx, "symbol evaluation failed", "symbol", sym, "error", err)
		failed = append(failed, err)
	}
	return errors.Join(failed...)
}

// evaluate turns the current signal for symbol into at most one order.
func (c *Controller) evaluate(ctx context.Context, s *session, symbol string) error {
	// Claim before reading the position so two evaluations cannot both see
	// it missing.
	release, err := s.claim(symbol)
	if err != nil {
		return err
	}
	defer release()

	sig, err := c.deps.Signals.GetSignal(ctx, symbol, s.def.Timeframe)
	if err != nil {
		return err
	}
	if err := sig.Validate(); err != nil {
		return err
	}

	_, hasPos := s.ledger.Position(symbol)
	if sig.Action == signal.Sell && hasPos {
		_, err := c.closeClaimed(ctx, s, symbol, ReasonSignal)
		return err
	}

	weight := s.strat.Weight(sig, hasPos)
	if weight <= 0 {
		return nil
	}

	price, err := c.deps.Prices.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return err
	}

	snap := s.ledger.Snapshot()
	sz := risk.SizeOrder(snap.Cash, weight, price, broker.Long, s.settings)
	dec := risk.Evaluate(s.policy, risk.Intent{
		Symbol:     symbol,
		Quantity:   sz.Quantity,
		Entry:      price,
		Stop:       sz.StopLoss,
		TakeProfit: sz.TakeProfit,
		Adding:     hasPos,
	}, risk.Account{
		Cash:          snap.Cash,
		Equity:        snap.Stats.TotalAssets,
		OpenPositions: len(snap.Positions),
	})
	if !dec.Allowed {
		for _, code := range dec.Codes() {
			c.deps.Metrics.RecordRejection(code)
		}
		logger.Risk(ctx, symbol, "entry_rejected",
			"codes", dec.Codes(), "confidence", sig.Confidence, "weight", weight, "notional", dec.Notional)
		return nil
	}

	_, err = c.execute(ctx, s, broker.Order{
		ID:       id.Order(),
		Symbol:   symbol,
		Side:     broker.Buy,
		Quantity: sz.Quantity,
		Price:    price,
	}, ReasonEntry)
	return err
}

// closePosition claims symbol and sells the whole position.
func (c *Controller) closePosition(ctx context.Context, s *session, symbol, reason string) (ledger.Trade, error) {
	release, err := s.claim(symbol)
	if err != nil {
		return ledger.Trade{}, err
	}
	defer release()
	return c.closeClaimed(ctx, s, symbol, reason)
}

// closeClaimed exits the position at the current price, falling back to the
// last mark when no price is available.
func (c *Controller) closeClaimed(ctx context.Context, s *session, symbol, reason string) (ledger.Trade, error) {
	pos, ok := s.ledger.Position(symbol)
	if !ok {
		return ledger.Trade{}, nil
	}

	price, err := c.deps.Prices.GetCurrentPrice(ctx, symbol)
	if err != nil {
		logger.Warn(ctx, "no current price for close, using last mark",
			"symbol", symbol, "mark", pos.CurrentPrice, "error", err)
		price = pos.CurrentPrice
	}

	tr, err := c.execute(ctx, s, broker.Order{
		ID:       id.Order(),
		Symbol:   symbol,
		Side:     pos.Side.Closing(),
		Quantity: pos.Quantity,
		Price:    price,
	}, reason)
	if err != nil {
		return tr, err
	}
	c.deps.Metrics.RecordClose(symbol, reason)
	logger.Info(ctx, "position closed",
		"symbol", symbol, "reason", reason, "price", tr.Price, "realized_pnl", tr.RealizedPnL)
	return tr, nil
}

// execute places o and applies whatever executed. The caller holds the
// symbol claim.
func (c *Controller) execute(ctx context.Context, s *session, o broker.Order, reason string) (ledger.Trade, error) {
	res, placeErr := s.exec.Place(ctx, o)
	if !res.Filled() {
		if placeErr == nil {
			placeErr = errs.E(errs.KindFatal, "session.execute", "order "+o.ID+" ended "+string(res.Status)+" without execution")
		}
		return ledger.Trade{}, placeErr
	}
	if placeErr != nil {
		logger.Warn(ctx, "order reported an error with executed quantity; applying it",
			"order_id", o.ID, "error", placeErr)
	}

	price := res.AvgFillPrice
	if price <= 0 {
		price = o.Price
	}
	tr, err := s.apply(ctx, ledger.Fill{
		OrderID:            o.ID,
		Symbol:             o.Symbol,
		Side:               o.Side,
		Quantity:           res.FilledQuantity,
		Price:              price,
		Fee:                res.Fee,
		Reason:             reason,
		StopLossFraction:   s.settings.StopLossFraction,
		TakeProfitFraction: s.settings.TakeProfitFraction,
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "fill not applied", err, "order_id", o.ID, "symbol", o.Symbol)
		return tr, err
	}

	c.deps.Metrics.RecordFill(o.Symbol, string(o.Side), res.Fee)
	st := s.ledger.Stats()
	c.deps.Metrics.UpdatePortfolio(s.ledger.Cash(), st.TotalAssets, len(s.ledger.Positions()))
	return tr, nil
}

// claim marks symbol as having an order in flight.
func (s *session) claim(symbol string) (func(), error) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()
	if _, busy := s.inFlight[symbol]; busy {
		return nil, errs.Wrap(errs.ErrOrderInFlight, errs.KindConcurrency, "session "+symbol)
	}
	s.inFlight[symbol] = struct{}{}
	return func() {
		s.flightMu.Lock()
		delete(s.inFlight, symbol)
		s.flightMu.Unlock()
	}, nil
}

// apply books a fill unless the session has already been closed out.
func (s *session) apply(ctx context.Context, f ledger.Fill) (ledger.Trade, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if s.closed {
		return ledger.Trade{}, errs.E(errs.KindConcurrency, "session.apply", "session "+s.id+" already stopped")
	}
	return s.ledger.ApplyFill(ctx, f)
}
