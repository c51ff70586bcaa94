// Package live executes orders against a real exchange. Orders are submitted,
// then polled until they reach a terminal state or the attempt times out.
package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/backoff"
	"github.com/rustyeddy/autotrader/internal/errs"
	"github.com/rustyeddy/autotrader/internal/logger"
	"github.com/rustyeddy/autotrader/pkg/id"
)

type Config struct {
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	PollInterval  time.Duration `json:"poll_interval" yaml:"poll_interval"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	BaseBackoff   time.Duration `json:"base_backoff" yaml:"base_backoff"`
	MaxBackoff    time.Duration `json:"max_backoff" yaml:"max_backoff"`
	CancelTimeout time.Duration `json:"cancel_timeout" yaml:"cancel_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		PollInterval:  500 * time.Millisecond,
		MaxRetries:    3,
		BaseBackoff:   500 * time.Millisecond,
		MaxBackoff:    8 * time.Second,
		CancelTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = d.CancelTimeout
	}
	return c
}

// working is an order that was accepted by the exchange and has not yet
// been resolved.
type working struct {
	symbol     string
	exchangeID string
}

type Executor struct {
	ex  broker.Exchange
	cfg Config

	mu      sync.Mutex
	working map[string]working

	sleep func(context.Context, time.Duration) error
}

var _ broker.Executor = (*Executor)(nil)

func New(ex broker.Exchange, cfg Config) *Executor {
	return &Executor{
		ex:      ex,
		cfg:     cfg.withDefaults(),
		working: make(map[string]working),
		sleep:   backoff.Sleep,
	}
}

func (e *Executor) Mode() broker.Mode { return broker.Live }

// Place submits o and waits for it to finish.
//
// Transient exchange errors are retried with exponential backoff. If the
// order is still working when the timeout expires (or ctx is cancelled) it
// is cancelled on a detached context; whatever the exchange reports as
// executed at that point is returned, otherwise the result has status error
// and no filled quantity.
func (e *Executor) Place(ctx context.Context, o broker.Order) (broker.Result, error) {
	const op = "live.place"

	failed := broker.Result{OrderID: o.ID, Status: broker.StatusError}
	if o.Quantity <= 0 {
		return failed, errs.Validationf(op, "quantity must be positive, got %v", o.Quantity)
	}
	if o.Symbol == "" {
		return failed, errs.Validationf(op, "symbol is required")
	}
	if !o.Side.Valid() {
		return failed, errs.Validationf(op, "invalid side %q", o.Side)
	}
	if o.ID == "" {
		o.ID = id.Order()
		failed.OrderID = o.ID
	}

	var exID string
	err := e.retry(ctx, func() error {
		var err error
		exID, err = e.ex.PlaceOrder(ctx, o)
		return err
	})
	if err != nil {
		logger.ErrorWithErr(ctx, "order submission failed", err, "order_id", o.ID, "symbol", o.Symbol)
		return failed, errs.Wrap(err, errs.KindOf(err), op)
	}

	w := working{symbol: o.Symbol, exchangeID: exID}
	e.mu.Lock()
	e.working[o.ID] = w
	e.mu.Unlock()

	res, err := e.await(ctx, o.ID, w)
	if err == nil {
		if !e.forget(o.ID) {
			return claimed(o.ID, op)
		}
		if !res.Filled() {
			logger.Warn(ctx, "order ended without execution", "order_id", o.ID, "symbol", o.Symbol, "status", res.Status)
			return failed, errs.E(errs.KindFatal, op, "order ended without execution: "+string(res.Status))
		}
		return res, nil
	}

	// Not terminal in time: cancel what is left and take what was executed.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.CancelTimeout)
	defer cancel()

	res, known := e.resolve(cctx, o.ID, w)
	// Nobody polls the order after Place returns, so it is dropped either way.
	if !e.forget(o.ID) {
		return claimed(o.ID, op)
	}
	if res.Filled() {
		logger.Warn(ctx, "order finished by cancel with executed quantity",
			"order_id", o.ID, "symbol", o.Symbol, "filled", res.FilledQuantity, "status", res.Status)
		return res, nil
	}
	if !known || !res.Status.Terminal() {
		logger.Error(ctx, "order left unresolved on the exchange",
			"order_id", o.ID, "exchange_id", exID, "symbol", o.Symbol, "status", res.Status)
	}

	logger.ErrorWithErr(ctx, "order not filled", err, "order_id", o.ID, "symbol", o.Symbol)
	return failed, errs.Wrap(err, errs.KindOf(err), op)
}

// await polls until the order is terminal. It returns an error when the
// timeout expires, ctx is cancelled or the exchange keeps failing.
func (e *Executor) await(ctx context.Context, orderID string, w working) (broker.Result, error) {
	const op = "live.await"

	pctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	for {
		var res broker.Result
		err := e.retry(pctx, func() error {
			var err error
			res, err = e.ex.GetOrderStatus(pctx, w.symbol, w.exchangeID)
			return err
		})
		switch {
		case err != nil && pctx.Err() != nil:
			return broker.Result{}, timeoutErr(ctx, op)
		case err != nil:
			return broker.Result{}, err
		case res.Status.Terminal():
			return normalize(orderID, res), nil
		}

		if e.sleep(pctx, e.cfg.PollInterval) != nil {
			return broker.Result{}, timeoutErr(ctx, op)
		}
	}
}

// Cancel is best-effort. When the exchange says the order is already done,
// the executed quantity is reported so the caller can still apply it.
//
// An execution is reported exactly once: if a concurrent Place already
// returned it, Cancel reports an error instead, and vice versa.
func (e *Executor) Cancel(ctx context.Context, orderID string) (broker.Result, error) {
	const op = "live.cancel"

	e.mu.Lock()
	w, ok := e.working[orderID]
	e.mu.Unlock()
	if !ok {
		return broker.Result{OrderID: orderID, Status: broker.StatusError}, errs.Validationf(op, "unknown or finished order %q", orderID)
	}

	res, _ := e.resolve(ctx, orderID, w)
	if res.Status.Terminal() || res.Filled() {
		if !e.forget(orderID) {
			return claimed(orderID, op)
		}
	}
	return res, nil
}

// resolve cancels the order and reads back its final state. known is false
// when the state could not be read.
func (e *Executor) resolve(ctx context.Context, orderID string, w working) (res broker.Result, known bool) {
	cerr := e.retry(ctx, func() error {
		return e.ex.CancelOrder(ctx, w.symbol, w.exchangeID)
	})
	if cerr != nil {
		// Usually "too late to cancel": the order filled in the meantime.
		logger.Warn(ctx, "cancel failed, reading order state", "order_id", orderID, "error", cerr)
	}

	serr := e.retry(ctx, func() error {
		var err error
		res, err = e.ex.GetOrderStatus(ctx, w.symbol, w.exchangeID)
		return err
	})
	if serr != nil {
		logger.ErrorWithErr(ctx, "order state unknown after cancel", serr, "order_id", orderID)
		return broker.Result{OrderID: orderID, Status: broker.StatusError}, false
	}
	return normalize(orderID, res), true
}

// forget drops a working order. Only the caller that actually removed it may
// report its execution.
func (e *Executor) forget(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.working[orderID]; !ok {
		return false
	}
	delete(e.working, orderID)
	return true
}

func claimed(orderID, op string) (broker.Result, error) {
	return broker.Result{OrderID: orderID, Status: broker.StatusError},
		errs.E(errs.KindConcurrency, op, "order "+orderID+" already resolved by another caller")
}

// Working returns the number of orders still awaiting resolution.
func (e *Executor) Working() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.working)
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !errs.IsTransient(err) || attempt >= e.cfg.MaxRetries {
			return err
		}
		if werr := e.sleep(ctx, backoff.Exponential(e.cfg.BaseBackoff, e.cfg.MaxBackoff, attempt)); werr != nil {
			return err
		}
	}
}

// normalize stamps our order id and reports a cancelled order with
// executions as partially filled.
func normalize(orderID string, res broker.Result) broker.Result {
	res.OrderID = orderID
	if res.Status == broker.StatusCancelled && res.FilledQuantity > 0 {
		res.Status = broker.StatusPartiallyFilled
	}
	return res
}

func timeoutErr(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(err, errs.KindTransient, op+": attempt cancelled")
	}
	return errs.E(errs.KindTransient, op, "order not terminal before timeout")
}
