package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchange scripts exchange behaviour. statuses are returned in order by
// GetOrderStatus; the last one repeats.
type fakeExchange struct {
	mu sync.Mutex

	placeErrs   []error
	statuses    []broker.Result
	statusErrs  []error
	cancelErr   error
	afterCancel *broker.Result
	// afterCancelErr fails every status read once a cancel was sent.
	afterCancelErr error

	placeCalls  int
	statusCalls int
	cancelCalls int
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, o broker.Order) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return "EX-" + o.ID, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, exID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeExchange) GetOrderStatus(ctx context.Context, symbol, exID string) (broker.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if len(f.statusErrs) > 0 {
		err := f.statusErrs[0]
		f.statusErrs = f.statusErrs[1:]
		if err != nil {
			return broker.Result{}, err
		}
	}
	if f.cancelCalls > 0 && f.afterCancelErr != nil {
		return broker.Result{}, f.afterCancelErr
	}
	if f.cancelCalls > 0 && f.afterCancel != nil {
		return *f.afterCancel, nil
	}
	res := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	res.OrderID = exID
	return res, nil
}

func fastConfig() Config {
	return Config{
		Timeout:       80 * time.Millisecond,
		PollInterval:  2 * time.Millisecond,
		MaxRetries:    3,
		BaseBackoff:   time.Millisecond,
		MaxBackoff:    4 * time.Millisecond,
		CancelTimeout: 50 * time.Millisecond,
	}
}

func order() broker.Order {
	return broker.Order{ID: "ord-1", Symbol: "BTCUSDT", Side: broker.Buy, Quantity: 0.5, Price: 60_000}
}

var (
	pending = broker.Result{Status: broker.StatusPending}
	filled  = broker.Result{Status: broker.StatusFilled, FilledQuantity: 0.5, AvgFillPrice: 60_010, Fee: 75}
)

func TestPlacePollsUntilFilled(t *testing.T) {
	t.Parallel()

	ex := &fakeExchange{statuses: []broker.Result{pending, pending, filled}}
	e := New(ex, fastConfig())

	res, err := e.Place(context.Background(), order())
	require.NoError(t, err)

	assert.Equal(t, "ord-1", res.OrderID)
	assert.Equal(t, broker.StatusFilled, res.Status)
	assert.InDelta(t, 0.5, res.FilledQuantity, 1e-12)
	assert.InDelta(t, 60_010.0, res.AvgFillPrice, 1e-9)
	assert.Equal(t, 3, ex.statusCalls)
	assert.Zero(t, e.Working())
	assert.Equal(t, broker.Live, e.Mode())
}

func TestPlaceRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	rate := errs.E(errs.KindTransient, "bybit", "rate limit")
	ex := &fakeExchange{
		placeErrs:  []error{rate, rate},
		statusErrs: []error{rate},
		statuses:   []broker.Result{filled},
	}
	e := New(ex, fastConfig())

	res, err := e.Place(context.Background(), order())
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, res.Status)
	assert.Equal(t, 3, ex.placeCalls)
}

func TestPlaceGivesUpAfterThreeRetries(t *testing.T) {
	t.Parallel()

	rate := errs.E(errs.KindTransient, "bybit", "rate limit")
	ex := &fakeExchange{placeErrs: []error{rate, rate, rate, rate, rate}}
	e := New(ex, fastConfig())

	res, err := e.Place(context.Background(), order())
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, broker.StatusError, res.Status)
	assert.Zero(t, res.FilledQuantity)
	assert.Equal(t, 4, ex.placeCalls)
}

func TestPlaceDoesNotRetryFatalErrors(t *testing.T) {
	t.Parallel()

	ex := &fakeExchange{placeErrs: []error{errs.E(errs.KindFatal, "bybit", "insufficient balance")}}
	e := New(ex, fastConfig())

	res, err := e.Place(context.Background(), order())
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, broker.StatusError, res.Status)
	assert.Equal(t, 1, ex.placeCalls)
	assert.Zero(t, ex.statusCalls)
}

func TestPlaceTimeoutIsNotFilled(t *testing.T) {
	t.Parallel()

	cancelled := broker.Result{Status: broker.StatusCancelled}
	ex := &fakeExchange{statuses: []broker.Result{pending}, afterCancel: &cancelled}
	e := New(ex, fastConfig())

	start := time.Now()
	res, err := e.Place(context.Background(), order())
	require.Error(t, err)

	assert.True(t, errs.IsTransient(err))
	assert.Equal(t, broker.StatusError, res.Status)
	assert.Zero(t, res.FilledQuantity)
	assert.False(t, res.Filled())
	assert.Equal(t, 1, ex.cancelCalls)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Zero(t, e.Working())
}

func TestPlaceTimeoutKeepsPartialExecution(t *testing.T) {
	t.Parallel()

	partial := broker.Result{Status: broker.StatusCancelled, FilledQuantity: 0.2, AvgFillPrice: 60_000, Fee: 30}
	ex := &fakeExchange{statuses: []broker.Result{pending}, afterCancel: &partial}
	e := New(ex, fastConfig())

	res, err := e.Place(context.Background(), order())
	require.NoError(t, err)
	assert.Equal(t, broker.StatusPartiallyFilled, res.Status)
	assert.InDelta(t, 0.2, res.FilledQuantity, 1e-12)
	assert.True(t, res.Filled())
}

func TestCancelAppliesFillWhenTooLate(t *testing.T) {
	t.Parallel()

	ex := &fakeExchange{
		statuses:    []broker.Result{pending},
		cancelErr:   errs.E(errs.KindFatal, "bybit", "order not exists or too late to cancel"),
		afterCancel: &filled,
	}
	e := New(ex, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var (
		res broker.Result
		err error
	)
	go func() {
		defer close(done)
		res, err = e.Place(ctx, order())
	}()

	require.Eventually(t, func() bool { return e.Working() == 1 }, time.Second, time.Millisecond)

	got, cerr := e.Cancel(context.Background(), "ord-1")
	cancel()
	<-done

	// The fill is reported by exactly one of the two callers.
	placeFilled := err == nil && res.Filled()
	cancelFilled := cerr == nil && got.Filled()
	assert.True(t, placeFilled != cancelFilled, "place=%v cancel=%v", placeFilled, cancelFilled)
	if cancelFilled {
		assert.Equal(t, broker.StatusFilled, got.Status)
		assert.Equal(t, "ord-1", got.OrderID)
	}
	assert.Zero(t, e.Working())
}

func TestPlaceValidation(t *testing.T) {
	t.Parallel()

	e := New(&fakeExchange{}, fastConfig())

	_, err := e.Place(context.Background(), broker.Order{Symbol: "BTCUSDT", Side: broker.Buy})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = e.Place(context.Background(), broker.Order{Side: broker.Buy, Quantity: 1})
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = e.Cancel(context.Background(), "nope")
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestPlaceRejectedOrderSkipsCancel(t *testing.T) {
	t.Parallel()

	ex := &fakeExchange{statuses: []broker.Result{pending, {Status: broker.StatusError}}}
	e := New(ex, fastConfig())

	res, err := e.Place(context.Background(), order())
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, broker.StatusError, res.Status)
	assert.Zero(t, res.FilledQuantity)
	assert.Zero(t, ex.cancelCalls)
	assert.Zero(t, e.Working())
}

func TestPlaceForgetsOrderWhenStateUnknownAfterCancel(t *testing.T) {
	t.Parallel()

	ex := &fakeExchange{
		statuses:       []broker.Result{pending},
		afterCancelErr: errs.E(errs.KindFatal, "bybit", "permission denied"),
	}
	e := New(ex, fastConfig())

	res, err := e.Place(context.Background(), order())
	require.Error(t, err)
	assert.Equal(t, broker.StatusError, res.Status)
	assert.Equal(t, 1, ex.cancelCalls)
	assert.Zero(t, e.Working())
}

func TestPlaceForgetsOrderStillWorkingAfterCancel(t *testing.T) {
	t.Parallel()

	ex := &fakeExchange{
		statuses:  []broker.Result{pending},
		cancelErr: errs.E(errs.KindFatal, "bybit", "cancel refused"),
	}
	e := New(ex, fastConfig())

	res, err := e.Place(context.Background(), order())
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.False(t, res.Filled())
	assert.Zero(t, e.Working())
}
