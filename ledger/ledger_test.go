package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/errs"
	"github.com/rustyeddy/autotrader/journal"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() func() time.Time {
	return func() time.Time { return t0 }
}

type recordingJournal struct {
	mu        sync.Mutex
	trades    []journal.TradeRecord
	positions []journal.PositionRecord
	equity    []journal.EquitySnapshot
	fail      bool
}

func (r *recordingJournal) RecordTrade(t journal.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk full")
	}
	r.trades = append(r.trades, t)
	return nil
}

func (r *recordingJournal) RecordPosition(p journal.PositionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = append(r.positions, p)
	return nil
}

func (r *recordingJournal) RecordEquity(e journal.EquitySnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.equity = append(r.equity, e)
	return nil
}

func (r *recordingJournal) Close() error { return nil }

func buy(symbol string, qty, price, fee float64) Fill {
	return Fill{OrderID: "ord-b", Symbol: symbol, Side: broker.Buy, Quantity: qty, Price: price, Fee: fee, Reason: "entry"}
}

func sell(symbol string, qty, price, fee float64, reason string) Fill {
	return Fill{OrderID: "ord-s", Symbol: symbol, Side: broker.Sell, Quantity: qty, Price: price, Fee: fee, Reason: reason}
}

func TestOpenLongDebitsCashAndFee(t *testing.T) {
	t.Parallel()

	l := New(1_000_000, WithClock(fixedClock()))
	tr, err := l.ApplyFill(context.Background(), buy("BTCUSDT", 2.4, 100_000, 600))
	require.NoError(t, err)

	assert.False(t, tr.Closing)
	assert.Zero(t, tr.RealizedPnL)
	assert.NotEmpty(t, tr.ID)
	assert.InDelta(t, 759_400.0, l.Cash(), 1e-6)

	pos, ok := l.Position("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, broker.Long, pos.Side)
	assert.InDelta(t, 2.4, pos.Quantity, 1e-12)
	assert.InDelta(t, 95_000.0, pos.StopLoss, 1e-6)
	assert.InDelta(t, 110_000.0, pos.TakeProfit, 1e-6)
	assert.Equal(t, t0, pos.OpenedAt)

	st := l.Stats()
	assert.InDelta(t, 999_400.0, st.TotalAssets, 1e-6)
	assert.InDelta(t, -600.0, st.TotalPnL, 1e-6)
	assert.Equal(t, 1, st.TotalTrades)
	assert.Zero(t, st.WinRate)
}

func TestRoundTripAtSamePriceWithoutFeesIsFlat(t *testing.T) {
	t.Parallel()

	l := New(10_000)
	ctx := context.Background()
	_, err := l.ApplyFill(ctx, buy("ETHUSDT", 1.5, 2000, 0))
	require.NoError(t, err)
	tr, err := l.ApplyFill(ctx, sell("ETHUSDT", 1.5, 2000, 0, "signal"))
	require.NoError(t, err)

	assert.True(t, tr.Closing)
	assert.Zero(t, tr.RealizedPnL)
	assert.InDelta(t, 10_000.0, l.Cash(), 1e-9)
	assert.Empty(t, l.Positions())

	st := l.Stats()
	assert.InDelta(t, 0.0, st.TotalPnL, 1e-9)
	assert.Equal(t, 1, st.ClosingTrades)
	assert.Zero(t, st.WinningTrades)
}

func TestTakeProfitExit(t *testing.T) {
	t.Parallel()

	l := New(1_000_000)
	ctx := context.Background()
	_, err := l.ApplyFill(ctx, buy("BTCUSDT", 2.4, 100_000, 600))
	require.NoError(t, err)
	tr, err := l.ApplyFill(ctx, sell("BTCUSDT", 2.4, 110_000, 660, "take_profit"))
	require.NoError(t, err)

	// (110000-100000)*2.4 - 660
	assert.InDelta(t, 23_340.0, tr.RealizedPnL, 1e-6)
	assert.Equal(t, "take_profit", tr.Reason)

	st := l.Stats()
	assert.InDelta(t, 1_022_740.0, st.TotalAssets, 1e-6)
	assert.InDelta(t, 22_740.0, st.TotalPnL, 1e-6)
	assert.InDelta(t, 22_740.0, st.RealizedPnL, 1e-6)
	assert.InDelta(t, 2.274, st.PnLPercentage, 1e-9)
	assert.Equal(t, 1.0, st.WinRate)
}

func TestIncreaseAveragesEntryAndRederivesExits(t *testing.T) {
	t.Parallel()

	l := New(1_000)
	ctx := context.Background()
	_, err := l.ApplyFill(ctx, buy("XRPUSDT", 1, 100, 0))
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, Fill{Symbol: "XRPUSDT", Side: broker.Buy, Quantity: 1, Price: 200, StopLossFraction: 0.1, TakeProfitFraction: 0.2})
	require.NoError(t, err)

	pos, ok := l.Position("XRPUSDT")
	require.True(t, ok)
	assert.InDelta(t, 2.0, pos.Quantity, 1e-12)
	assert.InDelta(t, 150.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 135.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 180.0, pos.TakeProfit, 1e-9)
	assert.InDelta(t, 700.0, l.Cash(), 1e-9)
}

func TestPartialReduceKeepsEntry(t *testing.T) {
	t.Parallel()

	l := New(1_000)
	ctx := context.Background()
	_, err := l.ApplyFill(ctx, buy("XRPUSDT", 4, 100, 0))
	require.NoError(t, err)
	tr, err := l.ApplyFill(ctx, sell("XRPUSDT", 1, 120, 1, "signal"))
	require.NoError(t, err)

	assert.InDelta(t, 19.0, tr.RealizedPnL, 1e-9)
	pos, ok := l.Position("XRPUSDT")
	require.True(t, ok)
	assert.InDelta(t, 3.0, pos.Quantity, 1e-12)
	assert.InDelta(t, 100.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 719.0, l.Cash(), 1e-9)
}

func TestShortPositionMath(t *testing.T) {
	t.Parallel()

	l := New(1_000)
	ctx := context.Background()
	_, err := l.ApplyFill(ctx, Fill{Symbol: "ETHUSDT", Side: broker.Sell, Quantity: 1, Price: 100, Reason: "entry"})
	require.NoError(t, err)

	pos, ok := l.Position("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, broker.Short, pos.Side)
	assert.InDelta(t, 105.0, pos.StopLoss, 1e-9)
	assert.InDelta(t, 90.0, pos.TakeProfit, 1e-9)
	assert.InDelta(t, 1_100.0, l.Cash(), 1e-9)

	require.NoError(t, l.Mark(ctx, "ETHUSDT", 90))
	st := l.Stats()
	assert.InDelta(t, 10.0, st.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 1_010.0, st.TotalAssets, 1e-9)

	tr, err := l.ApplyFill(ctx, Fill{Symbol: "ETHUSDT", Side: broker.Buy, Quantity: 1, Price: 90, Reason: "take_profit"})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, tr.RealizedPnL, 1e-9)
	assert.InDelta(t, 1_010.0, l.Cash(), 1e-9)
}

func TestRejectedFillsLeaveStateUntouched(t *testing.T) {
	t.Parallel()

	l := New(1_000)
	ctx := context.Background()
	_, err := l.ApplyFill(ctx, buy("BTCUSDT", 1, 500, 0))
	require.NoError(t, err)
	before := l.Snapshot()

	tests := []struct {
		name string
		fill Fill
	}{
		{"over close", sell("BTCUSDT", 2, 500, 0, "signal")},
		{"insufficient cash", buy("ETHUSDT", 10, 100, 0)},
		{"zero quantity", buy("ETHUSDT", 0, 100, 0)},
		{"negative price", buy("ETHUSDT", 1, -1, 0)},
		{"negative fee", buy("ETHUSDT", 1, 1, -1)},
		{"bad side", Fill{Symbol: "ETHUSDT", Side: "hold", Quantity: 1, Price: 1}},
		{"no symbol", Fill{Side: broker.Buy, Quantity: 1, Price: 1}},
	}
	for _, tt := range tests {
		_, err := l.ApplyFill(ctx, tt.fill)
		require.Error(t, err, tt.name)
		assert.Equal(t, errs.KindValidation, errs.KindOf(err), tt.name)
	}

	after := l.Snapshot()
	assert.Equal(t, before.Cash, after.Cash)
	assert.Equal(t, before.Positions, after.Positions)
	assert.Len(t, after.Trades, 1)
}

func TestMarkRequiresOpenPosition(t *testing.T) {
	t.Parallel()

	l := New(1_000)
	assert.Error(t, l.Mark(context.Background(), "BTCUSDT", 100))

	_, err := l.ApplyFill(context.Background(), buy("BTCUSDT", 1, 100, 0))
	require.NoError(t, err)
	assert.Error(t, l.Mark(context.Background(), "BTCUSDT", 0))
	assert.NoError(t, l.Mark(context.Background(), "BTCUSDT", 95))

	pos, _ := l.Position("BTCUSDT")
	assert.InDelta(t, -0.05, pos.PnLFraction(), 1e-12)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	l := New(1_000)
	_, err := l.ApplyFill(context.Background(), buy("BTCUSDT", 1, 100, 0))
	require.NoError(t, err)

	snap := l.Snapshot()
	snap.Positions[0].Quantity = 99
	snap.Trades[0].Price = 1

	pos, _ := l.Position("BTCUSDT")
	assert.InDelta(t, 1.0, pos.Quantity, 1e-12)
	assert.InDelta(t, 100.0, l.Snapshot().Trades[0].Price, 1e-12)
}

func TestWinRateAndDrawdown(t *testing.T) {
	t.Parallel()

	l := New(1_000)
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, buy("A", 1, 100, 0))
	require.NoError(t, err)
	// Equity goes 1000 -> 1200 -> ~900.
	require.NoError(t, l.Mark(ctx, "A", 300))
	require.NoError(t, l.Mark(ctx, "A", 0.0001))
	_, err = l.ApplyFill(ctx, sell("A", 1, 50, 0, "stop_loss"))
	require.NoError(t, err)

	_, err = l.ApplyFill(ctx, buy("B", 1, 100, 0))
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, sell("B", 1, 150, 0, "take_profit"))
	require.NoError(t, err)

	st := l.Stats()
	assert.Equal(t, 2, st.ClosingTrades)
	assert.Equal(t, 1, st.WinningTrades)
	assert.InDelta(t, 0.5, st.WinRate, 1e-12)
	// Peak 1200 down to 900.0001.
	assert.InDelta(t, (1200-900.0001)/1200, st.MaxDrawdown, 1e-9)
}

func TestMaxDrawdown(t *testing.T) {
	t.Parallel()

	pts := func(v ...float64) []EquityPoint {
		out := make([]EquityPoint, len(v))
		for i, x := range v {
			out[i] = EquityPoint{Equity: x}
		}
		return out
	}

	assert.Zero(t, MaxDrawdown(nil))
	assert.Zero(t, MaxDrawdown(pts(100, 110, 120)))
	assert.InDelta(t, 0.25, MaxDrawdown(pts(100, 120, 90, 130, 117)), 1e-12)
	assert.InDelta(t, 0.5, MaxDrawdown(pts(100, 50, 80)), 1e-12)
}

func TestJournalEventsAfterFill(t *testing.T) {
	t.Parallel()

	j := &recordingJournal{}
	l := New(1_000_000, WithJournal(j, "ses-1"), WithClock(fixedClock()))
	ctx := context.Background()

	_, err := l.ApplyFill(ctx, buy("BTCUSDT", 2.4, 100_000, 600))
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, sell("BTCUSDT", 2.4, 95_000, 570, "stop_loss"))
	require.NoError(t, err)

	require.Len(t, j.trades, 2)
	assert.Equal(t, "ses-1", j.trades[0].SessionID)
	assert.Equal(t, "stop_loss", j.trades[1].Reason)

	require.Len(t, j.positions, 2)
	assert.Equal(t, journal.PositionOpen, j.positions[0].Event)
	assert.Equal(t, journal.PositionClose, j.positions[1].Event)

	require.Len(t, j.equity, 2)
	assert.Equal(t, 1, j.equity[0].OpenPositions)
	assert.Equal(t, 0, j.equity[1].OpenPositions)
}

func TestJournalFailureDoesNotUndoFill(t *testing.T) {
	t.Parallel()

	j := &recordingJournal{fail: true}
	l := New(1_000, WithJournal(j, "ses-1"))

	_, err := l.ApplyFill(context.Background(), buy("BTCUSDT", 1, 100, 0))
	require.NoError(t, err)
	_, ok := l.Position("BTCUSDT")
	assert.True(t, ok)
}

func TestConcurrentFillsConserveCash(t *testing.T) {
	t.Parallel()

	l := New(1_000_000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.ApplyFill(ctx, buy("BTCUSDT", 0.01, 100_000, 2.5))
		}()
	}
	wg.Wait()

	pos, ok := l.Position("BTCUSDT")
	require.True(t, ok)
	assert.InDelta(t, 0.5, pos.Quantity, 1e-9)
	assert.InDelta(t, 1_000_000-50*1_002.5, l.Cash(), 1e-6)
	assert.Len(t, l.Snapshot().Trades, 50)
}
