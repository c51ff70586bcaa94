package journal

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	j, err := NewSQLite(path)
	require.NoError(t, err)

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	require.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('trades','positions','equity')`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	require.NoError(t, rows.Err())

	assert.True(t, found["trades"])
	assert.True(t, found["positions"])
	assert.True(t, found["equity"])
}

func TestSQLiteRecordTrade(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := TradeRecord{
		TradeID:     "trd-1",
		OrderID:     "ord-1",
		SessionID:   "ses-1",
		Symbol:      "BTCUSDT",
		Side:        "sell",
		Quantity:    2.4,
		Price:       110_000,
		Fee:         660,
		RealizedPnL: 23_340,
		Reason:      "take_profit",
		Time:        at,
	}
	require.NoError(t, j.RecordTrade(rec))

	got, err := j.GetTrade("trd-1")
	require.NoError(t, err)
	assert.Equal(t, rec.OrderID, got.OrderID)
	assert.Equal(t, rec.Symbol, got.Symbol)
	assert.InDelta(t, rec.Quantity, got.Quantity, 1e-12)
	assert.InDelta(t, rec.RealizedPnL, got.RealizedPnL, 1e-9)
	assert.Equal(t, "take_profit", got.Reason)
	assert.True(t, at.Equal(got.Time))

	_, err = j.GetTrade("missing")
	assert.ErrorContains(t, err, "not found")

	// Trade ids are unique.
	assert.Error(t, j.RecordTrade(rec))
}

func TestSQLiteListTrades(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, sess := range []string{"ses-a", "ses-a", "ses-b"} {
		require.NoError(t, j.RecordTrade(TradeRecord{
			TradeID:   "trd-" + string(rune('1'+i)),
			OrderID:   "ord",
			SessionID: sess,
			Symbol:    "ETHUSDT",
			Side:      "buy",
			Quantity:  1,
			Price:     3000,
			Reason:    "entry",
			Time:      base.Add(time.Duration(i) * time.Hour),
		}))
	}

	got, err := j.ListTradesBetween(base, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "trd-1", got[0].TradeID)
	assert.Equal(t, "trd-2", got[1].TradeID)

	got, err = j.ListTradesBySession("ses-b")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "trd-3", got[0].TradeID)

	got, err = j.ListTradesBySession("ses-none")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLitePositionsAndEquity(t *testing.T) {
	t.Parallel()

	j, _ := newTestSQLite(t)
	t.Cleanup(func() { _ = j.Close() })

	at := time.Date(2024, 5, 6, 7, 0, 0, 0, time.UTC)
	require.NoError(t, j.RecordPosition(PositionRecord{
		SessionID: "ses-1", Symbol: "BTCUSDT", Side: "long", Event: PositionOpen,
		Quantity: 2.4, EntryPrice: 100_000, StopLoss: 95_000, TakeProfit: 110_000, Time: at,
	}))
	require.NoError(t, j.RecordPosition(PositionRecord{
		SessionID: "ses-1", Symbol: "BTCUSDT", Side: "long", Event: PositionClose,
		EntryPrice: 100_000, StopLoss: 95_000, TakeProfit: 110_000, Time: at.Add(time.Minute),
	}))
	require.NoError(t, j.RecordEquity(EquitySnapshot{
		SessionID: "ses-1", Time: at, Cash: 759_400, Equity: 999_400, OpenPositions: 1,
	}))

	events, err := j.ListPositionEvents("ses-1", "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, PositionOpen, events[0].Event)
	assert.Equal(t, PositionClose, events[1].Event)
	assert.Zero(t, events[1].Quantity)

	eq, err := j.ListEquityBetween(at, at.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, eq, 1)
	assert.InDelta(t, 999_400.0, eq[0].Equity, 1e-9)
	assert.Equal(t, 1, eq[0].OpenPositions)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	j, err := Open("none", "")
	require.NoError(t, err)
	assert.IsType(t, Nop{}, j)

	dir := t.TempDir()
	j, err = Open("sqlite", filepath.Join(dir, "j.db"))
	require.NoError(t, err)
	assert.NoError(t, j.Close())

	j, err = Open("csv", filepath.Join(dir, "csv"))
	require.NoError(t, err)
	assert.NoError(t, j.Close())

	_, err = Open("parquet", dir)
	assert.Error(t, err)
}
