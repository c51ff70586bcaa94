package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()

	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Equal(t, tradesHeader, readCSV(t, filepath.Join(dir, "trades.csv"))[0])
	assert.Equal(t, positionsHeader, readCSV(t, filepath.Join(dir, "positions.csv"))[0])
	assert.Equal(t, equityHeader, readCSV(t, filepath.Join(dir, "equity.csv"))[0])
}

func TestCSVRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := NewCSV(dir)
	require.NoError(t, err)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.RecordTrade(TradeRecord{
		TradeID: "trd-1", OrderID: "ord-1", SessionID: "ses-1", Symbol: "BTCUSDT", Side: "buy",
		Quantity: 2.4, Price: 100_000, Fee: 600, Reason: "entry", Time: at,
	}))
	require.NoError(t, j.RecordPosition(PositionRecord{
		SessionID: "ses-1", Symbol: "BTCUSDT", Side: "long", Event: PositionOpen,
		Quantity: 2.4, EntryPrice: 100_000, StopLoss: 95_000, TakeProfit: 110_000, Time: at,
	}))
	require.NoError(t, j.RecordEquity(EquitySnapshot{
		SessionID: "ses-1", Time: at, Cash: 759_400, Equity: 999_400, OpenPositions: 1,
	}))
	require.NoError(t, j.Close())

	trades := readCSV(t, filepath.Join(dir, "trades.csv"))
	require.Len(t, trades, 2)
	assert.Equal(t, []string{
		"trd-1", "ord-1", "ses-1", "BTCUSDT", "buy",
		"2.400000", "100000.000000", "600.000000", "0.000000", "entry", "2024-01-02T03:04:05Z",
	}, trades[1])

	positions := readCSV(t, filepath.Join(dir, "positions.csv"))
	require.Len(t, positions, 2)
	assert.Equal(t, "open", positions[1][3])
	assert.Equal(t, "95000.000000", positions[1][6])

	equity := readCSV(t, filepath.Join(dir, "equity.csv"))
	require.Len(t, equity, 2)
	assert.Equal(t, []string{"ses-1", "2024-01-02T03:04:05Z", "759400.000000", "999400.000000", "0.000000", "1"}, equity[1])
}
