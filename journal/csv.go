package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var (
	tradesHeader    = []string{"trade_id", "order_id", "session_id", "symbol", "side", "quantity", "price", "fee", "realized_pnl", "reason", "time"}
	positionsHeader = []string{"session_id", "symbol", "side", "event", "quantity", "entry_price", "stop_loss", "take_profit", "time"}
	equityHeader    = []string{"session_id", "time", "cash", "equity", "unrealized_pnl", "open_positions"}
)

// CSV writes trades.csv, positions.csv and equity.csv into a directory.
type CSV struct {
	mu        sync.Mutex
	trades    *csv.Writer
	positions *csv.Writer
	equity    *csv.Writer
	files     []*os.File
}

var _ Journal = (*CSV)(nil)

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	j := &CSV{}
	open := func(name string, header []string) (*csv.Writer, error) {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		j.files = append(j.files, f)
		w := csv.NewWriter(f)
		if err := w.Write(header); err != nil {
			return nil, err
		}
		w.Flush()
		return w, w.Error()
	}

	var err error
	if j.trades, err = open("trades.csv", tradesHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	if j.positions, err = open("positions.csv", positionsHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	if j.equity, err = open("equity.csv", equityHeader); err != nil {
		j.closeFiles()
		return nil, err
	}
	return j, nil
}

func (j *CSV) RecordTrade(t TradeRecord) error {
	return j.write(j.trades, []string{
		t.TradeID,
		t.OrderID,
		t.SessionID,
		t.Symbol,
		t.Side,
		f(t.Quantity),
		f(t.Price),
		f(t.Fee),
		f(t.RealizedPnL),
		t.Reason,
		t.Time.UTC().Format(time.RFC3339Nano),
	})
}

func (j *CSV) RecordPosition(p PositionRecord) error {
	return j.write(j.positions, []string{
		p.SessionID,
		p.Symbol,
		p.Side,
		p.Event,
		f(p.Quantity),
		f(p.EntryPrice),
		f(p.StopLoss),
		f(p.TakeProfit),
		p.Time.UTC().Format(time.RFC3339Nano),
	})
}

func (j *CSV) RecordEquity(e EquitySnapshot) error {
	return j.write(j.equity, []string{
		e.SessionID,
		e.Time.UTC().Format(time.RFC3339Nano),
		f(e.Cash),
		f(e.Equity),
		f(e.UnrealizedPnL),
		strconv.Itoa(e.OpenPositions),
	})
}

func (j *CSV) write(w *csv.Writer, row []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func (j *CSV) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, w := range []*csv.Writer{j.trades, j.positions, j.equity} {
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
	}
	return j.closeFiles()
}

func (j *CSV) closeFiles() error {
	var first error
	for _, fh := range j.files {
		if err := fh.Close(); err != nil && first == nil {
			first = err
		}
	}
	j.files = nil
	return first
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
