// Package journal persists ledger events. Writers are append-only; the
// ledger never waits on them for correctness.
package journal

import (
	"fmt"
	"time"
)

// TradeRecord is one applied fill.
type TradeRecord struct {
	TradeID     string
	OrderID     string
	SessionID   string
	Symbol      string
	Side        string
	Quantity    float64
	Price       float64
	Fee         float64
	RealizedPnL float64
	Reason      string
	Time        time.Time
}

// Position events.
const (
	PositionOpen   = "open"
	PositionUpdate = "update"
	PositionClose  = "close"
)

type PositionRecord struct {
	SessionID  string
	Symbol     string
	Side       string
	Event      string
	Quantity   float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Time       time.Time
}

type EquitySnapshot struct {
	SessionID     string
	Time          time.Time
	Cash          float64
	Equity        float64
	UnrealizedPnL float64
	OpenPositions int
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordPosition(PositionRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTrade(TradeRecord) error       { return nil }
func (Nop) RecordPosition(PositionRecord) error { return nil }
func (Nop) RecordEquity(EquitySnapshot) error   { return nil }
func (Nop) Close() error                        { return nil }

// Open builds a journal from its configured kind: sqlite (path is the
// database file), csv (path is a directory) or none.
func Open(kind, path string) (Journal, error) {
	switch kind {
	case "", "none":
		return Nop{}, nil
	case "sqlite":
		return NewSQLite(path)
	case "csv":
		return NewCSV(path)
	default:
		return nil, fmt.Errorf("unknown journal kind %q (want sqlite|csv|none)", kind)
	}
}
