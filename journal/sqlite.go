package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

var _ Journal = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// The ledger emits from several goroutines; one writer avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, order_id, session_id, symbol, side, quantity, price, fee, realized_pnl, reason, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.OrderID, t.SessionID, t.Symbol, t.Side,
		t.Quantity, t.Price, t.Fee, t.RealizedPnL, t.Reason, t.Time,
	)
	return err
}

func (j *SQLite) RecordPosition(p PositionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO positions
		(session_id, symbol, side, event, quantity, entry_price, stop_loss, take_profit, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SessionID, p.Symbol, p.Side, p.Event,
		p.Quantity, p.EntryPrice, p.StopLoss, p.TakeProfit, p.Time,
	)
	return err
}

func (j *SQLite) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity
		(session_id, time, cash, equity, unrealized_pnl, open_positions)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Time, e.Cash, e.Equity, e.UnrealizedPnL, e.OpenPositions,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
