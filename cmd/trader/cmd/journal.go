package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display trade journal records from the SQLite database.

Subcommands:
  trades - List trades of a session or a day
  trade  - Get details of a specific trade by ID

Examples:
  trader journal trades --session 01HZY...
  trader journal trades --day 2026-01-24
  trader journal trade <trade-id>`,
}

var journalTradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List trades of a session, or of a day (today by default)",
	Args:  cobra.NoArgs,
	RunE:  runJournalTrades,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalTrade,
}

var (
	journalDBPath  string
	journalSession string
	journalDay     string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradesCmd)
	journalCmd.AddCommand(journalTradeCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./autotrader.db", "path to SQLite journal DB")
	journalTradesCmd.Flags().StringVarP(&journalSession, "session", "s", "", "session id")
	journalTradesCmd.Flags().StringVar(&journalDay, "day", "", "day as YYYY-MM-DD in local time")
}

func runJournalTrades(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	var recs []journal.TradeRecord
	if journalSession != "" {
		recs, err = j.ListTradesBySession(journalSession)
	} else {
		day := journalDay
		if day == "" {
			day = time.Now().Format(time.DateOnly)
		}
		start, end, derr := dayBounds(time.Local, day)
		if derr != nil {
			return fmt.Errorf("date: %w", derr)
		}
		recs, err = j.ListTradesBetween(start, end)
	}
	if err != nil {
		return fmt.Errorf("query trades: %w", err)
	}

	renderTrades(os.Stdout, recs)
	return nil
}

func runJournalTrade(cmd *cobra.Command, args []string) error {
	j, err := journal.NewSQLite(journalDBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer j.Close()

	rec, err := j.GetTrade(args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}

	t := newTable(os.Stdout, "TRADE "+rec.TradeID)
	t.AppendRows([]table.Row{
		{"Order", rec.OrderID},
		{"Session", rec.SessionID},
		{"Symbol", rec.Symbol},
		{"Side", rec.Side},
		{"Quantity", fmt.Sprintf("%.6f", rec.Quantity)},
		{"Price", price(rec.Price)},
		{"Fee", money(rec.Fee)},
		{"Realized PnL", money(rec.RealizedPnL)},
		{"Reason", rec.Reason},
		{"Time", rec.Time.Local().Format(time.DateTime)},
	})
	t.Render()
	return nil
}

func renderTrades(w io.Writer, recs []journal.TradeRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "no trades")
		return
	}

	t := newTable(w, "TRADES")
	t.AppendHeader(table.Row{"Time", "Symbol", "Side", "Qty", "Price", "Fee", "PnL", "Reason", "Trade"})
	var fees, pnl float64
	for _, r := range recs {
		t.AppendRow(table.Row{
			r.Time.Local().Format(time.DateTime), r.Symbol, r.Side,
			fmt.Sprintf("%.6f", r.Quantity), price(r.Price), money(r.Fee), money(r.RealizedPnL),
			r.Reason, r.TradeID,
		})
		fees += r.Fee
		pnl += r.RealizedPnL
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", money(fees), money(pnl), "", len(recs)})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	t.Render()
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}
