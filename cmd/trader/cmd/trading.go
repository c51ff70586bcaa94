package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var selectCmd = &cobra.Command{
	Use:   "select <strategy>",
	Short: "Select a strategy and start trading",
	Long: `Start a trading session on a running engine.

Strategies: momentum, scalping, swing, dca.

Examples:
  trader select momentum
  trader select swing --mode live --capital 250000 --max-risk 0.01`,
	Args: cobra.ExactArgs(1),
	RunE: runSelect,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state, figures and open positions",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop trading and close all positions",
	Long: `Stop the active session. Open positions are closed at market.
Stopping when nothing runs is not an error; the last result is shown.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

var signalCmd = &cobra.Command{
	Use:   "signal <symbol> <BUY|SELL|HOLD>",
	Short: "Post a trading signal to the engine's signal board",
	Long: `Post a recommendation for a symbol. The engine acts on it at the next
evaluation of the running strategy.

Example:
  trader signal BTCUSDT BUY --confidence 0.8`,
	Args: cobra.ExactArgs(2),
	RunE: runSignal,
}

var (
	selectMode       string
	selectCapital    float64
	selectMaxRisk    float64
	selectAutoSwitch bool

	signalConfidence float64
	signalStrength   float64
)

func init() {
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(signalCmd)

	selectCmd.Flags().StringVarP(&selectMode, "mode", "m", "", "trading mode: paper or live (engine default when empty)")
	selectCmd.Flags().Float64Var(&selectCapital, "capital", 0, "initial capital in quote currency (engine default when 0)")
	selectCmd.Flags().Float64Var(&selectMaxRisk, "max-risk", 0, "max fraction of capital at risk per trade, in (0,1]")
	selectCmd.Flags().BoolVar(&selectAutoSwitch, "auto-switch", false, "allow automatic strategy switching")

	signalCmd.Flags().Float64Var(&signalConfidence, "confidence", 0.5, "signal confidence in [0,1]")
	signalCmd.Flags().Float64Var(&signalStrength, "strength", 0, "informational signal strength")
}

type strategyInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	StartedAt  time.Time `json:"started_at"`
	AutoSwitch bool      `json:"auto_switch"`
}

type position struct {
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Quantity     float64 `json:"quantity"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	StopLoss     float64 `json:"stop_loss"`
	TakeProfit   float64 `json:"take_profit"`
}

type summary struct {
	SessionID    string    `json:"session_id"`
	FinalCapital float64   `json:"final_capital"`
	TotalPnL     float64   `json:"total_pnl"`
	TotalTrades  int       `json:"total_trades"`
	StoppedAt    time.Time `json:"stopped_at"`
}

func runSelect(cmd *cobra.Command, args []string) error {
	req := map[string]any{
		"strategy_id": args[0],
		"auto_switch": selectAutoSwitch,
	}
	if selectMode != "" {
		req["trading_mode"] = selectMode
	}
	if selectCapital != 0 {
		req["initial_capital"] = selectCapital
	}
	if selectMaxRisk != 0 {
		req["max_risk"] = selectMaxRisk
	}

	var resp struct {
		Message   string       `json:"message"`
		SessionID string       `json:"session_id"`
		Strategy  strategyInfo `json:"strategy"`
		Trading   struct {
			Mode           string  `json:"mode"`
			InitialCapital float64 `json:"initial_capital"`
		} `json:"trading"`
	}
	if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodPost, "/strategy/select", req, &resp); err != nil {
		return err
	}

	t := newTable(os.Stdout, "SESSION STARTED")
	t.AppendRows([]table.Row{
		{"Session", resp.SessionID},
		{"Strategy", fmt.Sprintf("%s (%s)", resp.Strategy.Name, resp.Strategy.Type)},
		{"Mode", resp.Trading.Mode},
		{"Initial capital", money(resp.Trading.InitialCapital)},
		{"Auto switch", resp.Strategy.AutoSwitch},
		{"Started", resp.Strategy.StartedAt.Local().Format(time.DateTime)},
	})
	t.Render()
	return nil
}

type statusView struct {
	IsTrading bool          `json:"is_trading"`
	State     string        `json:"state"`
	SessionID string        `json:"session_id"`
	Strategy  *strategyInfo `json:"strategy"`
	Trading   *struct {
		Mode           string     `json:"mode"`
		InitialCapital float64    `json:"initial_capital"`
		CurrentCapital float64    `json:"current_capital"`
		TotalAssets    float64    `json:"total_assets"`
		TotalPnL       float64    `json:"total_pnl"`
		PnLPercentage  float64    `json:"pnl_percentage"`
		WinRate        float64    `json:"win_rate"`
		MaxDrawdown    float64    `json:"max_drawdown"`
		Positions      []position `json:"positions"`
		TotalTrades    int        `json:"total_trades"`
	} `json:"trading"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	var st statusView
	if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodGet, "/trading/status", nil, &st); err != nil {
		return err
	}
	renderStatus(os.Stdout, st)
	return nil
}

func renderStatus(w io.Writer, st statusView) {
	t := newTable(w, "TRADING STATUS")
	t.AppendRow(table.Row{"State", st.State})
	if st.Strategy != nil {
		t.AppendRows([]table.Row{
			{"Session", st.SessionID},
			{"Strategy", fmt.Sprintf("%s (%s)", st.Strategy.Name, st.Strategy.Type)},
		})
	}
	if tr := st.Trading; tr != nil {
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"Mode", tr.Mode},
			{"Initial capital", money(tr.InitialCapital)},
			{"Cash", money(tr.CurrentCapital)},
			{"Total assets", money(tr.TotalAssets)},
			{"Total PnL", fmt.Sprintf("%s (%.2f%%)", money(tr.TotalPnL), tr.PnLPercentage)},
			{"Win rate", fmt.Sprintf("%.1f%%", tr.WinRate*100)},
			{"Max drawdown", fmt.Sprintf("%.2f%%", tr.MaxDrawdown*100)},
			{"Trades", tr.TotalTrades},
		})
	}
	t.Render()

	if st.Trading == nil || len(st.Trading.Positions) == 0 {
		return
	}
	pt := newTable(w, "OPEN POSITIONS")
	pt.AppendHeader(table.Row{"Symbol", "Side", "Qty", "Entry", "Mark", "Stop", "Target"})
	for _, p := range st.Trading.Positions {
		pt.AppendRow(table.Row{
			p.Symbol, strings.ToUpper(p.Side), fmt.Sprintf("%.6f", p.Quantity),
			price(p.EntryPrice), price(p.CurrentPrice), price(p.StopLoss), price(p.TakeProfit),
		})
	}
	pt.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignRight},
	})
	pt.Render()
}

func runStop(cmd *cobra.Command, args []string) error {
	var resp struct {
		Message       string   `json:"message"`
		TradingResult *summary `json:"trading_result"`
	}
	if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodPost, "/trading/stop", nil, &resp); err != nil {
		return err
	}

	fmt.Println(resp.Message)
	if r := resp.TradingResult; r != nil {
		t := newTable(os.Stdout, "TRADING RESULT")
		t.AppendRows([]table.Row{
			{"Session", r.SessionID},
			{"Final capital", money(r.FinalCapital)},
			{"Total PnL", money(r.TotalPnL)},
			{"Trades", r.TotalTrades},
			{"Stopped", r.StoppedAt.Local().Format(time.DateTime)},
		})
		t.Render()
	}
	return nil
}

func runSignal(cmd *cobra.Command, args []string) error {
	req := map[string]any{
		"symbol":     args[0],
		"action":     args[1],
		"confidence": signalConfidence,
		"strength":   signalStrength,
	}
	var resp struct {
		Signal struct {
			Symbol      string    `json:"symbol"`
			Action      string    `json:"action"`
			Confidence  float64   `json:"confidence"`
			GeneratedAt time.Time `json:"generated_at"`
		} `json:"signal"`
	}
	if err := newAPIClient(serverURL).do(cmd.Context(), http.MethodPost, "/signals", req, &resp); err != nil {
		return err
	}
	fmt.Printf("✓ %s %s (confidence %.2f) at %s\n",
		resp.Signal.Action, resp.Signal.Symbol, resp.Signal.Confidence, resp.Signal.GeneratedAt.Local().Format(time.DateTime))
	return nil
}

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(title)
	t.SetStyle(table.StyleRounded)
	return t
}

func money(v float64) string { return fmt.Sprintf("%.2f", v) }

func price(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%.4f", v)
}
