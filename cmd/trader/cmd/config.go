package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate, validate or inspect configuration files",
	Long: `Manage engine configuration files. Settings are layered: built-in
defaults, then the file, then BYBIT_* / TRADER_ADDR / LOG_* from the
environment (or a .env file).

Examples:
  trader config init -o autotrader.yaml
  trader config validate -f autotrader.yaml
  trader config show -c autotrader.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Long: `Write the built-in defaults. YAML for .yaml/.yml paths, JSON otherwise.
API keys are never written; set BYBIT_API_KEY and BYBIT_API_SECRET instead.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file and summarize it",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration after environment overrides",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		renderConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configValidateCmd, configShowCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "autotrader.yaml", "output path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "config file to check (required)")
	_ = configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.Default().SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nstart the engine with: trader serve -c %s\n", configInitOutput, configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configValidatePath)
	renderConfig(cmd.OutOrStdout(), cfg)
	return nil
}

// renderConfig prints one row per setting, grouped by section. Credentials
// only show whether they are set.
func renderConfig(w io.Writer, cfg *config.Config) {
	pct := func(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}

	t := newTable(w, "CONFIGURATION")
	t.AppendHeader(table.Row{"Section", "Setting", "Value"})
	section := func(name string, rows ...table.Row) {
		for i, r := range rows {
			if i == 0 {
				t.AppendRow(append(table.Row{name}, r...))
			} else {
				t.AppendRow(append(table.Row{""}, r...))
			}
		}
		t.AppendSeparator()
	}

	symbols := "per strategy"
	if len(cfg.Trading.Symbols) > 0 {
		symbols = strings.Join(cfg.Trading.Symbols, ",")
	}
	section("trading",
		table.Row{"mode", cfg.Trading.Mode},
		table.Row{"initial capital", money(cfg.Trading.InitialCapital)},
		table.Row{"taker fee", pct(cfg.Trading.TakerFee)},
		table.Row{"monitor interval", cfg.Trading.MonitorInterval},
		table.Row{"symbols", symbols},
	)
	section("risk",
		table.Row{"max position", pct(cfg.Risk.MaxPositionFraction)},
		table.Row{"max risk per trade", pct(cfg.Risk.MaxRiskPerTrade)},
		table.Row{"stop loss", pct(cfg.Risk.StopLossFraction)},
		table.Row{"take profit", pct(cfg.Risk.TakeProfitFraction)},
	)
	section("policy",
		table.Row{"max open positions", cfg.Policy.MaxOpenPositions},
		table.Row{"min order value", money(cfg.Policy.MinOrderValue)},
		table.Row{"min reward/risk", fmt.Sprintf("%.2f", cfg.Policy.MinRR)},
	)
	section("exchange",
		table.Row{"venue", "bybit " + cfg.Exchange.Env},
		table.Row{"category", cfg.Exchange.Category},
		table.Row{"qty decimals", cfg.Exchange.QtyDecimals},
		table.Row{"credentials", onOff(cfg.Exchange.APIKey != "" && cfg.Exchange.APISecret != "")},
	)
	section("live",
		table.Row{"order timeout", cfg.Live.Timeout},
		table.Row{"max retries", cfg.Live.MaxRetries},
	)
	market := "rest"
	if cfg.Market.Stream {
		market = "stream + rest"
	}
	section("market",
		table.Row{"prices", market},
		table.Row{"max price age", cfg.Market.MaxAge},
	)
	signals := cfg.Signals.Source
	if cfg.Signals.Source == "http" {
		signals += " " + cfg.Signals.HTTP.BaseURL
	}
	section("signals",
		table.Row{"source", signals},
		table.Row{"max age", cfg.Signals.MaxAge},
	)
	journal := cfg.Journal.Type
	if cfg.Journal.Path != "" && journal != "none" {
		journal += " " + cfg.Journal.Path
	}
	section("journal", table.Row{"store", journal})
	section("server",
		table.Row{"addr", cfg.Server.Addr},
		table.Row{"log", cfg.Log.Level + " " + cfg.Log.Format},
		table.Row{"tracing", onOff(cfg.Trace.Enabled)},
	)
	t.Render()
}
