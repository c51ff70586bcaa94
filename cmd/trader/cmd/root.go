package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/config"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "A crypto spot trading engine with paper and live execution",
	Long: `Trader runs one strategy-driven trading session at a time against Bybit
spot markets, either on paper or live.

It provides tools for:
  - Serving the engine's HTTP API (select, status, stop, signals)
  - Driving a running engine from the command line
  - Generating and validating configuration files
  - Querying the trade journal

Secrets are read from the environment or a .env file:
  BYBIT_API_KEY, BYBIT_API_SECRET, BYBIT_ENV`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env is normal.
		_ = godotenv.Load()
	},
}

var (
	configPath string
	serverURL  string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML or JSON); defaults apply when empty")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("TRADER_URL", "http://localhost:8080"), "engine API base URL for client commands")
}

// loadConfig reads the config file when one was given, then overlays the
// environment.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
