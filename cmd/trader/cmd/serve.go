package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/brokerobs"
	"github.com/rustyeddy/autotrader/broker/bybit"
	"github.com/rustyeddy/autotrader/broker/live"
	"github.com/rustyeddy/autotrader/broker/paper"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/internal/errs"
	"github.com/rustyeddy/autotrader/internal/httpapi"
	"github.com/rustyeddy/autotrader/internal/logger"
	"github.com/rustyeddy/autotrader/internal/metrics"
	"github.com/rustyeddy/autotrader/internal/trace"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/session"
	"github.com/rustyeddy/autotrader/signal"
	"github.com/rustyeddy/autotrader/strategy"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trading engine and its HTTP API",
	Long: `Start the engine: price feed, journal, metrics and the HTTP API.

No session runs until a strategy is selected with POST /strategy/select
(or "trader select"). Interrupting the process stops an active session and
closes its positions first.

Example:
  trader serve -c autotrader.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.InitWithConfig(cfg.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	cfg.Trace.Version = version
	if err := trace.Init(cfg.Trace); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer trace.Shutdown(context.Background())

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, err := journal.Open(cfg.Journal.Type, cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	rec := metrics.New()

	client, err := bybit.NewClient(cfg.Exchange)
	if err != nil {
		return fmt.Errorf("bybit client: %w", err)
	}

	registry, err := registryFor(cfg)
	if err != nil {
		return err
	}

	var (
		prices market.PriceSource = client
		feed   *market.Feed
	)
	if cfg.Market.Stream {
		store := market.NewPriceStore(cfg.Market.MaxAge)
		url := cfg.Market.StreamURL
		if url == "" {
			url = market.StreamURL(cfg.Exchange.Env)
		}
		feed = market.NewFeed(market.FeedConfig{URL: url, Symbols: universe(cfg, registry)}, store)
		feed.Start(ctx)
		defer feed.Stop()
		prices = market.Chain{store, client}
	}

	var (
		board   *signal.Board
		signals signal.Source
	)
	switch cfg.Signals.Source {
	case "http":
		src, err := signal.NewHTTPSource(cfg.Signals.HTTP)
		if err != nil {
			return fmt.Errorf("signal source: %w", err)
		}
		signals = src
	default:
		board = signal.NewBoard(cfg.Signals.MaxAge)
		signals = board
	}

	mode, err := broker.ParseMode(cfg.Trading.Mode)
	if err != nil {
		return err
	}
	policy := cfg.Policy
	policy.TakerFee = cfg.Trading.TakerFee

	ctrl := session.New(session.Config{
		DefaultMode:     mode,
		DefaultCapital:  cfg.Trading.InitialCapital,
		MonitorInterval: cfg.Trading.MonitorInterval,
		SignalBackoff:   cfg.Trading.SignalBackoff,
		Symbols:         cfg.Trading.Symbols,
		Policy:          policy,
	}, session.Deps{
		Registry:  registry,
		Executors: executorFactory(cfg, client, rec),
		Prices:    prices,
		Signals:   signals,
		Journal:   j,
		Metrics:   rec,
	})

	opts := httpapi.Options{
		Controller: ctrl,
		Registry:   registry,
		Board:      board,
		Metrics:    rec,
	}
	if feed != nil {
		opts.Feed = feed
	}

	logger.Info(ctx, "engine starting",
		"addr", cfg.Server.Addr, "default_mode", mode, "exchange_env", client.Environment(),
		"signals", cfg.Signals.Source, "journal", cfg.Journal.Type, "stream", cfg.Market.Stream)

	serveErr := httpapi.New(opts).ListenAndServe(ctx, cfg.Server.Addr)

	if sum, err := ctrl.StopTrading(context.Background()); err == nil {
		logger.Info(ctx, "session stopped on shutdown",
			"session_id", sum.SessionID, "final_capital", sum.FinalCapital, "total_pnl", sum.TotalPnL)
	} else if !errors.Is(err, errs.ErrNotActive) {
		logger.ErrorWithErr(ctx, "stop on shutdown failed", err)
	}
	return serveErr
}

// executorFactory builds the observed executor for a session's mode. Live
// trading needs exchange credentials.
func executorFactory(cfg *config.Config, client *bybit.Client, rec *metrics.Recorder) session.ExecutorFactory {
	return func(mode broker.Mode) (broker.Executor, error) {
		switch mode {
		case broker.Paper:
			return brokerobs.Wrap(paper.New(cfg.Trading.TakerFee), rec), nil
		case broker.Live:
			if !client.HasCredentials() {
				return nil, fmt.Errorf("live trading needs BYBIT_API_KEY and BYBIT_API_SECRET")
			}
			return brokerobs.Wrap(live.New(client, cfg.Live), rec), nil
		default:
			return nil, fmt.Errorf("unsupported mode %q", mode)
		}
	}
}

// registryFor caps every built-in strategy at the configured account-wide
// position and risk fractions.
func registryFor(cfg *config.Config) (*strategy.Registry, error) {
	reg := strategy.NewRegistry()
	for _, def := range reg.List() {
		if def.Risk.MaxPositionFraction > cfg.Risk.MaxPositionFraction {
			def.Risk.MaxPositionFraction = cfg.Risk.MaxPositionFraction
		}
		if def.Risk.MaxRiskPerTrade > cfg.Risk.MaxRiskPerTrade {
			def.Risk.MaxRiskPerTrade = cfg.Risk.MaxRiskPerTrade
		}
		s, err := strategy.New(def)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", def.ID, err)
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// universe is every symbol any session could trade.
func universe(cfg *config.Config, reg *strategy.Registry) []string {
	seen := make(map[string]bool)
	for _, s := range cfg.Trading.Symbols {
		seen[s] = true
	}
	for _, def := range reg.List() {
		for _, s := range def.Symbols {
			seen[s] = true
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
