// Package session runs one trading session at a time: it owns the session
// lifecycle, places orders for strategy signals and protects open positions.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/errs"
	"github.com/rustyeddy/autotrader/internal/logger"
	"github.com/rustyeddy/autotrader/internal/metrics"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/market"
	"github.com/rustyeddy/autotrader/monitor"
	"github.com/rustyeddy/autotrader/pkg/id"
	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/signal"
	"github.com/rustyeddy/autotrader/strategy"
)

type State string

const (
	Idle     State = "IDLE"
	Active   State = "ACTIVE"
	Stopping State = "STOPPING"
	Stopped  State = "STOPPED"
)

// Close reasons besides the monitor's stop_loss and take_profit.
const (
	ReasonSignal      = "signal"
	ReasonSessionStop = "session_stop"
	ReasonEntry       = "entry"
)

// ExecutorFactory returns the executor for a trading mode.
type ExecutorFactory func(mode broker.Mode) (broker.Executor, error)

type Config struct {
	DefaultMode     broker.Mode
	DefaultCapital  float64
	MonitorInterval time.Duration
	// SignalBackoff is the pause after a failed signal pass.
	SignalBackoff time.Duration
	// Symbols overrides the strategy universe when non-empty.
	Symbols []string
	Policy  risk.Policy
}

func DefaultConfig() Config {
	return Config{
		DefaultMode:     broker.Paper,
		DefaultCapital:  1_000_000,
		MonitorInterval: monitor.DefaultInterval,
		SignalBackoff:   time.Minute,
		Policy:          risk.DefaultPolicy(),
	}
}

// Deps are the collaborators a controller needs. Journal and Metrics may be
// nil.
type Deps struct {
	Registry  *strategy.Registry
	Executors ExecutorFactory
	Prices    market.PriceSource
	Signals   signal.Source
	Journal   journal.Journal
	Metrics   *metrics.Recorder
}

// Request selects a strategy and starts a session. Zero Mode and
// InitialCapital take the configured defaults; zero MaxRisk keeps the
// strategy's own limit.
type Request struct {
	StrategyID     string  `json:"strategy_id"`
	Mode           string  `json:"trading_mode"`
	InitialCapital float64 `json:"initial_capital"`
	MaxRisk        float64 `json:"max_risk"`
	AutoSwitch     bool    `json:"auto_switch"`
}

type StrategyInfo struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Type       strategy.Kind `json:"type"`
	StartedAt  time.Time     `json:"started_at"`
	AutoSwitch bool          `json:"auto_switch"`
}

// Info describes a freshly started session.
type Info struct {
	SessionID      string       `json:"session_id"`
	Strategy       StrategyInfo `json:"strategy"`
	Mode           broker.Mode  `json:"mode"`
	InitialCapital float64      `json:"initial_capital"`
}

// Summary is the outcome of a stopped session.
type Summary struct {
	SessionID    string    `json:"session_id"`
	FinalCapital float64   `json:"final_capital"`
	TotalPnL     float64   `json:"total_pnl"`
	TotalTrades  int       `json:"total_trades"`
	StoppedAt    time.Time `json:"stopped_at"`
}

type Status struct {
	State          State             `json:"state"`
	SessionID      string            `json:"session_id,omitempty"`
	Strategy       *StrategyInfo     `json:"strategy,omitempty"`
	Mode           broker.Mode       `json:"mode,omitempty"`
	InitialCapital float64           `json:"initial_capital"`
	CurrentCapital float64           `json:"current_capital"`
	Positions      []ledger.Position `json:"positions"`
	Stats          ledger.Stats      `json:"stats"`
	StoppedAt      time.Time         `json:"stopped_at,omitempty"`
}

// IsTrading reports whether a session is running.
func (s Status) IsTrading() bool { return s.State == Active }

// Controller is the single owner of the trading session. Create one per
// process and share it explicitly.
type Controller struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	mu    sync.Mutex
	state State
	cur   *session
}

func New(cfg Config, deps Deps) *Controller {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = broker.Paper
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = monitor.DefaultInterval
	}
	if cfg.SignalBackoff <= 0 {
		cfg.SignalBackoff = time.Minute
	}
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	if deps.Registry == nil {
		deps.Registry = strategy.NewRegistry()
	}
	return &Controller{cfg: cfg, deps: deps, now: time.Now, state: Idle}
}

// session is one run of a strategy. Everything but the ledger and the
// in-flight set is fixed once it starts.
type session struct {
	id         string
	mode       broker.Mode
	strat      strategy.Strategy
	def        strategy.Definition
	settings   risk.Settings
	policy     risk.Policy
	symbols    []string
	autoSwitch bool
	startedAt  time.Time

	ledger *ledger.Ledger
	exec   broker.Executor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flightMu sync.Mutex
	inFlight map[string]struct{}

	// applyMu orders fills against closing the session for good.
	applyMu sync.Mutex
	closed  bool

	// done is closed once the stop sequence has finished.
	done      chan struct{}
	summary   Summary
	stoppedAt time.Time
}

func (c *Controller) SelectStrategy(ctx context.Context, req Request) (Info, error) {
	const op = "session.select"

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Active || c.state == Stopping {
		return Info{}, errs.ErrAlreadyActive
	}

	strat, err := c.deps.Registry.Lookup(req.StrategyID)
	if err != nil {
		return Info{}, err
	}

	mode := c.cfg.DefaultMode
	if req.Mode != "" {
		if mode, err = broker.ParseMode(req.Mode); err != nil {
			return Info{}, errs.Wrap(err, errs.KindValidation, op)
		}
	}
	capital := req.InitialCapital
	if capital == 0 {
		capital = c.cfg.DefaultCapital
	}
	if !(capital > 0) {
		return Info{}, errs.Validationf(op, "initial capital must be positive, got %v", capital)
	}

	def := strat.Definition()
	settings := strat.RiskSettings()
	if req.MaxRisk != 0 {
		if !(req.MaxRisk > 0 && req.MaxRisk <= 1) {
			return Info{}, errs.Validationf(op, "max_risk must be in (0,1], got %v", req.MaxRisk)
		}
		settings.MaxRiskPerTrade = req.MaxRisk
	}
	if err := settings.Validate(); err != nil {
		return Info{}, errs.Wrap(err, errs.KindValidation, op)
	}

	exec, err := c.deps.Executors(mode)
	if err != nil {
		return Info{}, errs.Wrap(err, errs.KindValidation, op+": executor for "+string(mode))
	}

	policy := c.cfg.Policy
	policy.MaxRiskPerTrade = settings.MaxRiskPerTrade

	symbols := def.Symbols
	if len(c.cfg.Symbols) > 0 {
		symbols = append([]string(nil), c.cfg.Symbols...)
	}

	sid := id.Session()
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:         sid,
		mode:       mode,
		strat:      strat,
		def:        def,
		settings:   settings,
		policy:     policy,
		symbols:    symbols,
		autoSwitch: req.AutoSwitch,
		startedAt:  c.now(),
		ledger:     ledger.New(capital, ledger.WithJournal(c.deps.Journal, sid)),
		exec:       exec,
		ctx:        sctx,
		cancel:     cancel,
		inFlight:   make(map[string]struct{}),
		done:       make(chan struct{}),
	}

	mon := monitor.New(s.ledger, c.deps.Prices, monitor.CloserFunc(func(ctx context.Context, symbol, reason string) error {
		_, err := c.closePosition(ctx, s, symbol, reason)
		return err
	}), c.cfg.MonitorInterval, c.deps.Metrics)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		mon.Run(sctx)
	}()
	go func() {
		defer s.wg.Done()
		c.signalLoop(sctx, s)
	}()

	c.cur = s
	c.state = Active
	c.deps.Metrics.SetSessionActive(def.ID, string(mode), true)
	c.deps.Metrics.UpdatePortfolio(capital, capital, 0)

	logger.Info(ctx, "trading session started",
		"session_id", sid, "strategy", def.ID, "mode", mode, "initial_capital", capital,
		"symbols", symbols, "max_risk", settings.MaxRiskPerTrade)

	return Info{
		SessionID: sid,
		Strategy: StrategyInfo{
			ID:         def.ID,
			Name:       def.Name,
			Type:       def.Kind,
			StartedAt:  s.startedAt,
			AutoSwitch: req.AutoSwitch,
		},
		Mode:           mode,
		InitialCapital: capital,
	}, nil
}

// StopTrading stops the active session and closes its positions at market.
// Concurrent callers all receive the summary of the single stop sequence.
func (c *Controller) StopTrading(ctx context.Context) (Summary, error) {
	c.mu.Lock()
	s := c.cur
	switch c.state {
	case Active:
		c.state = Stopping
	case Stopping:
		c.mu.Unlock()
		select {
		case <-s.done:
			return s.summary, nil
		case <-ctx.Done():
			return Summary{}, errs.Wrap(ctx.Err(), errs.KindTransient, "session.stop")
		}
	default:
		c.mu.Unlock()
		return Summary{}, errs.ErrNotActive
	}
	c.mu.Unlock()

	logger.Info(ctx, "stopping trading session", "session_id", s.id)

	s.cancel()
	s.wg.Wait()

	fctx := context.WithoutCancel(ctx)
	for _, p := range s.ledger.Positions() {
		if _, err := c.closePosition(fctx, s, p.Symbol, ReasonSessionStop); err != nil {
			logger.ErrorWithErr(fctx, "force close failed", err, "session_id", s.id, "symbol", p.Symbol)
		}
	}

	s.applyMu.Lock()
	s.closed = true
	s.applyMu.Unlock()

	st := s.ledger.Stats()
	s.stoppedAt = c.now()
	s.summary = Summary{
		SessionID:    s.id,
		FinalCapital: st.TotalAssets,
		TotalPnL:     st.TotalPnL,
		TotalTrades:  st.TotalTrades,
		StoppedAt:    s.stoppedAt,
	}

	c.mu.Lock()
	c.state = Stopped
	c.mu.Unlock()
	close(s.done)

	c.deps.Metrics.SetSessionActive(s.def.ID, string(s.mode), false)
	logger.Info(fctx, "trading session stopped",
		"session_id", s.id, "final_capital", st.TotalAssets, "total_pnl", st.TotalPnL, "trades", st.TotalTrades)
	return s.summary, nil
}

// LastSummary returns the result of the most recent stop, if any.
func (c *Controller) LastSummary() (Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Stopped || c.cur == nil {
		return Summary{}, false
	}
	return c.cur.summary, true
}

// Status reports the controller state and, once a session exists, its
// figures. The last session stays visible after it stops.
func (c *Controller) Status() Status {
	c.mu.Lock()
	state, s := c.state, c.cur
	c.mu.Unlock()

	st := Status{State: state, Positions: []ledger.Position{}}
	if s == nil {
		return st
	}

	snap := s.ledger.Snapshot()
	st.SessionID = s.id
	st.Strategy = &StrategyInfo{
		ID:         s.def.ID,
		Name:       s.def.Name,
		Type:       s.def.Kind,
		StartedAt:  s.startedAt,
		AutoSwitch: s.autoSwitch,
	}
	st.Mode = s.mode
	st.InitialCapital = snap.InitialCapital
	st.CurrentCapital = snap.Cash
	st.Positions = snap.Positions
	st.Stats = snap.Stats
	if state == Stopped {
		st.StoppedAt = s.stoppedAt
	}
	return st
}

// ClosePosition exits the whole position in symbol on the active session.
// The close counts as session work, so StopTrading waits for it to settle
// before it force-closes what is left.
func (c *Controller) ClosePosition(ctx context.Context, symbol, reason string) error {
	c.mu.Lock()
	s := c.cur
	if s == nil || c.state != Active {
		c.mu.Unlock()
		return errs.ErrNotActive
	}
	s.wg.Add(1)
	c.mu.Unlock()
	defer s.wg.Done()

	_, err := c.closePosition(ctx, s, symbol, reason)
	return err
}
