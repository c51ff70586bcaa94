package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/errs"
	"github.com/rustyeddy/autotrader/internal/logger"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/session"
	"github.com/rustyeddy/autotrader/signal"
	"github.com/rustyeddy/autotrader/strategy"
)

type tradingInfo struct {
	Mode           broker.Mode `json:"mode"`
	InitialCapital float64     `json:"initial_capital"`
}

type selectResponse struct {
	Success   bool                 `json:"success"`
	Message   string               `json:"message"`
	SessionID string               `json:"session_id"`
	Strategy  session.StrategyInfo `json:"strategy"`
	Trading   tradingInfo          `json:"trading"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req session.Request
	if err := decode(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	if req.StrategyID == "" {
		writeError(ctx, w, errs.Validationf("httpapi.select", "strategy_id is required"))
		return
	}

	info, err := s.opts.Controller.SelectStrategy(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, selectResponse{
		Success:   true,
		Message:   "strategy " + info.Strategy.ID + " selected, trading started",
		SessionID: info.SessionID,
		Strategy:  info.Strategy,
		Trading:   tradingInfo{Mode: info.Mode, InitialCapital: info.InitialCapital},
	})
}

type tradingStatus struct {
	Mode           broker.Mode       `json:"mode"`
	InitialCapital float64           `json:"initial_capital"`
	CurrentCapital float64           `json:"current_capital"`
	TotalAssets    float64           `json:"total_assets"`
	TotalPnL       float64           `json:"total_pnl"`
	PnLPercentage  float64           `json:"pnl_percentage"`
	WinRate        float64           `json:"win_rate"`
	MaxDrawdown    float64           `json:"max_drawdown"`
	Positions      []ledger.Position `json:"positions"`
	TotalTrades    int               `json:"total_trades"`
}

type statusResponse struct {
	IsTrading bool                  `json:"is_trading"`
	State     session.State         `json:"state"`
	SessionID string                `json:"session_id,omitempty"`
	Strategy  *session.StrategyInfo `json:"strategy"`
	Trading   *tradingStatus        `json:"trading,omitempty"`
	StoppedAt *time.Time            `json:"stopped_at,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.opts.Controller.Status()
	resp := statusResponse{
		IsTrading: st.IsTrading(),
		State:     st.State,
		SessionID: st.SessionID,
		Strategy:  st.Strategy,
	}
	if st.SessionID != "" {
		resp.Trading = &tradingStatus{
			Mode:           st.Mode,
			InitialCapital: st.InitialCapital,
			CurrentCapital: st.CurrentCapital,
			TotalAssets:    st.Stats.TotalAssets,
			TotalPnL:       st.Stats.TotalPnL,
			PnLPercentage:  st.Stats.PnLPercentage,
			WinRate:        st.Stats.WinRate,
			MaxDrawdown:    st.Stats.MaxDrawdown,
			Positions:      st.Positions,
			TotalTrades:    st.Stats.TotalTrades,
		}
	}
	if !st.StoppedAt.IsZero() {
		resp.StoppedAt = &st.StoppedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

type stopResponse struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	TradingResult *session.Summary `json:"trading_result,omitempty"`
}

// handleStop succeeds when nothing is running, reporting the last result if
// there was one.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sum, err := s.opts.Controller.StopTrading(ctx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, stopResponse{Success: true, Message: "trading stopped", TradingResult: &sum})
	case errors.Is(err, errs.ErrNotActive):
		resp := stopResponse{Success: true, Message: "no active trading session"}
		if last, ok := s.opts.Controller.LastSummary(); ok {
			resp.TradingResult = &last
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(ctx, w, err)
	}
}

type strategiesResponse struct {
	Strategies []strategy.Definition `json:"strategies"`
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, strategiesResponse{Strategies: s.opts.Registry.List()})
}

// signalRequest accepts "type" as an alias of "action".
type signalRequest struct {
	Symbol      string    `json:"symbol"`
	Action      string    `json:"action"`
	Type        string    `json:"type"`
	Confidence  float64   `json:"confidence"`
	Strength    float64   `json:"strength"`
	GeneratedAt time.Time `json:"generated_at"`
}

type signalResponse struct {
	Success bool          `json:"success"`
	Signal  signal.Signal `json:"signal"`
}

func (s *Server) handlePostSignal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req signalRequest
	if err := decode(r, &req); err != nil {
		writeError(ctx, w, err)
		return
	}
	action := req.Action
	if action == "" {
		action = req.Type
	}
	a, err := signal.ParseAction(action)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	sig, err := s.opts.Board.Post(signal.Signal{
		Symbol:      req.Symbol,
		Action:      a,
		Confidence:  req.Confidence,
		Strength:    req.Strength,
		GeneratedAt: req.GeneratedAt,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	logger.Debug(ctx, "signal posted", "symbol", sig.Symbol, "action", sig.Action, "confidence", sig.Confidence)
	writeJSON(w, http.StatusOK, signalResponse{Success: true, Signal: sig})
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"signals": s.opts.Board.Latest()})
}

type healthResponse struct {
	Status        string        `json:"status"`
	State         session.State `json:"state"`
	FeedConnected *bool         `json:"feed_connected,omitempty"`
	Uptime        string        `json:"uptime"`
}

// handleHealth reports "degraded" while the price stream is down; prices then
// come from REST and trading continues.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		State:  s.opts.Controller.Status().State,
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.Feed != nil {
		connected := s.opts.Feed.Connected()
		resp.FeedConnected = &connected
		if !connected {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
