// Package httpapi exposes the session controller over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rustyeddy/autotrader/internal/errs"
	"github.com/rustyeddy/autotrader/internal/logger"
	"github.com/rustyeddy/autotrader/internal/metrics"
	"github.com/rustyeddy/autotrader/session"
	"github.com/rustyeddy/autotrader/signal"
	"github.com/rustyeddy/autotrader/strategy"
)

const maxBody = 1 << 20

// Feed is the part of the market stream health reports on.
type Feed interface {
	Connected() bool
}

// Options wires the server. Board, Metrics and Feed are optional: without a
// board POST /signals is not served, without metrics neither is /metrics.
type Options struct {
	Controller *session.Controller
	Registry   *strategy.Registry
	Board      *signal.Board
	Metrics    *metrics.Recorder
	Feed       Feed
}

type Server struct {
	opts    Options
	mux     *http.ServeMux
	started time.Time
}

func New(opts Options) *Server {
	if opts.Registry == nil {
		opts.Registry = strategy.NewRegistry()
	}
	s := &Server{opts: opts, mux: http.NewServeMux(), started: time.Now()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /strategy/select", s.handleSelect)
	s.mux.HandleFunc("GET /trading/status", s.handleStatus)
	s.mux.HandleFunc("POST /trading/stop", s.handleStop)
	s.mux.HandleFunc("GET /strategies", s.handleStrategies)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.opts.Board != nil {
		s.mux.HandleFunc("POST /signals", s.handlePostSignal)
		s.mux.HandleFunc("GET /signals", s.handleListSignals)
	}
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	}
}

// Handler returns the routed handler wrapped in tracing and request logging.
func (s *Server) Handler() http.Handler {
	return observe(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := errs.HTTPStatus(err)
	if code >= 500 {
		logger.ErrorWithErr(ctx, "request failed", err, "status", code)
	}
	writeJSON(w, code, errorResponse{Error: err.Error(), Code: code})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errs.Validationf("httpapi.decode", "invalid JSON body: %v", err)
}
