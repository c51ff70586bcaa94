// Package metrics exposes Prometheus collectors for the trading engine.
//
// A nil *Recorder is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autotrader"

type Recorder struct {
	reg *prometheus.Registry

	ordersTotal      *prometheus.CounterVec
	fillsTotal       *prometheus.CounterVec
	feesTotal        *prometheus.CounterVec
	closesTotal      *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec
	monitorErrors    *prometheus.CounterVec
	executionLatency *prometheus.HistogramVec
	equity           prometheus.Gauge
	cash             prometheus.Gauge
	openPositions    prometheus.Gauge
	sessionActive    *prometheus.GaugeVec
}

// New builds a Recorder on its own registry, with Go runtime and process
// collectors included.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		ordersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_total",
				Help:      "Orders submitted, by symbol, side, mode and resulting status",
			},
			[]string{"symbol", "side", "mode", "status"},
		),
		fillsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fills_total",
				Help:      "Fills applied to the ledger",
			},
			[]string{"symbol", "side"},
		),
		feesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fees_total",
				Help:      "Fees paid in quote currency",
			},
			[]string{"symbol"},
		),
		closesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "position_closes_total",
				Help:      "Positions closed, by reason",
			},
			[]string{"symbol", "reason"},
		),
		rejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "intent_rejections_total",
				Help:      "Trade intents rejected before submission, by violation code",
			},
			[]string{"code"},
		),
		monitorErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "monitor_errors_total",
				Help:      "Per-symbol errors in the position monitor",
			},
			[]string{"symbol"},
		),
		executionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_seconds",
				Help:      "Time from order submission to result",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
			},
			[]string{"mode"},
		),
		equity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "equity",
			Help:      "Marked-to-market equity",
		}),
		cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cash",
			Help:      "Available cash",
		}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),
		sessionActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_active",
				Help:      "1 while a trading session runs the given strategy",
			},
			[]string{"strategy", "mode"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ordersTotal,
		r.fillsTotal,
		r.feesTotal,
		r.closesTotal,
		r.rejectionsTotal,
		r.monitorErrors,
		r.executionLatency,
		r.equity,
		r.cash,
		r.openPositions,
		r.sessionActive,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

func (r *Recorder) RecordOrder(symbol, side, mode, status string, took time.Duration) {
	if r == nil {
		return
	}
	r.ordersTotal.WithLabelValues(symbol, side, mode, status).Inc()
	r.executionLatency.WithLabelValues(mode).Observe(took.Seconds())
}

func (r *Recorder) RecordFill(symbol, side string, fee float64) {
	if r == nil {
		return
	}
	r.fillsTotal.WithLabelValues(symbol, side).Inc()
	if fee > 0 {
		r.feesTotal.WithLabelValues(symbol).Add(fee)
	}
}

func (r *Recorder) RecordClose(symbol, reason string) {
	if r == nil {
		return
	}
	r.closesTotal.WithLabelValues(symbol, reason).Inc()
}

func (r *Recorder) RecordRejection(code string) {
	if r == nil {
		return
	}
	r.rejectionsTotal.WithLabelValues(code).Inc()
}

func (r *Recorder) RecordMonitorError(symbol string) {
	if r == nil {
		return
	}
	r.monitorErrors.WithLabelValues(symbol).Inc()
}

// UpdatePortfolio sets the account gauges.
func (r *Recorder) UpdatePortfolio(cash, equity float64, open int) {
	if r == nil {
		return
	}
	r.cash.Set(cash)
	r.equity.Set(equity)
	r.openPositions.Set(float64(open))
}

func (r *Recorder) SetSessionActive(strategy, mode string, active bool) {
	if r == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	r.sessionActive.WithLabelValues(strategy, mode).Set(v)
}
