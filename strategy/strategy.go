// Package strategy defines the trading strategies a session can run.
//
// A strategy never trades by itself. It turns a signal into an entry weight
// and supplies the risk settings the session sizes orders with.
package strategy

import (
	"math"
	"time"

	"github.com/rustyeddy/autotrader/risk"
	"github.com/rustyeddy/autotrader/signal"
)

var (
	DefaultSymbols = []string{"BTCUSDT", "ETHUSDT", "XRPUSDT"}
	majors         = []string{"BTCUSDT", "ETHUSDT"}
)

// Definition is the immutable description of a strategy.
type Definition struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name" yaml:"name"`
	Kind        Kind               `json:"type" yaml:"type"`
	Description string             `json:"description" yaml:"description"`
	Params      map[string]float64 `json:"params,omitempty" yaml:"params,omitempty"`
	Cadence     time.Duration      `json:"cadence" yaml:"cadence"`
	Timeframe   string             `json:"timeframe" yaml:"timeframe"`
	Symbols     []string           `json:"symbols" yaml:"symbols"`
	Risk        risk.Settings      `json:"risk" yaml:"risk"`
}

// Clone returns a deep copy.
func (d Definition) Clone() Definition {
	if d.Params != nil {
		p := make(map[string]float64, len(d.Params))
		for k, v := range d.Params {
			p[k] = v
		}
		d.Params = p
	}
	d.Symbols = append([]string(nil), d.Symbols...)
	return d
}

type Strategy interface {
	Definition() Definition
	// Weight is the confidence to size an entry with; zero means no entry.
	Weight(sig signal.Signal, hasPosition bool) float64
	RiskSettings() risk.Settings
}

// New builds the strategy for def.Kind.
func New(def Definition) (Strategy, error) {
	if err := def.Risk.Validate(); err != nil {
		return nil, err
	}
	b := base{def: def.Clone()}
	switch def.Kind {
	case Momentum:
		return momentum{b}, nil
	case Scalping:
		return scalping{b}, nil
	case Swing:
		return swing{b}, nil
	case DCA:
		return dca{b}, nil
	}
	_, err := ParseKind(def.Kind.String())
	return nil, err
}

type base struct{ def Definition }

func (b base) Definition() Definition { return b.def.Clone() }
func (b base) RiskSettings() risk.Settings { return b.def.Risk }

func (b base) param(name string, def float64) float64 {
	if v, ok := b.def.Params[name]; ok {
		return v
	}
	return def
}

// threshold entry shared by the signal-following kinds.
func (b base) enter(sig signal.Signal, hasPosition bool) float64 {
	if hasPosition || sig.Action != signal.Buy {
		return 0
	}
	if sig.Confidence <= b.param("min_confidence", 0.7) {
		return 0
	}
	return sig.Confidence
}

// momentum follows strong BUY signals.
type momentum struct{ base }

func (m momentum) Weight(sig signal.Signal, hasPosition bool) float64 {
	return m.enter(sig, hasPosition)
}

// scalping trades small and exits fast.
type scalping struct{ base }

func (s scalping) Weight(sig signal.Signal, hasPosition bool) float64 {
	w := s.enter(sig, hasPosition)
	return math.Min(w, s.param("size_multiplier", 0.5))
}

// swing accepts weaker signals and holds for wider moves.
type swing struct{ base }

func (s swing) Weight(sig signal.Signal, hasPosition bool) float64 {
	return s.enter(sig, hasPosition)
}

// dca buys a fixed slice of capital every cadence regardless of confidence,
// adding to any open position, unless told to sell.
type dca struct{ base }

func (d dca) Weight(sig signal.Signal, hasPosition bool) float64 {
	if sig.Action == signal.Sell {
		return 0
	}
	frac := d.def.Risk.MaxPositionFraction
	if frac <= 0 {
		return 0
	}
	return math.Min(d.param("amount_fraction", 0.05)/frac, 1)
}

// Builtins returns the definitions of the shipped strategies.
func Builtins() []Definition {
	def := risk.DefaultSettings()

	scalp := def
	scalp.StopLossFraction = 0.01
	scalp.TakeProfitFraction = 0.02

	wide := def
	wide.StopLossFraction = 0.08
	wide.TakeProfitFraction = 0.20

	return []Definition{
		{
			ID:          "momentum",
			Name:        "Momentum",
			Kind:        Momentum,
			Description: "Enters on BUY signals with confidence above 0.7.",
			Params:      map[string]float64{"min_confidence": 0.7},
			Cadence:     5 * time.Minute,
			Timeframe:   "1h",
			Symbols:     append([]string(nil), DefaultSymbols...),
			Risk:        def,
		},
		{
			ID:          "scalping",
			Name:        "Scalping",
			Kind:        Scalping,
			Description: "Half-size entries on strong signals with tight exits.",
			Params:      map[string]float64{"min_confidence": 0.7, "size_multiplier": 0.5},
			Cadence:     30 * time.Second,
			Timeframe:   "1m",
			Symbols:     append([]string(nil), majors...),
			Risk:        scalp,
		},
		{
			ID:          "swing",
			Name:        "Swing Trading",
			Kind:        Swing,
			Description: "Enters on BUY signals with confidence above 0.6 and rides wider moves.",
			Params:      map[string]float64{"min_confidence": 0.6},
			Cadence:     5 * time.Minute,
			Timeframe:   "4h",
			Symbols:     append([]string(nil), DefaultSymbols...),
			Risk:        wide,
		},
		{
			ID:          "dca",
			Name:        "Dollar Cost Averaging",
			Kind:        DCA,
			Description: "Buys 5% of capital per symbol every hour.",
			Params:      map[string]float64{"amount_fraction": 0.05},
			Cadence:     time.Hour,
			Timeframe:   "1d",
			Symbols:     append([]string(nil), majors...),
			Risk:        def,
		},
	}
}
