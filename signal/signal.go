// Package signal carries trade recommendations from an external generator
// into the engine.
package signal

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rustyeddy/autotrader/internal/errs"
)

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

// ParseAction accepts any case and surrounding space.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case Buy, Sell, Hold:
		return a, nil
	default:
		return "", errs.Validationf("signal.parse_action", "unknown action %q (want BUY|SELL|HOLD)", s)
	}
}

type Signal struct {
	Symbol     string  `json:"symbol"`
	Action     Action  `json:"action"`
	Confidence float64 `json:"confidence"`
	// Strength is informational; sizing only uses Confidence.
	Strength    float64   `json:"strength,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// HoldFor is the neutral signal returned when nothing usable is known.
func HoldFor(symbol string, at time.Time) Signal {
	return Signal{Symbol: symbol, Action: Hold, GeneratedAt: at}
}

func (s Signal) Validate() error {
	const op = "signal.validate"
	if s.Symbol == "" {
		return errs.Validationf(op, "symbol is required")
	}
	if _, err := ParseAction(string(s.Action)); err != nil {
		return err
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return errs.Validationf(op, "confidence must be in [0,1], got %v", s.Confidence)
	}
	return nil
}

// Source supplies the current recommendation for a symbol.
type Source interface {
	GetSignal(ctx context.Context, symbol, timeframe string) (Signal, error)
}
