package strategy

import (
	"strings"

	"github.com/rustyeddy/autotrader/internal/errs"
)

// Kind is the closed set of strategy behaviours.
type Kind int

const (
	Momentum Kind = iota + 1
	Scalping
	Swing
	DCA
)

var kindNames = map[Kind]string{
	Momentum: "momentum",
	Scalping: "scalping",
	Swing:    "swing",
	DCA:      "dca",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind accepts the kind names plus the long form "swing_trading".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "momentum":
		return Momentum, nil
	case "scalping":
		return Scalping, nil
	case "swing", "swing_trading", "swing-trading":
		return Swing, nil
	case "dca":
		return DCA, nil
	}
	return 0, errs.Validationf("strategy.parse_kind", "unknown strategy kind %q (want momentum|scalping|swing|dca)", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
