package risk

// Policy holds the account-level limits checked before an entry order is
// placed. Zero values disable the corresponding check.
type Policy struct {
	MaxOpenPositions int     `json:"max_open_positions" yaml:"max_open_positions"`
	MinOrderValue    float64 `json:"min_order_value" yaml:"min_order_value"`
	MinRR            float64 `json:"min_rr" yaml:"min_rr"`
	MaxRiskPerTrade  float64 `json:"-" yaml:"-"`
	TakerFee         float64 `json:"-" yaml:"-"`
}

// DefaultPolicy suits USDT-quoted spot pairs; MinOrderValue matches the
// exchange's 5 USDT minimum order amount.
func DefaultPolicy() Policy {
	return Policy{
		MaxOpenPositions: 5,
		MinOrderValue:    5,
		MinRR:            1.5,
		MaxRiskPerTrade:  0.02,
		TakerFee:         0.0025,
	}
}

// Intent is a sized entry order awaiting approval.
type Intent struct {
	Symbol     string
	Quantity   float64
	Entry      float64
	Stop       float64
	TakeProfit float64
	// Adding is set when the order increases an existing position.
	Adding bool
}

// Account is the part of the ledger the policy needs.
type Account struct {
	Cash          float64
	Equity        float64
	OpenPositions int
}
