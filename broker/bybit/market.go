package bybit

import (
	"context"
	"fmt"

	"github.com/rustyeddy/autotrader/internal/errs"
)

// GetCurrentPrice returns the last traded price for symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	const op = "bybit.ticker"

	resp, err := c.call(ctx, epTickers, map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
	})
	if err != nil {
		return 0, transportErr(op, err)
	}

	var tickers tickerList
	if err := decode(op, resp, &tickers); err != nil {
		return 0, err
	}
	for _, t := range tickers.List {
		if t.Symbol != "" && t.Symbol != symbol {
			continue
		}
		price := parseDecimal(t.LastPrice)
		if !price.IsPositive() {
			return 0, errs.E(errs.KindTransient, op, fmt.Sprintf("no last price for %s", symbol))
		}
		return price.InexactFloat64(), nil
	}
	return 0, errs.E(errs.KindTransient, op, fmt.Sprintf("no ticker data for %s", symbol))
}
