package bybit

import (
	"encoding/json"
	"fmt"
	"strings"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/errs"
)

type orderInfo struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderStatus string `json:"orderStatus"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
	CumExecFee  string `json:"cumExecFee"`
}

type orderList struct {
	List []orderInfo `json:"list"`
}

type tickerList struct {
	Category string `json:"category"`
	List     []struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"list"`
}

// decode checks the return code and decodes the result payload into out.
func decode(op string, response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok || serverResp == nil {
		return errs.E(errs.KindFatal, op, fmt.Sprintf("invalid response type %T", response))
	}
	if serverResp.RetCode != 0 {
		return apiErr(op, serverResp.RetCode, serverResp.RetMsg)
	}
	if out == nil {
		return nil
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return errs.Wrap(fmt.Errorf("marshal result: %w", err), errs.KindFatal, op)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return errs.Wrap(fmt.Errorf("unmarshal result: %w", err), errs.KindFatal, op)
	}
	return nil
}

// mapStatus converts a Bybit order status. Working states map to pending or
// partially_filled, which are not terminal.
func mapStatus(s string) broker.Status {
	switch s {
	case "Filled":
		return broker.StatusFilled
	case "PartiallyFilled":
		return broker.StatusPartiallyFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return broker.StatusCancelled
	case "Rejected":
		return broker.StatusError
	default: // New, Created, Untriggered, Triggered
		return broker.StatusPending
	}
}

// result converts an order into quote-currency terms. Spot buys are charged
// in the base coin, so the filled quantity is what actually landed in the
// wallet, truncated to lot precision so a later close can sell all of it.
// The truncated remainder is booked as fee with the base-coin fee.
func (o orderInfo) result(category string, qtyDecimals int32) broker.Result {
	qty := parseDecimal(o.CumExecQty)
	avg := parseDecimal(o.AvgPrice)
	fee := parseDecimal(o.CumExecFee)

	if category == CategorySpot && strings.EqualFold(o.Side, "Buy") && qty.IsPositive() {
		held := qty.Sub(fee).Truncate(qtyDecimals)
		if held.IsNegative() {
			held = decimal.Zero
		}
		fee = qty.Sub(held).Mul(avg)
		qty = held
	}

	return broker.Result{
		OrderID:        o.OrderID,
		Status:         mapStatus(o.OrderStatus),
		FilledQuantity: qty.InexactFloat64(),
		AvgFillPrice:   avg.InexactFloat64(),
		Fee:            fee.InexactFloat64(),
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FormatQty renders a quantity truncated to the given number of decimals.
func FormatQty(qty float64, decimals int32) string {
	return decimal.NewFromFloat(qty).Truncate(decimals).String()
}

func sideParam(s broker.Side) string {
	if s == broker.Sell {
		return "Sell"
	}
	return "Buy"
}
