package bybit

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/errs"
)

var _ broker.Exchange = (*Client)(nil)

// PlaceOrder submits a market order sized in the base coin. The engine order
// id is sent as orderLinkId. When a resubmission is refused as a duplicate,
// the earlier request did reach the exchange and that order is returned.
func (c *Client) PlaceOrder(ctx context.Context, o broker.Order) (string, error) {
	const op = "bybit.place_order"

	qty := FormatQty(o.Quantity, c.qtyDecimals)
	if d, _ := decimal.NewFromString(qty); !d.IsPositive() {
		return "", errs.Validationf(op, "quantity %v rounds to zero at %d decimals", o.Quantity, c.qtyDecimals)
	}

	params := map[string]interface{}{
		"category":  c.category,
		"symbol":    o.Symbol,
		"side":      sideParam(o.Side),
		"orderType": "Market",
		"qty":       qty,
	}
	if c.category == CategorySpot {
		params["marketUnit"] = "baseCoin"
	}
	if o.ID != "" {
		params["orderLinkId"] = o.ID
	}

	resp, err := c.call(ctx, epPlaceOrder, params)
	if err != nil {
		return "", transportErr(op, err)
	}

	var info orderInfo
	if err := decode(op, resp, &info); err != nil {
		if IsDuplicateLinkID(err) && o.ID != "" {
			return c.findByLinkID(ctx, o.Symbol, o.ID)
		}
		return "", err
	}
	if info.OrderID == "" {
		return "", errs.E(errs.KindFatal, op, "no order id in response")
	}
	return info.OrderID, nil
}

// findByLinkID resolves an orderLinkId to the exchange order id.
func (c *Client) findByLinkID(ctx context.Context, symbol, linkID string) (string, error) {
	const op = "bybit.find_order"

	params := map[string]interface{}{
		"category":    c.category,
		"symbol":      symbol,
		"orderLinkId": linkID,
	}
	for _, ep := range []endpoint{epOpenOrders, epOrderHistory} {
		resp, err := c.call(ctx, ep, params)
		if err != nil {
			return "", transportErr(op, err)
		}
		var list orderList
		if err := decode(op, resp, &list); err != nil {
			return "", err
		}
		for _, info := range list.List {
			if info.OrderLinkID == linkID && info.OrderID != "" {
				return info.OrderID, nil
			}
		}
	}
	return "", errs.E(errs.KindTransient, op, fmt.Sprintf("order with link id %s not visible yet", linkID))
}

func (c *Client) CancelOrder(ctx context.Context, symbol, exchangeID string) error {
	const op = "bybit.cancel_order"

	resp, err := c.call(ctx, epCancelOrder, map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"orderId":  exchangeID,
	})
	if err != nil {
		return transportErr(op, err)
	}
	// 110001 (already filled or gone) comes back as a fatal APIError; the
	// caller reads the order state next either way.
	return decode(op, resp, nil)
}

// GetOrderStatus looks the order up among open orders first and falls back
// to order history once it has left the book.
func (c *Client) GetOrderStatus(ctx context.Context, symbol, exchangeID string) (broker.Result, error) {
	const op = "bybit.order_status"

	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"orderId":  exchangeID,
	}

	for _, ep := range []endpoint{epOpenOrders, epOrderHistory} {
		resp, err := c.call(ctx, ep, params)
		if err != nil {
			return broker.Result{}, transportErr(op, err)
		}
		var list orderList
		if err := decode(op, resp, &list); err != nil {
			return broker.Result{}, err
		}
		for _, info := range list.List {
			if info.OrderID == exchangeID {
				return info.result(c.category, c.qtyDecimals), nil
			}
		}
	}

	// Freshly accepted orders can be missing from both views for a moment.
	return broker.Result{}, errs.E(errs.KindTransient, op, fmt.Sprintf("order %s not visible yet", exchangeID))
}
