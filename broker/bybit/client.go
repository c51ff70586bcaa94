// Package bybit talks to the Bybit v5 unified trading API. It implements
// broker.Exchange for spot orders and serves last-traded prices.
package bybit

import (
	"context"
	"fmt"
	"strings"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

const (
	CategorySpot = "spot"
	DemoURL      = "https://api-demo.bybit.com"
)

type Config struct {
	APIKey    string `json:"-" yaml:"-"`
	APISecret string `json:"-" yaml:"-"`
	// Env is mainnet, testnet or demo.
	Env      string `json:"env" yaml:"env"`
	Category string `json:"category" yaml:"category"`
	// QtyDecimals truncates order quantities to the instrument's lot precision.
	QtyDecimals int32 `json:"qty_decimals" yaml:"qty_decimals"`
}

func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "mainnet", "live":
		return bybit_api.MAINNET, nil
	case "testnet":
		return bybit_api.TESTNET, nil
	case "demo":
		return DemoURL, nil
	default:
		return "", fmt.Errorf("unknown bybit env %q (want mainnet|testnet|demo)", env)
	}
}

type endpoint string

const (
	epPlaceOrder   endpoint = "PlaceOrder"
	epCancelOrder  endpoint = "CancelOrder"
	epOpenOrders   endpoint = "GetOpenOrders"
	epOrderHistory endpoint = "GetOrderHistory"
	epTickers      endpoint = "GetMarketTickers"
)

// caller performs one API request and returns the SDK response.
type caller func(ctx context.Context, ep endpoint, params map[string]interface{}) (interface{}, error)

type Client struct {
	hasKeys     bool
	category    string
	qtyDecimals int32
	env         string
	call        caller
}

func NewClient(cfg Config) (*Client, error) {
	baseURL, err := BaseURL(cfg.Env)
	if err != nil {
		return nil, err
	}
	httpClient := bybit_api.NewBybitHttpClient(
		cfg.APIKey,
		cfg.APISecret,
		bybit_api.WithBaseURL(baseURL),
	)

	c := newClient(cfg, func(ctx context.Context, ep endpoint, params map[string]interface{}) (interface{}, error) {
		svc := httpClient.NewUtaBybitServiceWithParams(params)
		switch ep {
		case epPlaceOrder:
			res, err := svc.PlaceOrder(ctx)
			return res, err
		case epCancelOrder:
			res, err := svc.CancelOrder(ctx)
			return res, err
		case epOpenOrders:
			res, err := svc.GetOpenOrders(ctx)
			return res, err
		case epOrderHistory:
			res, err := svc.GetOrderHistory(ctx)
			return res, err
		case epTickers:
			res, err := svc.GetMarketTickers(ctx)
			return res, err
		}
		return nil, fmt.Errorf("bybit: unsupported endpoint %s", ep)
	})
	return c, nil
}

func newClient(cfg Config, call caller) *Client {
	c := &Client{
		hasKeys:     cfg.APIKey != "" && cfg.APISecret != "",
		category:    cfg.Category,
		qtyDecimals: cfg.QtyDecimals,
		env:         strings.ToLower(strings.TrimSpace(cfg.Env)),
		call:        call,
	}
	if c.category == "" {
		c.category = CategorySpot
	}
	if c.qtyDecimals <= 0 {
		c.qtyDecimals = 6
	}
	if c.env == "" {
		c.env = "mainnet"
	}
	return c
}

// HasCredentials reports whether private endpoints can be used. Tickers are
// public and work without keys.
func (c *Client) HasCredentials() bool { return c.hasKeys }

// Environment reports mainnet, testnet or demo.
func (c *Client) Environment() string { return c.env }
