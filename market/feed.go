package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/rustyeddy/autotrader/internal/backoff"
	"github.com/rustyeddy/autotrader/internal/logger"
)

const (
	MainnetSpotStream = "wss://stream.bybit.com/v5/public/spot"
	TestnetSpotStream = "wss://stream-testnet.bybit.com/v5/public/spot"

	// Bybit rejects spot subscriptions with more than ten topics.
	maxTopicsPerSubscribe = 10
)

// StreamURL returns the public spot stream for a Bybit environment.
func StreamURL(env string) string {
	if strings.EqualFold(env, "testnet") {
		return TestnetSpotStream
	}
	return MainnetSpotStream
}

type FeedConfig struct {
	URL          string
	Symbols      []string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

func (c FeedConfig) withDefaults() FeedConfig {
	if c.URL == "" {
		c.URL = MainnetSpotStream
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

// Feed streams Bybit ticker updates into a PriceStore, reconnecting with
// exponential backoff until stopped.
type Feed struct {
	cfg   FeedConfig
	store *PriceStore

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewFeed(cfg FeedConfig, store *PriceStore) *Feed {
	return &Feed{cfg: cfg.withDefaults(), store: store}
}

func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.runLoop(ctx)
}

func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.close()
	f.wg.Wait()
}

// Connected reports whether a stream connection is currently open.
func (f *Feed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.conn != nil
}

func (f *Feed) runLoop(ctx context.Context) {
	defer f.wg.Done()
	retry := 0

	for {
		if ctx.Err() != nil {
			return
		}

		if err := f.connect(ctx); err != nil {
			delay := backoff.Exponential(f.cfg.BaseBackoff, f.cfg.MaxBackoff, retry)
			logger.Warn(ctx, "ticker stream connect failed", "url", f.cfg.URL, "error", err, "retry", retry, "delay", delay)
			retry++
			if backoff.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}

		retry = 0
		f.process(ctx)
	}
}

func (f *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.cfg.URL, http.Header{})
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for _, args := range topics(f.cfg.Symbols) {
		if err := f.write(request{Op: "subscribe", Args: args}); err != nil {
			f.close()
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	logger.Info(ctx, "ticker stream connected", "url", f.cfg.URL, "symbols", f.cfg.Symbols)
	return nil
}

func (f *Feed) process(ctx context.Context) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go f.pingLoop(cctx)

	for {
		f.mu.RLock()
		c := f.conn
		f.mu.RUnlock()
		if c == nil {
			return
		}

		_ = c.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn(ctx, "ticker stream read failed", "error", err)
			}
			f.close()
			return
		}
		f.handle(ctx, msg)
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.write(request{Op: "ping"}); err != nil {
				logger.Warn(ctx, "ticker stream ping failed", "error", err)
				f.close()
				return
			}
		}
	}
}

type request struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

type message struct {
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Topic   string `json:"topic"`
	TS      int64  `json:"ts"`
	Data    struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

func (f *Feed) handle(ctx context.Context, raw []byte) {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		logger.Debug(ctx, "ticker stream: undecodable message", "error", err)
		return
	}

	if m.Op != "" {
		if m.Success != nil && !*m.Success {
			logger.Warn(ctx, "ticker stream request rejected", "op", m.Op, "message", m.RetMsg)
		}
		return
	}
	if !strings.HasPrefix(m.Topic, "tickers.") {
		return
	}

	t, err := m.tick()
	if err != nil {
		logger.Debug(ctx, "ticker stream: bad ticker", "topic", m.Topic, "error", err)
		return
	}
	if err := f.store.Set(t); err != nil {
		logger.Debug(ctx, "ticker stream: tick rejected", "topic", m.Topic, "error", err)
	}
}

func (m message) tick() (Tick, error) {
	symbol := m.Data.Symbol
	if symbol == "" {
		symbol = strings.TrimPrefix(m.Topic, "tickers.")
	}
	// Delta updates may omit the price.
	if m.Data.LastPrice == "" {
		return Tick{}, fmt.Errorf("no lastPrice for %s", symbol)
	}
	d, err := decimal.NewFromString(m.Data.LastPrice)
	if err != nil {
		return Tick{}, fmt.Errorf("lastPrice %q: %w", m.Data.LastPrice, err)
	}

	t := Tick{Symbol: symbol, Price: d.InexactFloat64()}
	if m.TS > 0 {
		t.Time = time.UnixMilli(m.TS)
	}
	return t, nil
}

func topics(symbols []string) [][]string {
	var out [][]string
	var cur []string
	for _, s := range symbols {
		cur = append(cur, "tickers."+s)
		if len(cur) == maxTopicsPerSubscribe {
			out = append(out, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func (f *Feed) write(v any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.RLock()
	c := f.conn
	f.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("ticker stream not connected")
	}
	_ = c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.WriteJSON(v)
}

func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}
