package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream accepts connections, records subscribe requests and lets the
// test push messages to the newest connection.
type fakeStream struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn
	subs  [][]string
	pings int
}

func (s *fakeStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	for {
		var req request
		if err := c.ReadJSON(&req); err != nil {
			return
		}
		s.mu.Lock()
		switch req.Op {
		case "subscribe":
			s.subs = append(s.subs, req.Args)
		case "ping":
			s.pings++
		}
		s.mu.Unlock()
	}
}

func (s *fakeStream) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *fakeStream) send(msg string) {
	s.mu.Lock()
	c := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	require.NoError(s.t, c.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func (s *fakeStream) dropLatest() {
	s.mu.Lock()
	c := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	c.Close()
}

func startStream(t *testing.T) (*fakeStream, string) {
	t.Helper()
	fs := &fakeStream{t: t}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return fs, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFeedStoresTickerPrices(t *testing.T) {
	fs, url := startStream(t)
	store := NewPriceStore(0)

	feed := NewFeed(FeedConfig{URL: url, Symbols: []string{"BTCUSDT", "ETHUSDT"}}, store)
	feed.Start(context.Background())
	defer feed.Stop()

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.subs) == 1
	}, 2*time.Second, 5*time.Millisecond)
	fs.mu.Lock()
	assert.Equal(t, []string{"tickers.BTCUSDT", "tickers.ETHUSDT"}, fs.subs[0])
	fs.mu.Unlock()
	assert.True(t, feed.Connected())

	fs.send(`{"success":true,"ret_msg":"subscribe","op":"subscribe"}`)
	fs.send(`{"topic":"tickers.BTCUSDT","ts":1767225600000,"type":"snapshot","data":{"symbol":"BTCUSDT","lastPrice":"100123.45"}}`)
	fs.send(`{"topic":"tickers.ETHUSDT","type":"snapshot","data":{"symbol":"ETHUSDT","lastPrice":"3500.1"}}`)

	require.Eventually(t, func() bool { return len(store.Symbols()) == 2 }, 2*time.Second, 5*time.Millisecond)

	btc, err := store.Get("BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 100_123.45, btc.Price, 1e-9)
	assert.Equal(t, time.UnixMilli(1767225600000), btc.Time)

	eth, err := store.GetCurrentPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 3500.1, eth, 1e-9)
}

func TestFeedReconnects(t *testing.T) {
	fs, url := startStream(t)
	store := NewPriceStore(0)

	feed := NewFeed(FeedConfig{
		URL:         url,
		Symbols:     []string{"BTCUSDT"},
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
	}, store)
	feed.Start(context.Background())
	defer feed.Stop()

	require.Eventually(t, func() bool { return fs.connections() == 1 }, 2*time.Second, 5*time.Millisecond)
	fs.dropLatest()

	require.Eventually(t, func() bool { return fs.connections() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.subs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	fs.send(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"99000"}}`)
	require.Eventually(t, func() bool {
		p, err := store.GetCurrentPrice(context.Background(), "BTCUSDT")
		return err == nil && p == 99_000
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFeedPings(t *testing.T) {
	fs, url := startStream(t)

	feed := NewFeed(FeedConfig{URL: url, Symbols: []string{"BTCUSDT"}, PingInterval: 10 * time.Millisecond}, NewPriceStore(0))
	feed.Start(context.Background())
	defer feed.Stop()

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.pings >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFeedStopWithoutServer(t *testing.T) {
	feed := NewFeed(FeedConfig{URL: "ws://127.0.0.1:1/none", BaseBackoff: time.Millisecond}, NewPriceStore(0))
	feed.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		feed.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.False(t, feed.Connected())
}

func TestHandleIgnoresNoise(t *testing.T) {
	t.Parallel()

	store := NewPriceStore(0)
	f := NewFeed(FeedConfig{}, store)
	ctx := context.Background()

	f.handle(ctx, []byte(`not json`))
	f.handle(ctx, []byte(`{"success":false,"ret_msg":"invalid topic","op":"subscribe"}`))
	f.handle(ctx, []byte(`{"topic":"orderbook.50.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"1"}}`))
	f.handle(ctx, []byte(`{"topic":"tickers.BTCUSDT","type":"delta","data":{"symbol":"BTCUSDT"}}`))
	f.handle(ctx, []byte(`{"topic":"tickers.BTCUSDT","data":{"symbol":"BTCUSDT","lastPrice":"abc"}}`))
	assert.Empty(t, store.Symbols())

	f.handle(ctx, []byte(`{"topic":"tickers.XRPUSDT","data":{"lastPrice":"0.5123"}}`))
	got, err := store.Get("XRPUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 0.5123, got.Price, 1e-12)
}

func TestTopicsChunking(t *testing.T) {
	t.Parallel()

	syms := make([]string, 12)
	for i := range syms {
		syms[i] = "S" + string(rune('A'+i))
	}
	got := topics(syms)
	require.Len(t, got, 2)
	assert.Len(t, got[0], 10)
	assert.Equal(t, []string{"tickers.SK", "tickers.SL"}, got[1])
	assert.Nil(t, topics(nil))
}

func TestStreamURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, TestnetSpotStream, StreamURL("testnet"))
	assert.Equal(t, MainnetSpotStream, StreamURL("mainnet"))
	assert.Equal(t, MainnetSpotStream, StreamURL(""))
}
