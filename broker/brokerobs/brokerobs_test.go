package brokerobs

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/broker/paper"
	"github.com/rustyeddy/autotrader/internal/metrics"
)

func TestWrapPassesThroughAndRecords(t *testing.T) {
	t.Parallel()

	rec := metrics.New()
	ex := Wrap(paper.New(paper.DefaultTakerFee), rec)
	assert.Equal(t, broker.Paper, ex.Mode())

	res, err := ex.Place(context.Background(), broker.Order{
		ID: "ord-1", Symbol: "BTCUSDT", Side: broker.Buy, Quantity: 2.4, Price: 100_000,
	})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, res.Status)
	assert.InDelta(t, 600.0, res.Fee, 1e-6)

	_, err = ex.Place(context.Background(), broker.Order{Symbol: "BTCUSDT", Side: broker.Buy})
	require.Error(t, err)

	got, err := ex.Cancel(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, res, got)

	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	assert.Contains(t, string(body), `autotrader_orders_total{mode="paper",side="buy",status="filled",symbol="BTCUSDT"} 1`)
	assert.Contains(t, string(body), `autotrader_orders_total{mode="paper",side="buy",status="error",symbol="BTCUSDT"} 1`)
}

func TestWrapWithoutRecorder(t *testing.T) {
	t.Parallel()

	ex := Wrap(paper.New(0), nil)
	_, err := ex.Place(context.Background(), broker.Order{Symbol: "ETHUSDT", Side: broker.Sell, Quantity: 1, Price: 3000})
	assert.NoError(t, err)
}
