// Package brokerobs wraps a broker.Executor with tracing, logging and metrics.
package brokerobs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/rustyeddy/autotrader/broker"
	"github.com/rustyeddy/autotrader/internal/logger"
	"github.com/rustyeddy/autotrader/internal/metrics"
	"github.com/rustyeddy/autotrader/internal/trace"
)

type observableExecutor struct {
	next broker.Executor
	rec  *metrics.Recorder
	now  func() time.Time
}

var _ broker.Executor = (*observableExecutor)(nil)

// Wrap decorates next. rec may be nil.
func Wrap(next broker.Executor, rec *metrics.Recorder) broker.Executor {
	return &observableExecutor{next: next, rec: rec, now: time.Now}
}

func (o *observableExecutor) Mode() broker.Mode { return o.next.Mode() }

func (o *observableExecutor) Place(ctx context.Context, ord broker.Order) (broker.Result, error) {
	ctx, span := trace.StartSpan(ctx, "executor.Place", oteltrace.WithAttributes(
		attribute.String("symbol", ord.Symbol),
		attribute.String("side", string(ord.Side)),
		attribute.Float64("quantity", ord.Quantity),
		attribute.String("mode", string(o.next.Mode())),
	))
	defer span.End()

	logger.Debug(ctx, "placing order",
		"order_id", ord.ID, "symbol", ord.Symbol, "side", ord.Side, "qty", ord.Quantity, "price", ord.Price)

	start := o.now()
	res, err := o.next.Place(ctx, ord)
	took := o.now().Sub(start)

	o.rec.RecordOrder(ord.Symbol, string(ord.Side), string(o.next.Mode()), string(res.Status), took)
	span.SetAttributes(
		attribute.String("status", string(res.Status)),
		attribute.Float64("filled", res.FilledQuantity),
	)

	if err != nil {
		logger.ErrorWithErr(ctx, "order failed", err,
			"order_id", ord.ID, "symbol", ord.Symbol, "side", ord.Side, "status", res.Status, "took_ms", took.Milliseconds())
		return res, err
	}

	logger.Trade(ctx, ord.Symbol, string(ord.Side), res.FilledQuantity, res.AvgFillPrice, res.OrderID,
		"status", res.Status, "fee", res.Fee, "mode", o.next.Mode(), "took_ms", took.Milliseconds())
	return res, nil
}

func (o *observableExecutor) Cancel(ctx context.Context, orderID string) (broker.Result, error) {
	ctx, span := trace.StartSpan(ctx, "executor.Cancel", oteltrace.WithAttributes(
		attribute.String("order_id", orderID),
	))
	defer span.End()

	res, err := o.next.Cancel(ctx, orderID)
	if err != nil {
		logger.ErrorWithErr(ctx, "cancel failed", err, "order_id", orderID)
		return res, err
	}
	logger.Info(ctx, "cancel resolved", "order_id", orderID, "status", res.Status, "filled", res.FilledQuantity)
	return res, nil
}
