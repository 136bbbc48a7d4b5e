package middleware

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"msgpack-rpc/codec"
	"msgpack-rpc/message"
)

const instrumentationName = "msgpack-rpc/server"

var systemAttr = attribute.String("rpc.system", "msgpack-rpc")

// Tracing starts a server span per call. A nil provider uses the global one.
func Tracing(tp trace.TracerProvider) Middleware {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(instrumentationName)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg message.Message) *message.Response {
			method := methodOf(msg)
			attrs := []attribute.KeyValue{
				systemAttr,
				attribute.String("rpc.method", method),
				attribute.String("rpc.message.type", msg.Type().String()),
			}
			if req, ok := msg.(*message.Request); ok {
				attrs = append(attrs, attribute.Int64("rpc.msgid", int64(req.MsgID)))
			}

			ctx, span := tracer.Start(ctx, method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			resp := next(ctx, msg)
			if resp != nil && resp.HasError() {
				span.SetStatus(codes.Error, codec.FormatValue(resp.Error))
			}
			return resp
		}
	}
}

// Metrics counts calls and records their duration in milliseconds, by method
// and outcome. A nil provider uses the global one.
func Metrics(mp metric.MeterProvider) (Middleware, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	calls, err := meter.Int64Counter("rpc.server.calls",
		metric.WithDescription("Calls handled by the dispatcher"))
	if err != nil {
		return nil, errors.Wrap(err, "create calls counter")
	}
	duration, err := meter.Float64Histogram("rpc.server.duration",
		metric.WithDescription("Time spent in the method handler"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg message.Message) *message.Response {
			start := time.Now()
			resp := next(ctx, msg)

			outcome := "ok"
			if resp != nil && resp.HasError() {
				outcome = "error"
			}
			set := metric.WithAttributes(
				systemAttr,
				attribute.String("rpc.method", methodOf(msg)),
				attribute.String("rpc.message.type", msg.Type().String()),
				attribute.String("rpc.outcome", outcome),
			)
			calls.Add(ctx, 1, set)
			duration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), set)
			return resp
		}
	}, nil
}
