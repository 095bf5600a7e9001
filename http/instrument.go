package http

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/freekieb7/embedweb/http"

type instruments struct {
	tracer    trace.Tracer
	requests  metric.Int64Counter
	duration  metric.Float64Histogram
	bodyBytes metric.Int64Counter
}

// newInstruments builds the server's instruments from the global providers, so
// a provider installed later by the application still receives them.
func newInstruments(logger *slog.Logger) instruments {
	meter := otel.Meter(instrumentationName)
	inst := instruments{tracer: otel.Tracer(instrumentationName)}

	var err error
	inst.requests, err = meter.Int64Counter("http.server.requests",
		metric.WithDescription("Requests dispatched, by method, route and status"),
		metric.WithUnit("{request}"))
	if err != nil {
		logger.Warn("creating request counter failed", "error", err)
		inst.requests = noop.Int64Counter{}
	}

	inst.duration, err = meter.Float64Histogram("http.server.duration",
		metric.WithDescription("Time from accepting a connection to closing it"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("creating duration histogram failed", "error", err)
		inst.duration = noop.Float64Histogram{}
	}

	inst.bodyBytes, err = meter.Int64Counter("http.server.request.body.size",
		metric.WithDescription("Request body bytes copied to a sink"),
		metric.WithUnit("By"))
	if err != nil {
		logger.Warn("creating body counter failed", "error", err)
		inst.bodyBytes = noop.Int64Counter{}
	}

	return inst
}

func (inst instruments) record(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
	}
	if status != 0 {
		attrs = append(attrs, attribute.Int("http.response.status_code", status))
	}

	opt := metric.WithAttributes(attrs...)
	inst.requests.Add(ctx, 1, opt)
	inst.duration.Record(ctx, elapsed.Seconds(), opt)
}

// headerCarrier exposes request headers to the trace context propagator.
type headerCarrier map[string]string

var _ propagation.TextMapCarrier = headerCarrier(nil)

func (carrier headerCarrier) Get(key string) string {
	value, _ := lookupHeader(carrier, key)
	return value
}

func (carrier headerCarrier) Set(key, value string) {
	carrier[key] = value
}

func (carrier headerCarrier) Keys() []string {
	keys := make([]string, 0, len(carrier))
	for key := range carrier {
		keys = append(keys, key)
	}
	return keys
}
