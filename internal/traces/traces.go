// Package traces provides OpenTelemetry tracing for the fraud radar pipeline.
package traces

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/fraudradar/internal/transactions"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "fraudradar"
	tracerName  = "github.com/mbd888/fraudradar/internal/traces"
)

// Options configures the tracer provider.
type Options struct {
	Endpoint string  // OTLP/gRPC collector address; empty disables export
	Version  string  // reported as service.version
	Ratio    float64 // fraction of root spans sampled; <= 0 or >= 1 samples all
}

// Init installs a global tracer provider exporting to opts.Endpoint.
// With no endpoint tracing stays a no-op. The returned function flushes and
// stops the exporter.
func Init(ctx context.Context, opts Options, logger *slog.Logger) (func(context.Context) error, error) {
	if opts.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(opts.Ratio)),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", opts.Endpoint, "ratio", opts.Ratio)
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a span on the package tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Transaction describes an unscored transaction.
func Transaction(tx *transactions.Transaction) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("user.id", tx.UserID),
		attribute.String("transaction.country", tx.Country),
		attribute.String("transaction.payment_method", tx.PaymentMethod),
		attribute.String("transaction.device", tx.Device),
		attribute.Float64("transaction.amount", tx.Amount),
		attribute.Bool("transaction.new_device", tx.IsNewDevice),
		attribute.String("transaction.time", tx.Time().UTC().Format(time.RFC3339Nano)),
	}
}

func TransactionID(id int64) attribute.KeyValue {
	return attribute.Int64("transaction.id", id)
}

// Risk describes a scoring outcome.
func Risk(score float64, level transactions.Level) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Float64("risk.score", score),
		attribute.String("risk.level", string(level)),
	}
}
