// Package telemetry настраивает трассировку OpenTelemetry.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config — параметры экспорта трасс.
type Config struct {
	// Endpoint коллектора OTLP/gRPC. Пустое значение выключает экспорт.
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	// Доля сэмплируемых корневых трасс, 0 < ratio <= 1.
	SampleRatio float64
}

// ShutdownFunc сбрасывает буфер экспортёра и закрывает его.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitTracerProvider регистрирует глобальный TracerProvider и propagator.
// Без Endpoint провайдер не создаётся, остаётся глобальный noop, а propagator
// всё равно ставится, чтобы заголовки traceparent проходили насквозь.
func InitTracerProvider(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return noopShutdown, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func sampler(ratio float64) trace.Sampler {
	switch {
	case ratio <= 0 || ratio >= 1:
		return trace.ParentBased(trace.AlwaysSample())
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(ratio))
	}
}
