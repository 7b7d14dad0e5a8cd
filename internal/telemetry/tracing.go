package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName: имя трейсера flowboard.
const TracerName = "github.com/shaiso/flowboard"

// TracingConfig: настройки экспорта трейсов.
type TracingConfig struct {
	ServiceName string
	Exporter    string // none, stdout, otlp
	Endpoint    string // host:port для otlp
	Writer      io.Writer
}

// ShutdownFunc сбрасывает буферы и останавливает экспорт.
type ShutdownFunc func(ctx context.Context) error

// SetupTracing настраивает глобальный TracerProvider.
// Для "none" глобальный провайдер не меняется (noop).
func SetupTracing(ctx context.Context, cfg TracingConfig) (ShutdownFunc, error) {
	var exp sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "", "none":
		return func(context.Context) error { return nil }, nil

	case "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err = stdouttrace.New(stdouttrace.WithWriter(w))

	case "otlp":
		exp, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)

	default:
		return nil, fmt.Errorf("unknown trace exporter: %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer возвращает трейсер flowboard из глобального провайдера.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
