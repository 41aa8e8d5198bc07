// Package telemetry sets up OpenTelemetry tracing for the ebspin CLI.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ErrUnknownExporter is returned for an exporter name Init does not know
var ErrUnknownExporter = errors.New("unknown trace exporter")

// Config controls telemetry behavior
type Config struct {
	ServiceName string
	Version     string

	// Exporter is "none" or "stdout". Empty means none.
	Exporter string

	// Output receives stdout exporter spans; defaults to stderr so command
	// output on stdout stays clean
	Output io.Writer
}

// Init installs a global tracer provider for cfg and returns the function
// that flushes and stops it. With the none exporter the global no-op
// provider is left alone and shutdown does nothing.
//
//	shutdown, err := telemetry.Init(ctx, telemetry.Config{ServiceName: "ebspin", Exporter: "stdout"})
//	if err != nil {
//		return err
//	}
//	defer shutdown(context.Background())
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Exporter {
	case "", ExporterNone:
		return noop, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
