package instrumentation

import (
	"fmt"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const (
	// ExporterOff keeps the no-op providers
	ExporterOff = "off"

	// ExporterStderr writes spans and metrics as JSON to ExportWriter
	ExporterStderr = "stderr"
)

// setupExporter fills in SDK providers the caller did not supply. Spans are
// batched and metrics collected periodically; both flush on Shutdown.
func (i *Instrumentation) setupExporter() error {
	switch i.config.Exporter {
	case "", ExporterOff:
		return nil
	case ExporterStderr:
	default:
		return fmt.Errorf("unknown telemetry exporter %q", i.config.Exporter)
	}

	w := i.config.ExportWriter
	if w == nil {
		w = os.Stderr
	}

	if i.tracerProvider == nil {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		i.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(i.resource),
		)
	}

	if i.meterProvider == nil {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return fmt.Errorf("failed to create metric exporter: %w", err)
		}
		i.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
			sdkmetric.WithResource(i.resource),
		)
	}
	return nil
}
