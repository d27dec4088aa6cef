// Package instrumentation provides OpenTelemetry tracing and metrics for the
// token lifecycle: refresh exchanges, forced logouts, migrations and secure
// store failures.
//
// SECURITY: token values are never recorded. Only metadata such as outcome,
// error code, expiry and attempt counts is attached to spans and metrics.
package instrumentation

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is used when Config.ServiceName is empty
	DefaultServiceName = "kamui-auth"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	scopePrefix = "github.com/kamui-project/kamui-auth/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name reported in the resource
	ServiceName string

	// ServiceVersion is the version reported in the resource
	ServiceVersion string

	// TracerProvider receives spans. Nil uses a no-op provider.
	TracerProvider trace.TracerProvider

	// MeterProvider receives metrics. Nil uses a no-op provider.
	MeterProvider metric.MeterProvider

	// Resource allows custom resource attributes
	Resource *resource.Resource

	// Exporter builds SDK providers for whichever of TracerProvider and
	// MeterProvider is nil: "stderr" writes both signals to ExportWriter.
	// Empty or "off" keeps the no-op providers.
	Exporter string

	// ExportWriter receives exported telemetry. Nil means os.Stderr.
	ExportWriter io.Writer
}

type shutdowner interface {
	Shutdown(context.Context) error
}

// Instrumentation bundles the tracer and metric instruments
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:         config,
		resource:       res,
		meterProvider:  config.MeterProvider,
		tracerProvider: config.TracerProvider,
	}
	if err := inst.setupExporter(); err != nil {
		return nil, err
	}
	if inst.meterProvider == nil {
		inst.meterProvider = noop.NewMeterProvider()
	}
	if inst.tracerProvider == nil {
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}
	if sd, ok := inst.tracerProvider.(shutdowner); ok {
		inst.shutdownFuncs = append(inst.shutdownFuncs, sd.Shutdown)
	}
	if sd, ok := inst.meterProvider.(shutdowner); ok {
		inst.shutdownFuncs = append(inst.shutdownFuncs, sd.Shutdown)
	}

	var err error
	inst.metrics, err = newMetrics(inst.Meter("refresh"))
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// Noop returns instrumentation that records nothing
func Noop() *Instrumentation {
	inst, err := New(Config{Resource: resource.Empty()})
	if err != nil {
		// no-op providers cannot fail to create instruments
		panic(err)
	}
	return inst
}

// Shutdown flushes and stops providers that support it
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Resource returns the resource describing this process
func (i *Instrumentation) Resource() *resource.Resource {
	return i.resource
}
