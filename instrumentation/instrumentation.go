package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName identifies the server in telemetry backends.
	DefaultServiceName = "helix"

	// scopePrefix namespaces instrumentation scopes by module path.
	scopePrefix = "github.com/helix-auth/helix/"
)

// Config controls telemetry behavior.
type Config struct {
	// ServiceName reported in the OTel resource. Defaults to "helix".
	ServiceName string

	// ServiceVersion reported in the OTel resource.
	ServiceVersion string

	// Enabled turns instrument creation on. When false, all meters and
	// tracers are no-op and recording costs nothing.
	Enabled bool

	// LogClientIPs opts in to recording client IP addresses in spans
	// and audit logs. Off by default: IPs are personal data.
	LogClientIPs bool

	// Resource overrides the auto-built OTel resource.
	Resource *resource.Resource
}

// Instrumentation owns the meter and tracer providers plus the shared
// metric instruments used across the server.
type Instrumentation struct {
	config         Config
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        *Metrics

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds an Instrumentation from config. Exporter wiring is left to
// the embedding application; until one is installed the providers are
// no-op even when Enabled is set.
func New(ctx context.Context, config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}

	inst := &Instrumentation{config: config}

	if !config.Enabled {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
		inst.metrics = newMetrics(inst)
		return inst, nil
	}

	if config.Resource == nil {
		res, err := resource.New(ctx,
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to build resource: %w", err)
		}
		config.Resource = res
		inst.config = config
	}

	// TODO: install OTLP exporters once the deployment target settles.
	inst.meterProvider = noop.NewMeterProvider()
	inst.tracerProvider = tracenoop.NewTracerProvider()
	inst.metrics = newMetrics(inst)

	return inst, nil
}

// Meter returns a meter for the given scope, namespaced by module path.
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a tracer for the given scope, namespaced by module path.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the shared instrument set.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// MeterProvider exposes the underlying provider for embedding apps.
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// TracerProvider exposes the underlying provider for embedding apps.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// ShouldLogClientIPs reports whether client IPs may be recorded.
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// Shutdown flushes and stops any installed providers. Safe to call
// more than once.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	i.shutdownOnce.Do(func() {
		type shutdowner interface {
			Shutdown(context.Context) error
		}
		if mp, ok := i.meterProvider.(shutdowner); ok {
			if err := mp.Shutdown(ctx); err != nil {
				i.shutdownErr = fmt.Errorf("meter provider shutdown: %w", err)
			}
		}
		if tp, ok := i.tracerProvider.(shutdowner); ok {
			if err := tp.Shutdown(ctx); err != nil && i.shutdownErr == nil {
				i.shutdownErr = fmt.Errorf("tracer provider shutdown: %w", err)
			}
		}
	})
	return i.shutdownErr
}
