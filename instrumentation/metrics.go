package instrumentation

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds every instrument the server records. Individual fields
// may be nil if instrument creation failed; callers go through the
// nil-safe helpers in the packages that record them.
type Metrics struct {
	// HTTP layer.
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Protocol engine.
	AuthorizationsGranted metric.Int64Counter
	TokensIssued          metric.Int64Counter
	TokensRefreshed       metric.Int64Counter
	TokensRevoked         metric.Int64Counter
	DeviceFlowsStarted    metric.Int64Counter
	FederationCallbacks   metric.Int64Counter

	// Security layer.
	PKCEValidationFailed metric.Int64Counter
	AuthFailuresTotal    metric.Int64Counter
	RateLimitExceeded    metric.Int64Counter

	// Storage layer.
	StorageOperations       metric.Int64Counter
	StorageOperationLatency metric.Float64Histogram
}

// newMetrics creates the instrument set. Creation errors are logged and
// leave the field nil rather than failing startup.
func newMetrics(inst *Instrumentation) *Metrics {
	httpMeter := inst.Meter("http")
	engineMeter := inst.Meter("engine")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	m := &Metrics{}

	m.HTTPRequestsTotal = mustInt64Counter(httpMeter,
		"helix.http.requests.total",
		"Total HTTP requests by endpoint and status")
	m.HTTPRequestDuration = mustFloat64Histogram(httpMeter,
		"helix.http.request.duration",
		"HTTP request latency", "s")

	m.AuthorizationsGranted = mustInt64Counter(engineMeter,
		"helix.authorizations.granted.total",
		"Authorization responses issued by response type")
	m.TokensIssued = mustInt64Counter(engineMeter,
		"helix.tokens.issued.total",
		"Token sets issued by grant type")
	m.TokensRefreshed = mustInt64Counter(engineMeter,
		"helix.tokens.refreshed.total",
		"Refresh grant redemptions by rotation outcome")
	m.TokensRevoked = mustInt64Counter(engineMeter,
		"helix.tokens.revoked.total",
		"Tokens revoked or blacklisted")
	m.DeviceFlowsStarted = mustInt64Counter(engineMeter,
		"helix.device.flows.started.total",
		"Device authorizations registered")
	m.FederationCallbacks = mustInt64Counter(engineMeter,
		"helix.federation.callbacks.total",
		"Completed upstream federation callbacks by provider")

	m.PKCEValidationFailed = mustInt64Counter(securityMeter,
		"helix.pkce.validation.failed.total",
		"PKCE verifier checks that did not match the stored challenge")
	m.AuthFailuresTotal = mustInt64Counter(securityMeter,
		"helix.auth.failures.total",
		"Authentication failures by reason")
	m.RateLimitExceeded = mustInt64Counter(securityMeter,
		"helix.ratelimit.exceeded.total",
		"Requests rejected by the rate limiter")

	m.StorageOperations = mustInt64Counter(storageMeter,
		"helix.storage.operations.total",
		"Storage operations by backend and outcome")
	m.StorageOperationLatency = mustFloat64Histogram(storageMeter,
		"helix.storage.operation.duration",
		"Storage operation latency", "s")

	return m
}

func mustInt64Counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		slog.Warn("failed to create counter", "name", name, "error", err)
		return nil
	}
	return c
}

func mustFloat64Histogram(meter metric.Meter, name, description, unit string) metric.Float64Histogram {
	h, err := meter.Float64Histogram(name,
		metric.WithDescription(description),
		metric.WithUnit(unit))
	if err != nil {
		slog.Warn("failed to create histogram", "name", name, "error", err)
		return nil
	}
	return h
}

// RegisterStorageGauges wires observable gauges that sample live entity
// counts from the storage backend. sample must be fast and safe to call
// from the metrics SDK's collection goroutine.
func (i *Instrumentation) RegisterStorageGauges(sample func(ctx context.Context) (grants, devices, challenges int64)) error {
	meter := i.Meter("storage")

	grantGauge, err := meter.Int64ObservableGauge("helix.storage.grants.active",
		metric.WithDescription("Persistent grants currently stored"))
	if err != nil {
		return err
	}
	deviceGauge, err := meter.Int64ObservableGauge("helix.storage.devices.pending",
		metric.WithDescription("Device authorizations awaiting approval"))
	if err != nil {
		return err
	}
	challengeGauge, err := meter.Int64ObservableGauge("helix.storage.challenges.pending",
		metric.WithDescription("PKCE challenges awaiting redemption"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		grants, devices, challenges := sample(ctx)
		o.ObserveInt64(grantGauge, grants)
		o.ObserveInt64(deviceGauge, devices)
		o.ObserveInt64(challengeGauge, challenges)
		return nil
	}, grantGauge, deviceGauge, challengeGauge)
	return err
}
