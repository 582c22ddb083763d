package instrumentation

import (
	"context"
	"errors"
	"testing"
)

func TestNewDisabled(t *testing.T) {
	inst, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if inst.Metrics() == nil {
		t.Fatal("expected metrics even when disabled")
	}
	if inst.Metrics().TokensIssued == nil {
		t.Fatal("expected noop counter, got nil")
	}
	if inst.ShouldLogClientIPs() {
		t.Fatal("client IP logging should default off")
	}
}

func TestNewEnabledBuildsResource(t *testing.T) {
	inst, err := New(context.Background(), Config{
		Enabled:        true,
		ServiceVersion: "1.2.3",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if inst.config.ServiceName != DefaultServiceName {
		t.Fatalf("service name = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
	if inst.config.Resource == nil {
		t.Fatal("expected auto-built resource")
	}
}

func TestMeterScopePrefix(t *testing.T) {
	inst, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Noop meters are inert; this just exercises the scoping path.
	if m := inst.Meter("engine"); m == nil {
		t.Fatal("nil meter")
	}
	if tr := inst.Tracer("engine"); tr == nil {
		t.Fatal("nil tracer")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	inst, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func TestRegisterStorageGauges(t *testing.T) {
	inst, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = inst.RegisterStorageGauges(func(context.Context) (int64, int64, int64) {
		return 1, 2, 3
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("RegisterStorageGauges: %v", err)
	}
}

func TestRecordErrorNilSafe(t *testing.T) {
	// Must not panic with a nil span.
	RecordError(nil, errors.New("boom"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil)
	AddRequestAttributes(nil, "c", "g", "r")
}
