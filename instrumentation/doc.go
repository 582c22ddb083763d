// Package instrumentation provides OpenTelemetry metrics and tracing
// for the authorization server. All instruments are optional: when the
// package is disabled, or when a component never receives an
// Instrumentation, the nil-safe helpers make every recording a no-op.
package instrumentation
