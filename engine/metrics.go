package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric helpers. All are nil-safe so the engine can run without
// instrumentation wired.

func (e *Engine) countAuthorization(ctx context.Context, responseType string) {
	if e.metrics == nil {
		return
	}
	e.metrics.AuthorizationsGranted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("response_type", responseType)))
}

func (e *Engine) countTokensIssued(ctx context.Context, grantType string) {
	if e.metrics == nil {
		return
	}
	e.metrics.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType)))
}

func (e *Engine) countTokenRefreshed(ctx context.Context, rotated bool) {
	if e.metrics == nil {
		return
	}
	e.metrics.TokensRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("rotated", rotated)))
}

func (e *Engine) countPKCEFailure(ctx context.Context, clientID string) {
	if e.metrics == nil {
		return
	}
	e.metrics.PKCEValidationFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID)))
}

func (e *Engine) countDeviceRegistered(ctx context.Context, clientID string) {
	if e.metrics == nil {
		return
	}
	e.metrics.DeviceFlowsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID)))
}

func (e *Engine) countFederationCallback(ctx context.Context, provider string) {
	if e.metrics == nil {
		return
	}
	e.metrics.FederationCallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider)))
}

func (e *Engine) countTokenRevoked(ctx context.Context, kind string) {
	if e.metrics == nil {
		return
	}
	e.metrics.TokensRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("token_type", kind)))
}
