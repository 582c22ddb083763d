package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared across spans. Token values themselves are never
// recorded; only identifiers and request shape.
const (
	AttrClientID     = "helix.client.id"
	AttrGrantType    = "helix.grant.type"
	AttrResponseType = "helix.response.type"
	AttrProvider     = "helix.federation.provider"
	AttrEndpoint     = "helix.http.endpoint"
	AttrErrorCode    = "helix.error.code"
)

// RecordError marks the span failed and records err. Nil-safe.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks the span as completed without error. Nil-safe.
func SetSpanSuccess(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// SetSpanAttributes adds attributes to the span. Nil-safe.
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	span.SetAttributes(attrs...)
}

// AddRequestAttributes tags a span with the request's protocol shape.
// Empty values are skipped so spans stay compact.
func AddRequestAttributes(span trace.Span, clientID, grantType, responseType string) {
	if span == nil {
		return
	}
	var attrs []attribute.KeyValue
	if clientID != "" {
		attrs = append(attrs, attribute.String(AttrClientID, clientID))
	}
	if grantType != "" {
		attrs = append(attrs, attribute.String(AttrGrantType, grantType))
	}
	if responseType != "" {
		attrs = append(attrs, attribute.String(AttrResponseType, responseType))
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}
