package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY WARNING: never put actual credential values (bearer tokens,
// delegated access tokens, client secrets) in traces or metrics. Only record
// metadata: outcomes, durations, tenant and subject identifiers, scope
// strings. Traces are persisted, replicated, and visible to wider audiences
// than the process logs.
const (
	// Broker attributes - metadata only
	AttrTenantID     = "obo.tenant_id"     // Tenant identifier (non-secret)
	AttrSubjectID    = "obo.subject_id"    // Validated subject object ID (non-secret)
	AttrScope        = "obo.scope"         // Requested downstream scopes
	AttrOutcome      = "obo.outcome"       // Operation outcome (valid, untrusted, error, success)
	AttrTokenPresent = "obo.token_present" // Whether a bearer token was supplied (boolean)

	// Downstream attributes
	AttrContainer  = "obo.container"   // Data container queried
	AttrResultKind = "obo.result_kind" // Structured result discriminant

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddBrokerAttributes adds common broker attributes to a span (nil-safe).
// The subject ID is an opaque identifier, not credential material.
func AddBrokerAttributes(span trace.Span, tenantID, subjectID, scope string) {
	if tenantID != "" {
		SetSpanAttributes(span, attribute.String(AttrTenantID, tenantID))
	}
	if subjectID != "" {
		SetSpanAttributes(span, attribute.String(AttrSubjectID, subjectID))
	}
	if scope != "" {
		SetSpanAttributes(span, attribute.String(AttrScope, scope))
	}
}
