package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the OBO broker
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Broker Metrics
	TokenValidationsTotal   metric.Int64Counter
	TokenValidationDuration metric.Float64Histogram
	ExchangesTotal          metric.Int64Counter
	ExchangeDuration        metric.Float64Histogram
	KeyFetchesTotal         metric.Int64Counter

	// Downstream Metrics
	DownstreamCallsTotal   metric.Int64Counter
	DownstreamCallDuration metric.Float64Histogram

	// Security Metrics
	RateLimitExceeded metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	brokerMeter := inst.Meter("broker")
	securityMeter := inst.Meter("security")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"obo.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"obo.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.TokenValidationsTotal, err = brokerMeter.Int64Counter(
		"obo.token.validations.total",
		metric.WithDescription("Number of bearer token validations by outcome"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.validations.total counter: %w", err)
	}

	m.TokenValidationDuration, err = brokerMeter.Float64Histogram(
		"obo.token.validation.duration",
		metric.WithDescription("Bearer token validation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.validation.duration histogram: %w", err)
	}

	m.ExchangesTotal, err = brokerMeter.Int64Counter(
		"obo.exchanges.total",
		metric.WithDescription("Number of On-Behalf-Of exchanges by outcome"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchanges.total counter: %w", err)
	}

	m.ExchangeDuration, err = brokerMeter.Float64Histogram(
		"obo.exchange.duration",
		metric.WithDescription("On-Behalf-Of exchange duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange.duration histogram: %w", err)
	}

	m.DownstreamCallsTotal, err = brokerMeter.Int64Counter(
		"obo.downstream.calls.total",
		metric.WithDescription("Number of downstream data calls by result kind"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create downstream.calls.total counter: %w", err)
	}

	m.DownstreamCallDuration, err = brokerMeter.Float64Histogram(
		"obo.downstream.call.duration",
		metric.WithDescription("Downstream data call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create downstream.call.duration histogram: %w", err)
	}

	m.KeyFetchesTotal, err = brokerMeter.Int64Counter(
		"obo.keys.fetches.total",
		metric.WithDescription("Signing material lookups by outcome (cache_hit, fetched, error)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keys.fetches.total counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"obo.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	return m, nil
}

// RecordValidation records a token validation with its outcome
// ("valid", "untrusted", or "error") and duration (nil-safe).
func (m *Metrics) RecordValidation(ctx context.Context, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrOutcome, outcome))
	m.TokenValidationsTotal.Add(ctx, 1, attrs)
	m.TokenValidationDuration.Record(ctx, durationMs, attrs)
}

// RecordExchange records an On-Behalf-Of exchange with its outcome
// ("success" or "error") and duration (nil-safe).
func (m *Metrics) RecordExchange(ctx context.Context, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrOutcome, outcome))
	m.ExchangesTotal.Add(ctx, 1, attrs)
	m.ExchangeDuration.Record(ctx, durationMs, attrs)
}

// RecordDownstreamCall records a downstream data call with its result kind
// and duration (nil-safe).
func (m *Metrics) RecordDownstreamCall(ctx context.Context, kind string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String(AttrResultKind, kind))
	m.DownstreamCallsTotal.Add(ctx, 1, attrs)
	m.DownstreamCallDuration.Record(ctx, durationMs, attrs)
}

// RecordKeyFetch records a signing-material lookup with its outcome
// ("cache_hit", "fetched", or "error") (nil-safe).
func (m *Metrics) RecordKeyFetch(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.KeyFetchesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrOutcome, outcome)))
}
