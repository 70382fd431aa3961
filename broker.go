package obo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/obo-broker/exchange"
	"github.com/giantswarm/obo-broker/instrumentation"
	"github.com/giantswarm/obo-broker/jwks"
	"github.com/giantswarm/obo-broker/validator"
)

// Broker composes the token validator and the On-Behalf-Of exchanger into a
// single authenticate-then-delegate operation.
//
// Each call is independent and stateless apart from the shared signing-
// material cache; the Broker is safe for concurrent use.
type Broker struct {
	keys      *jwks.Provider
	validator *validator.Validator
	exchanger *exchange.Exchanger
	tenantID  string
	logger    *slog.Logger
	inst      *instrumentation.Instrumentation
	tracer    trace.Tracer
}

// New creates a Broker from the given configuration. The instrumentation
// argument may be nil, in which case a disabled (no-op) instance is used.
func New(cfg *Config, inst *instrumentation.Instrumentation) (*Broker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if inst == nil {
		var err error
		inst, err = instrumentation.New(instrumentation.Config{Enabled: false})
		if err != nil {
			return nil, fmt.Errorf("failed to create instrumentation: %w", err)
		}
	}

	keys := jwks.NewProvider(cfg.Authority, cfg.MetadataHTTPClient, cfg.KeyCacheTTL, logger)
	keys.SetMetrics(inst.Metrics())

	val, err := validator.New(validator.Config{
		TenantID: cfg.TenantID,
		ClientID: cfg.ClientID,
		Keys:     keys,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	exch, err := exchange.New(exchange.Config{
		TenantID:     cfg.TenantID,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Authority:    cfg.Authority,
		HTTPClient:   cfg.ExchangeHTTPClient,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create exchanger: %w", err)
	}

	return &Broker{
		keys:      keys,
		validator: val,
		exchanger: exch,
		tenantID:  cfg.TenantID,
		logger:    logger,
		inst:      inst,
		tracer:    inst.Tracer("broker"),
	}, nil
}

// ValidateAndExchange validates an inbound Authorization header value and,
// on success, trades it for a downstream access token with the requested
// scopes.
//
// Outcomes:
//   - untrusted or missing token: ("", nil, nil) — the expected
//     "unauthenticated caller" result, never an error
//   - signing material unavailable: *TokenValidationError
//   - exchange rejected: *OboTokenError
//   - success: the subject object ID and the delegated token
//
// The bearer token travels only through explicit parameters; there is no
// process-wide auth state, so concurrent requests cannot observe each
// other's identity.
func (b *Broker) ValidateAndExchange(ctx context.Context, authorizationHeader string, scopes []string) (string, *oauth2.Token, error) {
	ctx, span := b.tracer.Start(ctx, "obo.validate_and_exchange")
	defer span.End()
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrTenantID, b.tenantID),
		attribute.Bool(instrumentation.AttrTokenPresent, authorizationHeader != ""),
	)

	start := time.Now()
	subject, err := b.validator.Validate(ctx, authorizationHeader)
	validationMs := float64(time.Since(start).Microseconds()) / 1000.0

	switch {
	case err != nil:
		b.inst.Metrics().RecordValidation(ctx, "error", validationMs)
		instrumentation.RecordError(span, err)
		return "", nil, err
	case subject == "":
		b.inst.Metrics().RecordValidation(ctx, "untrusted", validationMs)
		b.logger.Warn("token validation failed, caller is unauthenticated")
		return "", nil, nil
	}
	b.inst.Metrics().RecordValidation(ctx, "valid", validationMs)

	start = time.Now()
	token, err := b.exchanger.Exchange(ctx, authorizationHeader, scopes)
	exchangeMs := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		b.inst.Metrics().RecordExchange(ctx, "error", exchangeMs)
		instrumentation.RecordError(span, err)
		b.logger.Error("failed to acquire OBO token", "subject", subject, "err", err)
		return "", nil, err
	}
	b.inst.Metrics().RecordExchange(ctx, "success", exchangeMs)

	instrumentation.AddBrokerAttributes(span, "", subject, "")
	instrumentation.SetSpanSuccess(span)
	b.logger.Info("validate-and-exchange completed", "subject", subject)

	return subject, token, nil
}

// Validate checks an inbound bearer token without performing an exchange.
// See [validator.Validator.Validate] for the outcome contract.
func (b *Broker) Validate(ctx context.Context, bearerToken string) (string, error) {
	return b.validator.Validate(ctx, bearerToken)
}

// Exchange performs a raw On-Behalf-Of exchange for a token the caller
// already trusts. The composed ValidateAndExchange is the supported entry
// point for unvalidated input.
func (b *Broker) Exchange(ctx context.Context, userToken string, scopes []string) (*oauth2.Token, error) {
	return b.exchanger.Exchange(ctx, userToken, scopes)
}

// InvalidateSigningMaterial drops the cached signing material for the
// broker's tenant, forcing a refetch on the next validation.
func (b *Broker) InvalidateSigningMaterial() {
	b.keys.Invalidate(b.tenantID)
}
