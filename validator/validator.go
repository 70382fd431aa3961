package validator

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/giantswarm/obo-broker/internal/util"
	"github.com/giantswarm/obo-broker/jwks"
)

// TokenValidationError indicates that validation could not be performed
// because of an infrastructure failure, typically a signing-material fetch
// error. It is deliberately distinct from an untrusted token, which Validate
// reports as an empty subject with a nil error.
type TokenValidationError struct {
	Err error
}

func (e *TokenValidationError) Error() string {
	return fmt.Sprintf("token validation failed: %v", e.Err)
}

func (e *TokenValidationError) Unwrap() error { return e.Err }

// KeySource provides a tenant's signing material. *jwks.Provider implements
// it; tests substitute fakes.
type KeySource interface {
	SigningMaterial(ctx context.Context, tenantID string) (*jwks.SigningMaterial, error)
}

// Config holds the validator configuration.
type Config struct {
	// TenantID is the Entra ID tenant whose tokens are accepted.
	TenantID string

	// ClientID is this service's application (client) ID. The expected
	// token audience is "api://" + ClientID.
	ClientID string

	// Keys supplies the tenant's signing material.
	Keys KeySource

	// Logger for structured logging (optional, uses default if not provided).
	Logger *slog.Logger

	// Now overrides the time source for expiry checks. Nil uses time.Now.
	Now func() time.Time
}

// Validator verifies inbound bearer tokens against the tenant's published
// signing keys and claim policy, and extracts the subject object ID.
//
// Validate returns an empty subject (and nil error) for every flavor of
// untrusted token: unknown key ID, bad signature, expiry, wrong audience or
// issuer, missing oid claim. Only infrastructure failures surface as a
// *TokenValidationError. This keeps "the caller is unauthenticated"
// (expected, frequent) cleanly separated from "the system is broken"
// (rare, alertable).
type Validator struct {
	tenantID string
	clientID string
	keys     KeySource
	logger   *slog.Logger
	now      func() time.Time
}

// errKeyNotFound marks a token whose kid has no matching published key.
// It stays inside the package: an unmatched kid is an untrusted token,
// not an error the caller sees.
var errKeyNotFound = errors.New("no signing key matches token key id")

// New creates a Validator. Config.TenantID, ClientID, and Keys are required;
// Logger and Now fall back to defaults.
func New(cfg Config) (*Validator, error) {
	if cfg.TenantID == "" {
		return nil, errors.New("tenant ID is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.Keys == nil {
		return nil, errors.New("key source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Validator{
		tenantID: cfg.TenantID,
		clientID: cfg.ClientID,
		keys:     cfg.Keys,
		logger:   logger,
		now:      now,
	}, nil
}

// Audience returns the audience value accepted by this validator.
func (v *Validator) Audience() string {
	return "api://" + v.clientID
}

// validIssuers returns the two canonical issuer forms for the tenant.
func (v *Validator) validIssuers() []string {
	return []string{
		"https://login.microsoftonline.com/" + v.tenantID + "/v2.0",
		"https://sts.windows.net/" + v.tenantID + "/",
	}
}

// Validate checks a bearer token (with or without the "Bearer " prefix) and
// returns the subject object ID from its oid claim.
//
// An empty subject with nil error means the token is untrusted; the event is
// logged at warning level without any token material. A *TokenValidationError
// means signing material could not be retrieved.
func (v *Validator) Validate(ctx context.Context, bearerToken string) (string, error) {
	token := util.StripBearer(bearerToken)
	if token == "" {
		v.logger.Warn("empty bearer token")
		return "", nil
	}

	material, err := v.keys.SigningMaterial(ctx, v.tenantID)
	if err != nil {
		return "", &TokenValidationError{Err: err}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.Audience()),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)

	claims := jwt.MapClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errKeyNotFound
		}
		key, found := material.Keys.LookupKeyID(kid)
		if !found {
			v.logger.Warn("signing key not found for token",
				"kid", util.SafeTruncate(kid, 16))
			return nil, errKeyNotFound
		}
		var pub rsa.PublicKey
		if err := key.Raw(&pub); err != nil {
			return nil, fmt.Errorf("failed to materialize public key: %w", err)
		}
		return &pub, nil
	})
	if err != nil {
		v.logger.Warn("token rejected", "reason", err.Error())
		return "", nil
	}
	if !parsed.Valid {
		v.logger.Warn("token rejected", "reason", "invalid token")
		return "", nil
	}

	issuer, err := claims.GetIssuer()
	if err != nil || !v.issuerAllowed(issuer) {
		v.logger.Warn("token rejected", "reason", "issuer not trusted for tenant")
		return "", nil
	}

	oid, ok := claims["oid"].(string)
	if !ok || oid == "" {
		v.logger.Warn("token rejected", "reason", "oid claim missing")
		return "", nil
	}

	v.logger.Info("token validated", "subject", oid)
	return oid, nil
}

func (v *Validator) issuerAllowed(issuer string) bool {
	for _, valid := range v.validIssuers() {
		if issuer == valid {
			return true
		}
	}
	return false
}
