package obo

import (
	"errors"

	"github.com/giantswarm/obo-broker/exchange"
	"github.com/giantswarm/obo-broker/jwks"
	"github.com/giantswarm/obo-broker/validator"
)

// Error type aliases so broker callers can classify failures without
// importing the subpackages.
type (
	// TokenValidationError signals that validation could not run because
	// signing material was unavailable. Maps to a 5xx-class response at
	// the HTTP boundary: the dependency is down, the caller did nothing
	// wrong.
	TokenValidationError = validator.TokenValidationError

	// OboTokenError signals a failed On-Behalf-Of exchange, carrying the
	// provider's error description. Maps to 401/403 at the HTTP boundary
	// depending on the description.
	OboTokenError = exchange.OboTokenError

	// ConfigFetchError signals a discovery or JWKS fetch failure.
	ConfigFetchError = jwks.FetchError
)

// IsInfraError reports whether err represents an identity-provider or
// signing-material outage rather than a caller problem.
func IsInfraError(err error) bool {
	var ve *TokenValidationError
	var fe *ConfigFetchError
	return errors.As(err, &ve) || errors.As(err, &fe)
}

// IsExchangeError reports whether err is a failed On-Behalf-Of exchange.
func IsExchangeError(err error) bool {
	var oe *OboTokenError
	return errors.As(err, &oe)
}
