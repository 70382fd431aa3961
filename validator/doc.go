// Package validator verifies inbound bearer tokens against a tenant's
// published signing keys.
//
// Verification is RS256-only and enforces signature, expiry, issued-at,
// audience ("api://" + client ID), and membership of the issuer in the
// tenant's two canonical issuer forms. The subject is the token's oid claim.
//
// The package draws a hard line between two failure classes: untrusted
// tokens produce an empty subject with a nil error, while infrastructure
// failures (signing-material fetch) produce a *TokenValidationError.
package validator
