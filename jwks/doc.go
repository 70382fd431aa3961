// Package jwks fetches and caches identity-provider signing material.
//
// For a tenant it retrieves the OpenID Connect discovery document from
// {authority}/{tenant}/v2.0/.well-known/openid-configuration, follows its
// jwks_uri to the published JSON Web Key Set, and caches the result with a
// time-based TTL (24 hours by default). Fetch failures are reported as
// *FetchError so callers can distinguish a provider outage from an untrusted
// token.
package jwks
