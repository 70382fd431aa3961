// Package exchange implements the OAuth2 On-Behalf-Of grant against an
// Entra ID token endpoint.
//
// The exchanger is a confidential client: it presents the user's validated
// token as a jwt-bearer assertion together with the client credential and
// receives an access token scoped to a downstream resource. The downstream
// token preserves the user's identity, so the downstream service can apply
// its own authorization.
//
// Acquired tokens are secrets. They are never logged, never embedded in
// error text, and never cached: each Exchange call is a fresh grant.
package exchange
