// Package obo brokers delegated (On-Behalf-Of) access to downstream
// resources from within an AI-agent tool call.
//
// A user authenticates to a front-end and invokes an agent; the agent's tool
// must reach backend data under the originating user's identity so that the
// backend can enforce its own authorization. The Broker performs the two
// protocol steps that make this safe: it validates the inbound bearer token
// against the tenant's published signing keys, then exchanges it for a
// downstream-scoped access token via the OAuth2 On-Behalf-Of grant.
//
// Basic usage:
//
//	cfg, err := obo.FromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	broker, err := obo.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	subject, token, err := broker.ValidateAndExchange(ctx,
//	    r.Header.Get("Authorization"),
//	    []string{"https://data.example/user_impersonation"})
//	switch {
//	case err != nil:
//	    // infra outage (*TokenValidationError) or rejected exchange (*OboTokenError)
//	case subject == "":
//	    // unauthenticated caller - expected, not an error
//	default:
//	    // attach token to the outbound downstream call
//	}
//
// Subpackages:
//
//   - jwks: identity-provider discovery and signing-key cache
//   - validator: RS256 bearer token verification
//   - exchange: the On-Behalf-Of grant itself
//   - datatool: the container query tool built on the broker
//   - server: a chi-based HTTP surface for the tool
//   - security: secret redaction, rate limiting, request correlation
//   - instrumentation: OpenTelemetry metrics and tracing
package obo
