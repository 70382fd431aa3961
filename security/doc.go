// Package security provides security-related functionality for the OBO
// broker and its HTTP surface: secret redaction, per-caller rate limiting,
// client IP extraction, request ID correlation, audit logging with hashed
// PII, and defensive response headers.
//
// # Secret handling
//
// Credential material (the confidential client secret, delegated access
// tokens) is carried as the Secret type, which redacts its value in String(),
// GoString(), and MarshalText(). This keeps secrets out of logs and
// serialized output even when a value is formatted by accident.
//
// # Rate limiting
//
// The RateLimiter provides per-identifier token-bucket rate limiting with
// periodic cleanup of idle entries:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // 429 Too Many Requests
//	}
//
// # Request correlation
//
// RequestIDMiddleware assigns each inbound request a correlation ID
// (preserving valid upstream IDs) and stores it in the request context, where
// handlers and loggers retrieve it with GetRequestID. Log lines for a single
// validate-and-exchange call share one ID without any token material ever
// being logged.
package security
