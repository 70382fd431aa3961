// Package server exposes the container query tool over HTTP. It owns the
// request-scoped concerns (rate limiting, correlation IDs, security headers,
// status mapping) and delegates all token work to the broker stack.
package server
