// Package instrumentation provides OpenTelemetry metrics and tracing for the
// OBO broker.
//
// The package exposes pre-configured instruments for the three hot paths:
// bearer token validation, On-Behalf-Of exchange, and the downstream data
// call, plus HTTP-layer and rate-limit instruments for the demo server.
// When disabled it installs no-op providers, so library users pay nothing
// unless they opt in. Exporter wiring is deliberately left to the embedding
// service.
//
// No instrument ever records credential material; see the attribute
// constants in tracing.go for what is considered safe metadata.
package instrumentation
