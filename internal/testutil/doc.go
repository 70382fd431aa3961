// Package testutil provides testing utilities for the obo-broker library.
// It includes RSA test keys, helpers for signing test tokens, a mock
// identity provider, and mock time providers for deterministic testing.
package testutil
