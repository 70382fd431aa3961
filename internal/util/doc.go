// Package util provides common utility functions used across the obo-broker
// library.
//
// These utilities are used internally by multiple packages to keep the
// bearer-prefix handling of the validation and exchange paths identical and
// to avoid code duplication.
//
// Key utilities:
//   - StripBearer: Normalizes Authorization header values to a raw token
//   - SafeTruncate: Safely truncates strings for logging sensitive data
package util
