package util

import "strings"

// bearerPrefix is the Authorization scheme prefix stripped from inbound
// header values.
const bearerPrefix = "Bearer "

// StripBearer removes a single leading "Bearer " prefix from an
// Authorization header value and trims surrounding whitespace. Raw tokens
// without the prefix pass through unchanged. The empty string means the
// caller presented no usable token.
//
// Example:
//
//	StripBearer("Bearer eyJhbGciOi...") // Returns: "eyJhbGciOi..."
//	StripBearer("eyJhbGciOi...")        // Returns: "eyJhbGciOi..."
//	StripBearer("Bearer ")              // Returns: ""
func StripBearer(header string) string {
	if strings.HasPrefix(header, bearerPrefix) {
		return strings.TrimSpace(strings.Replace(header, bearerPrefix, "", 1))
	}
	return strings.TrimSpace(header)
}

// SafeTruncate safely truncates a string to maxLen characters without
// panicking. This is used when logging identifiers like key IDs, where only
// a prefix should be shown.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
