package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the client IP address from the request for rate limiting
// and audit logging.
//
// Only set trustProxy when running behind a trusted reverse proxy: the
// X-Forwarded-For and X-Real-IP headers are attacker-controlled on direct
// connections, and trusting them would let callers rotate identities to
// evade per-IP limits.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := leftmostForwardedIP(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && net.ParseIP(xri) != nil {
			return xri
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// leftmostForwardedIP parses X-Forwarded-For ("client, proxy1, proxy2, ...")
// and returns the leftmost entry if it is a valid IP.
func leftmostForwardedIP(xff string) string {
	if xff == "" {
		return ""
	}
	first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
	if net.ParseIP(first) != nil {
		return first
	}
	return ""
}
