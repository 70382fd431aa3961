package security

import (
	"net/http"
)

// SecurityHeadersMiddleware sets defensive HTTP response headers on every
// response. The broker's endpoints serve JSON only, so a maximally strict
// Content-Security-Policy is safe, and responses carrying delegated data must
// never be cached by intermediaries.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		h.Set("Pragma", "no-cache")

		next.ServeHTTP(w, r)
	})
}
