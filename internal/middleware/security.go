package middleware

import (
	"net/http"
)

// APIHeadersMiddleware sets response headers for a JSON-only API.
type APIHeadersMiddleware struct {
	isSecure bool // enable HSTS (production behind TLS)
}

// NewAPIHeadersMiddleware creates a new API headers middleware.
func NewAPIHeadersMiddleware(isSecure bool) *APIHeadersMiddleware {
	return &APIHeadersMiddleware{
		isSecure: isSecure,
	}
}

// Handler returns middleware that sets the headers on all responses.
func (m *APIHeadersMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")

		// Queue state changes on every callback; never serve it from a cache.
		h.Set("Cache-Control", "no-store")

		if m.isSecure {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
