package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
)

// CallbackTokenHeader is the header inspection backends send the shared
// callback secret in.
const CallbackTokenHeader = "X-Callback-Token"

// CallbackAuthMiddleware guards the status callback routes with a shared
// secret.
type CallbackAuthMiddleware struct {
	token  []byte
	logger *slog.Logger
}

// NewCallbackAuthMiddleware creates a callback auth middleware. An empty
// token disables the check, which is only meant for development.
func NewCallbackAuthMiddleware(token string, logger *slog.Logger) *CallbackAuthMiddleware {
	return &CallbackAuthMiddleware{
		token:  []byte(token),
		logger: logger,
	}
}

// Enabled reports whether callbacks must present a token.
func (m *CallbackAuthMiddleware) Enabled() bool {
	return len(m.token) > 0
}

// Handler returns middleware that rejects callbacks without the token.
func (m *CallbackAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		got := []byte(r.Header.Get(CallbackTokenHeader))
		if subtle.ConstantTimeCompare(got, m.token) != 1 {
			m.logger.Warn("callback rejected",
				"path", r.URL.Path,
				"ip", getClientIP(r),
				"token_present", len(got) > 0,
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "unauthorized",
				"message": "Missing or invalid callback token.",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
