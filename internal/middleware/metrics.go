package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

const metricsRealm = `Basic realm="panelcheck metrics"`

// MetricsAuthMiddleware guards /metrics with HTTP basic auth so queue depth
// and job counters are not public.
type MetricsAuthMiddleware struct {
	username []byte
	password []byte
	logger   *slog.Logger
}

// NewMetricsAuthMiddleware creates a metrics auth middleware. With neither
// credential set, scrapes are let through.
func NewMetricsAuthMiddleware(username, password string, logger *slog.Logger) *MetricsAuthMiddleware {
	return &MetricsAuthMiddleware{
		username: []byte(username),
		password: []byte(password),
		logger:   logger,
	}
}

// Enabled reports whether scrapes must authenticate.
func (m *MetricsAuthMiddleware) Enabled() bool {
	return len(m.username) > 0 || len(m.password) > 0
}

func (m *MetricsAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		user, pass, ok := r.BasicAuth()
		// Both compares always run.
		userOK := subtle.ConstantTimeCompare([]byte(user), m.username)
		passOK := subtle.ConstantTimeCompare([]byte(pass), m.password)
		if !ok || userOK&passOK != 1 {
			m.logger.Warn("metrics scrape rejected", "ip", getClientIP(r), "credentials_present", ok)
			w.Header().Set("WWW-Authenticate", metricsRealm)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
