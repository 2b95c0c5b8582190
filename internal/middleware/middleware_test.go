package middleware

import (
	"bytes"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Request Logging Middleware Tests
// =============================================================================

func TestRequestLoggingMiddleware_LogsBasicInfo(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	req := httptest.NewRequest("POST", "/inspect/start", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	rec := httptest.NewRecorder()
	mw.Handler(okHandler()).ServeHTTP(rec, req)

	logOutput := buf.String()
	for _, want := range []string{"POST", "/inspect/start", "status=200", "duration_ms", "192.168.1.1", "request_id"} {
		if !strings.Contains(logOutput, want) {
			t.Errorf("log should contain %q, got: %s", want, logOutput)
		}
	}
}

func TestRequestLoggingMiddleware_RequestID(t *testing.T) {
	mw := NewRequestLoggingMiddleware(discardLogger())

	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	})

	t.Run("generated when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mw.Handler(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/inspect/queue", nil))

		if seen == "" {
			t.Fatal("expected a request id in context")
		}
		if got := rec.Header().Get(RequestIDHeader); got != seen {
			t.Errorf("response header %q does not match context id %q", got, seen)
		}
	})

	t.Run("incoming id reused", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/scopito/update-status", nil)
		req.Header.Set(RequestIDHeader, "scopito-cb-42")
		rec := httptest.NewRecorder()
		mw.Handler(handler).ServeHTTP(rec, req)

		if seen != "scopito-cb-42" {
			t.Errorf("expected incoming id to be reused, got %q", seen)
		}
	})
}

func TestRequestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusNotFound, "level=WARN"},
		{http.StatusInternalServerError, "level=ERROR"},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})

		mw.Handler(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/inspect/jobs/1", nil))

		if !strings.Contains(buf.String(), tt.level) {
			t.Errorf("status %d: expected %s, got: %s", tt.status, tt.level, buf.String())
		}
	}
}

func TestRequestLoggingMiddleware_RedactsSensitiveQueryParams(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	req := httptest.NewRequest("GET", "/inspect/queue?token=secrettoken123&page=2", nil)
	mw.Handler(okHandler()).ServeHTTP(httptest.NewRecorder(), req)

	logOutput := buf.String()
	if strings.Contains(logOutput, "secrettoken123") {
		t.Errorf("log should NOT contain sensitive token value, got: %s", logOutput)
	}
	if !strings.Contains(logOutput, "page=2") {
		t.Errorf("log should keep harmless params, got: %s", logOutput)
	}
}

func TestRequestLoggingMiddleware_PassesRequestThrough(t *testing.T) {
	mw := NewRequestLoggingMiddleware(discardLogger())

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Custom", "value")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("response body"))
	})

	rec := httptest.NewRecorder()
	mw.Handler(handler).ServeHTTP(rec, httptest.NewRequest("POST", "/projects/3/archive", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rec.Code)
	}
	if rec.Header().Get("X-Custom") != "value" {
		t.Error("custom header should be preserved")
	}
	if rec.Body.String() != "response body" {
		t.Errorf("response body should be preserved, got: %s", rec.Body.String())
	}
}

func TestRequestLoggingMiddleware_SkipsNoisyPaths(t *testing.T) {
	for _, path := range []string{"/health", "/metrics"} {
		var buf bytes.Buffer
		mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

		mw.Handler(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))

		if strings.Contains(buf.String(), path) {
			t.Errorf("%s should not be logged, got: %s", path, buf.String())
		}
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		path  string
		query string
		want  string
	}{
		{"/a", "", "/a"},
		{"/a", "page=1", "/a?page=1"},
		{"/a", "API_KEY=x&page=1", "/a?API_KEY=[REDACTED]&page=1"},
		{"/a", "X-Amz-Signature=abc", "/a?X-Amz-Signature=[REDACTED]"},
		{"/a", "flag", "/a"},
	}
	for _, tt := range tests {
		if got := sanitizePath(tt.path, tt.query); got != tt.want {
			t.Errorf("sanitizePath(%q, %q) = %q, want %q", tt.path, tt.query, got, tt.want)
		}
	}
}

// =============================================================================
// Callback Auth Middleware Tests
// =============================================================================

func TestCallbackAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{"valid token", "s3cret", "s3cret", http.StatusOK},
		{"missing token", "s3cret", "", http.StatusUnauthorized},
		{"wrong token", "s3cret", "guess", http.StatusUnauthorized},
		{"prefix of token", "s3cret", "s3c", http.StatusUnauthorized},
		{"disabled", "", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewCallbackAuthMiddleware(tt.configured, discardLogger())

			req := httptest.NewRequest("POST", "/inspect/update-status", strings.NewReader(`{}`))
			if tt.header != "" {
				req.Header.Set(CallbackTokenHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			mw.Handler(okHandler()).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
					t.Errorf("expected JSON error, got content type %q", ct)
				}
			}
		})
	}
}

// =============================================================================
// Metrics Auth Middleware Tests
// =============================================================================

func TestMetricsAuthMiddleware(t *testing.T) {
	mw := NewMetricsAuthMiddleware("admin", "secret123", discardLogger())
	wrapped := mw.Handler(okHandler())

	testCases := []struct {
		name     string
		setAuth  func(r *http.Request)
		expected int
	}{
		{"valid", func(r *http.Request) { r.SetBasicAuth("admin", "secret123") }, http.StatusOK},
		{"wrong password", func(r *http.Request) { r.SetBasicAuth("admin", "wrong") }, http.StatusUnauthorized},
		{"wrong username", func(r *http.Request) { r.SetBasicAuth("wrong", "secret123") }, http.StatusUnauthorized},
		{"no credentials", func(r *http.Request) {}, http.StatusUnauthorized},
		{"malformed header", func(r *http.Request) { r.Header.Set("Authorization", "Basic !!!") }, http.StatusUnauthorized},
		{"header injection", func(r *http.Request) {
			v := base64.StdEncoding.EncodeToString([]byte("admin:secret123\r\nX-Injected: header"))
			r.Header.Set("Authorization", "Basic "+v)
		}, http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/metrics", nil)
			tc.setAuth(req)
			rec := httptest.NewRecorder()
			wrapped.ServeHTTP(rec, req)

			if rec.Code != tc.expected {
				t.Errorf("expected %d, got %d", tc.expected, rec.Code)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != metricsRealm {
				t.Errorf("unexpected WWW-Authenticate header: %q", rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestMetricsAuthMiddleware_DisabledWhenNoCredentials(t *testing.T) {
	mw := NewMetricsAuthMiddleware("", "", discardLogger())

	rec := httptest.NewRecorder()
	mw.Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 when auth is disabled, got %d", rec.Code)
	}
}

// =============================================================================
// Rate Limit Tests
// =============================================================================

func TestRateLimiter_Allow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, time.Minute)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("fourth request should be limited")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("other clients have their own budget")
	}

	now = now.Add(20 * time.Second)
	if got := rl.TimeUntilReset("10.0.0.1"); got != 40*time.Second {
		t.Errorf("expected 40s until reset, got %v", got)
	}

	now = now.Add(40 * time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Error("window should have reset")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	mw := NewRateLimitMiddleware(rl, discardLogger())
	wrapped := mw.Limit(okHandler())

	newReq := func() *http.Request {
		req := httptest.NewRequest("POST", "/inspect/start", nil)
		req.RemoteAddr = "10.1.1.1:5000"
		req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		return req
	}

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, newReq())
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, newReq())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if !strings.Contains(rec.Body.String(), "rate_limit_exceeded") {
		t.Errorf("expected JSON error body, got %s", rec.Body.String())
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, "192.0.2.1:1234", "192.0.2.1"},
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": " 198.51.100.7 "}, "10.0.0.1:80", "198.51.100.7"},
		{"no port", nil, "192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

// =============================================================================
// API Headers Tests
// =============================================================================

func TestAPIHeadersMiddleware(t *testing.T) {
	tests := []struct {
		secure   bool
		wantHSTS bool
	}{
		{secure: true, wantHSTS: true},
		{secure: false, wantHSTS: false},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		NewAPIHeadersMiddleware(tt.secure).Handler(okHandler()).ServeHTTP(rec, httptest.NewRequest("GET", "/inspect/queue", nil))

		for header, want := range map[string]string{
			"X-Content-Type-Options": "nosniff",
			"X-Frame-Options":        "DENY",
			"Cache-Control":          "no-store",
		} {
			if got := rec.Header().Get(header); got != want {
				t.Errorf("%s = %q, want %q", header, got, want)
			}
		}
		if hasHSTS := rec.Header().Get("Strict-Transport-Security") != ""; hasHSTS != tt.wantHSTS {
			t.Errorf("secure=%v: HSTS present = %v", tt.secure, hasHSTS)
		}
	}
}

// =============================================================================
// Stack Tests
// =============================================================================

func TestStack_Order(t *testing.T) {
	var order []string
	tag := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Stack(tag("outer"), tag("inner"))(okHandler())
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v, want [outer inner]", order)
	}
}
