package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Davelummy/taxagent/internal/ratelimit"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRateLimitExceeded(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{Window: time.Minute, Max: 1})
	handler := RequestID(RateLimit(l, "api", msgTooManyRequests)(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/api/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr1.Code)

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	assert.Equal(t, "60", rr2.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr2.Body.Bytes(), &body))
	assert.Equal(t, msgTooManyRequests, body["error"])
	assert.NotEmpty(t, body["request_id"])

	other := req.Clone(req.Context())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	assert.Equal(t, http.StatusOK, rr3.Code, "limits are per caller")
}

func TestRateLimitMethodFilter(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{Window: time.Minute, Max: 1})
	handler := RateLimit(l, "intake", msgTooManyIntakes, http.MethodPost)(okHandler)

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/intake/status", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/intake", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/intake", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestRateLimitNilLimiter(t *testing.T) {
	handler := RateLimit(nil, "api", msgTooManyRequests)(okHandler)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRequestIDReusesInbound(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Request-ID"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Regexp(t, `^req_[0-9a-z]{26}$`, seen)
}

func TestSecurityHeadersProduction(t *testing.T) {
	rr := httptest.NewRecorder()
	SecurityHeaders(true)(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	h := rr.Header()
	assert.Contains(t, h.Get("Content-Security-Policy"), "frame-ancestors 'none'")
	assert.Equal(t, "same-site", h.Get("Cross-Origin-Resource-Policy"))
	assert.Equal(t, "nosniff", h.Get("X-Content-Type-Options"))
	assert.Equal(t, "camera=(), microphone=(), geolocation=()", h.Get("Permissions-Policy"))
	assert.Contains(t, h.Get("Strict-Transport-Security"), "max-age=63072000")
}

func TestCORSDefaultsToLocalOrigins(t *testing.T) {
	handler := CORS(nil)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/intake/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/intake/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAccessLogEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	handler := RequestID(AccessLog(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("http request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, "/log-test", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, "127.0.0.1", fields["remote_ip"])
	assert.NotEmpty(t, fields["request_id"])
	assert.Contains(t, fields, "duration_ms")
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	l := ratelimit.New(ratelimit.Config{Window: 5 * time.Minute, Max: 8})
	handler := ClientAddr(nil)(RateLimit(l, "intake", msgTooManyIntakes, http.MethodPost)(okHandler))

	limited := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/intake", nil)
		req.RemoteAddr = "203.0.113.9:4444"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 42, limited)
}

func TestRateLimitBehindTrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	l := ratelimit.New(ratelimit.Config{Window: time.Minute, Max: 1})
	handler := ClientAddr(proxies)(RateLimit(l, "api", msgTooManyRequests)(okHandler))

	send := func(xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		req.RemoteAddr = "10.0.0.5:8080"
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	assert.Equal(t, http.StatusOK, send("1.1.1.1, 203.0.113.9"))
	// a forged left-most hop does not change the key
	assert.Equal(t, http.StatusTooManyRequests, send("2.2.2.2, 203.0.113.9"))
	assert.Equal(t, http.StatusOK, send("203.0.113.10"))
}

func TestClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	cases := []struct {
		name    string
		remote  string
		xff     string
		trusted TrustedProxies
		want    string
	}{
		{"socket peer", "192.0.2.1:5555", "", nil, "192.0.2.1"},
		{"forwarded for ignored without trust", "192.0.2.1:5555", "203.0.113.9, 10.0.0.1", nil, "192.0.2.1"},
		{"untrusted peer", "198.51.100.7:80", "203.0.113.9", proxies, "198.51.100.7"},
		{"right-most untrusted hop", "192.0.2.1:5555", "6.6.6.6, 203.0.113.9, 10.1.2.3", proxies, "203.0.113.9"},
		{"all hops trusted", "10.0.0.2:80", "10.9.9.9, 10.0.0.1", proxies, "10.9.9.9"},
		{"garbage hop", "10.0.0.2:80", "nonsense, 10.0.0.1", proxies, "10.0.0.1"},
		{"no header behind proxy", "10.0.0.2:80", "", proxies, "10.0.0.2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			h := ClientAddr(tc.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = clientIP(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tc.want, got)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.1", clientIP(req), "without ClientAddr the peer is used")
}

func TestParseTrustedProxies(t *testing.T) {
	p, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.7 ", "", "::ffff:198.51.100.1"})
	require.NoError(t, err)
	require.Len(t, p, 3)
	assert.Equal(t, "192.0.2.7/32", p[1].String())
	assert.Equal(t, "198.51.100.1/32", p[2].String())

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = ParseTrustedProxies([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}
