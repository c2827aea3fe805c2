package server

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/livetemplate/codepane/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func reqFromIP(ip string) *http.Request {
	r := httptest.NewRequest("GET", "/api/state", nil)
	r.RemoteAddr = ip + ":12345"
	return r
}

// rateLimitWrap creates a rate-limited handler with a context that is
// cancelled when the test finishes, preventing goroutine leaks.
func rateLimitWrap(t *testing.T, rps float64, burst, maxIPs int, next http.Handler) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	mw, _ := RateLimitMiddleware(ctx, rps, burst, maxIPs, zap.NewNop())
	return mw(next)
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRateLimitLRUEviction(t *testing.T) {
	wrapped := rateLimitWrap(t, 100, 100, 3, okHandler())

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		require.Equal(t, http.StatusOK, serve(wrapped, reqFromIP(ip)).Code, "IP %s", ip)
	}

	// A 4th IP evicts the least recent entry instead of being refused.
	assert.Equal(t, http.StatusOK, serve(wrapped, reqFromIP("4.4.4.4")).Code)
}

func TestRateLimitEvictedIPGetsFreshLimiter(t *testing.T) {
	wrapped := rateLimitWrap(t, 100, 1, 2, okHandler())

	require.Equal(t, http.StatusOK, serve(wrapped, reqFromIP("1.1.1.1")).Code)

	w := serve(wrapped, reqFromIP("1.1.1.1"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())

	for _, ip := range []string{"2.2.2.2", "3.3.3.3"} {
		require.Equal(t, http.StatusOK, serve(wrapped, reqFromIP(ip)).Code)
	}

	assert.Equal(t, http.StatusOK, serve(wrapped, reqFromIP("1.1.1.1")).Code, "evicted IP gets a full bucket")
}

func TestRateLimitMRUNotEvicted(t *testing.T) {
	wrapped := rateLimitWrap(t, 100, 100, 3, okHandler())

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		require.Equal(t, http.StatusOK, serve(wrapped, reqFromIP(ip)).Code)
	}
	// Touch A so B becomes the eviction candidate.
	require.Equal(t, http.StatusOK, serve(wrapped, reqFromIP("10.0.0.1")).Code)
	require.Equal(t, http.StatusOK, serve(wrapped, reqFromIP("10.0.0.4")).Code)
	assert.Equal(t, http.StatusOK, serve(wrapped, reqFromIP("10.0.0.1")).Code)
}

func TestRateLimitConcurrentAccess(t *testing.T) {
	wrapped := rateLimitWrap(t, 1000, 1000, 100, okHandler())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			ip := fmt.Sprintf("10.0.%d.%d", id/256, id%256)
			for j := 0; j < 10; j++ {
				w := serve(wrapped, reqFromIP(ip))
				assert.NotEqual(t, http.StatusServiceUnavailable, w.Code)
			}
		}(i)
	}
	wg.Wait()
}

func TestRateLimitCleanupStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	_, done := RateLimitMiddleware(ctx, 100, 100, 100, zap.NewNop())

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup goroutine did not exit within 2s")
	}
}

func TestIPLimitersSweep(t *testing.T) {
	l := newIPLimiters(10, 10, 10, zap.NewNop())
	require.True(t, l.allow("1.1.1.1"))
	require.True(t, l.allow("2.2.2.2"))
	require.Equal(t, 2, l.tracked())

	assert.Zero(t, l.sweep(time.Now(), time.Minute))
	assert.Equal(t, 2, l.sweep(time.Now().Add(2*time.Minute), time.Minute))
	assert.Zero(t, l.tracked())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct peer", "203.0.113.7:5000", "", "203.0.113.7"},
		{"public peer ignores forwarded header", "203.0.113.7:5000", "198.51.100.1", "203.0.113.7"},
		{"loopback proxy", "127.0.0.1:5000", "198.51.100.1, 10.0.0.1", "198.51.100.1"},
		{"private proxy", "10.1.2.3:5000", "198.51.100.2", "198.51.100.2"},
		{"ipv6 peer", "[2001:db8::1]:5000", "", "2001:db8::1"},
		{"unparseable peer", "pipe", "198.51.100.3", "pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		wantHeader string
	}{
		{"not configured", nil, "http://a.test", ""},
		{"allowed origin echoed", []string{"http://a.test"}, "http://a.test", "http://a.test"},
		{"other origin", []string{"http://a.test"}, "http://b.test", ""},
		{"wildcard", []string{"*"}, "http://b.test", "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORSMiddleware(tt.origins, "X-Codepane-Key")(okHandler())
			r := httptest.NewRequest("GET", "/api/state", nil)
			r.Header.Set("Origin", tt.origin)
			w := serve(h, r)
			assert.Equal(t, tt.wantHeader, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantHeader != "" {
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Codepane-Key")
			}
		})
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	called := false
	h := CORSMiddleware([]string{"*"}, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	r := httptest.NewRequest(http.MethodOptions, "/api/save", nil)
	r.Header.Set("Origin", "http://a.test")

	assert.Equal(t, http.StatusNoContent, serve(h, r).Code)
	assert.False(t, called)
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		auth   *config.AuthConfig
		header string
		value  string
		want   int
	}{
		{"disabled", nil, "", "", http.StatusOK},
		{"missing key", &config.AuthConfig{APIKey: "k"}, "", "", http.StatusUnauthorized},
		{"wrong key", &config.AuthConfig{APIKey: "k"}, "X-API-Key", "nope", http.StatusUnauthorized},
		{"right key", &config.AuthConfig{APIKey: "k"}, "X-API-Key", "k", http.StatusOK},
		{"bearer", &config.AuthConfig{APIKey: "k", HeaderName: "Authorization"}, "Authorization", "Bearer k", http.StatusOK},
		{"bearer missing prefix", &config.AuthConfig{APIKey: "k", HeaderName: "Authorization"}, "Authorization", "k", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := AuthMiddleware(tt.auth)(okHandler())
			r := httptest.NewRequest("GET", "/api/state", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			assert.Equal(t, tt.want, serve(h, r).Code)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	w := serve(SecurityHeadersMiddleware()(okHandler()), httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, "SAMEORIGIN", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	csp := w.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "script-src 'self' 'unsafe-inline'")
	assert.Contains(t, csp, "img-src 'self' data:")
}

func TestCompression(t *testing.T) {
	body := []byte("<p>hello hello hello hello</p>")
	h := WithCompression(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/zip" {
			w.Header().Set("Content-Type", "application/zip")
		} else {
			w.Header().Set("Content-Type", "text/html")
		}
		_, _ = w.Write(body)
	}))

	r := httptest.NewRequest("GET", "/page", nil)
	r.Header.Set("Accept-Encoding", "gzip, deflate")
	w := serve(h, r)
	require.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	zr, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, body, plain)

	r = httptest.NewRequest("GET", "/zip", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w = serve(h, r)
	assert.Empty(t, w.Header().Get("Content-Encoding"), "archives are already compressed")
	assert.Equal(t, body, w.Body.Bytes())

	r = httptest.NewRequest("GET", "/page", nil)
	w = serve(h, r)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, body, w.Body.Bytes())
}
