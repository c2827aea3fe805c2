package server

import (
	"container/list"
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/livetemplate/codepane/internal/config"
	"github.com/livetemplate/codepane/internal/metrics"
)

const (
	// evictionLogInterval is the minimum time between eviction log messages.
	evictionLogInterval = 30 * time.Second
	limiterSweepEvery   = 5 * time.Minute
	limiterMaxIdle      = 10 * time.Minute
)

// CORSMiddleware answers cross-origin requests from the configured origins.
// With no origins configured it is a no-op. authHeader is added to the
// allowed request headers.
func CORSMiddleware(origins []string, authHeader string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	wildcard := false
	for _, o := range origins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	headers := []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"}
	if authHeader != "" && !strings.EqualFold(authHeader, "Authorization") && !strings.EqualFold(authHeader, "X-API-Key") {
		headers = append(headers, authHeader)
	}
	allowHeaders := strings.Join(headers, ", ")

	return func(next http.Handler) http.Handler {
		if len(origins) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (wildcard || allowed[origin]) {
				h := w.Header()
				if wildcard {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Set("Access-Control-Expose-Headers", "X-Codepane-Generation, X-Request-ID, Content-Disposition")
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware adds security headers to all responses.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "SAMEORIGIN")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			// The preview runs user code in a srcdoc iframe, which inherits this
			// policy: inline and eval'd scripts plus remote images, styles and
			// fetches have to work there.
			w.Header().Set("Content-Security-Policy",
				"default-src 'self'; "+
					"script-src 'self' 'unsafe-inline' 'unsafe-eval' https:; "+
					"style-src 'self' 'unsafe-inline' https:; "+
					"img-src 'self' data: blob: https:; "+
					"font-src 'self' data: https:; "+
					"connect-src 'self' ws: wss: https:; "+
					"frame-src 'self'; "+
					"frame-ancestors 'self'")

			next.ServeHTTP(w, r)
		})
	}
}

// ipLimiters is a bounded LRU of per-client token buckets. The least
// recently seen client is evicted when a new one arrives at capacity.
type ipLimiters struct {
	limit    rate.Limit
	burst    int
	capacity int
	log      *zap.Logger

	mu      sync.Mutex
	byIP    map[string]*list.Element
	lru     *list.List // of *ipBucket, front is most recent
	evicted int
	lastLog time.Time
}

type ipBucket struct {
	ip       string
	bucket   *rate.Limiter
	lastSeen time.Time
}

func newIPLimiters(rps float64, burst, capacity int, log *zap.Logger) *ipLimiters {
	if capacity <= 0 {
		capacity = maxTrackedIPs
	}
	return &ipLimiters{
		limit:    rate.Limit(rps),
		burst:    burst,
		capacity: capacity,
		log:      log,
		byIP:     make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// allow takes a token for ip.
func (l *ipLimiters) allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.byIP[ip]; ok {
		l.lru.MoveToFront(e)
		b := e.Value.(*ipBucket)
		b.lastSeen = now
		return b.bucket.Allow()
	}

	if l.lru.Len() >= l.capacity {
		l.evictOldest(now)
	}
	b := &ipBucket{ip: ip, bucket: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.byIP[ip] = l.lru.PushFront(b)
	return b.bucket.Allow()
}

// evictOldest drops the back of the LRU. Evictions are logged in batches.
func (l *ipLimiters) evictOldest(now time.Time) {
	back := l.lru.Back()
	if back == nil {
		return
	}
	l.lru.Remove(back)
	delete(l.byIP, back.Value.(*ipBucket).ip)

	l.evicted++
	if now.Sub(l.lastLog) >= evictionLogInterval {
		l.log.Info("rate limiter evicted least-recent clients",
			zap.Int("evicted", l.evicted),
			zap.Int("capacity", l.capacity),
		)
		l.lastLog = now
		l.evicted = 0
	}
}

// sweep forgets clients idle for longer than maxIdle. Recency order is by
// access, so the whole list is scanned.
func (l *ipLimiters) sweep(now time.Time, maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for e := l.lru.Back(); e != nil; {
		prev := e.Prev()
		if b := e.Value.(*ipBucket); now.Sub(b.lastSeen) > maxIdle {
			l.lru.Remove(e)
			delete(l.byIP, b.ip)
			removed++
		}
		e = prev
	}
	return removed
}

func (l *ipLimiters) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

// RateLimitMiddleware applies a per-client token bucket of rps with the
// given burst, tracking at most maxIPs clients. A sweeper goroutine runs
// until ctx is cancelled; the returned channel closes when it has exited.
func RateLimitMiddleware(ctx context.Context, rps float64, burst int, maxIPs int, logger *zap.Logger) (func(http.Handler) http.Handler, <-chan struct{}) {
	limiters := newIPLimiters(rps, burst, maxIPs, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				if n := limiters.sweep(now, limiterMaxIdle); n > 0 {
					logger.Debug("rate limiter swept idle clients", zap.Int("removed", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	middleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(clientIP(r)) {
				metrics.RecordRateLimited()
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return middleware, done
}

// clientIP returns the address a request is rate limited under. Forwarding
// headers are honoured only when the direct peer is a loopback or private
// address, i.e. a reverse proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}
	peer = peer.Unmap()

	if peer.IsLoopback() || peer.IsPrivate() {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	return peer.String()
}

// AuthMiddleware requires the configured API key on every request it wraps.
// Without a key it is a no-op.
func AuthMiddleware(authCfg *config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		apiKey := authCfg.GetAPIKey()
		if apiKey == "" {
			return next
		}
		headerName := authCfg.GetHeaderName()
		bearer := strings.EqualFold(headerName, "Authorization")

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// CORS preflight carries no credentials
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get(headerName)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if bearer {
				var ok bool
				token, ok = strings.CutPrefix(token, "Bearer ")
				if !ok || token == "" {
					writeJSONError(w, http.StatusUnauthorized, "invalid authorization format, expected Bearer token")
					return
				}
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
