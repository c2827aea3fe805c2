// Package metrics provides Prometheus metrics for the codepane server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepane_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codepane_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	rendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepane_renders_total",
			Help: "Preview renders by trigger and outcome",
		},
		[]string{"trigger", "status"},
	)

	renderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codepane_render_duration_seconds",
			Help:    "Time to compose a preview document",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	savesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepane_saves_total",
			Help: "Snapshot saves by trigger and outcome",
		},
		[]string{"trigger", "status"},
	)

	snapshotBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codepane_snapshot_bytes",
			Help: "Size of the last saved snapshot",
		},
	)

	consoleMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepane_console_messages_total",
			Help: "Console bridge messages by level and freshness",
		},
		[]string{"level", "stale"},
	)

	assistantRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codepane_assistant_requests_total",
			Help: "Assistant generation requests by outcome",
		},
		[]string{"status"},
	)

	assistantDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "codepane_assistant_duration_seconds",
			Help:    "Assistant generation latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	filesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "codepane_files",
			Help: "Number of files per folder",
		},
		[]string{"folder"},
	)

	rateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "codepane_http_rate_limited_total",
			Help: "API requests rejected by the per-IP rate limit",
		},
	)

	wsClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "codepane_websocket_clients",
			Help: "Connected websocket clients",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRender records a render attempt.
func RecordRender(trigger string, duration time.Duration, success bool) {
	rendersTotal.WithLabelValues(trigger, status(success)).Inc()
	renderDuration.Observe(duration.Seconds())
}

// RecordSave records a snapshot save.
func RecordSave(trigger string, size int, success bool) {
	savesTotal.WithLabelValues(trigger, status(success)).Inc()
	if success {
		snapshotBytes.Set(float64(size))
	}
}

// RecordConsoleMessage records a console bridge message.
func RecordConsoleMessage(level string, stale bool) {
	consoleMessagesTotal.WithLabelValues(level, strconv.FormatBool(stale)).Inc()
}

// RecordAssistantRequest records an assistant generation.
func RecordAssistantRequest(duration time.Duration, success bool) {
	assistantRequestsTotal.WithLabelValues(status(success)).Inc()
	assistantDuration.Observe(duration.Seconds())
}

// SetFolderSize sets the file count for a folder.
func SetFolderSize(folder string, n int) {
	filesTotal.WithLabelValues(folder).Set(float64(n))
}

// RecordRateLimited counts a request refused by the rate limiter.
func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

// SetWebSocketClients sets the connected client count.
func SetWebSocketClients(n int) {
	wsClients.Set(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. The
// websocket endpoint is passed through untouched so it can be hijacked.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, rw.statusCode, time.Since(start))
	})
}
