package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRender(t *testing.T) {
	before := testutil.ToFloat64(rendersTotal.WithLabelValues("run", "success"))
	RecordRender("run", time.Millisecond, true)
	after := testutil.ToFloat64(rendersTotal.WithLabelValues("run", "success"))
	assert.Equal(t, before+1, after)
}

func TestRecordSave(t *testing.T) {
	RecordSave("explicit", 1234, true)
	assert.Equal(t, float64(1234), testutil.ToFloat64(snapshotBytes))

	RecordSave("explicit", 99, false)
	assert.Equal(t, float64(1234), testutil.ToFloat64(snapshotBytes), "failed save keeps last size")
}

func TestMiddlewareAndHandler(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")), float64(1))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "codepane_http_requests_total")
}
