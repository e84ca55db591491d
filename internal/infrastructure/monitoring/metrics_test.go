package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIndependentRegistries(t *testing.T) {
	// Two collectors must not collide on registration
	a := NewMetrics()
	b := NewMetrics()

	a.RecordSubmission("debounce")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Submissions.WithLabelValues("debounce")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Submissions.WithLabelValues("debounce")))
}

func TestRecorders(t *testing.T) {
	m := NewMetrics()

	m.RecordInput("typed")
	m.RecordInput("typed")
	m.RecordDispatch("ok", 10*time.Millisecond)
	m.RecordDispatch("rejected", 10*time.Millisecond)
	m.SetStreamConnected(true)
	m.RecordFrame("binary")
	m.RecordDecodeError()
	m.ImageCreated(2048)
	m.ImageCreated(4096)
	m.ImageReleased()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.InputEvents.WithLabelValues("typed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamFrames.WithLabelValues("binary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamDecodeErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImagesLive))

	m.SetStreamConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StreamConnected))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordInput("typed")
		m.RecordSubmission("throttle")
		m.RecordDispatch("ok", time.Millisecond)
		m.SetStreamConnected(true)
		m.RecordFrame("text")
		m.RecordDecodeError()
		m.ImageCreated(1)
		m.ImageReleased()
		m.RecordHTTPRequest("GET", "/", "200", time.Millisecond)
		m.IncWSConnections()
		m.DecWSConnections()
		NewTimer(m).Stop("ok")
	})
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/state", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/state", "200")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, "dreamstream_http_requests_total"))
	assert.True(t, strings.Contains(body, "dreamstream_uptime_seconds"))
}
