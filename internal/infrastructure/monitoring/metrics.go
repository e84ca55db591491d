package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of one process.
// Every method is safe on a nil receiver so components can run unmetered.
type Metrics struct {
	registry *prometheus.Registry

	// Input metrics
	InputEvents *prometheus.CounterVec
	Submissions *prometheus.CounterVec

	// Dispatch metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration prometheus.Histogram

	// Stream metrics
	StreamConnected    prometheus.Gauge
	StreamFrames       *prometheus.CounterVec
	StreamDecodeErrors prometheus.Counter
	ImagesLive         prometheus.Gauge
	ImageBytes         prometheus.Histogram

	// Preview server metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	WSConnections   prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates a metrics collector backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		InputEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dreamstream_input_events_total",
				Help: "Total number of input-change events by origin",
			},
			[]string{"origin"},
		),
		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dreamstream_submissions_total",
				Help: "Total number of submissions fired by each pacing policy",
			},
			[]string{"policy"},
		),

		DispatchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dreamstream_dispatch_total",
				Help: "Total number of prompt submissions by outcome",
			},
			[]string{"outcome"},
		),
		DispatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dreamstream_dispatch_duration_seconds",
				Help:    "Prompt submission round trip in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		StreamConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dreamstream_stream_connected",
				Help: "1 while the result stream is connected",
			},
		),
		StreamFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dreamstream_stream_frames_total",
				Help: "Total number of inbound stream frames by kind",
			},
			[]string{"kind"},
		),
		StreamDecodeErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dreamstream_stream_decode_errors_total",
				Help: "Total number of binary frames dropped as undecodable",
			},
		),
		ImagesLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dreamstream_images_live",
				Help: "Number of displayable images currently held",
			},
		),
		ImageBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dreamstream_image_bytes",
				Help:    "Size of received image payloads in bytes",
				Buckets: []float64{1e3, 1e4, 1e5, 5e5, 1e6, 5e6},
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dreamstream_http_requests_total",
				Help: "Total number of preview HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dreamstream_http_request_duration_seconds",
				Help:    "Preview HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dreamstream_ws_connections",
				Help: "Number of preview websocket subscribers",
			},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "dreamstream_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordInput records one input-change event.
func (m *Metrics) RecordInput(origin string) {
	if m == nil {
		return
	}
	m.InputEvents.WithLabelValues(origin).Inc()
}

// RecordSubmission records a pacing policy firing.
func (m *Metrics) RecordSubmission(policy string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(policy).Inc()
}

// RecordDispatch records the outcome and latency of one submission.
func (m *Metrics) RecordDispatch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(outcome).Inc()
	m.DispatchDuration.Observe(duration.Seconds())
}

// SetStreamConnected flips the connection gauge.
func (m *Metrics) SetStreamConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.StreamConnected.Set(1)
		return
	}
	m.StreamConnected.Set(0)
}

// RecordFrame records an inbound stream frame.
func (m *Metrics) RecordFrame(kind string) {
	if m == nil {
		return
	}
	m.StreamFrames.WithLabelValues(kind).Inc()
}

// RecordDecodeError records a dropped binary frame.
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.StreamDecodeErrors.Inc()
}

// ImageCreated records a new live image of the given size.
func (m *Metrics) ImageCreated(size int) {
	if m == nil {
		return
	}
	m.ImagesLive.Inc()
	m.ImageBytes.Observe(float64(size))
}

// ImageReleased records a released image.
func (m *Metrics) ImageReleased() {
	if m == nil {
		return
	}
	m.ImagesLive.Dec()
}

// RecordHTTPRequest records a preview HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncWSConnections increments preview websocket subscribers
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements preview websocket subscribers
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
