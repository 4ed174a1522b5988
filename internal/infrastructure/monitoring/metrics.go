package monitoring

import (
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Session metrics
	SessionsCreated  prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsTerminal *prometheus.CounterVec
	SessionsSwept    prometheus.Counter
	BindRejections   *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Executor metrics
	ExecutorRuns     *prometheus.CounterVec
	ExecutorDuration *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors. Each server owns one so tests never touch the global registry.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics creates a metrics collector registered on reg.
// A nil reg falls back to the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsertasks_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browsertasks_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browsertasks_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browsertasks_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "browsertasks_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "browsertasks_sessions_active",
				Help: "Number of sessions held by the registry",
			},
		),
		SessionsTerminal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsertasks_sessions_terminal_total",
				Help: "Total number of sessions that reached a terminal state",
			},
			[]string{"state"},
		),
		SessionsSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "browsertasks_sessions_swept_total",
				Help: "Total number of sessions removed by the sweeper",
			},
		),
		BindRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsertasks_bind_rejections_total",
				Help: "Total number of rejected channel binds",
			},
			[]string{"category"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "browsertasks_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsertasks_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// Executor metrics
		ExecutorRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browsertasks_executor_runs_total",
				Help: "Total number of executor runs by outcome",
			},
			[]string{"executor", "outcome"},
		),
		ExecutorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browsertasks_executor_run_duration_seconds",
				Help:    "Executor run duration in seconds",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"executor"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "browsertasks_uptime_seconds",
			Help: "Service uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Handler serves the gatherer in exposition format, gzip-compressed when
// the scraper accepts it.
func Handler(g prometheus.Gatherer) http.Handler {
	return gzhttp.GzipHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{
		DisableCompression: true,
	}))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// IncSessionsCreated counts a new session and bumps the active gauge.
func (m *Metrics) IncSessionsCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
}

// DecSessionsActive drops one session from the active gauge.
func (m *Metrics) DecSessionsActive() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

// RecordSessionTerminal records a session reaching a terminal state
func (m *Metrics) RecordSessionTerminal(state string) {
	if m == nil {
		return
	}
	m.SessionsTerminal.WithLabelValues(state).Inc()
}

// AddSessionsSwept records sessions removed by one sweep
func (m *Metrics) AddSessionsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

// RecordBindRejection records a refused bind by error category
func (m *Metrics) RecordBindRejection(category string) {
	if m == nil {
		return
	}
	m.BindRejections.WithLabelValues(category).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// RecordExecutorRun records one finished executor run
func (m *Metrics) RecordExecutorRun(executor, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ExecutorRuns.WithLabelValues(executor, outcome).Inc()
	m.ExecutorDuration.WithLabelValues(executor).Observe(duration.Seconds())
}
