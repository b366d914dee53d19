// Package metrics provides Prometheus instrumentation for the service.
package metrics

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "safedrive"

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Telemetry ingestion
	SamplesIngested *prometheus.CounterVec
	SamplesRejected *prometheus.CounterVec
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Alerts
	AlertsEmitted      *prometheus.CounterVec
	AlertsSuppressed   *prometheus.CounterVec
	AlertsAcknowledged prometheus.Counter

	// Ledger
	RewardsMinted      prometheus.Counter
	RedemptionsTotal   *prometheus.CounterVec
	AchievementsMinted *prometheus.CounterVec
	IntegrityFailures  prometheus.Counter

	// Realtime
	WebsocketClients prometheus.Gauge

	// Database
	dbOpenConns prometheus.GaugeFunc
	dbInUse     prometheus.GaugeFunc
	dbIdle      prometheus.GaugeFunc
	dbWaitCount prometheus.GaugeFunc
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),

		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		httpRequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being served.",
		}),

		SamplesIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_ingested_total",
			Help:      "Telemetry samples accepted, by transport.",
		}, []string{"transport"}),

		SamplesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_rejected_total",
			Help:      "Telemetry samples rejected, by reason.",
		}, []string{"reason"}),

		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Driving sessions closed (gap rule or explicit stop).",
		}),

		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of closed driving sessions.",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 43200},
		}),

		AlertsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_emitted_total",
			Help:      "Wellness alerts emitted, by type and severity.",
		}, []string{"type", "severity"}),

		AlertsSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alerts suppressed by an unacknowledged alert of the same type.",
		}, []string{"type"}),

		AlertsAcknowledged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_acknowledged_total",
			Help:      "Alerts acknowledged by drivers.",
		}),

		RewardsMinted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_minted_total",
			Help:      "Session reward settlements that minted credits.",
		}),

		RedemptionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "Redemption attempts, by result.",
		}, []string{"result"}),

		AchievementsMinted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_minted_total",
			Help:      "Achievement bonuses minted, by tier.",
		}, []string{"type"}),

		IntegrityFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_failures_total",
			Help:      "Wellness log entries whose stored hash failed verification.",
		}),

		WebsocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_websocket_clients",
			Help:      "Currently connected realtime monitoring clients.",
		}),
	}

	return m
}

// Handler returns an http.Handler serving the /metrics endpoint.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// Middleware returns a gin middleware recording request counts and latency.
// Paths use the route template (e.g. /v1/drivers/:driverId/samples) so
// cardinality stays bounded.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.httpRequestsInFlight.Inc()

		c.Next()

		m.httpRequestsInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// StartDBStatsCollector registers gauges reflecting sql.DB pool stats.
// Safe to call once per process; no-op if db is nil.
func (m *Metrics) StartDBStatsCollector(db *sql.DB) {
	if db == nil {
		return
	}

	m.dbOpenConns = promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_open_connections",
		Help:      "Open database connections.",
	}, func() float64 { return float64(db.Stats().OpenConnections) })

	m.dbInUse = promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_in_use",
		Help:      "Database connections currently in use.",
	}, func() float64 { return float64(db.Stats().InUse) })

	m.dbIdle = promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_idle",
		Help:      "Idle database connections.",
	}, func() float64 { return float64(db.Stats().Idle) })

	m.dbWaitCount = promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_wait_count_total",
		Help:      "Total number of connections waited for.",
	}, func() float64 { return float64(db.Stats().WaitCount) })
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
