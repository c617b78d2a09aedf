package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qpaper"

// Reasons a request is not recorded as a visit.
const (
	SkipBot      = "bot"
	SkipIdentity = "no_identity"
	SkipStatus   = "error_status"
)

// Metrics holds all Prometheus metrics for qpaper. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP server metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Analytics metrics
	VisitsRecordedTotal    prometheus.Counter
	VisitsSkippedTotal     *prometheus.CounterVec
	RecordErrorsTotal      prometheus.Counter
	RecordDuration         prometheus.Histogram
	IdentifiersIssuedTotal prometheus.Counter
	IdentifierErrorsTotal  prometheus.Counter
	DashboardDegradedTotal prometheus.Counter

	// Admin metrics
	LoginAttemptsTotal *prometheus.CounterVec

	// SSE metrics
	SSESubscribersGauge prometheus.GaugeFunc

	// Database metrics
	DBVisitsTotal   prometheus.GaugeFunc
	DBPapersTotal   prometheus.GaugeFunc
	DBUsersTotal    prometheus.GaugeFunc
	DBSessionsTotal prometheus.GaugeFunc
}

// DBStats represents database statistics returned by the stats provider function.
type DBStats struct {
	VisitsCount   int64
	PapersCount   int64
	UsersCount    int64
	SessionsCount int64
}

// cachedDBStats caches the result of dbStatsFunc for all gauge funcs in a single scrape.
// Prometheus calls each GaugeFunc separately, so results are kept for one
// second to avoid a round of queries per gauge.
type cachedDBStats struct {
	mu          sync.RWMutex
	getStats    func() DBStats
	cachedStats DBStats
	cachedAt    int64 // Unix nanoseconds
}

func newCachedDBStats(getStats func() DBStats) *cachedDBStats {
	if getStats == nil {
		getStats = func() DBStats { return DBStats{} }
	}
	return &cachedDBStats{getStats: getStats}
}

func (c *cachedDBStats) get() DBStats {
	now := time.Now().UnixNano()

	c.mu.RLock()
	if c.cachedAt != 0 && now-c.cachedAt <= int64(time.Second) {
		stats := c.cachedStats
		c.mu.RUnlock()
		return stats
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cachedAt == 0 || now-c.cachedAt > int64(time.Second) {
		c.cachedStats = c.getStats()
		c.cachedAt = now
	}
	return c.cachedStats
}

// New creates all metrics and registers them on a fresh registry.
// sseClientCountFunc and dbStatsFunc may be nil.
func New(sseClientCountFunc func() int, dbStatsFunc func() DBStats) *Metrics {
	if sseClientCountFunc == nil {
		sseClientCountFunc = func() int { return 0 }
	}
	cache := newCachedDBStats(dbStatsFunc)

	dbGauge := func(name, help string, pick func(DBStats) int64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "db", Name: name, Help: help},
			func() float64 { return float64(pick(cache.get())) },
		)
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		VisitsRecordedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "visits_recorded_total",
			Help:      "Total number of visit events stored",
		}),
		VisitsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "visits_skipped_total",
				Help:      "Tracked page views that were not recorded, by reason",
			},
			[]string{"reason"},
		),
		RecordErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "record_errors_total",
			Help:      "Total number of visit events that failed to store",
		}),
		RecordDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "record_duration_seconds",
			Help:      "Time spent storing a visit event",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2},
		}),
		IdentifiersIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "identifiers_issued_total",
			Help:      "Total number of new visitor identifiers issued",
		}),
		IdentifierErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "identifier_errors_total",
			Help:      "Total number of failed visitor identifier generations",
		}),
		DashboardDegradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "dashboard_degraded_total",
			Help:      "Total number of stats snapshots served degraded after a query error",
		}),
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admin",
				Name:      "login_attempts_total",
				Help:      "Admin login attempts by result",
			},
			[]string{"result"},
		),
		SSESubscribersGauge: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sse",
				Name:      "subscribers",
				Help:      "Current number of SSE subscribers",
			},
			func() float64 {
				return float64(sseClientCountFunc())
			},
		),
		DBVisitsTotal: dbGauge("visits_total", "Total number of rows in the visits table",
			func(s DBStats) int64 { return s.VisitsCount }),
		DBPapersTotal: dbGauge("papers_total", "Total number of stored question papers",
			func(s DBStats) int64 { return s.PapersCount }),
		DBUsersTotal: dbGauge("users_total", "Total number of admin users",
			func(s DBStats) int64 { return s.UsersCount }),
		DBSessionsTotal: dbGauge("sessions_total", "Total number of admin sessions",
			func(s DBStats) int64 { return s.SessionsCount }),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.VisitsRecordedTotal,
		m.VisitsSkippedTotal,
		m.RecordErrorsTotal,
		m.RecordDuration,
		m.IdentifiersIssuedTotal,
		m.IdentifierErrorsTotal,
		m.DashboardDegradedTotal,
		m.LoginAttemptsTotal,
		m.SSESubscribersGauge,
		m.DBVisitsTotal,
		m.DBPapersTotal,
		m.DBUsersTotal,
		m.DBSessionsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request metric. route should be the
// matched pattern, not the raw path, to bound label cardinality.
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration)
}

// RecordVisit records a stored visit event.
func (m *Metrics) RecordVisit(durationSec float64) {
	if m == nil {
		return
	}
	m.VisitsRecordedTotal.Inc()
	m.RecordDuration.Observe(durationSec)
}

// RecordVisitError records a visit event that failed to store.
func (m *Metrics) RecordVisitError() {
	if m == nil {
		return
	}
	m.RecordErrorsTotal.Inc()
}

// RecordVisitSkipped records a tracked request that was not stored.
func (m *Metrics) RecordVisitSkipped(reason string) {
	if m == nil {
		return
	}
	m.VisitsSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordIdentifierIssued records a new visitor identifier.
func (m *Metrics) RecordIdentifierIssued() {
	if m == nil {
		return
	}
	m.IdentifiersIssuedTotal.Inc()
}

// RecordIdentifierError records a failed identifier generation.
func (m *Metrics) RecordIdentifierError() {
	if m == nil {
		return
	}
	m.IdentifierErrorsTotal.Inc()
}

// RecordDashboardDegraded records a degraded stats snapshot.
func (m *Metrics) RecordDashboardDegraded() {
	if m == nil {
		return
	}
	m.DashboardDegradedTotal.Inc()
}

// RecordLogin records an admin login attempt. result is one of "success",
// "failure" or "rate_limited".
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(result).Inc()
}
