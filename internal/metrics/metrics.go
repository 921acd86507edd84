package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the compliance pipeline.
// All record methods are safe on a nil *Metrics, so instrumented code
// does not need to guard for disabled metrics.
type Metrics struct {
	checksTotal     *prometheus.CounterVec
	violationsTotal *prometheus.CounterVec
	checkDuration   *prometheus.HistogramVec

	scanMatchesTotal *prometheus.CounterVec

	aiRequestsTotal *prometheus.CounterVec
	aiDuration      *prometheus.HistogramVec

	cacheLookupsTotal *prometheus.CounterVec

	ruleLoadsTotal prometheus.Counter
	activeRules    *prometheus.GaugeVec

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	wsConnections prometheus.Gauge
}

// New registers the collectors with the default Prometheus registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the collectors with the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_compliance_checks_total",
				Help: "Total number of compliance checks performed",
			},
			[]string{"jurisdiction", "result"},
		),

		violationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_rule_violations_total",
				Help: "Total number of rule violations detected",
			},
			[]string{"jurisdiction", "severity"},
		),

		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_check_duration_seconds",
				Help:    "Duration of rule-based compliance checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
			},
			[]string{"jurisdiction"},
		),

		scanMatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_sensitive_data_matches_total",
				Help: "Total number of sensitive data detections by category",
			},
			[]string{"category"},
		),

		aiRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_ai_requests_total",
				Help: "Total number of AI review operations by outcome",
			},
			[]string{"operation", "outcome"},
		),

		aiDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_ai_request_duration_seconds",
				Help:    "Duration of AI review operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"operation"},
		),

		cacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_cache_lookups_total",
				Help: "Total number of cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		),

		ruleLoadsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sentinel_rule_loads_total",
				Help: "Total number of completed rule load batches",
			},
		),

		activeRules: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sentinel_active_rules",
				Help: "Current number of active rules per jurisdiction",
			},
			[]string{"jurisdiction"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		wsConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_websocket_connections",
				Help: "Current number of connected WebSocket clients",
			},
		),
	}
}

// RecordCheck records one rule-based compliance check.
func (m *Metrics) RecordCheck(jurisdiction string, violations int, duration time.Duration) {
	if m == nil {
		return
	}
	result := "compliant"
	if violations > 0 {
		result = "violations"
	}
	m.checksTotal.WithLabelValues(jurisdiction, result).Inc()
	m.checkDuration.WithLabelValues(jurisdiction).Observe(duration.Seconds())
}

// RecordViolation records one detected rule violation.
func (m *Metrics) RecordViolation(jurisdiction, severity string) {
	if m == nil {
		return
	}
	m.violationsTotal.WithLabelValues(jurisdiction, severity).Inc()
}

// RecordScanMatch records one sensitive data detection.
func (m *Metrics) RecordScanMatch(category string) {
	if m == nil {
		return
	}
	m.scanMatchesTotal.WithLabelValues(category).Inc()
}

// RecordAIRequest records one AI review operation.
func (m *Metrics) RecordAIRequest(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.aiRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.aiDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(cache, result).Inc()
}

// RecordRuleLoad records a completed rule load batch.
func (m *Metrics) RecordRuleLoad() {
	if m == nil {
		return
	}
	m.ruleLoadsTotal.Inc()
}

// SetActiveRules updates the active rule count for a jurisdiction.
func (m *Metrics) SetActiveRules(jurisdiction string, count int) {
	if m == nil {
		return
	}
	m.activeRules.WithLabelValues(jurisdiction).Set(float64(count))
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetWSConnections updates the connected WebSocket client count.
func (m *Metrics) SetWSConnections(count int) {
	if m == nil {
		return
	}
	m.wsConnections.Set(float64(count))
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
