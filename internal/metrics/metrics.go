package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for LinkForty.
type Metrics struct {
	// Resolver metrics
	Resolves       *prometheus.CounterVec
	ResolveLatency *prometheus.HistogramVec
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter

	// Click recorder metrics
	ClicksRecorded    *prometheus.CounterVec
	ClickRecordErrors *prometheus.CounterVec

	// Attribution metrics
	Installs          *prometheus.CounterVec
	AttributionScore  prometheus.Histogram
	InAppEvents       prometheus.Counter

	// Webhook metrics
	WebhookAttempts *prometheus.CounterVec
	WebhookLatency  *prometheus.HistogramVec

	// Event bus metrics
	BusDroppedEvents prometheus.Counter
	BusSubscribers   prometheus.Gauge

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Resolves: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resolves_total",
				Help:      "Link resolutions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		ResolveLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolve_latency_seconds",
				Help:      "Resolution latency in seconds",
				Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"outcome"},
		),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_cache_hits_total",
			Help:      "Link cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_cache_misses_total",
			Help:      "Link cache misses",
		}),
		ClicksRecorded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_recorded_total",
				Help:      "Click events persisted, by reason",
			},
			[]string{"reason"},
		),
		ClickRecordErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "click_record_errors_total",
				Help:      "Click recorder step failures",
			},
			[]string{"step"},
		),
		Installs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "installs_total",
				Help:      "Install reports by attribution outcome",
			},
			[]string{"outcome"},
		),
		AttributionScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attribution_score",
			Help:      "Confidence scores of matched installs",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		InAppEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "in_app_events_total",
			Help:      "In-app conversion events recorded",
		}),
		WebhookAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_attempts_total",
				Help:      "Webhook delivery attempts by outcome",
			},
			[]string{"event", "outcome"},
		),
		WebhookLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "webhook_latency_seconds",
				Help:      "Webhook delivery attempt latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"event"},
		),
		BusDroppedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eventbus_dropped_total",
			Help:      "Events dropped for slow bus subscribers",
		}),
		BusSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eventbus_subscribers",
			Help:      "Active event bus subscribers",
		}),
		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
	}
}

// RecordResolve records a resolution outcome. Nil-safe.
func (m *Metrics) RecordResolve(outcome, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.Resolves.WithLabelValues(outcome, reason).Inc()
	m.ResolveLatency.WithLabelValues(outcome).Observe(seconds)
}

// RecordCache records a cache hit or miss. Nil-safe.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// RecordClick records a persisted click. Nil-safe.
func (m *Metrics) RecordClick(reason string) {
	if m == nil {
		return
	}
	m.ClicksRecorded.WithLabelValues(reason).Inc()
}

// RecordClickError records a click recorder step failure. Nil-safe.
func (m *Metrics) RecordClickError(step string) {
	if m == nil {
		return
	}
	m.ClickRecordErrors.WithLabelValues(step).Inc()
}

// RecordInstall records an install report outcome. Nil-safe.
func (m *Metrics) RecordInstall(attributed bool, score float64) {
	if m == nil {
		return
	}
	if attributed {
		m.Installs.WithLabelValues("attributed").Inc()
		m.AttributionScore.Observe(score)
	} else {
		m.Installs.WithLabelValues("organic").Inc()
	}
}

// RecordInAppEvent records one conversion event. Nil-safe.
func (m *Metrics) RecordInAppEvent() {
	if m == nil {
		return
	}
	m.InAppEvents.Inc()
}

// RecordWebhookAttempt records one delivery attempt. Nil-safe.
func (m *Metrics) RecordWebhookAttempt(event string, success bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.WebhookAttempts.WithLabelValues(event, outcome).Inc()
	m.WebhookLatency.WithLabelValues(event).Observe(seconds)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
