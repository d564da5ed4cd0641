package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

const namespace = "tokvault"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Token metrics
	TokensIssued   *prometheus.CounterVec
	Redemptions    *prometheus.CounterVec
	LineDeliveries *prometheus.CounterVec

	// Store metrics
	StoreDuration *prometheus.HistogramVec
	StoreErrors   *prometheus.CounterVec

	// Notification metrics
	Notifications *prometheus.CounterVec

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter
	AuthFailures    *prometheus.CounterVec
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// NewRegistry creates a registry with all metrics and the Go runtime and
// process collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,

		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Download tokens issued, by product.",
		}, []string{"product"}),

		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "Download redemption attempts, by outcome.",
		}, []string{"outcome"}),

		LineDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "line_deliveries_total",
			Help:      "Order line deliveries, by delivery status.",
		}, []string{"status"}),

		StoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Token store operation latency.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		}, []string{"op"}),

		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Token store operation errors.",
		}, []string{"op"}),

		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Delivery notifications, by sink and result.",
		}, []string{"sink", "result"}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route and status code.",
		}, []string{"method", "route", "code"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),

		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "auth_failures_total",
			Help:      "Internal API authentication failures, by error code.",
		}, []string{"code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.TokensIssued,
		r.Redemptions,
		r.LineDeliveries,
		r.StoreDuration,
		r.StoreErrors,
		r.Notifications,
		r.RequestsTotal,
		r.RequestDuration,
		r.RateLimited,
		r.AuthFailures,
	)
	return r
}

// Registerer exposes the underlying registry for other components, such
// as the Badger engine's size gauges.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Handler returns the /metrics handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Handler returns the /metrics handler for the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// TokenIssued implements service.Recorder.
func (r *Registry) TokenIssued(productID string) {
	r.TokensIssued.WithLabelValues(productID).Inc()
}

// LineDelivered implements service.Recorder.
func (r *Registry) LineDelivered(status domain.DeliveryStatus) {
	r.LineDeliveries.WithLabelValues(string(status)).Inc()
}

// Redemption implements service.Recorder.
func (r *Registry) Redemption(outcome string) {
	r.Redemptions.WithLabelValues(outcome).Inc()
}

// StoreOperation implements service.Recorder.
func (r *Registry) StoreOperation(op string, err error, elapsed time.Duration) {
	r.StoreDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		r.StoreErrors.WithLabelValues(op).Inc()
	}
}

// RecordNotification counts one notification attempt.
func (r *Registry) RecordNotification(sink, result string) {
	r.Notifications.WithLabelValues(sink, result).Inc()
}

// RecordRequest counts one HTTP request and observes its latency.
func (r *Registry) RecordRequest(method, route, code string, elapsed time.Duration) {
	r.RequestsTotal.WithLabelValues(method, route, code).Inc()
	r.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordAuthFailure counts one rejected internal API credential.
func (r *Registry) RecordAuthFailure(code string) {
	r.AuthFailures.WithLabelValues(code).Inc()
}

// IncRateLimited counts one rate-limited request.
func (r *Registry) IncRateLimited() {
	r.RateLimited.Inc()
}
