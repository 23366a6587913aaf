package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	apiRequests         *prometheus.CounterVec
	apiRequestDuration  *prometheus.HistogramVec
	reconcileRunsTotal  prometheus.Counter
	reconcileDuration   prometheus.Histogram
	reconcileChanges    *prometheus.CounterVec
	refreshTicksTotal   *prometheus.CounterVec
	exposedEntities     prometheus.Gauge
	toggleRequestsTotal *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP, Control D and sync metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controld_bridge",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the bridge",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "controld_bridge",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the bridge",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	apiRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controld_bridge",
		Name:      "api_requests_total",
		Help:      "Control D API calls by operation and outcome class",
	}, []string{"operation", "class"})

	apiRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "controld_bridge",
		Name:      "api_request_duration_seconds",
		Help:      "Duration of Control D API calls",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"operation"})

	reconcileRunsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "controld_bridge",
		Name:      "reconcile_runs_total",
		Help:      "Total number of full profile reconciliation passes",
	})

	reconcileDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "controld_bridge",
		Name:      "reconcile_duration_seconds",
		Help:      "Duration of full reconciliation passes",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	reconcileChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controld_bridge",
		Name:      "reconcile_changes_total",
		Help:      "Exposed entities created, updated or removed by reconciliation",
	}, []string{"action"})

	refreshTicksTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controld_bridge",
		Name:      "refresh_ticks_total",
		Help:      "Refresh ticks by outcome",
	}, []string{"outcome"})

	exposedEntities := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "controld_bridge",
		Name:      "exposed_entities",
		Help:      "Number of profiles currently exposed as entities",
	})

	toggleRequestsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "controld_bridge",
		Name:      "toggle_requests_total",
		Help:      "Filtering toggle requests by result",
	}, []string{"result"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		apiRequests,
		apiRequestDuration,
		reconcileRunsTotal,
		reconcileDuration,
		reconcileChanges,
		refreshTicksTotal,
		exposedEntities,
		toggleRequestsTotal,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		apiRequests:         apiRequests,
		apiRequestDuration:  apiRequestDuration,
		reconcileRunsTotal:  reconcileRunsTotal,
		reconcileDuration:   reconcileDuration,
		reconcileChanges:    reconcileChanges,
		refreshTicksTotal:   refreshTicksTotal,
		exposedEntities:     exposedEntities,
		toggleRequestsTotal: toggleRequestsTotal,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveAPIRequest records one Control D API call. class is "ok" on success.
func (m *Metrics) ObserveAPIRequest(operation, class string, duration time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(operation, class).Inc()
	m.apiRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncReconcileRun increments the reconciliation pass counter.
func (m *Metrics) IncReconcileRun() {
	if m == nil {
		return
	}
	m.reconcileRunsTotal.Inc()
}

// ObserveReconcileDuration observes a reconciliation pass duration.
func (m *Metrics) ObserveReconcileDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.reconcileDuration.Observe(duration.Seconds())
}

// AddReconcileChanges records the outcome of one reconciliation pass.
func (m *Metrics) AddReconcileChanges(created, updated, removed int) {
	if m == nil {
		return
	}
	m.reconcileChanges.WithLabelValues("created").Add(float64(created))
	m.reconcileChanges.WithLabelValues("updated").Add(float64(updated))
	m.reconcileChanges.WithLabelValues("removed").Add(float64(removed))
}

// IncRefreshTick counts a refresh tick ("refreshed", "empty" or "skipped").
func (m *Metrics) IncRefreshTick(outcome string) {
	if m == nil {
		return
	}
	m.refreshTicksTotal.WithLabelValues(outcome).Inc()
}

// SetExposedEntities sets the exposed entity gauge.
func (m *Metrics) SetExposedEntities(n int) {
	if m == nil {
		return
	}
	m.exposedEntities.Set(float64(n))
}

// IncToggle counts a filtering toggle ("ok" or "failed").
func (m *Metrics) IncToggle(result string) {
	if m == nil {
		return
	}
	m.toggleRequestsTotal.WithLabelValues(result).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
