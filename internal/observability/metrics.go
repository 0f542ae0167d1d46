package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// Metrics collects the Prometheus metrics of the service.
type Metrics struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	entriesAppended    *prometheus.CounterVec
	depletionOutcomes  *prometheus.CounterVec
	allocationFailures *prometheus.CounterVec
	jobs               *jobmetrics.Metrics
}

// NewMetrics builds a private registry with HTTP, domain and job collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_http_requests_total",
		Help: "HTTP requests by route pattern and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockledger_http_request_duration_seconds",
		Help:    "HTTP request duration by route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	entries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_ledger_entries_total",
		Help: "Ledger entries appended by reason.",
	}, []string{"reason"})
	depletions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_depletions_total",
		Help: "Depletion processing outcomes by resulting status.",
	}, []string{"status"})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_lot_allocation_failures_total",
		Help: "FEFO allocations rejected for insufficient lot stock, by source document type.",
	}, []string{"source_type"})
	registry.MustRegister(requests, duration, entries, depletions, allocations,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		entriesAppended:    entries,
		depletionOutcomes:  depletions,
		allocationFailures: allocations,
		jobs:               jobmetrics.NewMetrics(registry),
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency of every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// EntriesAppended counts n ledger entries of one reason.
func (m *Metrics) EntriesAppended(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.entriesAppended.WithLabelValues(reason).Add(float64(n))
}

// DepletionOutcome counts a processed depletion.
func (m *Metrics) DepletionOutcome(status string) {
	if m == nil {
		return
	}
	m.depletionOutcomes.WithLabelValues(status).Inc()
}

// AllocationFailed counts a rejected lot allocation.
func (m *Metrics) AllocationFailed(sourceType string) {
	if m == nil {
		return
	}
	m.allocationFailures.WithLabelValues(sourceType).Inc()
}

// Jobs returns the background job collectors registered on the same registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer exposes the registry for extra collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
