package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/odyssey-erp/matledger/internal/jobs"
)

// Metrics collects Prometheus metrics for the API process.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	receipts        prometheus.Counter
	receiptLines    prometheus.Counter
	writeOffs       *prometheus.CounterVec
	scraps          *prometheus.CounterVec
	scrapCost       *prometheus.CounterVec
	jobs            *jobmetrics.Metrics
}

// NewMetrics builds a private registry with HTTP, ledger and job collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "matledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	receipts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matledger_receipts_accepted_total",
		Help: "Accepted receipt documents.",
	})
	receiptLines := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matledger_receipt_lines_total",
		Help: "Receipt lines posted to the ledger.",
	})
	writeOffs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matledger_writeoffs_total",
		Help: "Committed write-offs by material type.",
	}, []string{"material_type"})
	scraps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matledger_scrap_entries_total",
		Help: "Scrap log entries by reason.",
	}, []string{"reason"})
	scrapCost := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matledger_scrap_cost_total",
		Help: "Monetary value moved to the scrap log by reason.",
	}, []string{"reason"})
	registry.MustRegister(requests, duration, receipts, receiptLines, writeOffs, scraps, scrapCost)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		receipts:        receipts,
		receiptLines:    receiptLines,
		writeOffs:       writeOffs,
		scraps:          scraps,
		scrapCost:       scrapCost,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counters and latency.
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

// ReceiptAccepted counts one accepted document with its posted lines.
func (m *Metrics) ReceiptAccepted(lines int) {
	if m == nil {
		return
	}
	m.receipts.Inc()
	if lines > 0 {
		m.receiptLines.Add(float64(lines))
	}
}

// WriteOffPosted counts a committed write-off.
func (m *Metrics) WriteOffPosted(materialType string) {
	if m == nil {
		return
	}
	m.writeOffs.WithLabelValues(materialType).Inc()
}

// ScrapBooked counts a scrap log entry and its cost.
func (m *Metrics) ScrapBooked(reason string, cost float64) {
	if m == nil {
		return
	}
	m.scraps.WithLabelValues(reason).Inc()
	if cost > 0 {
		m.scrapCost.WithLabelValues(reason).Add(cost)
	}
}

// Jobs exposes the background job collectors registered on this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer exposes the registry for custom collectors.
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
