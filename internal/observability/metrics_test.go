package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ReceiptAccepted(2)
	metrics.Jobs().Track("ledger:integrity").End(nil)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	require.Contains(t, body, "matledger_receipts_accepted_total 1")
	require.Contains(t, body, "matledger_receipt_lines_total 2")
	require.Contains(t, body, `matledger_jobs_total{job="ledger:integrity",status="success"} 1`)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	require.Equal(t, 1.0, testutil.ToFloat64(metrics.requestsTotal.WithLabelValues("/test", "418")))

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.True(t, strings.Contains(metricsRR.Body.String(), `matledger_http_request_duration_seconds_bucket{route="/test"`))
}

func TestLedgerCounters(t *testing.T) {
	metrics := NewMetrics()

	metrics.WriteOffPosted("fabric")
	metrics.WriteOffPosted("fabric")
	metrics.ScrapBooked("auto", 35)
	metrics.ScrapBooked("manual", 0)

	require.Equal(t, 2.0, testutil.ToFloat64(metrics.writeOffs.WithLabelValues("fabric")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.scraps.WithLabelValues("auto")))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.scraps.WithLabelValues("manual")))
	require.Equal(t, 35.0, testutil.ToFloat64(metrics.scrapCost.WithLabelValues("auto")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ReceiptAccepted(1)
	metrics.WriteOffPosted("accessory")
	metrics.ScrapBooked("auto", 1)
	require.Nil(t, metrics.Jobs())

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
