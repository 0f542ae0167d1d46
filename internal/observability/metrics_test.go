package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	_ = metrics.Jobs().Track("lots.expire").End(nil)
	_ = metrics.Jobs().Track("lots.expire").End(errors.New("boom"))
	metrics.Jobs().AddProcessed("lots.expire", 3)

	body := scrape(t, metrics)
	require.Contains(t, body, `stockledger_jobs_total{job="lots.expire",status="success"} 1`)
	require.Contains(t, body, `stockledger_jobs_failures_total{job="lots.expire"} 1`)
	require.Contains(t, body, `stockledger_job_records_processed_total{job="lots.expire"} 3`)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `stockledger_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `stockledger_http_request_duration_seconds_bucket{route="/test"`)
}

func TestDomainCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.EntriesAppended("SALE", 2)
	metrics.EntriesAppended("SALE", 0)
	metrics.DepletionOutcome("FAILED")
	metrics.AllocationFailed("WASTE")

	body := scrape(t, metrics)
	require.Contains(t, body, `stockledger_ledger_entries_total{reason="SALE"} 2`)
	require.Contains(t, body, `stockledger_depletions_total{status="FAILED"} 1`)
	require.Contains(t, body, `stockledger_lot_allocation_failures_total{source_type="WASTE"} 1`)
	require.False(t, strings.Contains(body, "odyssey_"))

	var nilMetrics *Metrics
	nilMetrics.EntriesAppended("SALE", 1)
	require.Nil(t, nilMetrics.Jobs())
}
