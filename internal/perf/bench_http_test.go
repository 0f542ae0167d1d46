package perf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/rbac"
	_ "github.com/odyssey-erp/stockledger/testing"
)

func memoryRouter(tb testing.TB) http.Handler {
	tb.Helper()
	cfg := &app.Config{
		AppEnv:                  "test",
		Store:                   app.StoreMemory,
		ReconcileTolerance:      "0.01",
		DepletionProductionCode: "KITCHEN",
		DepletionMaxAttempts:    3,
		RateLimitPerMinute:      1_000_000,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := app.NewContainer(context.Background(), cfg, logger, observability.NewMetrics())
	require.NoError(tb, err)
	tb.Cleanup(c.Close)
	return app.NewRouter(app.NewHandlers(logger, cfg, c, rbac.Middleware{Trusted: true, Logger: logger}))
}

func do(h http.Handler, org uuid.UUID, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(rbac.HeaderOrgID, org.String())
	req.Header.Set(rbac.HeaderUserID, uuid.NewString())
	req.Header.Set(rbac.HeaderLevel, "L5")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seedItems(tb testing.TB, h http.Handler, org uuid.UUID, n int) {
	tb.Helper()
	for i := 0; i < n; i++ {
		rec := do(h, org, http.MethodPost, "/api/v1/catalog/items", fmt.Sprintf(`{"sku":"sku-%03d","name":"Item %d","baseUom":"g"}`, i, i))
		require.Equal(tb, http.StatusCreated, rec.Code, rec.Body.String())
	}
}

func TestCatalogListLatencyTarget(t *testing.T) {
	h := memoryRouter(t)
	org := uuid.New()
	seedItems(t, h, org, 100)

	samples := make([]time.Duration, 0, 200)
	for i := 0; i < 200; i++ {
		start := time.Now()
		rec := do(h, org, http.MethodGet, "/api/v1/catalog/items?limit=50", "")
		samples = append(samples, time.Since(start))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	if p95 := percentile95(samples); p95 > 100*time.Millisecond {
		t.Fatalf("catalog list latency regression: p95=%s", p95)
	}
}

func BenchmarkCatalogList(b *testing.B) {
	h := memoryRouter(b)
	org := uuid.New()
	seedItems(b, h, org, 100)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := do(h, org, http.MethodGet, "/api/v1/catalog/items?limit=50", "")
		if rec.Code != http.StatusOK {
			b.Fatalf("status %d", rec.Code)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
