package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/rbac"
	_ "github.com/odyssey-erp/stockledger/testing"
)

func memoryRouter(t *testing.T) http.Handler {
	t.Helper()
	require.True(t, InTestMode())
	cfg := &Config{
		AppEnv:                  "test",
		Store:                   StoreMemory,
		ReconcileTolerance:      "0.01",
		DepletionProductionCode: "KITCHEN",
		DepletionMaxAttempts:    3,
		RateLimitPerMinute:      1000,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewContainer(context.Background(), cfg, logger, observability.NewMetrics())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	mw := rbac.Middleware{Trusted: true, Logger: logger}
	return NewRouter(NewHandlers(logger, cfg, c, mw))
}

func call(h http.Handler, org uuid.UUID, level, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if level != "" {
		req.Header.Set(rbac.HeaderOrgID, org.String())
		req.Header.Set(rbac.HeaderUserID, uuid.NewString())
		req.Header.Set(rbac.HeaderLevel, level)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	h := memoryRouter(t)

	rec := call(h, uuid.Nil, "", http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = call(h, uuid.Nil, "", http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stockledger_http_requests_total")

	rec = call(h, uuid.Nil, "", http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouterMountsAPI(t *testing.T) {
	h := memoryRouter(t)
	org := uuid.New()

	rec := call(h, org, "", http.MethodGet, "/api/v1/catalog/items", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(h, org, "L4", http.MethodPost, "/api/v1/catalog/items", `{"sku":"flour","name":"Flour","baseUom":"g"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(h, org, "L2", http.MethodGet, "/api/v1/catalog/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "FLOUR")

	rec = call(h, uuid.New(), "L2", http.MethodGet, "/api/v1/catalog/items", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "FLOUR")

	for _, path := range []string{
		"/api/v1/purchase-orders",
		"/api/v1/depletions",
		"/api/v1/lots",
		"/api/v1/periods",
		"/api/v1/reorder/runs",
		"/api/v1/permissions",
	} {
		rec = call(h, org, "L5", http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	rec = call(h, org, "L5", http.MethodGet, "/api/v1/exports/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
