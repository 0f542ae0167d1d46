package reorder_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/rbac"
	"github.com/odyssey-erp/stockledger/internal/reorder"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func (f *fixture) router() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{Trusted: true, Logger: logger}
	r := chi.NewRouter()
	r.Use(mw.Authenticate)
	r.Route("/reorder", reorder.NewHandler(logger, f.svc, mw).MountRoutes)
	return r
}

func (f *fixture) call(h http.Handler, level shared.Level, method, path, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(rbac.HeaderOrgID, f.org.String())
	req.Header.Set(rbac.HeaderUserID, uuid.NewString())
	req.Header.Set(rbac.HeaderLevel, level.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPolicyRoutes(t *testing.T) {
	f := newFixture(t)
	h := f.router()

	body := `{"itemId":"` + f.tomato.ID.String() + `","branchId":"` + f.branch.ID.String() + `","reorderPointBaseQty":"5","sizing":"gap"}`
	rec := f.call(h, shared.L3, http.MethodPut, "/reorder/policies", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.call(h, shared.L4, http.MethodPut, "/reorder/policies", `{"itemId":"`+f.tomato.ID.String()+`","sizing":"FIXED"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = f.call(h, shared.L4, http.MethodPut, "/reorder/policies", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var policy reorder.Policy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policy))
	assert.Equal(t, reorder.SizingGap, policy.Sizing)
	requireDecimal(t, "5", policy.ReorderPointQty)

	rec = f.call(h, shared.L2, http.MethodGet, "/reorder/policies?active=true&item_id="+f.tomato.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Policies []reorder.Policy `json:"policies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Policies, 1)

	rec = f.call(h, shared.L4, http.MethodPost, "/reorder/policies/"+policy.ID.String()+"/deactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &policy))
	assert.False(t, policy.Active)

	rec = f.call(h, shared.L2, http.MethodGet, "/reorder/policies/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDemandRouteValidatesWindow(t *testing.T) {
	f := newFixture(t)
	f.history()
	h := f.router()

	rec := f.call(h, shared.L2, http.MethodGet, "/reorder/demand?branch_id="+f.branch.ID.String()+"&window=10", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.call(h, shared.L2, http.MethodGet, "/reorder/demand", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.call(h, shared.L2, http.MethodGet, "/reorder/demand?branch_id="+f.branch.ID.String()+"&window=7", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRunAndDraftOrdersOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.history()
	f.policies()
	h := f.router()

	body := `{"branchId":"` + f.branch.ID.String() + `","horizonDays":7,"windowDays":7}`
	rec := f.call(h, shared.L2, http.MethodPost, "/reorder/runs", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.call(h, shared.L3, http.MethodPost, "/reorder/runs", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res reorder.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Created)
	require.NotEmpty(t, res.Run.Lines)

	rec = f.call(h, shared.L3, http.MethodPost, "/reorder/runs", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var again reorder.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.False(t, again.Created)
	assert.Equal(t, res.Run.ID, again.Run.ID)

	path := "/reorder/runs/" + res.Run.ID.String() + "/purchase-orders"
	rec = f.call(h, shared.L3, http.MethodPost, path, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.call(h, shared.L4, http.MethodPost, path, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var drafts reorder.DraftPOResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &drafts))
	require.Len(t, drafts.PurchaseOrders, 1)

	rec = f.call(h, shared.L4, http.MethodPost, path, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.call(h, shared.L2, http.MethodGet, "/reorder/runs/"+res.Run.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stored reorder.OptimizationRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, []uuid.UUID{drafts.PurchaseOrders[0].ID}, stored.PurchaseOrderIDs)
}
