package ledger_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/memstore"
	"github.com/odyssey-erp/stockledger/internal/rbac"
	"github.com/odyssey-erp/stockledger/internal/uom"
)

type ledgerAPI struct {
	t      *testing.T
	router http.Handler
	org    uuid.UUID
	item   catalog.Item
	loc    catalog.Location
}

func newLedgerAPI(t *testing.T) *ledgerAPI {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.NewService(store.Catalog(), store)
	svc := ledger.NewService(store.Ledger(), logger)
	docs := documents.NewService(store.Documents(), cat, uom.NewResolver(cat), svc, store, documents.ServiceConfig{}, logger)
	docs.WithIdempotency(store.Idempotency())

	api := &ledgerAPI{t: t, org: uuid.New()}
	actor := uuid.New()
	branch, err := cat.CreateBranch(ctx, actor, catalog.CreateBranchInput{OrgID: api.org, Code: "B1", Name: "Branch", Timezone: "UTC"})
	require.NoError(t, err)
	api.loc, err = cat.CreateLocation(ctx, actor, catalog.CreateLocationInput{OrgID: api.org, BranchID: branch.ID, Code: "MAIN", Name: "Main", Default: true})
	require.NoError(t, err)
	api.item, err = cat.CreateItem(ctx, actor, catalog.CreateItemInput{OrgID: api.org, SKU: "MILK", Name: "Milk", BaseUOM: "ML"})
	require.NoError(t, err)

	mw := rbac.Middleware{Trusted: true, Logger: logger}
	r := chi.NewRouter()
	r.Use(mw.Authenticate)
	r.Route("/ledger", ledger.NewHandler(logger, svc, docs, mw).MountRoutes)
	api.router = r
	return api
}

func (a *ledgerAPI) do(level, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(rbac.HeaderOrgID, a.org.String())
	req.Header.Set(rbac.HeaderUserID, uuid.NewString())
	req.Header.Set(rbac.HeaderLevel, level)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *ledgerAPI) keyJSON() string {
	return `"itemId":"` + a.item.ID.String() + `","locationId":"` + a.loc.ID.String() + `"`
}

func TestInitialRequiresTopLevel(t *testing.T) {
	api := newLedgerAPI(t)

	rec := api.do("L4", http.MethodPost, "/ledger/initial", `{`+api.keyJSON()+`,"qty":"10","unitCost":"0.5"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do("L5", http.MethodPost, "/ledger/initial", `{`+api.keyJSON()+`,"qty":"10","unitCost":"0.5"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res ledger.ManualResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, ledger.ReasonInitial, res.Entry.Reason)
	assert.True(t, res.Entry.QtyDelta.Equal(decimal.NewFromInt(10)))
}

func TestAdjustmentIdempotencyAndSufficiency(t *testing.T) {
	api := newLedgerAPI(t)
	rec := api.do("L5", http.MethodPost, "/ledger/initial", `{`+api.keyJSON()+`,"qty":"10"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := `{` + api.keyJSON() + `,"qtyDelta":"-3","note":"spilled"}`
	rec = api.do("L4", http.MethodPost, "/ledger/adjustments", body, ledger.HeaderIdempotencyKey, "adj-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first ledger.ManualResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.False(t, first.AlreadyPosted)

	rec = api.do("L4", http.MethodPost, "/ledger/adjustments", body, ledger.HeaderIdempotencyKey, "adj-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var retried ledger.ManualResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &retried))
	assert.True(t, retried.AlreadyPosted)
	assert.Equal(t, first.Entry.ID, retried.Entry.ID)

	rec = api.do("L4", http.MethodPost, "/ledger/adjustments", `{`+api.keyJSON()+`,"qtyDelta":"-4","note":"spilled"}`, ledger.HeaderIdempotencyKey, "adj-1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do("L4", http.MethodPost, "/ledger/adjustments", `{`+api.keyJSON()+`,"qtyDelta":"-50","note":"too much"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient stock")

	rec = api.do("L4", http.MethodPost, "/ledger/adjustments", `{`+api.keyJSON()+`,"qtyDelta":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do("L2", http.MethodGet, "/ledger/on-hand?item_id="+api.item.ID.String()+"&location_id="+api.loc.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var bal ledger.Balance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	assert.True(t, bal.Qty.Equal(decimal.NewFromInt(7)), bal.Qty.String())
}

func TestCountWritesVarianceAndVerifies(t *testing.T) {
	api := newLedgerAPI(t)
	rec := api.do("L5", http.MethodPost, "/ledger/initial", `{`+api.keyJSON()+`,"qty":"10","unitCost":"2"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do("L3", http.MethodPost, "/ledger/counts", `{`+api.keyJSON()+`,"countedQty":"8","note":"weekly"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res ledger.CountResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Variance.Equal(decimal.NewFromInt(-2)), res.Variance.String())
	require.NotNil(t, res.Entry)
	assert.Equal(t, ledger.ReasonCountVariance, res.Entry.Reason)

	rec = api.do("L2", http.MethodGet, "/ledger/entries?reason=count_variance&item_id="+api.item.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var listed struct {
		Entries []ledger.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Entries, 1)

	rec = api.do("L2", http.MethodGet, "/ledger/entries?reason=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do("L2", http.MethodGet, "/ledger/verify?item_id="+api.item.ID.String()+"&location_id="+api.loc.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v ledger.Verification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.False(t, v.Drift)
	assert.True(t, v.LogQty.Equal(decimal.NewFromInt(8)))
}

func TestOnHandNeedsKeyOrBranch(t *testing.T) {
	api := newLedgerAPI(t)
	rec := api.do("L2", http.MethodGet, "/ledger/on-hand", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
