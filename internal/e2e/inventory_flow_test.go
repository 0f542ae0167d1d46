package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/rbac"
	_ "github.com/odyssey-erp/stockledger/testing"
)

type client struct {
	t   *testing.T
	h   http.Handler
	org uuid.UUID
}

func newClient(t *testing.T) *client {
	t.Helper()
	cfg := &app.Config{
		AppEnv:                  "test",
		Store:                   app.StoreMemory,
		ReconcileTolerance:      "0.01",
		DepletionProductionCode: "KITCHEN",
		DepletionMaxAttempts:    3,
		RateLimitPerMinute:      10_000,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := app.NewContainer(context.Background(), cfg, logger, observability.NewMetrics())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	h := app.NewRouter(app.NewHandlers(logger, cfg, c, rbac.Middleware{Trusted: true, Logger: logger}))
	return &client{t: t, h: h, org: uuid.New()}
}

func (c *client) do(method, path, body string, want int) map[string]any {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(rbac.HeaderOrgID, c.org.String())
	req.Header.Set(rbac.HeaderUserID, uuid.NewString())
	req.Header.Set(rbac.HeaderLevel, "L5")
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	require.Equal(c.t, want, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return out
}

func (c *client) onHand(itemID, locationID any) decimal.Decimal {
	c.t.Helper()
	body := c.do(http.MethodGet, fmt.Sprintf("/api/v1/ledger/on-hand?item_id=%s&location_id=%s", itemID, locationID), "", http.StatusOK)
	return decimal.RequireFromString(fmt.Sprint(body["qty"]))
}

func TestReceiveWasteAndOversellFlow(t *testing.T) {
	c := newClient(t)

	branch := c.do(http.MethodPost, "/api/v1/catalog/branches", `{"code":"main","name":"Main","timezone":"UTC"}`, http.StatusCreated)
	branchID := branch["id"]
	store := c.do(http.MethodPost, fmt.Sprintf("/api/v1/catalog/branches/%s/locations", branchID), `{"code":"store","name":"Store","default":true}`, http.StatusCreated)
	item := c.do(http.MethodPost, "/api/v1/catalog/items", `{"sku":"rice","name":"Rice","baseUom":"g","standardCost":"0.01"}`, http.StatusCreated)

	receipt := c.do(http.MethodPost, "/api/v1/receipts", fmt.Sprintf(
		`{"branchId":%q,"locationId":%q,"lines":[{"itemId":%q,"uom":"G","qty":"1000","unitCost":"0.02"}]}`,
		branchID, store["id"], item["id"]), http.StatusCreated)

	posted := c.do(http.MethodPost, fmt.Sprintf("/api/v1/receipts/%s/post", receipt["id"]), "", http.StatusOK)
	require.Equal(t, false, posted["alreadyPosted"])
	require.EqualValues(t, 1, posted["entriesCreated"])

	again := c.do(http.MethodPost, fmt.Sprintf("/api/v1/receipts/%s/post", receipt["id"]), "", http.StatusOK)
	require.Equal(t, true, again["alreadyPosted"])
	require.True(t, decimal.NewFromInt(1000).Equal(c.onHand(item["id"], store["id"])))

	waste := c.do(http.MethodPost, "/api/v1/waste", fmt.Sprintf(
		`{"branchId":%q,"locationId":%q,"reason":"spoiled","lines":[{"itemId":%q,"uom":"G","qty":"250"}]}`,
		branchID, store["id"], item["id"]), http.StatusCreated)
	c.do(http.MethodPost, fmt.Sprintf("/api/v1/waste/%s/post", waste["id"]), "", http.StatusOK)
	require.True(t, decimal.NewFromInt(750).Equal(c.onHand(item["id"], store["id"])))

	oversell := c.do(http.MethodPost, "/api/v1/waste", fmt.Sprintf(
		`{"branchId":%q,"locationId":%q,"reason":"spoiled","lines":[{"itemId":%q,"uom":"G","qty":"751"}]}`,
		branchID, store["id"], item["id"]), http.StatusCreated)
	c.do(http.MethodPost, fmt.Sprintf("/api/v1/waste/%s/post", oversell["id"]), "", http.StatusConflict)
	require.True(t, decimal.NewFromInt(750).Equal(c.onHand(item["id"], store["id"])))

	verify := c.do(http.MethodGet, "/api/v1/ledger/verify?item_id="+fmt.Sprint(item["id"])+"&location_id="+fmt.Sprint(store["id"]), "", http.StatusOK)
	require.Equal(t, false, verify["drift"])
	require.EqualValues(t, 2, verify["logCount"])
}
