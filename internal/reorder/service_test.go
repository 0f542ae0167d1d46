package reorder_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/memstore"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/reorder"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/uom"
)

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *memstore.Store
	catalog *catalog.Service
	ledger  *ledger.Service
	docs    *documents.Service
	svc     *reorder.Service
	clock   time.Time

	org    uuid.UUID
	vendor uuid.UUID
	branch catalog.Branch
	main   catalog.Location
	tomato catalog.Item
	flour  catalog.Item

	owner      shared.Principal
	supervisor shared.Principal
	cashier    shared.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  memstore.New(),
		clock:  time.Date(2024, 2, 1, 2, 0, 0, 0, time.UTC),
		org:    uuid.New(),
		vendor: uuid.New(),
	}
	now := func() time.Time { return f.clock }
	f.store.WithNow(now)
	f.catalog = catalog.NewService(f.store.Catalog(), f.store)
	f.catalog.WithNow(now)
	f.ledger = ledger.NewService(f.store.Ledger(), nil)
	f.ledger.WithNow(now)
	f.docs = documents.NewService(f.store.Documents(), f.catalog, uom.NewResolver(f.catalog), f.ledger, f.store, documents.ServiceConfig{}, nil)
	f.docs.WithNow(now)
	f.svc = reorder.NewService(f.store.Reorder(), f.ledger, f.docs, f.catalog, f.store, reorder.ServiceConfig{}, nil)
	f.svc.WithNow(now)
	f.svc.WithLocker(f.store)

	f.owner = shared.Principal{OrgID: f.org, UserID: uuid.New(), Level: shared.L5}
	f.supervisor = shared.Principal{OrgID: f.org, UserID: uuid.New(), Level: shared.L4}
	f.cashier = shared.Principal{OrgID: f.org, UserID: uuid.New(), Level: shared.L2}

	actor := f.owner.UserID
	var err error
	f.branch, err = f.catalog.CreateBranch(f.ctx, actor, catalog.CreateBranchInput{OrgID: f.org, Code: "jkt", Name: "Jakarta", Timezone: "Asia/Jakarta"})
	require.NoError(t, err)
	f.main, err = f.catalog.CreateLocation(f.ctx, actor, catalog.CreateLocationInput{OrgID: f.org, BranchID: f.branch.ID, Code: "main", Name: "Main store", Default: true})
	require.NoError(t, err)

	f.tomato = f.item("TOMATO", 2)
	f.flour = f.item("FLOUR", 5)
	for _, pack := range []struct {
		uom    string
		factor int64
	}{{"CASE", 12}, {"TRAY", 6}} {
		_, err = f.catalog.UpsertSupplierItem(f.ctx, actor, catalog.SupplierItemInput{
			OrgID: f.org, VendorID: f.vendor, ItemID: f.tomato.ID, UOM: pack.uom, FactorToBase: decimal.NewFromInt(pack.factor),
		})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) item(sku string, standardCost int64) catalog.Item {
	f.t.Helper()
	it, err := f.catalog.CreateItem(f.ctx, f.owner.UserID, catalog.CreateItemInput{
		OrgID: f.org, SKU: sku, Name: sku, BaseUOM: "EA", StandardCost: decimal.NewFromInt(standardCost),
	})
	require.NoError(f.t, err)
	return it
}

func (f *fixture) post(at time.Time, item catalog.Item, reason ledger.Reason, qty int64, cost int64) {
	f.t.Helper()
	f.clock = at
	_, err := f.ledger.Post(f.ctx, f.org, []ledger.Movement{{
		BranchID: f.branch.ID, ItemID: item.ID, LocationID: f.main.ID,
		QtyDelta: decimal.NewFromInt(qty), UnitCost: decimal.NewFromInt(cost),
		Reason: reason, SourceType: "TEST", SourceID: uuid.New(),
	}})
	require.NoError(f.t, err)
}

// history buys 20 tomatoes and 50 flour, then sells 14 tomatoes over Feb 23..29 Jakarta time.
// Two more sales fall just outside that window in local time. The clock ends on 1 Mar 09:00 UTC.
func (f *fixture) history() {
	f.t.Helper()
	f.post(time.Date(2024, 2, 1, 2, 0, 0, 0, time.UTC), f.tomato, ledger.ReasonPurchase, 20, 3)
	f.post(time.Date(2024, 2, 1, 2, 5, 0, 0, time.UTC), f.flour, ledger.ReasonPurchase, 50, 4)
	// 22 Feb 23:00 local.
	f.post(time.Date(2024, 2, 22, 16, 0, 0, 0, time.UTC), f.tomato, ledger.ReasonSale, -1, 0)
	for i, qty := range []int64{1, 3, 2, 2, 1, 3, 2} {
		f.post(time.Date(2024, 2, 23+i, 3, 0, 0, 0, time.UTC), f.tomato, ledger.ReasonSale, -qty, 0)
	}
	// 1 Mar 00:30 local.
	f.post(time.Date(2024, 2, 29, 17, 30, 0, 0, time.UTC), f.tomato, ledger.ReasonSale, -1, 0)
	f.clock = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (f *fixture) policies() (tomato, flour reorder.Policy) {
	f.t.Helper()
	var err error
	tomato, err = f.svc.UpsertPolicy(f.ctx, f.supervisor, reorder.PolicyInput{
		ItemID: f.tomato.ID, BranchID: f.branch.ID, ReorderPointQty: decimal.NewFromInt(5),
		PreferredVendorID: f.vendor, SafetyStockDays: 2, LeadTimeDays: 3, Sizing: reorder.SizingGap,
	})
	require.NoError(f.t, err)
	flour, err = f.svc.UpsertPolicy(f.ctx, f.supervisor, reorder.PolicyInput{
		ItemID: f.flour.ID, ReorderPointQty: decimal.NewFromInt(5), ReorderQty: decimal.NewFromInt(10),
		PreferredVendorID: f.vendor, Sizing: reorder.SizingFixed,
	})
	require.NoError(f.t, err)
	return tomato, flour
}

func lineFor(t *testing.T, run reorder.OptimizationRun, itemID uuid.UUID) reorder.SuggestionLine {
	t.Helper()
	for _, l := range run.Lines {
		if l.ItemID == itemID {
			return l
		}
	}
	t.Fatalf("no line for item %s", itemID)
	return reorder.SuggestionLine{}
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestUpsertPolicyReplacesActivePolicy(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpsertPolicy(f.ctx, f.cashier, reorder.PolicyInput{ItemID: f.tomato.ID, Sizing: reorder.SizingGap})
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.UpsertPolicy(f.ctx, f.supervisor, reorder.PolicyInput{ItemID: f.tomato.ID, Sizing: reorder.SizingFixed})
	require.ErrorIs(t, err, shared.ErrValidation)

	first, err := f.svc.UpsertPolicy(f.ctx, f.supervisor, reorder.PolicyInput{ItemID: f.tomato.ID, BranchID: f.branch.ID, Sizing: reorder.SizingGap})
	require.NoError(t, err)
	second, err := f.svc.UpsertPolicy(f.ctx, f.supervisor, reorder.PolicyInput{
		ItemID: f.tomato.ID, BranchID: f.branch.ID, Sizing: reorder.SizingFixed, ReorderQty: decimal.NewFromInt(24),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, reorder.SizingFixed, second.Sizing)

	listed, err := f.svc.ListPolicies(f.ctx, f.org, reorder.PolicyFilter{ItemID: f.tomato.ID})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	off, err := f.svc.DeactivatePolicy(f.ctx, f.supervisor, second.ID)
	require.NoError(t, err)
	assert.False(t, off.Active)
	third, err := f.svc.UpsertPolicy(f.ctx, f.supervisor, reorder.PolicyInput{ItemID: f.tomato.ID, BranchID: f.branch.ID, Sizing: reorder.SizingGap})
	require.NoError(t, err)
	assert.NotEqual(t, second.ID, third.ID)

	active, err := f.svc.ListPolicies(f.ctx, f.org, reorder.PolicyFilter{ItemID: f.tomato.ID, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, third.ID, active[0].ID)
	assert.Len(t, f.store.AuditLogs("REORDER_POLICY_CREATE"), 2)
}

func TestDemandBucketsByBranchLocalDay(t *testing.T) {
	f := newFixture(t)
	f.history()

	series, err := f.svc.Demand(f.ctx, f.org, f.branch.ID, 7, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), series.AsOf)
	tomato := series.Item(f.tomato.ID)
	require.Len(t, tomato.Points, 7)
	requireDecimal(t, "14", tomato.Total)
	assert.Equal(t, time.Date(2024, 2, 23, 0, 0, 0, 0, time.UTC), tomato.Points[0].Day)
	requireDecimal(t, "1", tomato.Points[0].Qty)
	requireDecimal(t, "2", tomato.Points[6].Qty)

	flour := series.Item(f.flour.ID)
	require.Len(t, flour.Points, 7)
	requireDecimal(t, "0", flour.Total)

	_, err = f.svc.Demand(f.ctx, f.org, f.branch.ID, 10, time.Time{})
	require.ErrorIs(t, err, reorder.ErrInvalidWindow)
}

func TestDemandCachesClosedWindows(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.svc.WithCache(cache.NewStore(client, "stockledger:"))
	f.history()

	first, err := f.svc.Demand(f.ctx, f.org, f.branch.ID, 7, time.Time{})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	key := "stockledger:demand:" + f.org.String() + ":" + f.branch.ID.String() + ":7:2024-02-29"
	assert.True(t, mr.Exists(key))

	second, err := f.svc.Demand(f.ctx, f.org, f.branch.ID, 7, time.Time{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	requireDecimal(t, "14", second.Item(f.tomato.ID).Total)

	// Today's window is still open and must not be cached.
	_, err = f.svc.Demand(f.ctx, f.org, f.branch.ID, 7, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, mr.Exists("stockledger:demand:"+f.org.String()+":"+f.branch.ID.String()+":7:2024-03-01"))

	// A broken cache falls back to the ledger.
	mr.Close()
	third, err := f.svc.Demand(f.ctx, f.org, f.branch.ID, 7, time.Time{})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	requireDecimal(t, "14", third.Item(f.tomato.ID).Total)
}

func TestForecastSnapshotIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.history()
	f.policies()

	req := reorder.ForecastRequest{BranchID: f.branch.ID, WindowDays: 7, HorizonDays: 7}
	_, err := f.svc.GenerateForecastSnapshot(f.ctx, f.cashier, req)
	require.ErrorIs(t, err, shared.ErrForbidden)

	first, err := f.svc.GenerateForecastSnapshot(f.ctx, f.owner, req)
	require.NoError(t, err)
	require.Len(t, first.Snapshots, 2)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 0, first.Existing)

	var tomato reorder.ForecastSnapshot
	for _, s := range first.Snapshots {
		if s.ItemID == f.tomato.ID {
			tomato = s
		}
	}
	requireDecimal(t, "2", tomato.AvgDailyQty)
	requireDecimal(t, "14", tomato.ProjectedQty)
	assert.True(t, tomato.StdDevQty.IsPositive())
	assert.True(t, tomato.LowerQty.LessThan(tomato.ProjectedQty))
	assert.True(t, tomato.UpperQty.GreaterThan(tomato.ProjectedQty))
	requireDecimal(t, tomato.ProjectedQty.Sub(tomato.LowerQty).String(), tomato.UpperQty.Sub(tomato.ProjectedQty))

	again, err := f.svc.GenerateForecastSnapshot(f.ctx, f.owner, req)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 2, again.Existing)
	assert.Equal(t, first.Snapshots[0].ID, again.Snapshots[0].ID)

	listed, err := f.svc.ListForecasts(f.ctx, f.org, f.branch.ID, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = f.svc.GenerateForecastSnapshot(f.ctx, f.owner, reorder.ForecastRequest{BranchID: f.branch.ID, WindowDays: 7, HorizonDays: 0})
	require.ErrorIs(t, err, reorder.ErrInvalidHorizon)
}

func TestForecastLowerBoundNeverNegative(t *testing.T) {
	f := newFixture(t)
	f.post(time.Date(2024, 2, 1, 2, 0, 0, 0, time.UTC), f.tomato, ledger.ReasonPurchase, 50, 3)
	f.post(time.Date(2024, 2, 29, 3, 0, 0, 0, time.UTC), f.tomato, ledger.ReasonSale, -28, 0)
	f.clock = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	res, err := f.svc.GenerateForecastSnapshot(f.ctx, f.owner, reorder.ForecastRequest{
		BranchID: f.branch.ID, WindowDays: 28, HorizonDays: 1, ItemIDs: []uuid.UUID{f.tomato.ID},
	})
	require.NoError(t, err)
	require.Len(t, res.Snapshots, 1)
	requireDecimal(t, "1", res.Snapshots[0].ProjectedQty)
	requireDecimal(t, "0", res.Snapshots[0].LowerQty)
}

func TestConcurrentForecastsShareOneComputation(t *testing.T) {
	f := newFixture(t)
	f.history()
	f.policies()
	req := reorder.ForecastRequest{BranchID: f.branch.ID, WindowDays: 14, HorizonDays: 3}

	var wg sync.WaitGroup
	results := make([]reorder.ForecastResult, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.GenerateForecastSnapshot(f.ctx, f.owner, req)
		}(i)
	}
	wg.Wait()
	ids := map[uuid.UUID]bool{}
	for i := range results {
		require.NoError(t, errs[i])
		for _, s := range results[i].Snapshots {
			ids[s.ID] = true
		}
	}
	assert.Len(t, ids, 2)
	listed, err := f.svc.ListForecasts(f.ctx, f.org, f.branch.ID, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestOptimizationRunExplainsEachLine(t *testing.T) {
	f := newFixture(t)
	f.history()
	tomatoPolicy, flourPolicy := f.policies()

	_, err := f.svc.GenerateOptimizationRun(f.ctx, f.owner, reorder.RunRequest{BranchID: f.branch.ID, HorizonDays: 400, WindowDays: 7})
	require.ErrorIs(t, err, reorder.ErrInvalidHorizon)

	res, err := f.svc.GenerateOptimizationRun(f.ctx, f.owner, reorder.RunRequest{BranchID: f.branch.ID, HorizonDays: 7, WindowDays: 7})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Len(t, res.Run.Lines, 2)

	// target 2×(7+2)=18, on hand 20−16=4, need 14, ordered as 2 CASE.
	tomato := lineFor(t, res.Run, f.tomato.ID)
	assert.Equal(t, tomatoPolicy.ID, tomato.PolicyID)
	requireDecimal(t, "4", tomato.OnHandQty)
	requireDecimal(t, "18", tomato.TargetStockQty)
	requireDecimal(t, "14", tomato.NeedQty)
	assert.Equal(t, "CASE", tomato.VendorUOM)
	requireDecimal(t, "2", tomato.SuggestedVendorQty)
	requireDecimal(t, "24", tomato.SuggestedBaseQty)
	assert.Equal(t, []string{
		reorder.ReasonForecastDemand, reorder.ReasonSafetyStock, reorder.ReasonBelowReorderPoint,
		reorder.ReasonGapQty, reorder.ReasonPackRounded,
	}, tomato.ReasonCodes)
	assert.Contains(t, tomato.Explanation, "suggest 2 CASE (24 base)")

	flour := lineFor(t, res.Run, f.flour.ID)
	assert.Equal(t, flourPolicy.ID, flour.PolicyID)
	assert.False(t, flour.Orderable())
	assert.Equal(t, []string{reorder.ReasonNoDemandHistory, reorder.ReasonCoveredByStock}, flour.ReasonCodes)

	again, err := f.svc.GenerateOptimizationRun(f.ctx, f.owner, reorder.RunRequest{BranchID: f.branch.ID, HorizonDays: 7, WindowDays: 7})
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.Run.ID, again.Run.ID)

	runs, err := f.svc.ListRuns(f.ctx, f.org, reorder.RunFilter{BranchID: f.branch.ID})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestOptimizationRunNeedsActivePolicy(t *testing.T) {
	f := newFixture(t)
	f.history()

	_, err := f.svc.GenerateOptimizationRun(f.ctx, f.owner, reorder.RunRequest{BranchID: f.branch.ID, HorizonDays: 7})
	require.ErrorIs(t, err, reorder.ErrPolicyNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestBranchPolicyOverridesOrgWidePolicy(t *testing.T) {
	f := newFixture(t)
	f.history()
	_, err := f.svc.UpsertPolicy(f.ctx, f.supervisor, reorder.PolicyInput{ItemID: f.tomato.ID, Sizing: reorder.SizingFixed, ReorderQty: decimal.NewFromInt(100)})
	require.NoError(t, err)
	branchPolicy, err := f.svc.UpsertPolicy(f.ctx, f.supervisor, reorder.PolicyInput{
		ItemID: f.tomato.ID, BranchID: f.branch.ID, Sizing: reorder.SizingGap,
	})
	require.NoError(t, err)

	res, err := f.svc.GenerateOptimizationRun(f.ctx, f.owner, reorder.RunRequest{BranchID: f.branch.ID, HorizonDays: 7, WindowDays: 7})
	require.NoError(t, err)
	require.Len(t, res.Run.Lines, 1)
	line := res.Run.Lines[0]
	assert.Equal(t, branchPolicy.ID, line.PolicyID)
	assert.Contains(t, line.ReasonCodes, reorder.ReasonNoPreferredVendor)
	assert.Equal(t, "EA", line.VendorUOM)
	requireDecimal(t, "10", line.SuggestedBaseQty)
	assert.False(t, line.Orderable())
}

func TestOpenOrdersCoverNeed(t *testing.T) {
	f := newFixture(t)
	f.history()
	f.policies()
	po, err := f.docs.CreatePurchaseOrder(f.ctx, f.owner, documents.CreatePurchaseOrderInput{
		BranchID: f.branch.ID, VendorID: f.vendor,
		Lines: []documents.PurchaseOrderLineInput{{LineInput: documents.LineInput{ItemID: f.tomato.ID, UOM: "CASE", Qty: decimal.NewFromInt(2)}, UnitPrice: decimal.NewFromInt(36)}},
	})
	require.NoError(t, err)
	_, err = f.docs.SubmitPurchaseOrder(f.ctx, f.owner, po.ID)
	require.NoError(t, err)
	_, err = f.docs.ApprovePurchaseOrder(f.ctx, f.owner, po.ID)
	require.NoError(t, err)

	res, err := f.svc.GenerateOptimizationRun(f.ctx, f.owner, reorder.RunRequest{BranchID: f.branch.ID, HorizonDays: 7, WindowDays: 7})
	require.NoError(t, err)
	tomato := lineFor(t, res.Run, f.tomato.ID)
	requireDecimal(t, "24", tomato.OnOrderQty)
	requireDecimal(t, "-10", tomato.NeedQty)
	requireDecimal(t, "0", tomato.SuggestedBaseQty)
	assert.Contains(t, tomato.ReasonCodes, reorder.ReasonOnOrderCovers)

	_, err = f.svc.GenerateDraftPOs(f.ctx, f.supervisor, res.Run.ID)
	require.ErrorIs(t, err, reorder.ErrNothingToOrder)
}

func TestGenerateDraftPOsOncePerRun(t *testing.T) {
	f := newFixture(t)
	f.history()
	f.policies()
	res, err := f.svc.GenerateOptimizationRun(f.ctx, f.owner, reorder.RunRequest{BranchID: f.branch.ID, HorizonDays: 7, WindowDays: 7})
	require.NoError(t, err)

	_, err = f.svc.GenerateDraftPOs(f.ctx, shared.Principal{OrgID: f.org, UserID: uuid.New(), Level: shared.L3}, res.Run.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)

	first, err := f.svc.GenerateDraftPOs(f.ctx, f.supervisor, res.Run.ID)
	require.NoError(t, err)
	require.True(t, first.IsNew)
	require.Len(t, first.PurchaseOrders, 1)
	po := first.PurchaseOrders[0]
	assert.Equal(t, documents.StatusDraft, po.Status)
	assert.Equal(t, f.vendor, po.VendorID)
	assert.Equal(t, res.Run.ID, po.OptimizationRunID)
	require.Len(t, po.Lines, 1)
	assert.Equal(t, "CASE", po.Lines[0].UOM)
	requireDecimal(t, "2", po.Lines[0].QtyInputUOM)
	requireDecimal(t, "24", po.Lines[0].QtyBase)
	requireDecimal(t, "36", po.Lines[0].UnitPrice)

	second, err := f.svc.GenerateDraftPOs(f.ctx, f.supervisor, res.Run.ID)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	require.Len(t, second.PurchaseOrders, 1)
	assert.Equal(t, po.ID, second.PurchaseOrders[0].ID)

	stored, err := f.svc.GetRun(f.ctx, f.org, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{po.ID}, stored.PurchaseOrderIDs)

	all, err := f.docs.ListPurchaseOrders(f.ctx, f.org, documents.ListFilter{OptimizationRunID: res.Run.ID})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Len(t, f.store.AuditLogs("REORDER_DRAFT_POS"), 1)
}

func TestConcurrentDraftPOsCreateOneSet(t *testing.T) {
	f := newFixture(t)
	f.history()
	f.policies()
	res, err := f.svc.GenerateOptimizationRun(f.ctx, f.owner, reorder.RunRequest{BranchID: f.branch.ID, HorizonDays: 7, WindowDays: 7})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Losers of the lock race get ErrLockNotObtained; nobody creates a second set.
			_, _ = f.svc.GenerateDraftPOs(f.ctx, f.supervisor, res.Run.ID)
		}()
	}
	wg.Wait()
	out, err := f.svc.GenerateDraftPOs(f.ctx, f.supervisor, res.Run.ID)
	require.NoError(t, err)
	require.Len(t, out.PurchaseOrders, 1)
	all, err := f.docs.ListPurchaseOrders(f.ctx, f.org, documents.ListFilter{OptimizationRunID: res.Run.ID})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
