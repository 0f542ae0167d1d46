package documents_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/memstore"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/uom"
)

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *memstore.Store
	catalog *catalog.Service
	ledger  *ledger.Service
	svc     *documents.Service
	clock   time.Time

	org     uuid.UUID
	vendor  uuid.UUID
	branch  catalog.Branch
	main    catalog.Location
	kitchen catalog.Location
	tomato  catalog.Item
	milk    catalog.Item
	burger  catalog.Item

	manager shared.Principal
	staff   shared.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  memstore.New(),
		clock:  time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		org:    uuid.New(),
		vendor: uuid.New(),
	}
	tick := func() time.Time {
		f.clock = f.clock.Add(time.Minute)
		return f.clock
	}
	f.store.WithNow(func() time.Time { return f.clock })
	f.catalog = catalog.NewService(f.store.Catalog(), f.store)
	f.catalog.WithNow(tick)
	f.ledger = ledger.NewService(f.store.Ledger(), nil)
	f.ledger.WithNow(tick)
	f.svc = documents.NewService(f.store.Documents(), f.catalog, uom.NewResolver(f.catalog), f.ledger, f.store, documents.ServiceConfig{}, nil)
	f.svc.WithNow(tick)
	f.svc.WithLocker(f.store)
	f.svc.WithIdempotency(f.store.Idempotency())

	f.manager = shared.Principal{OrgID: f.org, UserID: uuid.New(), Level: shared.L5}
	f.staff = shared.Principal{OrgID: f.org, UserID: uuid.New(), Level: shared.L1}

	actor := f.manager.UserID
	var err error
	f.branch, err = f.catalog.CreateBranch(f.ctx, actor, catalog.CreateBranchInput{OrgID: f.org, Code: "jkt", Name: "Jakarta", Timezone: "Asia/Jakarta"})
	require.NoError(t, err)
	f.main, err = f.catalog.CreateLocation(f.ctx, actor, catalog.CreateLocationInput{OrgID: f.org, BranchID: f.branch.ID, Code: "main", Name: "Main store", Default: true})
	require.NoError(t, err)
	f.kitchen, err = f.catalog.CreateLocation(f.ctx, actor, catalog.CreateLocationInput{OrgID: f.org, BranchID: f.branch.ID, Code: "kitchen", Name: "Kitchen"})
	require.NoError(t, err)
	f.branch, err = f.catalog.GetBranch(f.ctx, f.org, f.branch.ID)
	require.NoError(t, err)

	f.tomato = f.item("TOMATO", false, 2)
	f.milk = f.item("MILK", true, 1)
	f.burger = f.item("BURGER", false, 0)

	_, err = f.catalog.UpsertSupplierItem(f.ctx, actor, catalog.SupplierItemInput{
		OrgID: f.org, VendorID: f.vendor, ItemID: f.tomato.ID, UOM: "CASE", FactorToBase: decimal.NewFromInt(12),
	})
	require.NoError(t, err)
	_, err = f.catalog.SetRecipe(f.ctx, actor, catalog.Recipe{OrgID: f.org, ItemID: f.burger.ID, Ingredients: []catalog.RecipeIngredient{
		{IngredientItemID: f.tomato.ID, QtyPerUnit: decimal.NewFromInt(2), UOM: "EA"},
	}})
	require.NoError(t, err)
	return f
}

func (f *fixture) item(sku string, lotTracked bool, standardCost int64) catalog.Item {
	f.t.Helper()
	it, err := f.catalog.CreateItem(f.ctx, f.manager.UserID, catalog.CreateItemInput{
		OrgID: f.org, SKU: sku, Name: sku, BaseUOM: "EA", LotTracked: lotTracked, StandardCost: decimal.NewFromInt(standardCost),
	})
	require.NoError(f.t, err)
	return it
}

// seed posts an initial balance; lot-tracked items get one undated lot.
func (f *fixture) seed(item catalog.Item, loc catalog.Location, qty int64, cost int64) {
	f.t.Helper()
	_, err := f.svc.PostInitial(f.ctx, f.manager, ledger.InitialInput{
		ItemID: item.ID, LocationID: loc.ID, Qty: decimal.NewFromInt(qty), UnitCost: decimal.NewFromInt(cost),
	})
	require.NoError(f.t, err)
}

func (f *fixture) onHand(item catalog.Item, loc catalog.Location) decimal.Decimal {
	f.t.Helper()
	qty, err := f.ledger.OnHand(f.ctx, f.org, item.ID, loc.ID)
	require.NoError(f.t, err)
	return qty
}

func (f *fixture) entriesFor(sourceID uuid.UUID) []ledger.Entry {
	f.t.Helper()
	entries, err := f.ledger.ListEntries(f.ctx, f.org, ledger.Filter{SourceID: sourceID})
	require.NoError(f.t, err)
	return entries
}

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func requireDecimal(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %d, got %s", want, got.String())
}
