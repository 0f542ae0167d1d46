package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/reorder"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// demoOrg is stable so repeated runs land in the same tenant.
var demoOrg = uuid.MustParse("0b9e3f0c-5f1e-4d6a-9c1b-9d1f0a6e0001")

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if id := os.Getenv("SEED_ORG_ID"); id != "" {
		demoOrg = uuid.MustParse(id)
	}

	ctx := context.Background()
	logger := app.NewLogger(cfg)
	c, err := app.NewContainer(ctx, cfg, logger, observability.NewMetrics())
	if err != nil {
		log.Fatalf("container: %v", err)
	}
	defer c.Close()

	actor := shared.SystemPrincipal(demoOrg)

	fmt.Println("→ Seeding branch and locations...")
	branch, store, kitchen, err := seedBranch(ctx, c.Catalog, actor.UserID)
	if err != nil {
		log.Fatalf("seed branch: %v", err)
	}

	fmt.Println("→ Seeding items and supplier conversions...")
	vendor := uuid.NewSHA1(demoOrg, []byte("vendor:fresh-farms"))
	items, err := seedItems(ctx, c.Catalog, actor.UserID, vendor)
	if err != nil {
		log.Fatalf("seed items: %v", err)
	}

	fmt.Println("→ Seeding recipe and depletion mapping...")
	if err := seedRecipe(ctx, c.Catalog, actor.UserID, branch.ID, kitchen.ID, items); err != nil {
		log.Fatalf("seed recipe: %v", err)
	}

	fmt.Println("→ Posting opening receipt...")
	if err := seedReceipt(ctx, c.Documents, actor, branch.ID, store.ID, vendor, items); err != nil {
		log.Fatalf("seed receipt: %v", err)
	}

	fmt.Println("→ Seeding reorder policies...")
	if err := seedPolicies(ctx, c.Reorder, actor, branch.ID, vendor, items); err != nil {
		log.Fatalf("seed policies: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339), "org", demoOrg)
}

func seedBranch(ctx context.Context, svc *catalog.Service, actorID uuid.UUID) (catalog.Branch, catalog.Location, catalog.Location, error) {
	branches, err := svc.ListBranches(ctx, demoOrg)
	if err != nil {
		return catalog.Branch{}, catalog.Location{}, catalog.Location{}, err
	}
	var branch catalog.Branch
	for _, b := range branches {
		if b.Code == "MAIN" {
			branch = b
		}
	}
	if branch.ID == uuid.Nil {
		branch, err = svc.CreateBranch(ctx, actorID, catalog.CreateBranchInput{OrgID: demoOrg, Code: "MAIN", Name: "Main Street", Timezone: "Asia/Jakarta"})
		if err != nil {
			return catalog.Branch{}, catalog.Location{}, catalog.Location{}, err
		}
	}
	store, err := ensureLocation(ctx, svc, actorID, branch.ID, "STORE", "Dry store", true)
	if err != nil {
		return catalog.Branch{}, catalog.Location{}, catalog.Location{}, err
	}
	kitchen, err := ensureLocation(ctx, svc, actorID, branch.ID, "KITCHEN", "Kitchen", false)
	if err != nil {
		return catalog.Branch{}, catalog.Location{}, catalog.Location{}, err
	}
	return branch, store, kitchen, nil
}

func ensureLocation(ctx context.Context, svc *catalog.Service, actorID, branchID uuid.UUID, code, name string, def bool) (catalog.Location, error) {
	loc, err := svc.FindLocationByCode(ctx, demoOrg, branchID, code)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return catalog.Location{}, err
	}
	return svc.CreateLocation(ctx, actorID, catalog.CreateLocationInput{OrgID: demoOrg, BranchID: branchID, Code: code, Name: name, Default: def})
}

type seededItems struct {
	Flour catalog.Item
	Milk  catalog.Item
	Bread catalog.Item
}

func seedItems(ctx context.Context, svc *catalog.Service, actorID, vendorID uuid.UUID) (seededItems, error) {
	existing, err := svc.ListItems(ctx, demoOrg, shared.Page{Limit: 500})
	if err != nil {
		return seededItems{}, err
	}
	bySKU := make(map[string]catalog.Item, len(existing))
	for _, it := range existing {
		bySKU[it.SKU] = it
	}
	ensure := func(in catalog.CreateItemInput) (catalog.Item, error) {
		if it, ok := bySKU[in.SKU]; ok {
			return it, nil
		}
		in.OrgID = demoOrg
		return svc.CreateItem(ctx, actorID, in)
	}

	var out seededItems
	if out.Flour, err = ensure(catalog.CreateItemInput{SKU: "FLOUR", Name: "Wheat flour", BaseUOM: "G", StandardCost: decimal.RequireFromString("0.012")}); err != nil {
		return out, err
	}
	if out.Milk, err = ensure(catalog.CreateItemInput{SKU: "MILK", Name: "Fresh milk", BaseUOM: "ML", LotTracked: true, StandardCost: decimal.RequireFromString("0.02")}); err != nil {
		return out, err
	}
	if out.Bread, err = ensure(catalog.CreateItemInput{SKU: "BREAD", Name: "Milk bread", BaseUOM: "PCS", StandardCost: decimal.RequireFromString("4.5")}); err != nil {
		return out, err
	}

	conversions := []catalog.SupplierItemInput{
		{ItemID: out.Flour.ID, UOM: "SACK", FactorToBase: decimal.NewFromInt(25000), VendorSKU: "FF-FLOUR-25"},
		{ItemID: out.Milk.ID, UOM: "CASE", FactorToBase: decimal.NewFromInt(12000), VendorSKU: "FF-MILK-12"},
	}
	for _, conv := range conversions {
		conv.OrgID = demoOrg
		conv.VendorID = vendorID
		if _, err := svc.UpsertSupplierItem(ctx, actorID, conv); err != nil {
			return out, err
		}
	}
	return out, nil
}

func seedRecipe(ctx context.Context, svc *catalog.Service, actorID, branchID, kitchenID uuid.UUID, items seededItems) error {
	_, err := svc.SetRecipe(ctx, actorID, catalog.Recipe{
		OrgID:  demoOrg,
		ItemID: items.Bread.ID,
		Ingredients: []catalog.RecipeIngredient{
			{IngredientItemID: items.Flour.ID, QtyPerUnit: decimal.NewFromInt(80), UOM: "G"},
			{IngredientItemID: items.Milk.ID, QtyPerUnit: decimal.NewFromInt(50), UOM: "ML"},
		},
	})
	if err != nil {
		return err
	}
	return svc.SetDepletionMapping(ctx, actorID, catalog.DepletionMapping{OrgID: demoOrg, BranchID: branchID, LocationID: kitchenID})
}

func seedReceipt(ctx context.Context, svc *documents.Service, actor shared.Principal, branchID, locationID, vendorID uuid.UUID, items seededItems) error {
	expiry := time.Now().UTC().AddDate(0, 0, 10).Truncate(24 * time.Hour)
	rc, err := svc.CreateReceipt(ctx, actor, documents.CreateReceiptInput{
		BranchID:   branchID,
		LocationID: locationID,
		VendorID:   vendorID,
		Lines: []documents.ReceiptLineInput{
			{LineInput: documents.LineInput{ItemID: items.Flour.ID, UOM: "SACK", Qty: decimal.NewFromInt(4)}, UnitCost: decimal.NewFromInt(300)},
			{LineInput: documents.LineInput{ItemID: items.Milk.ID, UOM: "CASE", Qty: decimal.NewFromInt(2)}, UnitCost: decimal.NewFromInt(240), LotNumber: "MILK-SEED", ExpiryDate: &expiry},
		},
	})
	if err != nil {
		return err
	}
	res, err := svc.PostReceipt(ctx, actor, rc.ID)
	if err != nil {
		return err
	}
	fmt.Printf("  receipt %s posted with %d entries\n", rc.Number, res.EntriesCreated)
	return nil
}

func seedPolicies(ctx context.Context, svc *reorder.Service, actor shared.Principal, branchID, vendorID uuid.UUID, items seededItems) error {
	policies := []reorder.PolicyInput{
		{ItemID: items.Flour.ID, BranchID: branchID, ReorderPointQty: decimal.NewFromInt(20000), PreferredVendorID: vendorID, LeadTimeDays: 2, SafetyStockDays: 1, Sizing: reorder.SizingGap},
		{ItemID: items.Milk.ID, BranchID: branchID, ReorderPointQty: decimal.NewFromInt(6000), ReorderQty: decimal.NewFromInt(12000), PreferredVendorID: vendorID, LeadTimeDays: 1, Sizing: reorder.SizingFixed},
	}
	for _, p := range policies {
		if _, err := svc.UpsertPolicy(ctx, actor, p); err != nil {
			return err
		}
	}
	return nil
}
