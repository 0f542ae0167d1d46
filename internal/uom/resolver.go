package uom

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Catalog is the master data needed to resolve a conversion.
type Catalog interface {
	GetItem(ctx context.Context, orgID, id uuid.UUID) (catalog.Item, error)
	GetSupplierItem(ctx context.Context, orgID, vendorID, itemID uuid.UUID, uom string) (catalog.SupplierItem, error)
}

// Line is a quantity expressed both in its input unit and in base units.
type Line struct {
	ItemID      uuid.UUID
	UOM         string
	QtyInputUOM decimal.Decimal
	Factor      decimal.Decimal
	QtyBase     decimal.Decimal
	Item        catalog.Item
}

// Resolver looks up conversion factors.
type Resolver struct {
	catalog Catalog
}

// NewResolver builds a Resolver.
func NewResolver(c Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// Factor returns the factor to base for (vendor, item, uom). The item's base unit always has factor 1.
// A vendor-specific conversion wins over the item-level one.
func (r *Resolver) Factor(ctx context.Context, orgID, vendorID, itemID uuid.UUID, uom string) (decimal.Decimal, catalog.Item, error) {
	item, err := r.catalog.GetItem(ctx, orgID, itemID)
	if err != nil {
		return decimal.Zero, catalog.Item{}, err
	}
	code := catalog.NormalizeCode(uom)
	if code == "" || code == item.BaseUOM {
		return decimal.NewFromInt(1), item, nil
	}
	candidates := []uuid.UUID{vendorID}
	if vendorID != uuid.Nil {
		candidates = append(candidates, uuid.Nil)
	}
	inactive := false
	for _, vid := range candidates {
		si, err := r.catalog.GetSupplierItem(ctx, orgID, vid, itemID, code)
		if errors.Is(err, shared.ErrNotFound) {
			continue
		}
		if err != nil {
			return decimal.Zero, catalog.Item{}, err
		}
		if !si.Active {
			inactive = true
			continue
		}
		if !si.FactorToBase.IsPositive() {
			return decimal.Zero, catalog.Item{}, &InvalidUOMError{ItemID: itemID, VendorID: vendorID, UOM: code, Reason: "non-positive factor"}
		}
		return si.FactorToBase, item, nil
	}
	reason := "unknown conversion"
	if inactive {
		reason = "inactive conversion"
	}
	return decimal.Zero, catalog.Item{}, &InvalidUOMError{ItemID: itemID, VendorID: vendorID, UOM: code, Reason: reason}
}

// Line converts qty of uom into base units.
func (r *Resolver) Line(ctx context.Context, orgID, vendorID, itemID uuid.UUID, uom string, qty decimal.Decimal) (Line, error) {
	factor, item, err := r.Factor(ctx, orgID, vendorID, itemID, uom)
	if err != nil {
		return Line{}, err
	}
	base, err := ToBase(qty, factor)
	if err != nil {
		return Line{}, err
	}
	code := catalog.NormalizeCode(uom)
	if code == "" {
		code = item.BaseUOM
	}
	return Line{ItemID: itemID, UOM: code, QtyInputUOM: qty, Factor: factor, QtyBase: base, Item: item}, nil
}
