package uom

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestToBaseIsExact(t *testing.T) {
	got, err := ToBase(d("5"), d("12"))
	require.NoError(t, err)
	require.True(t, got.Equal(d("60")))

	got, err = ToBase(d("0.333"), d("3"))
	require.NoError(t, err)
	require.True(t, got.Equal(d("0.999")))

	_, err = ToBase(d("1"), d("0"))
	require.ErrorIs(t, err, ErrInvalidUOM)
}

func TestToVendorUnitCeils(t *testing.T) {
	cases := []struct {
		base, factor, want string
	}{
		{"60", "12", "5"},
		{"61", "12", "6"},
		{"1", "12", "1"},
		{"0", "12", "0"},
		{"10", "3", "4"},
		{"0.5", "0.25", "2"},
	}
	for _, tc := range cases {
		got, err := ToVendorUnit(d(tc.base), d(tc.factor))
		require.NoError(t, err)
		require.Truef(t, got.Equal(d(tc.want)), "ToVendorUnit(%s,%s)=%s", tc.base, tc.factor, got)
	}
	_, err := ToVendorUnit(d("1"), d("-1"))
	require.ErrorIs(t, err, ErrInvalidUOM)
}

func TestRoundTripNeverUnderRepresents(t *testing.T) {
	factors := []string{"1", "3", "7", "12", "0.75", "2.5", "1000"}
	for _, f := range factors {
		for q := int64(0); q <= 250; q += 7 {
			qty := decimal.NewFromInt(q).Div(d("4"))
			units, err := ToVendorUnit(qty, d(f))
			require.NoError(t, err)
			back, err := ToBase(units, d(f))
			require.NoError(t, err)
			require.Truef(t, back.GreaterThanOrEqual(qty), "factor %s qty %s back %s", f, qty, back)
		}
	}
}

type fakeCatalog struct {
	items     map[uuid.UUID]catalog.Item
	suppliers map[string]catalog.SupplierItem
}

func supplierKey(vendorID, itemID uuid.UUID, uom string) string {
	return vendorID.String() + "|" + itemID.String() + "|" + uom
}

func (f *fakeCatalog) GetItem(_ context.Context, orgID, id uuid.UUID) (catalog.Item, error) {
	it, ok := f.items[id]
	if !ok || it.OrgID != orgID {
		return catalog.Item{}, shared.ErrNotFound
	}
	return it, nil
}

func (f *fakeCatalog) GetSupplierItem(_ context.Context, orgID, vendorID, itemID uuid.UUID, uom string) (catalog.SupplierItem, error) {
	si, ok := f.suppliers[supplierKey(vendorID, itemID, uom)]
	if !ok || si.OrgID != orgID {
		return catalog.SupplierItem{}, shared.ErrNotFound
	}
	return si, nil
}

func TestResolverLookupOrder(t *testing.T) {
	org := uuid.New()
	vendor := uuid.New()
	item := catalog.Item{ID: uuid.New(), OrgID: org, SKU: "MILK", BaseUOM: "EA"}
	fc := &fakeCatalog{
		items: map[uuid.UUID]catalog.Item{item.ID: item},
		suppliers: map[string]catalog.SupplierItem{
			supplierKey(vendor, item.ID, "CASE"):    {OrgID: org, VendorID: vendor, ItemID: item.ID, UOM: "CASE", FactorToBase: d("12"), Active: true},
			supplierKey(uuid.Nil, item.ID, "CASE"):  {OrgID: org, ItemID: item.ID, UOM: "CASE", FactorToBase: d("6"), Active: true},
			supplierKey(uuid.Nil, item.ID, "TRAY"):  {OrgID: org, ItemID: item.ID, UOM: "TRAY", FactorToBase: d("30"), Active: true},
			supplierKey(vendor, item.ID, "PALLET"):  {OrgID: org, VendorID: vendor, ItemID: item.ID, UOM: "PALLET", FactorToBase: d("480"), Active: false},
		},
	}
	r := NewResolver(fc)
	ctx := context.Background()

	line, err := r.Line(ctx, org, vendor, item.ID, "case", d("5"))
	require.NoError(t, err)
	require.Equal(t, "CASE", line.UOM)
	require.True(t, line.QtyBase.Equal(d("60")))

	line, err = r.Line(ctx, org, uuid.New(), item.ID, "CASE", d("1"))
	require.NoError(t, err)
	require.True(t, line.Factor.Equal(d("6")))

	line, err = r.Line(ctx, org, vendor, item.ID, "TRAY", d("2"))
	require.NoError(t, err)
	require.True(t, line.QtyBase.Equal(d("60")))

	line, err = r.Line(ctx, org, vendor, item.ID, "", d("7"))
	require.NoError(t, err)
	require.Equal(t, "EA", line.UOM)
	require.True(t, line.QtyBase.Equal(d("7")))

	_, err = r.Line(ctx, org, vendor, item.ID, "PALLET", d("1"))
	require.ErrorIs(t, err, ErrInvalidUOM)
	var uerr *InvalidUOMError
	require.ErrorAs(t, err, &uerr)
	require.Equal(t, "inactive conversion", uerr.Reason)

	_, err = r.Line(ctx, org, vendor, item.ID, "BOX", d("1"))
	require.ErrorIs(t, err, ErrInvalidUOM)

	_, err = r.Line(ctx, uuid.New(), vendor, item.ID, "CASE", d("1"))
	require.ErrorIs(t, err, shared.ErrNotFound)
}
