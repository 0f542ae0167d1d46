package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// CatalogRepo implements catalog.RepositoryPort.
type CatalogRepo struct{ s *Store }

// Catalog returns the catalog repository view.
func (s *Store) Catalog() *CatalogRepo { return &CatalogRepo{s: s} }

func (r *CatalogRepo) WithTx(ctx context.Context, fn func(context.Context, catalog.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, tx *memTx) error { return fn(ctx, tx) })
}

func (r *CatalogRepo) GetItem(ctx context.Context, orgID, id uuid.UUID) (catalog.Item, error) {
	var (
		it catalog.Item
		ok bool
	)
	r.s.read(func(st *state) { it, ok = st.items[id] })
	if !ok || it.OrgID != orgID {
		return catalog.Item{}, shared.ErrNotFound
	}
	return it, nil
}

func (r *CatalogRepo) ListItems(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]catalog.Item, error) {
	var out []catalog.Item
	r.s.read(func(st *state) {
		for _, it := range st.items {
			if it.OrgID == orgID {
				out = append(out, it)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return shared.Slice(out, page), nil
}

func (r *CatalogRepo) GetBranch(ctx context.Context, orgID, id uuid.UUID) (catalog.Branch, error) {
	var (
		b  catalog.Branch
		ok bool
	)
	r.s.read(func(st *state) { b, ok = st.branches[id] })
	if !ok || b.OrgID != orgID {
		return catalog.Branch{}, shared.ErrNotFound
	}
	return b, nil
}

func (r *CatalogRepo) ListBranches(ctx context.Context, orgID uuid.UUID) ([]catalog.Branch, error) {
	all, _ := r.ListAllBranches(ctx)
	out := []catalog.Branch{}
	for _, b := range all {
		if b.OrgID == orgID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *CatalogRepo) ListAllBranches(ctx context.Context) ([]catalog.Branch, error) {
	out := []catalog.Branch{}
	r.s.read(func(st *state) {
		for _, b := range st.branches {
			out = append(out, b)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrgID != out[j].OrgID {
			return out[i].OrgID.String() < out[j].OrgID.String()
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (r *CatalogRepo) GetLocation(ctx context.Context, orgID, id uuid.UUID) (catalog.Location, error) {
	var (
		loc catalog.Location
		ok  bool
	)
	r.s.read(func(st *state) { loc, ok = st.locations[id] })
	if !ok || loc.OrgID != orgID {
		return catalog.Location{}, shared.ErrNotFound
	}
	return loc, nil
}

func (r *CatalogRepo) FindLocationByCode(ctx context.Context, orgID, branchID uuid.UUID, code string) (catalog.Location, error) {
	var (
		loc   catalog.Location
		found bool
	)
	r.s.read(func(st *state) {
		for _, l := range st.locations {
			if l.OrgID == orgID && l.BranchID == branchID && l.Code == code {
				loc, found = l, true
				return
			}
		}
	})
	if !found {
		return catalog.Location{}, shared.ErrNotFound
	}
	return loc, nil
}

func (r *CatalogRepo) ListLocations(ctx context.Context, orgID, branchID uuid.UUID) ([]catalog.Location, error) {
	out := []catalog.Location{}
	r.s.read(func(st *state) {
		for _, l := range st.locations {
			if l.OrgID == orgID && (branchID == uuid.Nil || l.BranchID == branchID) {
				out = append(out, l)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func findSupplierItem(st *state, orgID, vendorID, itemID uuid.UUID, uom string) (catalog.SupplierItem, bool) {
	for _, si := range st.supplierItems {
		if si.OrgID == orgID && si.VendorID == vendorID && si.ItemID == itemID && si.UOM == uom {
			return si, true
		}
	}
	return catalog.SupplierItem{}, false
}

func (r *CatalogRepo) GetSupplierItem(ctx context.Context, orgID, vendorID, itemID uuid.UUID, uom string) (catalog.SupplierItem, error) {
	var (
		si catalog.SupplierItem
		ok bool
	)
	r.s.read(func(st *state) { si, ok = findSupplierItem(st, orgID, vendorID, itemID, uom) })
	if !ok {
		return catalog.SupplierItem{}, shared.ErrNotFound
	}
	return si, nil
}

func (r *CatalogRepo) ListSupplierItems(ctx context.Context, orgID uuid.UUID, filter catalog.SupplierItemFilter) ([]catalog.SupplierItem, error) {
	out := []catalog.SupplierItem{}
	r.s.read(func(st *state) {
		for _, si := range st.supplierItems {
			if si.OrgID != orgID || (filter.VendorID != uuid.Nil && si.VendorID != filter.VendorID) ||
				(filter.ItemID != uuid.Nil && si.ItemID != filter.ItemID) || (filter.ActiveOnly && !si.Active) {
				continue
			}
			out = append(out, si)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.VendorID != b.VendorID {
			return a.VendorID.String() < b.VendorID.String()
		}
		if a.ItemID != b.ItemID {
			return a.ItemID.String() < b.ItemID.String()
		}
		return a.UOM < b.UOM
	})
	return out, nil
}

func (r *CatalogRepo) GetRecipe(ctx context.Context, orgID, itemID uuid.UUID) (catalog.Recipe, error) {
	var (
		rec catalog.Recipe
		ok  bool
	)
	r.s.read(func(st *state) { rec, ok = st.recipes[compositeKey(orgID, itemID)] })
	if !ok {
		return catalog.Recipe{}, shared.ErrNotFound
	}
	rec.Ingredients = cloneSlice(rec.Ingredients)
	return rec, nil
}

func (r *CatalogRepo) FindDepletionMapping(ctx context.Context, orgID, branchID, itemID uuid.UUID) (catalog.DepletionMapping, error) {
	var (
		m  catalog.DepletionMapping
		ok bool
	)
	r.s.read(func(st *state) { m, ok = st.mappings[compositeKey(orgID, branchID, itemID)] })
	if !ok {
		return catalog.DepletionMapping{}, shared.ErrNotFound
	}
	return m, nil
}

func (tx *memTx) InsertItem(ctx context.Context, item catalog.Item) error {
	for _, it := range tx.st.items {
		if it.OrgID == item.OrgID && it.SKU == item.SKU {
			return catalog.ErrDuplicateCode
		}
	}
	tx.st.items[item.ID] = item
	return nil
}

func (tx *memTx) InsertBranch(ctx context.Context, branch catalog.Branch) error {
	for _, b := range tx.st.branches {
		if b.OrgID == branch.OrgID && b.Code == branch.Code {
			return catalog.ErrDuplicateCode
		}
	}
	tx.st.branches[branch.ID] = branch
	return nil
}

func (tx *memTx) InsertLocation(ctx context.Context, loc catalog.Location) error {
	for _, l := range tx.st.locations {
		if l.OrgID == loc.OrgID && l.BranchID == loc.BranchID && l.Code == loc.Code {
			return catalog.ErrDuplicateCode
		}
	}
	tx.st.locations[loc.ID] = loc
	return nil
}

func (tx *memTx) SetBranchDefaultLocation(ctx context.Context, orgID, branchID, locationID uuid.UUID) error {
	b, ok := tx.st.branches[branchID]
	if !ok || b.OrgID != orgID {
		return shared.ErrNotFound
	}
	b.DefaultLocationID = locationID
	tx.st.branches[branchID] = b
	return nil
}

func (tx *memTx) GetSupplierItemForUpdate(ctx context.Context, orgID, vendorID, itemID uuid.UUID, uom string) (catalog.SupplierItem, error) {
	si, ok := findSupplierItem(tx.st, orgID, vendorID, itemID, uom)
	if !ok {
		return catalog.SupplierItem{}, shared.ErrNotFound
	}
	return si, nil
}

func (tx *memTx) InsertSupplierItem(ctx context.Context, si catalog.SupplierItem) error {
	if _, ok := findSupplierItem(tx.st, si.OrgID, si.VendorID, si.ItemID, si.UOM); ok {
		return catalog.ErrConversionImmutable
	}
	tx.st.supplierItems[si.ID] = si
	return nil
}

func (tx *memTx) UpdateSupplierItem(ctx context.Context, si catalog.SupplierItem) error {
	cur, ok := tx.st.supplierItems[si.ID]
	if !ok || cur.OrgID != si.OrgID {
		return shared.ErrNotFound
	}
	cur.VendorSKU, cur.Active, cur.UpdatedAt = si.VendorSKU, si.Active, si.UpdatedAt
	tx.st.supplierItems[si.ID] = cur
	return nil
}

func (tx *memTx) SaveRecipe(ctx context.Context, recipe catalog.Recipe) error {
	recipe.Ingredients = cloneSlice(recipe.Ingredients)
	tx.st.recipes[compositeKey(recipe.OrgID, recipe.ItemID)] = recipe
	return nil
}

func (tx *memTx) SaveDepletionMapping(ctx context.Context, m catalog.DepletionMapping) error {
	tx.st.mappings[compositeKey(m.OrgID, m.BranchID, m.ItemID)] = m
	return nil
}
