package catalog

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool db.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository exposes catalog writes on an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("catalog repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const itemColumns = `id, org_id, sku, name, base_uom, lot_tracked, standard_cost, active, created_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.OrgID, &it.SKU, &it.Name, &it.BaseUOM, &it.LotTracked, &it.StandardCost, &it.Active, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.ErrNotFound
	}
	return it, err
}

func (r *Repository) GetItem(ctx context.Context, orgID, id uuid.UUID) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) ListItems(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE org_id=$1 ORDER BY sku ASC LIMIT $2 OFFSET $3`, orgID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

const branchColumns = `id, org_id, code, name, timezone, COALESCE(default_location_id, '00000000-0000-0000-0000-000000000000'), created_at`

func scanBranch(row pgx.Row) (Branch, error) {
	var b Branch
	err := row.Scan(&b.ID, &b.OrgID, &b.Code, &b.Name, &b.Timezone, &b.DefaultLocationID, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Branch{}, shared.ErrNotFound
	}
	return b, err
}

func (r *Repository) GetBranch(ctx context.Context, orgID, id uuid.UUID) (Branch, error) {
	return scanBranch(r.pool.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) ListBranches(ctx context.Context, orgID uuid.UUID) ([]Branch, error) {
	return r.queryBranches(ctx, `SELECT `+branchColumns+` FROM branches WHERE org_id=$1 ORDER BY code ASC`, orgID)
}

func (r *Repository) ListAllBranches(ctx context.Context) ([]Branch, error) {
	return r.queryBranches(ctx, `SELECT `+branchColumns+` FROM branches ORDER BY org_id ASC, code ASC`)
}

func (r *Repository) queryBranches(ctx context.Context, sql string, args ...any) ([]Branch, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Branch{}
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const locationColumns = `id, org_id, branch_id, code, name, created_at`

func scanLocation(row pgx.Row) (Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.OrgID, &l.BranchID, &l.Code, &l.Name, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, shared.ErrNotFound
	}
	return l, err
}

func (r *Repository) GetLocation(ctx context.Context, orgID, id uuid.UUID) (Location, error) {
	return scanLocation(r.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) FindLocationByCode(ctx context.Context, orgID, branchID uuid.UUID, code string) (Location, error) {
	return scanLocation(r.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE org_id=$1 AND branch_id=$2 AND code=$3`, orgID, branchID, code))
}

func (r *Repository) ListLocations(ctx context.Context, orgID, branchID uuid.UUID) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+locationColumns+` FROM locations WHERE org_id=$1 AND ($2::uuid IS NULL OR branch_id=$2) ORDER BY code ASC`, orgID, db.NullUUID(branchID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Location{}
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

const supplierItemColumns = `id, org_id, vendor_id, item_id, uom, factor_to_base, vendor_sku, active, updated_at`

func scanSupplierItem(row pgx.Row) (SupplierItem, error) {
	var si SupplierItem
	err := row.Scan(&si.ID, &si.OrgID, &si.VendorID, &si.ItemID, &si.UOM, &si.FactorToBase, &si.VendorSKU, &si.Active, &si.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierItem{}, shared.ErrNotFound
	}
	return si, err
}

func (r *Repository) GetSupplierItem(ctx context.Context, orgID, vendorID, itemID uuid.UUID, uom string) (SupplierItem, error) {
	return scanSupplierItem(r.pool.QueryRow(ctx, `SELECT `+supplierItemColumns+` FROM supplier_items
WHERE org_id=$1 AND vendor_id=$2 AND item_id=$3 AND uom=$4`, orgID, vendorID, itemID, uom))
}

func (r *Repository) ListSupplierItems(ctx context.Context, orgID uuid.UUID, filter SupplierItemFilter) ([]SupplierItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+supplierItemColumns+` FROM supplier_items
WHERE org_id=$1 AND ($2::uuid IS NULL OR vendor_id=$2) AND ($3::uuid IS NULL OR item_id=$3) AND (NOT $4 OR active)
ORDER BY vendor_id ASC, item_id ASC, uom ASC`, orgID, db.NullUUID(filter.VendorID), db.NullUUID(filter.ItemID), filter.ActiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SupplierItem{}
	for rows.Next() {
		si, err := scanSupplierItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

func (r *Repository) GetRecipe(ctx context.Context, orgID, itemID uuid.UUID) (Recipe, error) {
	var recipe Recipe
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT org_id, item_id, ingredients, updated_at FROM recipes WHERE org_id=$1 AND item_id=$2`, orgID, itemID).
		Scan(&recipe.OrgID, &recipe.ItemID, &raw, &recipe.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Recipe{}, shared.ErrNotFound
	}
	if err != nil {
		return Recipe{}, err
	}
	if err := json.Unmarshal(raw, &recipe.Ingredients); err != nil {
		return Recipe{}, err
	}
	return recipe, nil
}

func (r *Repository) FindDepletionMapping(ctx context.Context, orgID, branchID, itemID uuid.UUID) (DepletionMapping, error) {
	var m DepletionMapping
	err := r.pool.QueryRow(ctx, `SELECT org_id, branch_id, item_id, location_id FROM depletion_mappings
WHERE org_id=$1 AND branch_id=$2 AND item_id=$3`, orgID, branchID, itemID).Scan(&m.OrgID, &m.BranchID, &m.ItemID, &m.LocationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return DepletionMapping{}, shared.ErrNotFound
	}
	return m, err
}

func (r *txRepository) InsertItem(ctx context.Context, it Item) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO items (`+itemColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		it.ID, it.OrgID, it.SKU, it.Name, it.BaseUOM, it.LotTracked, it.StandardCost, it.Active, it.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

func (r *txRepository) InsertBranch(ctx context.Context, b Branch) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO branches (id, org_id, code, name, timezone, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		b.ID, b.OrgID, b.Code, b.Name, b.Timezone, b.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

func (r *txRepository) InsertLocation(ctx context.Context, l Location) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO locations (`+locationColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
		l.ID, l.OrgID, l.BranchID, l.Code, l.Name, l.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateCode
	}
	return err
}

func (r *txRepository) SetBranchDefaultLocation(ctx context.Context, orgID, branchID, locationID uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `UPDATE branches SET default_location_id=$3 WHERE org_id=$1 AND id=$2`, orgID, branchID, locationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *txRepository) GetSupplierItemForUpdate(ctx context.Context, orgID, vendorID, itemID uuid.UUID, uom string) (SupplierItem, error) {
	return scanSupplierItem(r.tx.QueryRow(ctx, `SELECT `+supplierItemColumns+` FROM supplier_items
WHERE org_id=$1 AND vendor_id=$2 AND item_id=$3 AND uom=$4 FOR UPDATE`, orgID, vendorID, itemID, uom))
}

func (r *txRepository) InsertSupplierItem(ctx context.Context, si SupplierItem) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO supplier_items (`+supplierItemColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		si.ID, si.OrgID, si.VendorID, si.ItemID, si.UOM, si.FactorToBase, si.VendorSKU, si.Active, si.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrConversionImmutable
	}
	return err
}

// UpdateSupplierItem never touches factor_to_base.
func (r *txRepository) UpdateSupplierItem(ctx context.Context, si SupplierItem) error {
	_, err := r.tx.Exec(ctx, `UPDATE supplier_items SET vendor_sku=$3, active=$4, updated_at=$5 WHERE org_id=$1 AND id=$2`,
		si.OrgID, si.ID, si.VendorSKU, si.Active, si.UpdatedAt)
	return err
}

func (r *txRepository) SaveRecipe(ctx context.Context, recipe Recipe) error {
	raw, err := json.Marshal(recipe.Ingredients)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO recipes (org_id, item_id, ingredients, updated_at) VALUES ($1,$2,$3,$4)
ON CONFLICT (org_id, item_id) DO UPDATE SET ingredients=EXCLUDED.ingredients, updated_at=EXCLUDED.updated_at`,
		recipe.OrgID, recipe.ItemID, raw, recipe.UpdatedAt)
	return err
}

func (r *txRepository) SaveDepletionMapping(ctx context.Context, m DepletionMapping) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO depletion_mappings (org_id, branch_id, item_id, location_id) VALUES ($1,$2,$3,$4)
ON CONFLICT (org_id, branch_id, item_id) DO UPDATE SET location_id=EXCLUDED.location_id`,
		m.OrgID, m.BranchID, m.ItemID, m.LocationID)
	return err
}
