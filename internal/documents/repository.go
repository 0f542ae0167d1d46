package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists documents in PostgreSQL. Lines are stored as JSONB on the header row.
type Repository struct {
	pool db.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

type (
	ledgerTx = ledger.TxRepository
	lotsTx   = lots.TxRepository
)

type txRepository struct {
	ledgerTx
	lotsTx
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
// Ledger and lot writes share the document transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("documents repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{ledgerTx: ledger.NewTxRepository(tx), lotsTx: lots.NewTxRepository(tx), tx: tx})
	})
}

func encodeLines(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("documents: encode lines: %w", err)
	}
	return raw, nil
}

func decodeLines(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("documents: decode lines: %w", err)
	}
	return nil
}

func uuidOrNil(p *uuid.UUID) uuid.UUID {
	if p == nil {
		return uuid.Nil
	}
	return *p
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.ErrNotFound
	}
	return err
}

// listQuery renders WHERE/ORDER/LIMIT for a document table.
// branchColumns are OR-ed so transfers match either end.
func listQuery(orgID uuid.UUID, filter ListFilter, branchColumns ...string) (string, []any) {
	clauses := []string{"org_id=$1"}
	args := []any{orgID}
	add := func(format string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(format, len(args)))
	}
	if filter.BranchID != uuid.Nil && len(branchColumns) > 0 {
		args = append(args, filter.BranchID)
		ors := make([]string, len(branchColumns))
		for i, col := range branchColumns {
			ors[i] = fmt.Sprintf("%s=$%d", col, len(args))
		}
		clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
	}
	if filter.VendorID != uuid.Nil {
		add("vendor_id=$%d", filter.VendorID)
	}
	if filter.OptimizationRunID != uuid.Nil {
		add("optimization_run_id=$%d", filter.OptimizationRunID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if !filter.CreatedBefore.IsZero() {
		add("created_at < $%d", filter.CreatedBefore)
	}
	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	return " WHERE " + strings.Join(clauses, " AND ") +
		fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Purchase orders.

const purchaseOrderColumns = `id, org_id, branch_id, vendor_id, number, status, expected_date, note, lines, optimization_run_id, created_by, approved_by, created_at, updated_at`

func scanPurchaseOrder(row pgx.Row) (PurchaseOrder, error) {
	var (
		po             PurchaseOrder
		status         string
		raw            []byte
		runID, apprvBy *uuid.UUID
	)
	err := row.Scan(&po.ID, &po.OrgID, &po.BranchID, &po.VendorID, &po.Number, &status, &po.ExpectedDate, &po.Note, &raw, &runID, &po.CreatedBy, &apprvBy, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return PurchaseOrder{}, notFound(err)
	}
	po.Status = Status(status)
	po.OptimizationRunID = uuidOrNil(runID)
	po.ApprovedBy = uuidOrNil(apprvBy)
	return po, decodeLines(raw, &po.Lines)
}

func (r *Repository) GetPurchaseOrder(ctx context.Context, orgID, id uuid.UUID) (PurchaseOrder, error) {
	return scanPurchaseOrder(r.pool.QueryRow(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) ListPurchaseOrders(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]PurchaseOrder, error) {
	where, args := listQuery(orgID, filter, "branch_id")
	rows, err := r.pool.Query(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders`+where, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPurchaseOrder)
}

func (t *txRepository) LockPurchaseOrder(ctx context.Context, orgID, id uuid.UUID) (PurchaseOrder, error) {
	return scanPurchaseOrder(t.tx.QueryRow(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepository) InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	raw, err := encodeLines(po.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO purchase_orders (`+purchaseOrderColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		po.ID, po.OrgID, po.BranchID, po.VendorID, po.Number, string(po.Status), po.ExpectedDate, po.Note, raw,
		db.NullUUID(po.OptimizationRunID), po.CreatedBy, db.NullUUID(po.ApprovedBy), po.CreatedAt, po.UpdatedAt)
	return err
}

func (t *txRepository) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error {
	raw, err := encodeLines(po.Lines)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status=$3, expected_date=$4, note=$5, lines=$6, approved_by=$7, updated_at=$8
WHERE org_id=$1 AND id=$2`, po.OrgID, po.ID, string(po.Status), po.ExpectedDate, po.Note, raw, db.NullUUID(po.ApprovedBy), po.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Receipts.

const receiptColumns = `id, org_id, branch_id, location_id, vendor_id, purchase_order_id, number, status, lines, created_by, posted_by, posted_at, created_at, updated_at`

func scanReceipt(row pgx.Row) (Receipt, error) {
	var (
		rc                   Receipt
		status               string
		raw                  []byte
		vendor, po, postedBy *uuid.UUID
	)
	err := row.Scan(&rc.ID, &rc.OrgID, &rc.BranchID, &rc.LocationID, &vendor, &po, &rc.Number, &status, &raw, &rc.CreatedBy, &postedBy, &rc.PostedAt, &rc.CreatedAt, &rc.UpdatedAt)
	if err != nil {
		return Receipt{}, notFound(err)
	}
	rc.Status = Status(status)
	rc.VendorID = uuidOrNil(vendor)
	rc.PurchaseOrderID = uuidOrNil(po)
	rc.PostedBy = uuidOrNil(postedBy)
	return rc, decodeLines(raw, &rc.Lines)
}

func (r *Repository) GetReceipt(ctx context.Context, orgID, id uuid.UUID) (Receipt, error) {
	return scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) ListReceipts(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Receipt, error) {
	where, args := listQuery(orgID, filter, "branch_id")
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM receipts`+where, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReceipt)
}

func (t *txRepository) LockReceipt(ctx context.Context, orgID, id uuid.UUID) (Receipt, error) {
	return scanReceipt(t.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepository) InsertReceipt(ctx context.Context, rc Receipt) error {
	raw, err := encodeLines(rc.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO receipts (`+receiptColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rc.ID, rc.OrgID, rc.BranchID, rc.LocationID, db.NullUUID(rc.VendorID), db.NullUUID(rc.PurchaseOrderID), rc.Number,
		string(rc.Status), raw, rc.CreatedBy, db.NullUUID(rc.PostedBy), rc.PostedAt, rc.CreatedAt, rc.UpdatedAt)
	return err
}

func (t *txRepository) UpdateReceipt(ctx context.Context, rc Receipt) error {
	raw, err := encodeLines(rc.Lines)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE receipts SET status=$3, lines=$4, posted_by=$5, posted_at=$6, updated_at=$7
WHERE org_id=$1 AND id=$2`, rc.OrgID, rc.ID, string(rc.Status), raw, db.NullUUID(rc.PostedBy), rc.PostedAt, rc.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Transfers.

const transferColumns = `id, org_id, number, source_branch_id, source_location_id, dest_branch_id, dest_location_id, status, lines, created_by, shipped_at, received_at, created_at, updated_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var (
		tr     Transfer
		status string
		raw    []byte
	)
	err := row.Scan(&tr.ID, &tr.OrgID, &tr.Number, &tr.SourceBranchID, &tr.SourceLocationID, &tr.DestBranchID, &tr.DestLocationID, &status, &raw, &tr.CreatedBy, &tr.ShippedAt, &tr.ReceivedAt, &tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		return Transfer{}, notFound(err)
	}
	tr.Status = Status(status)
	return tr, decodeLines(raw, &tr.Lines)
}

func (r *Repository) GetTransfer(ctx context.Context, orgID, id uuid.UUID) (Transfer, error) {
	return scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) ListTransfers(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Transfer, error) {
	filter.VendorID = uuid.Nil
	where, args := listQuery(orgID, filter, "source_branch_id", "dest_branch_id")
	rows, err := r.pool.Query(ctx, `SELECT `+transferColumns+` FROM transfers`+where, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTransfer)
}

func (t *txRepository) LockTransfer(ctx context.Context, orgID, id uuid.UUID) (Transfer, error) {
	return scanTransfer(t.tx.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepository) InsertTransfer(ctx context.Context, tr Transfer) error {
	raw, err := encodeLines(tr.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO transfers (`+transferColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		tr.ID, tr.OrgID, tr.Number, tr.SourceBranchID, tr.SourceLocationID, tr.DestBranchID, tr.DestLocationID,
		string(tr.Status), raw, tr.CreatedBy, tr.ShippedAt, tr.ReceivedAt, tr.CreatedAt, tr.UpdatedAt)
	return err
}

func (t *txRepository) UpdateTransfer(ctx context.Context, tr Transfer) error {
	raw, err := encodeLines(tr.Lines)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE transfers SET status=$3, lines=$4, shipped_at=$5, received_at=$6, updated_at=$7
WHERE org_id=$1 AND id=$2`, tr.OrgID, tr.ID, string(tr.Status), raw, tr.ShippedAt, tr.ReceivedAt, tr.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Waste.

const wasteColumns = `id, org_id, branch_id, location_id, number, status, reason, lines, created_by, posted_by, posted_at, created_at, updated_at`

func scanWaste(row pgx.Row) (WasteDocument, error) {
	var (
		w        WasteDocument
		status   string
		raw      []byte
		postedBy *uuid.UUID
	)
	err := row.Scan(&w.ID, &w.OrgID, &w.BranchID, &w.LocationID, &w.Number, &status, &w.Reason, &raw, &w.CreatedBy, &postedBy, &w.PostedAt, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return WasteDocument{}, notFound(err)
	}
	w.Status = Status(status)
	w.PostedBy = uuidOrNil(postedBy)
	return w, decodeLines(raw, &w.Lines)
}

func (r *Repository) GetWaste(ctx context.Context, orgID, id uuid.UUID) (WasteDocument, error) {
	return scanWaste(r.pool.QueryRow(ctx, `SELECT `+wasteColumns+` FROM waste_documents WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) ListWaste(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]WasteDocument, error) {
	filter.VendorID = uuid.Nil
	where, args := listQuery(orgID, filter, "branch_id")
	rows, err := r.pool.Query(ctx, `SELECT `+wasteColumns+` FROM waste_documents`+where, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWaste)
}

func (t *txRepository) LockWaste(ctx context.Context, orgID, id uuid.UUID) (WasteDocument, error) {
	return scanWaste(t.tx.QueryRow(ctx, `SELECT `+wasteColumns+` FROM waste_documents WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepository) InsertWaste(ctx context.Context, w WasteDocument) error {
	raw, err := encodeLines(w.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO waste_documents (`+wasteColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		w.ID, w.OrgID, w.BranchID, w.LocationID, w.Number, string(w.Status), w.Reason, raw, w.CreatedBy,
		db.NullUUID(w.PostedBy), w.PostedAt, w.CreatedAt, w.UpdatedAt)
	return err
}

func (t *txRepository) UpdateWaste(ctx context.Context, w WasteDocument) error {
	raw, err := encodeLines(w.Lines)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE waste_documents SET status=$3, lines=$4, posted_by=$5, posted_at=$6, updated_at=$7
WHERE org_id=$1 AND id=$2`, w.OrgID, w.ID, string(w.Status), raw, db.NullUUID(w.PostedBy), w.PostedAt, w.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Production.

const productionColumns = `id, org_id, branch_id, location_id, number, status, output_item_id, output_qty, output_lot_number, output_expiry, output_unit_cost, consumed, created_by, posted_by, posted_at, created_at, updated_at`

func scanProduction(row pgx.Row) (ProductionBatch, error) {
	var (
		p        ProductionBatch
		status   string
		raw      []byte
		postedBy *uuid.UUID
	)
	err := row.Scan(&p.ID, &p.OrgID, &p.BranchID, &p.LocationID, &p.Number, &status, &p.OutputItemID, &p.OutputQty, &p.OutputLotNumber,
		&p.OutputExpiry, &p.OutputUnitCost, &raw, &p.CreatedBy, &postedBy, &p.PostedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return ProductionBatch{}, notFound(err)
	}
	p.Status = Status(status)
	p.PostedBy = uuidOrNil(postedBy)
	return p, decodeLines(raw, &p.Consumed)
}

func (r *Repository) GetProduction(ctx context.Context, orgID, id uuid.UUID) (ProductionBatch, error) {
	return scanProduction(r.pool.QueryRow(ctx, `SELECT `+productionColumns+` FROM production_batches WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) ListProductions(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]ProductionBatch, error) {
	filter.VendorID = uuid.Nil
	where, args := listQuery(orgID, filter, "branch_id")
	rows, err := r.pool.Query(ctx, `SELECT `+productionColumns+` FROM production_batches`+where, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanProduction)
}

func (t *txRepository) LockProduction(ctx context.Context, orgID, id uuid.UUID) (ProductionBatch, error) {
	return scanProduction(t.tx.QueryRow(ctx, `SELECT `+productionColumns+` FROM production_batches WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepository) InsertProduction(ctx context.Context, p ProductionBatch) error {
	raw, err := encodeLines(p.Consumed)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO production_batches (`+productionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.OrgID, p.BranchID, p.LocationID, p.Number, string(p.Status), p.OutputItemID, p.OutputQty, p.OutputLotNumber,
		p.OutputExpiry, p.OutputUnitCost, raw, p.CreatedBy, db.NullUUID(p.PostedBy), p.PostedAt, p.CreatedAt, p.UpdatedAt)
	return err
}

func (t *txRepository) UpdateProduction(ctx context.Context, p ProductionBatch) error {
	raw, err := encodeLines(p.Consumed)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE production_batches SET status=$3, consumed=$4, output_unit_cost=$5, posted_by=$6, posted_at=$7, updated_at=$8
WHERE org_id=$1 AND id=$2`, p.OrgID, p.ID, string(p.Status), raw, p.OutputUnitCost, db.NullUUID(p.PostedBy), p.PostedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Depletions.

const depletionColumns = `id, org_id, branch_id, order_id, status, lines, consumed, error_code, error_message, attempts, skip_reason, occurred_at, posted_at, created_at, updated_at`

func scanDepletion(row pgx.Row) (Depletion, error) {
	var (
		d             Depletion
		status        string
		lines, usedUp []byte
	)
	err := row.Scan(&d.ID, &d.OrgID, &d.BranchID, &d.OrderID, &status, &lines, &usedUp, &d.ErrorCode, &d.ErrorMessage, &d.Attempts,
		&d.SkipReason, &d.OccurredAt, &d.PostedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Depletion{}, notFound(err)
	}
	d.Status = Status(status)
	if err := decodeLines(lines, &d.Lines); err != nil {
		return Depletion{}, err
	}
	return d, decodeLines(usedUp, &d.Consumed)
}

func (r *Repository) GetDepletion(ctx context.Context, orgID, id uuid.UUID) (Depletion, error) {
	return scanDepletion(r.pool.QueryRow(ctx, `SELECT `+depletionColumns+` FROM depletions WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) FindDepletionByOrder(ctx context.Context, orgID uuid.UUID, orderID string) (Depletion, error) {
	return scanDepletion(r.pool.QueryRow(ctx, `SELECT `+depletionColumns+` FROM depletions WHERE org_id=$1 AND order_id=$2`, orgID, orderID))
}

func (r *Repository) ListDepletions(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Depletion, error) {
	filter.VendorID = uuid.Nil
	where, args := listQuery(orgID, filter, "branch_id")
	rows, err := r.pool.Query(ctx, `SELECT `+depletionColumns+` FROM depletions`+where, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDepletion)
}

func (t *txRepository) LockDepletion(ctx context.Context, orgID, id uuid.UUID) (Depletion, error) {
	return scanDepletion(t.tx.QueryRow(ctx, `SELECT `+depletionColumns+` FROM depletions WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepository) InsertDepletion(ctx context.Context, d Depletion) error {
	lines, err := encodeLines(d.Lines)
	if err != nil {
		return err
	}
	consumed, err := encodeLines(nonNil(d.Consumed))
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO depletions (`+depletionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		d.ID, d.OrgID, d.BranchID, d.OrderID, string(d.Status), lines, consumed, d.ErrorCode, d.ErrorMessage, d.Attempts,
		d.SkipReason, d.OccurredAt, d.PostedAt, d.CreatedAt, d.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDepletionExists
	}
	return err
}

func (t *txRepository) UpdateDepletion(ctx context.Context, d Depletion) error {
	consumed, err := encodeLines(nonNil(d.Consumed))
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE depletions SET status=$3, consumed=$4, error_code=$5, error_message=$6, attempts=$7, skip_reason=$8, posted_at=$9, updated_at=$10
WHERE org_id=$1 AND id=$2`, d.OrgID, d.ID, string(d.Status), consumed, d.ErrorCode, d.ErrorMessage, d.Attempts, d.SkipReason, d.PostedAt, d.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func nonNil(lines []ConsumedLine) []ConsumedLine {
	if lines == nil {
		return []ConsumedLine{}
	}
	return lines
}
