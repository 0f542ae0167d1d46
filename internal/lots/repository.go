package lots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists lots and allocations in PostgreSQL.
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

// NewTxRepository exposes lot writes on an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("lots repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const lotColumns = `id, org_id, branch_id, item_id, location_id, lot_number, received_qty, remaining_qty, expiry_date, status, source_type, source_id, created_at, updated_at`

// fefoOrder ranks earliest expiry first and undated lots last.
const fefoOrder = ` ORDER BY expiry_date ASC NULLS LAST, created_at ASC, id ASC`

func scanLot(row pgx.Row) (Lot, error) {
	var (
		l      Lot
		expiry *time.Time
		status string
	)
	err := row.Scan(&l.ID, &l.OrgID, &l.BranchID, &l.ItemID, &l.LocationID, &l.LotNumber, &l.ReceivedQty, &l.RemainingQty, &expiry, &status, &l.SourceType, &l.SourceID, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, shared.ErrNotFound
	}
	if err != nil {
		return Lot{}, err
	}
	l.ExpiryDate = expiry
	l.Status = Status(status)
	return l, nil
}

func collectLots(rows pgx.Rows) ([]Lot, error) {
	defer rows.Close()
	out := []Lot{}
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repository) GetLot(ctx context.Context, orgID, id uuid.UUID) (Lot, error) {
	return scanLot(r.pool.QueryRow(ctx, `SELECT `+lotColumns+` FROM inventory_lots WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) ListLots(ctx context.Context, orgID uuid.UUID, filter Filter) ([]Lot, error) {
	clauses := []string{"org_id=$1"}
	args := []any{orgID}
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.BranchID != uuid.Nil {
		add("branch_id=$%d", filter.BranchID)
	}
	if filter.ItemID != uuid.Nil {
		add("item_id=$%d", filter.ItemID)
	}
	if filter.LocationID != uuid.Nil {
		add("location_id=$%d", filter.LocationID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if filter.WithRemaining {
		clauses = append(clauses, "remaining_qty > 0")
	}
	rows, err := r.pool.Query(ctx, `SELECT `+lotColumns+` FROM inventory_lots WHERE `+strings.Join(clauses, " AND ")+fefoOrder, args...)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

const allocationColumns = `id, org_id, lot_id, allocated_qty, source_type, source_id, allocation_order, created_at`

func collectAllocations(rows pgx.Rows) ([]Allocation, error) {
	defer rows.Close()
	out := []Allocation{}
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ID, &a.OrgID, &a.LotID, &a.AllocatedQty, &a.SourceType, &a.SourceID, &a.AllocationOrder, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) ListAllocationsByLot(ctx context.Context, orgID, lotID uuid.UUID) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+allocationColumns+` FROM lot_allocations WHERE org_id=$1 AND lot_id=$2 ORDER BY created_at ASC, allocation_order ASC`, orgID, lotID)
	if err != nil {
		return nil, err
	}
	return collectAllocations(rows)
}

func (r *Repository) ExpireDue(ctx context.Context, now time.Time) ([]Lot, error) {
	rows, err := r.pool.Query(ctx, `UPDATE inventory_lots SET status='EXPIRED', updated_at=$1
WHERE status='ACTIVE' AND expiry_date IS NOT NULL AND expiry_date <= $1
RETURNING `+lotColumns, now)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func (t *txRepository) LockCandidateLots(ctx context.Context, orgID, itemID, locationID uuid.UUID, now time.Time) ([]Lot, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+lotColumns+` FROM inventory_lots
WHERE org_id=$1 AND item_id=$2 AND location_id=$3 AND status='ACTIVE' AND remaining_qty > 0
AND (expiry_date IS NULL OR expiry_date > $4)`+fefoOrder+` FOR UPDATE`, orgID, itemID, locationID, now)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func (t *txRepository) LockLot(ctx context.Context, orgID, id uuid.UUID) (Lot, error) {
	return scanLot(t.tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM inventory_lots WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepository) InsertLot(ctx context.Context, l Lot) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO inventory_lots (`+lotColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		l.ID, l.OrgID, l.BranchID, l.ItemID, l.LocationID, l.LotNumber, l.ReceivedQty, l.RemainingQty, l.ExpiryDate, string(l.Status), l.SourceType, l.SourceID, l.CreatedAt, l.UpdatedAt)
	return err
}

func (t *txRepository) UpdateLot(ctx context.Context, l Lot) error {
	tag, err := t.tx.Exec(ctx, `UPDATE inventory_lots SET remaining_qty=$3, status=$4, updated_at=$5 WHERE org_id=$1 AND id=$2`,
		l.OrgID, l.ID, l.RemainingQty, string(l.Status), l.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) InsertAllocations(ctx context.Context, allocations []Allocation) error {
	if len(allocations) == 0 {
		return nil
	}
	rows := make([][]any, len(allocations))
	for i, a := range allocations {
		rows[i] = []any{a.ID, a.OrgID, a.LotID, a.AllocatedQty, a.SourceType, a.SourceID, a.AllocationOrder, a.CreatedAt}
	}
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"lot_allocations"},
		[]string{"id", "org_id", "lot_id", "allocated_qty", "source_type", "source_id", "allocation_order", "created_at"},
		pgx.CopyFromRows(rows))
	return err
}

func (t *txRepository) ListAllocationsBySource(ctx context.Context, orgID uuid.UUID, sourceType string, sourceID uuid.UUID) ([]Allocation, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+allocationColumns+` FROM lot_allocations WHERE org_id=$1 AND source_type=$2 AND source_id=$3 ORDER BY created_at ASC, allocation_order ASC`, orgID, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	return collectAllocations(rows)
}
