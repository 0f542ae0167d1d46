package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists ledger entries and running totals in PostgreSQL.
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

// NewTxRepository exposes ledger writes on an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *Repository) SumEntries(ctx context.Context, orgID uuid.UUID, key Key, before time.Time) (decimal.Decimal, int64, error) {
	var (
		qty decimal.Decimal
		n   int64
	)
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty_delta), 0), COUNT(*) FROM ledger_entries
WHERE org_id=$1 AND item_id=$2 AND location_id=$3 AND ($4::timestamptz IS NULL OR created_at < $4)`,
		orgID, key.ItemID, key.LocationID, db.NullTime(before)).Scan(&qty, &n)
	if err != nil {
		return decimal.Zero, 0, err
	}
	return qty, n, nil
}

func (r *Repository) SumByBranch(ctx context.Context, orgID, branchID, itemID uuid.UUID, before time.Time) ([]Position, error) {
	rows, err := r.pool.Query(ctx, `SELECT branch_id, item_id, location_id, SUM(qty_delta) FROM ledger_entries
WHERE org_id=$1 AND branch_id=$2 AND ($3::uuid IS NULL OR item_id=$3) AND ($4::timestamptz IS NULL OR created_at < $4)
GROUP BY branch_id, item_id, location_id
ORDER BY item_id, location_id`, orgID, branchID, db.NullUUID(itemID), db.NullTime(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Position{}
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.BranchID, &p.ItemID, &p.LocationID, &p.Qty); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const entryColumns = `id, org_id, branch_id, item_id, location_id, qty_delta, unit_cost, reason, source_type, source_id, created_at`

func (r *Repository) ListEntries(ctx context.Context, orgID uuid.UUID, filter Filter) ([]Entry, error) {
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
	if len(filter.Reasons) > 0 {
		reasons := make([]string, len(filter.Reasons))
		for i, reason := range filter.Reasons {
			reasons[i] = string(reason)
		}
		add("reason = ANY($%d)", reasons)
	}
	if filter.SourceType != "" {
		add("source_type=$%d", filter.SourceType)
	}
	if filter.SourceID != uuid.Nil {
		add("source_id=$%d", filter.SourceID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	args = append(args, filter.Limit)
	sql := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(` ORDER BY created_at ASC, id ASC LIMIT $%d`, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Entry{}
	for rows.Next() {
		var e Entry
		var reason string
		if err := rows.Scan(&e.ID, &e.OrgID, &e.BranchID, &e.ItemID, &e.LocationID, &e.QtyDelta, &e.UnitCost, &reason, &e.SourceType, &e.SourceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = Reason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Repository) SumByReason(ctx context.Context, orgID, branchID uuid.UUID, from, to time.Time) ([]ReasonTotal, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, location_id, reason, SUM(qty_delta), SUM(qty_delta * unit_cost) FROM ledger_entries
WHERE org_id=$1 AND branch_id=$2 AND created_at >= $3 AND created_at < $4
GROUP BY item_id, location_id, reason
ORDER BY item_id, location_id, reason`, orgID, branchID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ReasonTotal{}
	for rows.Next() {
		var (
			t      ReasonTotal
			reason string
		)
		if err := rows.Scan(&t.ItemID, &t.LocationID, &reason, &t.Qty, &t.Value); err != nil {
			return nil, err
		}
		t.Reason = Reason(reason)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) SumByDay(ctx context.Context, orgID, branchID uuid.UUID, reasons []Reason, from, to time.Time, loc *time.Location) ([]DayTotal, error) {
	codes := make([]string, len(reasons))
	for i, reason := range reasons {
		codes[i] = string(reason)
	}
	rows, err := r.pool.Query(ctx, `SELECT item_id, (created_at AT TIME ZONE $6)::date AS day, SUM(qty_delta) FROM ledger_entries
WHERE org_id=$1 AND branch_id=$2 AND reason = ANY($3) AND created_at >= $4 AND created_at < $5
GROUP BY item_id, day
ORDER BY item_id, day`, orgID, branchID, codes, from, to, loc.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []DayTotal{}
	for rows.Next() {
		var t DayTotal
		if err := rows.Scan(&t.ItemID, &t.Day, &t.Qty); err != nil {
			return nil, err
		}
		t.Day = time.Date(t.Day.Year(), t.Day.Month(), t.Day.Day(), 0, 0, 0, 0, time.UTC)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) GetBalance(ctx context.Context, orgID uuid.UUID, key Key) (Balance, error) {
	return scanBalance(r.pool.QueryRow(ctx, `SELECT org_id, branch_id, item_id, location_id, qty, entry_count, updated_at
FROM stock_balances WHERE org_id=$1 AND item_id=$2 AND location_id=$3`, orgID, key.ItemID, key.LocationID))
}

func (r *Repository) LatestUnitCost(ctx context.Context, orgID, itemID uuid.UUID, reasons []Reason, before time.Time) (decimal.Decimal, bool, error) {
	codes := make([]string, len(reasons))
	for i, reason := range reasons {
		codes[i] = string(reason)
	}
	var cost decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT unit_cost FROM ledger_entries
WHERE org_id=$1 AND item_id=$2 AND reason = ANY($3) AND ($4::timestamptz IS NULL OR created_at < $4)
ORDER BY created_at DESC, id DESC LIMIT 1`, orgID, itemID, codes, db.NullTime(before)).Scan(&cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return cost, true, nil
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.OrgID, &b.BranchID, &b.ItemID, &b.LocationID, &b.Qty, &b.EntryCount, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, shared.ErrNotFound
	}
	return b, err
}

// LockBalance seeds a zero row so the first writer of a key also takes a row lock.
func (t *txRepository) LockBalance(ctx context.Context, orgID, branchID uuid.UUID, key Key) (Balance, error) {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_balances (org_id, branch_id, item_id, location_id, qty, entry_count, updated_at)
VALUES ($1, $2, $3, $4, 0, 0, NOW()) ON CONFLICT (org_id, item_id, location_id) DO NOTHING`, orgID, branchID, key.ItemID, key.LocationID)
	if err != nil {
		return Balance{}, err
	}
	return scanBalance(t.tx.QueryRow(ctx, `SELECT org_id, branch_id, item_id, location_id, qty, entry_count, updated_at
FROM stock_balances WHERE org_id=$1 AND item_id=$2 AND location_id=$3 FOR UPDATE`, orgID, key.ItemID, key.LocationID))
}

func (t *txRepository) InsertEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, len(entries))
	for i, e := range entries {
		rows[i] = []any{e.ID, e.OrgID, e.BranchID, e.ItemID, e.LocationID, e.QtyDelta, e.UnitCost, string(e.Reason), e.SourceType, e.SourceID, e.CreatedAt}
	}
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"ledger_entries"},
		[]string{"id", "org_id", "branch_id", "item_id", "location_id", "qty_delta", "unit_cost", "reason", "source_type", "source_id", "created_at"},
		pgx.CopyFromRows(rows))
	return err
}

func (t *txRepository) SaveBalance(ctx context.Context, b Balance) error {
	_, err := t.tx.Exec(ctx, `UPDATE stock_balances SET branch_id=$4, qty=$5, entry_count=$6, updated_at=$7
WHERE org_id=$1 AND item_id=$2 AND location_id=$3`, b.OrgID, b.ItemID, b.LocationID, b.BranchID, b.Qty, b.EntryCount, b.UpdatedAt)
	return err
}
