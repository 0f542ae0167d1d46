package reorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Repository persists policies, forecast snapshots and optimization runs.
type Repository struct {
	pool db.Pool
}

// NewRepository constructs a Repository using the provided pool.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("reorder repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const policyColumns = `id, org_id, item_id, branch_id, reorder_point_qty, reorder_qty, preferred_vendor_id,
lead_time_days, safety_stock_days, sizing, active, created_by, created_at, updated_at`

func scanPolicy(row pgx.Row) (Policy, error) {
	var (
		p              Policy
		branch, vendor *uuid.UUID
		sizing         string
	)
	err := row.Scan(&p.ID, &p.OrgID, &p.ItemID, &branch, &p.ReorderPointQty, &p.ReorderQty, &vendor,
		&p.LeadTimeDays, &p.SafetyStockDays, &sizing, &p.Active, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Policy{}, shared.ErrNotFound
	}
	if err != nil {
		return Policy{}, err
	}
	if branch != nil {
		p.BranchID = *branch
	}
	if vendor != nil {
		p.PreferredVendorID = *vendor
	}
	p.Sizing = Sizing(sizing)
	return p, nil
}

func (r *Repository) GetPolicy(ctx context.Context, orgID, id uuid.UUID) (Policy, error) {
	return scanPolicy(r.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM reorder_policies WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) ListPolicies(ctx context.Context, orgID uuid.UUID, filter PolicyFilter) ([]Policy, error) {
	clauses := []string{"org_id=$1"}
	args := []any{orgID}
	if filter.BranchID != uuid.Nil {
		args = append(args, filter.BranchID)
		clauses = append(clauses, fmt.Sprintf("branch_id=$%d", len(args)))
	}
	if filter.ItemID != uuid.Nil {
		args = append(args, filter.ItemID)
		clauses = append(clauses, fmt.Sprintf("item_id=$%d", len(args)))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "active")
	}
	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	sql := `SELECT ` + policyColumns + ` FROM reorder_policies WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(` ORDER BY item_id, branch_id NULLS FIRST, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Policy{}
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const forecastColumns = `id, org_id, branch_id, item_id, input_hash, window_days, horizon_days, as_of,
avg_daily_qty, stddev_qty, projected_qty, lower_qty, upper_qty, created_at`

func scanForecast(row pgx.Row) (ForecastSnapshot, error) {
	var f ForecastSnapshot
	err := row.Scan(&f.ID, &f.OrgID, &f.BranchID, &f.ItemID, &f.InputHash, &f.WindowDays, &f.HorizonDays, &f.AsOf,
		&f.AvgDailyQty, &f.StdDevQty, &f.ProjectedQty, &f.LowerQty, &f.UpperQty, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ForecastSnapshot{}, shared.ErrNotFound
	}
	return f, err
}

func (r *Repository) GetForecastByHash(ctx context.Context, orgID uuid.UUID, hash string) (ForecastSnapshot, error) {
	return scanForecast(r.pool.QueryRow(ctx, `SELECT `+forecastColumns+` FROM forecast_snapshots WHERE org_id=$1 AND input_hash=$2`, orgID, hash))
}

func (r *Repository) ListForecasts(ctx context.Context, orgID, branchID uuid.UUID, asOf time.Time) ([]ForecastSnapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+forecastColumns+` FROM forecast_snapshots
WHERE org_id=$1 AND branch_id=$2 AND as_of=$3 ORDER BY item_id, window_days, horizon_days`, orgID, branchID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ForecastSnapshot{}
	for rows.Next() {
		f, err := scanForecast(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

const runColumns = `id, org_id, branch_id, input_hash, window_days, horizon_days, as_of, lines, purchase_order_ids, created_by, created_at`

func scanRun(row pgx.Row) (OptimizationRun, error) {
	var (
		run        OptimizationRun
		lines, pos []byte
	)
	err := row.Scan(&run.ID, &run.OrgID, &run.BranchID, &run.InputHash, &run.WindowDays, &run.HorizonDays, &run.AsOf,
		&lines, &pos, &run.CreatedBy, &run.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return OptimizationRun{}, shared.ErrNotFound
	}
	if err != nil {
		return OptimizationRun{}, err
	}
	if err := json.Unmarshal(lines, &run.Lines); err != nil {
		return OptimizationRun{}, fmt.Errorf("reorder: decode run lines: %w", err)
	}
	if len(pos) > 0 {
		if err := json.Unmarshal(pos, &run.PurchaseOrderIDs); err != nil {
			return OptimizationRun{}, fmt.Errorf("reorder: decode run purchase orders: %w", err)
		}
	}
	return run, nil
}

func (r *Repository) GetRun(ctx context.Context, orgID, id uuid.UUID) (OptimizationRun, error) {
	return scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM optimization_runs WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) GetRunByHash(ctx context.Context, orgID uuid.UUID, hash string) (OptimizationRun, error) {
	return scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM optimization_runs WHERE org_id=$1 AND input_hash=$2`, orgID, hash))
}

func (r *Repository) ListRuns(ctx context.Context, orgID uuid.UUID, filter RunFilter) ([]OptimizationRun, error) {
	clauses := []string{"org_id=$1"}
	args := []any{orgID}
	if filter.BranchID != uuid.Nil {
		args = append(args, filter.BranchID)
		clauses = append(clauses, fmt.Sprintf("branch_id=$%d", len(args)))
	}
	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	sql := `SELECT ` + runColumns + ` FROM optimization_runs WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(` ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []OptimizationRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (t *txRepository) LockActivePolicy(ctx context.Context, orgID, itemID, branchID uuid.UUID) (Policy, bool, error) {
	p, err := scanPolicy(t.tx.QueryRow(ctx, `SELECT `+policyColumns+` FROM reorder_policies
WHERE org_id=$1 AND item_id=$2 AND branch_id IS NOT DISTINCT FROM $3 AND active FOR UPDATE`, orgID, itemID, db.NullUUID(branchID)))
	if errors.Is(err, shared.ErrNotFound) {
		return Policy{}, false, nil
	}
	if err != nil {
		return Policy{}, false, err
	}
	return p, true, nil
}

func (t *txRepository) LockPolicy(ctx context.Context, orgID, id uuid.UUID) (Policy, error) {
	return scanPolicy(t.tx.QueryRow(ctx, `SELECT `+policyColumns+` FROM reorder_policies WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepository) InsertPolicy(ctx context.Context, p Policy) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO reorder_policies (`+policyColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.OrgID, p.ItemID, db.NullUUID(p.BranchID), p.ReorderPointQty, p.ReorderQty, db.NullUUID(p.PreferredVendorID),
		p.LeadTimeDays, p.SafetyStockDays, string(p.Sizing), p.Active, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return shared.NewError(shared.ErrConflict, "reorder: active policy exists")
	}
	return err
}

func (t *txRepository) UpdatePolicy(ctx context.Context, p Policy) error {
	tag, err := t.tx.Exec(ctx, `UPDATE reorder_policies SET reorder_point_qty=$3, reorder_qty=$4, preferred_vendor_id=$5,
lead_time_days=$6, safety_stock_days=$7, sizing=$8, active=$9, updated_at=$10 WHERE org_id=$1 AND id=$2`,
		p.OrgID, p.ID, p.ReorderPointQty, p.ReorderQty, db.NullUUID(p.PreferredVendorID),
		p.LeadTimeDays, p.SafetyStockDays, string(p.Sizing), p.Active, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) InsertForecast(ctx context.Context, f ForecastSnapshot) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO forecast_snapshots (`+forecastColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (org_id, input_hash) DO NOTHING`,
		f.ID, f.OrgID, f.BranchID, f.ItemID, f.InputHash, f.WindowDays, f.HorizonDays, f.AsOf,
		f.AvgDailyQty, f.StdDevQty, f.ProjectedQty, f.LowerQty, f.UpperQty, f.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) InsertRun(ctx context.Context, run OptimizationRun) (bool, error) {
	lines, err := json.Marshal(run.Lines)
	if err != nil {
		return false, err
	}
	pos, err := json.Marshal(nonNilIDs(run.PurchaseOrderIDs))
	if err != nil {
		return false, err
	}
	tag, err := t.tx.Exec(ctx, `INSERT INTO optimization_runs (`+runColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (org_id, input_hash) DO NOTHING`,
		run.ID, run.OrgID, run.BranchID, run.InputHash, run.WindowDays, run.HorizonDays, run.AsOf, lines, pos, run.CreatedBy, run.CreatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) LockRun(ctx context.Context, orgID, id uuid.UUID) (OptimizationRun, error) {
	return scanRun(t.tx.QueryRow(ctx, `SELECT `+runColumns+` FROM optimization_runs WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepository) SetRunPurchaseOrders(ctx context.Context, orgID, runID uuid.UUID, poIDs []uuid.UUID) error {
	pos, err := json.Marshal(nonNilIDs(poIDs))
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE optimization_runs SET purchase_order_ids=$3 WHERE org_id=$1 AND id=$2`, orgID, runID, pos)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
