package closing

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

// Repository persists inventory periods and their frozen results.
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
		return errors.New("closing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const periodColumns = `id, org_id, branch_id, name, start_date, end_date, status, revision, closed_at, closed_by, override_reason, created_by, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var (
		p        Period
		status   string
		closedBy *uuid.UUID
	)
	err := row.Scan(&p.ID, &p.OrgID, &p.BranchID, &p.Name, &p.StartDate, &p.EndDate, &status, &p.Revision,
		&p.ClosedAt, &closedBy, &p.OverrideReason, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, shared.ErrNotFound
	}
	if err != nil {
		return Period{}, err
	}
	p.Status = PeriodStatus(status)
	if closedBy != nil {
		p.ClosedBy = *closedBy
	}
	return p, nil
}

func (r *Repository) GetPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM inventory_periods WHERE org_id=$1 AND id=$2`, orgID, id))
}

func (r *Repository) ListPeriods(ctx context.Context, orgID uuid.UUID, filter PeriodFilter) ([]Period, error) {
	clauses := []string{"org_id=$1"}
	args := []any{orgID}
	if filter.BranchID != uuid.Nil {
		args = append(args, filter.BranchID)
		clauses = append(clauses, fmt.Sprintf("branch_id=$%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	sql := `SELECT ` + periodColumns + ` FROM inventory_periods WHERE ` + strings.Join(clauses, " AND ") +
		fmt.Sprintf(` ORDER BY start_date DESC, id ASC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Period{}
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) PeriodOverlaps(ctx context.Context, orgID, branchID uuid.UUID, start, end time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_periods
WHERE org_id=$1 AND branch_id=$2 AND start_date <= $4 AND end_date >= $3)`, orgID, branchID, start, end).Scan(&exists)
	return exists, err
}

func (r *Repository) ListSnapshots(ctx context.Context, orgID, periodID uuid.UUID, revision int) ([]ValuationSnapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, org_id, period_id, revision, item_id, location_id, qty, unit_cost, cost_source, total_value, created_at
FROM valuation_snapshots WHERE org_id=$1 AND period_id=$2 AND revision=$3
ORDER BY item_id, location_id`, orgID, periodID, revision)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ValuationSnapshot{}
	for rows.Next() {
		var (
			sn     ValuationSnapshot
			source string
		)
		if err := rows.Scan(&sn.ID, &sn.OrgID, &sn.PeriodID, &sn.Revision, &sn.ItemID, &sn.LocationID, &sn.Qty, &sn.UnitCost,
			&source, &sn.TotalValue, &sn.CreatedAt); err != nil {
			return nil, err
		}
		sn.CostSource = CostSource(source)
		out = append(out, sn)
	}
	return out, rows.Err()
}

func (r *Repository) ListSummaries(ctx context.Context, orgID, periodID uuid.UUID, revision int) ([]MovementSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, org_id, period_id, revision, item_id, opening, receipts, sales, waste,
transfers_in, transfers_out, adjustments, production_consume, production_produce, closing, created_at
FROM movement_summaries WHERE org_id=$1 AND period_id=$2 AND revision=$3
ORDER BY item_id`, orgID, periodID, revision)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []MovementSummary{}
	for rows.Next() {
		var m MovementSummary
		if err := rows.Scan(&m.ID, &m.OrgID, &m.PeriodID, &m.Revision, &m.ItemID, &m.Opening, &m.Receipts, &m.Sales, &m.Waste,
			&m.TransfersIn, &m.TransfersOut, &m.Adjustments, &m.ProductionConsume, &m.ProductionProduce, &m.Closing, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) GetReconciliation(ctx context.Context, orgID, periodID uuid.UUID, revision int) (ReconciliationReport, error) {
	var (
		rep    ReconciliationReport
		status string
		lines  []byte
	)
	err := r.pool.QueryRow(ctx, `SELECT id, org_id, period_id, revision, tolerance, status, lines, created_by, created_at
FROM reconciliation_reports WHERE org_id=$1 AND period_id=$2 AND revision=$3`, orgID, periodID, revision).
		Scan(&rep.ID, &rep.OrgID, &rep.PeriodID, &rep.Revision, &rep.Tolerance, &status, &lines, &rep.CreatedBy, &rep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ReconciliationReport{}, shared.ErrNotFound
	}
	if err != nil {
		return ReconciliationReport{}, err
	}
	rep.Status = ReconStatus(status)
	if err := json.Unmarshal(lines, &rep.Lines); err != nil {
		return ReconciliationReport{}, fmt.Errorf("closing: decode reconciliation lines: %w", err)
	}
	return rep, nil
}

func (r *Repository) ListEvents(ctx context.Context, orgID, periodID uuid.UUID) ([]PeriodEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, org_id, period_id, revision, event_type, actor_id, reason, meta, created_at
FROM period_events WHERE org_id=$1 AND period_id=$2 ORDER BY created_at ASC, id ASC`, orgID, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []PeriodEvent{}
	for rows.Next() {
		var (
			ev   PeriodEvent
			typ  string
			meta []byte
		)
		if err := rows.Scan(&ev.ID, &ev.OrgID, &ev.PeriodID, &ev.Revision, &typ, &ev.ActorID, &ev.Reason, &meta, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Type = EventType(typ)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &ev.Meta)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (t *txRepository) LockPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return scanPeriod(t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM inventory_periods WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
}

func (t *txRepository) InsertPeriod(ctx context.Context, p Period) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO inventory_periods (`+periodColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.OrgID, p.BranchID, p.Name, p.StartDate, p.EndDate, string(p.Status), p.Revision,
		p.ClosedAt, db.NullUUID(p.ClosedBy), p.OverrideReason, p.CreatedBy, p.CreatedAt, p.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrPeriodOverlap
	}
	return err
}

func (t *txRepository) UpdatePeriod(ctx context.Context, p Period) error {
	tag, err := t.tx.Exec(ctx, `UPDATE inventory_periods SET status=$3, revision=$4, closed_at=$5, closed_by=$6, override_reason=$7, updated_at=$8
WHERE org_id=$1 AND id=$2`, p.OrgID, p.ID, string(p.Status), p.Revision, p.ClosedAt, db.NullUUID(p.ClosedBy), p.OverrideReason, p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepository) InsertSnapshots(ctx context.Context, snapshots []ValuationSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	rows := make([][]any, len(snapshots))
	for i, sn := range snapshots {
		rows[i] = []any{sn.ID, sn.OrgID, sn.PeriodID, sn.Revision, sn.ItemID, sn.LocationID, sn.Qty, sn.UnitCost, string(sn.CostSource), sn.TotalValue, sn.CreatedAt}
	}
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"valuation_snapshots"},
		[]string{"id", "org_id", "period_id", "revision", "item_id", "location_id", "qty", "unit_cost", "cost_source", "total_value", "created_at"},
		pgx.CopyFromRows(rows))
	return err
}

func (t *txRepository) InsertSummaries(ctx context.Context, summaries []MovementSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	rows := make([][]any, len(summaries))
	for i, m := range summaries {
		rows[i] = []any{m.ID, m.OrgID, m.PeriodID, m.Revision, m.ItemID, m.Opening, m.Receipts, m.Sales, m.Waste,
			m.TransfersIn, m.TransfersOut, m.Adjustments, m.ProductionConsume, m.ProductionProduce, m.Closing, m.CreatedAt}
	}
	_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"movement_summaries"},
		[]string{"id", "org_id", "period_id", "revision", "item_id", "opening", "receipts", "sales", "waste",
			"transfers_in", "transfers_out", "adjustments", "production_consume", "production_produce", "closing", "created_at"},
		pgx.CopyFromRows(rows))
	return err
}

func (t *txRepository) SaveReconciliation(ctx context.Context, rep ReconciliationReport) error {
	lines, err := json.Marshal(rep.Lines)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO reconciliation_reports (id, org_id, period_id, revision, tolerance, status, lines, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (org_id, period_id, revision) DO UPDATE SET tolerance=EXCLUDED.tolerance, status=EXCLUDED.status,
lines=EXCLUDED.lines, created_by=EXCLUDED.created_by, created_at=EXCLUDED.created_at`,
		rep.ID, rep.OrgID, rep.PeriodID, rep.Revision, rep.Tolerance, string(rep.Status), lines, rep.CreatedBy, rep.CreatedAt)
	return err
}

func (t *txRepository) InsertPeriodEvent(ctx context.Context, ev PeriodEvent) error {
	meta, err := json.Marshal(ev.Meta)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `INSERT INTO period_events (id, org_id, period_id, revision, event_type, actor_id, reason, meta, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, ev.ID, ev.OrgID, ev.PeriodID, ev.Revision, string(ev.Type), ev.ActorID, ev.Reason, meta, ev.CreatedAt)
	return err
}
