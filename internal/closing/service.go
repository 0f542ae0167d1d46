package closing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error)
	ListPeriods(ctx context.Context, orgID uuid.UUID, filter PeriodFilter) ([]Period, error)
	// PeriodOverlaps reports whether another period of the branch shares a date with [start, end].
	PeriodOverlaps(ctx context.Context, orgID, branchID uuid.UUID, start, end time.Time) (bool, error)
	ListSnapshots(ctx context.Context, orgID, periodID uuid.UUID, revision int) ([]ValuationSnapshot, error)
	ListSummaries(ctx context.Context, orgID, periodID uuid.UUID, revision int) ([]MovementSummary, error)
	GetReconciliation(ctx context.Context, orgID, periodID uuid.UUID, revision int) (ReconciliationReport, error)
	ListEvents(ctx context.Context, orgID, periodID uuid.UUID) ([]PeriodEvent, error)
}

// TxRepository exposes period writes on one transaction.
type TxRepository interface {
	LockPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error)
	InsertPeriod(ctx context.Context, p Period) error
	UpdatePeriod(ctx context.Context, p Period) error
	InsertSnapshots(ctx context.Context, snapshots []ValuationSnapshot) error
	InsertSummaries(ctx context.Context, summaries []MovementSummary) error
	SaveReconciliation(ctx context.Context, report ReconciliationReport) error
	InsertPeriodEvent(ctx context.Context, ev PeriodEvent) error
}

// LedgerPort is the ledger data a close reads.
type LedgerPort interface {
	PositionsAt(ctx context.Context, orgID, branchID uuid.UUID, at time.Time) ([]ledger.Position, error)
	ReasonTotals(ctx context.Context, orgID, branchID uuid.UUID, from, to time.Time) ([]ledger.ReasonTotal, error)
	LatestUnitCost(ctx context.Context, orgID, itemID uuid.UUID, at time.Time) (decimal.Decimal, bool, error)
}

// DocumentsPort lists unfinished documents.
type DocumentsPort interface {
	OpenDocuments(ctx context.Context, orgID, branchID uuid.UUID, before time.Time) ([]documents.OpenDocument, error)
}

// LotsPort lists lots for pre-close warnings.
type LotsPort interface {
	ListLots(ctx context.Context, orgID uuid.UUID, filter lots.Filter) ([]lots.Lot, error)
}

// CatalogPort is the master data a close reads.
type CatalogPort interface {
	GetBranch(ctx context.Context, orgID, id uuid.UUID) (catalog.Branch, error)
	GetItem(ctx context.Context, orgID, id uuid.UUID) (catalog.Item, error)
}

// ObjectStore receives close pack archives.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig tunes close behaviour.
type ServiceConfig struct {
	// Tolerance is the default absolute variance accepted by Reconcile.
	Tolerance decimal.Decimal
	LockTTL   time.Duration
}

// Service runs the inventory period lifecycle.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	docs    DocumentsPort
	lots    LotsPort
	catalog CatalogPort
	audit   AuditPort
	cfg     ServiceConfig
	store   ObjectStore
	locker  shared.Locker
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo RepositoryPort, led LedgerPort, docs DocumentsPort, lotsPort LotsPort, cat CatalogPort, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.Tolerance.IsNegative() || cfg.Tolerance.IsZero() {
		cfg.Tolerance = decimal.New(1, -2)
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: led, docs: docs, lots: lotsPort, catalog: cat, audit: audit, cfg: cfg, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithObjectStore uploads close packs when set.
func (s *Service) WithObjectStore(store ObjectStore) { s.store = store }

// WithLocker serialises close and reopen of a period across instances.
func (s *Service) WithLocker(l shared.Locker) { s.locker = l }

func (s *Service) require(actor shared.Principal, perm string) error {
	if actor.OrgID == uuid.Nil {
		return shared.ErrUnauthorized
	}
	if !shared.HasLevel(actor, perm) {
		return shared.ErrForbidden
	}
	return nil
}

// CreatePeriod inserts a new OPEN period after validating overlap.
func (s *Service) CreatePeriod(ctx context.Context, actor shared.Principal, in CreatePeriodInput) (Period, error) {
	if err := s.require(actor, shared.PermPeriodCreate); err != nil {
		return Period{}, err
	}
	if err := in.Validate(); err != nil {
		return Period{}, err
	}
	if _, err := s.catalog.GetBranch(ctx, actor.OrgID, in.BranchID); err != nil {
		return Period{}, err
	}
	start, end := dateOnly(in.StartDate), dateOnly(in.EndDate)
	conflict, err := s.repo.PeriodOverlaps(ctx, actor.OrgID, in.BranchID, start, end)
	if err != nil {
		return Period{}, err
	}
	if conflict {
		return Period{}, ErrPeriodOverlap
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = start.Format("2006-01-02") + ".." + end.Format("2006-01-02")
	}
	at := s.now().UTC()
	p := Period{
		ID:        uuid.New(),
		OrgID:     actor.OrgID,
		BranchID:  in.BranchID,
		Name:      name,
		StartDate: start,
		EndDate:   end,
		Status:    PeriodStatusOpen,
		Revision:  1,
		CreatedBy: actor.UserID,
		CreatedAt: at,
		UpdatedAt: at,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertPeriod(ctx, p); err != nil {
			return err
		}
		return tx.InsertPeriodEvent(ctx, s.event(p, EventCreated, actor.UserID, "", nil))
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, actor, "PERIOD_CREATE", p.ID, map[string]any{"branch_id": p.BranchID.String(), "name": p.Name})
	return p, nil
}

// GetPeriod returns a single period.
func (s *Service) GetPeriod(ctx context.Context, orgID, id uuid.UUID) (Period, error) {
	return s.repo.GetPeriod(ctx, orgID, id)
}

// ListPeriods returns periods ordered by start date, newest first.
func (s *Service) ListPeriods(ctx context.Context, orgID uuid.UUID, filter PeriodFilter) ([]Period, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListPeriods(ctx, orgID, filter)
}

// ListEvents returns period events in creation order.
func (s *Service) ListEvents(ctx context.Context, orgID, periodID uuid.UUID) ([]PeriodEvent, error) {
	if _, err := s.repo.GetPeriod(ctx, orgID, periodID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, orgID, periodID)
}

// Snapshots returns the valuation of a revision; revision <= 0 means the current one.
func (s *Service) Snapshots(ctx context.Context, orgID, periodID uuid.UUID, revision int) ([]ValuationSnapshot, error) {
	p, err := s.repo.GetPeriod(ctx, orgID, periodID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSnapshots(ctx, orgID, periodID, revisionOf(p, revision))
}

// Summaries returns the movement summaries of a revision; revision <= 0 means the current one.
func (s *Service) Summaries(ctx context.Context, orgID, periodID uuid.UUID, revision int) ([]MovementSummary, error) {
	p, err := s.repo.GetPeriod(ctx, orgID, periodID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSummaries(ctx, orgID, periodID, revisionOf(p, revision))
}

// Reconciliation returns the stored report of a revision; revision <= 0 means the current one.
func (s *Service) Reconciliation(ctx context.Context, orgID, periodID uuid.UUID, revision int) (ReconciliationReport, error) {
	p, err := s.repo.GetPeriod(ctx, orgID, periodID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	return s.repo.GetReconciliation(ctx, orgID, periodID, revisionOf(p, revision))
}

func revisionOf(p Period, revision int) int {
	if revision <= 0 {
		return p.Revision
	}
	return revision
}

// window resolves the branch-local bounds of a period.
func (s *Service) window(ctx context.Context, p Period) (from, to time.Time, err error) {
	branch, err := s.catalog.GetBranch(ctx, p.OrgID, p.BranchID)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, to = p.Bounds(branch.Location())
	return from, to, nil
}

// CheckBlockers lists the unfinished documents of the period's branch created before its end.
func (s *Service) CheckBlockers(ctx context.Context, orgID, periodID uuid.UUID) ([]BlockingState, error) {
	p, err := s.repo.GetPeriod(ctx, orgID, periodID)
	if err != nil {
		return nil, err
	}
	_, to, err := s.window(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.blockers(ctx, p, to)
}

func (s *Service) blockers(ctx context.Context, p Period, to time.Time) ([]BlockingState, error) {
	open, err := s.docs.OpenDocuments(ctx, p.OrgID, p.BranchID, to)
	if err != nil {
		return nil, err
	}
	out := make([]BlockingState, 0, len(open))
	for _, d := range open {
		out = append(out, BlockingState{
			Kind:       d.Kind,
			DocumentID: d.ID,
			Number:     d.Number,
			Status:     d.Status,
			Hard:       d.Kind == documents.KindDepletion,
			CreatedAt:  d.CreatedAt,
		})
	}
	return out, nil
}

func hasHard(blockers []BlockingState) bool {
	for _, b := range blockers {
		if b.Hard {
			return true
		}
	}
	return false
}

// PreCloseCheck reports blockers and warnings without writing.
func (s *Service) PreCloseCheck(ctx context.Context, orgID, periodID uuid.UUID) (PreCloseResult, error) {
	p, err := s.repo.GetPeriod(ctx, orgID, periodID)
	if err != nil {
		return PreCloseResult{}, err
	}
	from, to, err := s.window(ctx, p)
	if err != nil {
		return PreCloseResult{}, err
	}
	blockers, err := s.blockers(ctx, p, to)
	if err != nil {
		return PreCloseResult{}, err
	}
	snapshots, _, _, err := s.compute(ctx, p, from, to)
	if err != nil {
		return PreCloseResult{}, err
	}
	lotWarnings, err := s.lotWarnings(ctx, p)
	if err != nil {
		return PreCloseResult{}, err
	}
	var costWarnings []Warning
	for _, sn := range snapshots {
		if !sn.Qty.IsZero() && sn.UnitCost.IsZero() {
			costWarnings = append(costWarnings, Warning{Code: WarningZeroCost, ItemID: sn.ItemID, LocationID: sn.LocationID, Qty: sn.Qty,
				Message: "item valued at zero cost"})
		}
	}

	var soft, hard int
	for _, b := range blockers {
		if b.Hard {
			hard++
		} else {
			soft++
		}
	}
	res := PreCloseResult{PeriodID: p.ID, Blockers: blockers, Warnings: append(lotWarnings, costWarnings...)}
	res.Checklist = []ChecklistItem{
		checklistLine("OPEN_DOCUMENTS", "Receipts, transfers, waste and production posted", soft, CheckBlocked),
		checklistLine("DEPLETIONS", "Point-of-sale depletions processed", hard, CheckBlocked),
		checklistLine("LOT_HYGIENE", "No stock on expired or quarantined lots", len(lotWarnings), CheckWarning),
		checklistLine("COSTS", "Every item with stock has a unit cost", len(costWarnings), CheckWarning),
	}
	switch {
	case len(blockers) > 0:
		res.Status = CheckBlocked
		res.OverrideAllowed = hard == 0
	case len(res.Warnings) > 0:
		res.Status = CheckWarning
	default:
		res.Status = CheckReady
	}
	return res, nil
}

func checklistLine(code, label string, count int, failing CheckStatus) ChecklistItem {
	status := CheckReady
	if count > 0 {
		status = failing
	}
	return ChecklistItem{Code: code, Label: label, Status: status, Count: count}
}

func (s *Service) lotWarnings(ctx context.Context, p Period) ([]Warning, error) {
	held, err := s.lots.ListLots(ctx, p.OrgID, lots.Filter{
		BranchID:      p.BranchID,
		Statuses:      []lots.Status{lots.StatusExpired, lots.StatusQuarantine},
		WithRemaining: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Warning, 0, len(held))
	for _, l := range held {
		w := Warning{Code: WarningQuarantinedLotStock, ItemID: l.ItemID, LocationID: l.LocationID, LotID: l.ID, Qty: l.RemainingQty,
			Message: "quarantined lot " + l.LotNumber + " still holds stock"}
		if l.Status == lots.StatusExpired {
			w.Code = WarningExpiredLotStock
			w.Message = "expired lot " + l.LotNumber + " still holds stock"
		}
		out = append(out, w)
	}
	return out, nil
}

// compute reads the ledger in parallel and derives snapshots and summaries for [from, to).
func (s *Service) compute(ctx context.Context, p Period, from, to time.Time) ([]ValuationSnapshot, []MovementSummary, []ledger.ReasonTotal, error) {
	var (
		opening, closing []ledger.Position
		activity         []ledger.ReasonTotal
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		opening, err = s.ledger.PositionsAt(gctx, p.OrgID, p.BranchID, from)
		return err
	})
	g.Go(func() error {
		var err error
		closing, err = s.ledger.PositionsAt(gctx, p.OrgID, p.BranchID, to)
		return err
	})
	g.Go(func() error {
		var err error
		activity, err = s.ledger.ReasonTotals(gctx, p.OrgID, p.BranchID, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	keys, qty := valuationKeys(closing, activity)
	costs, err := s.resolveCosts(ctx, p.OrgID, itemsOf(keys), to)
	if err != nil {
		return nil, nil, nil, err
	}
	return buildSnapshots(keys, qty, costs), buildSummaries(opening, activity), activity, nil
}

// Close freezes the period's valuation and movements under its current revision.
// Closing an already closed period returns it with AlreadyClosed set.
func (s *Service) Close(ctx context.Context, actor shared.Principal, periodID uuid.UUID, in CloseInput) (CloseResult, error) {
	if err := s.require(actor, shared.PermPeriodClose); err != nil {
		return CloseResult{}, err
	}
	reason := strings.TrimSpace(in.OverrideReason)
	if in.Override {
		if !shared.HasLevel(actor, shared.PermPeriodOverride) {
			return CloseResult{}, shared.ErrForbidden
		}
		if reason == "" {
			return CloseResult{}, ErrReasonRequired
		}
	}
	release, err := s.lock(ctx, actor.OrgID, periodID)
	if err != nil {
		return CloseResult{}, err
	}
	defer release()

	p, err := s.repo.GetPeriod(ctx, actor.OrgID, periodID)
	if err != nil {
		return CloseResult{}, err
	}
	if p.Status == PeriodStatusClosed {
		return CloseResult{Period: p, AlreadyClosed: true}, nil
	}
	from, to, err := s.window(ctx, p)
	if err != nil {
		return CloseResult{}, err
	}
	blockers, err := s.blockers(ctx, p, to)
	if err != nil {
		return CloseResult{}, err
	}
	overrideUsed := false
	if len(blockers) > 0 {
		if !in.Override {
			return CloseResult{}, &BlockedError{Blockers: blockers}
		}
		if hasHard(blockers) {
			return CloseResult{}, ErrOverrideNotAllowed
		}
		overrideUsed = true
	}

	snapshots, summaries, _, err := s.compute(ctx, p, from, to)
	if err != nil {
		return CloseResult{}, err
	}
	now := s.now().UTC()
	var closed Period
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockPeriod(ctx, actor.OrgID, periodID)
		if err != nil {
			return err
		}
		if err := shared.ValidatePeriodTransition(string(locked.Status), string(PeriodStatusClosed), false); err != nil {
			return err
		}
		if locked.Revision != p.Revision {
			return shared.NewError(shared.ErrConflict, "closing: period changed during close")
		}
		for i := range snapshots {
			snapshots[i].ID = uuid.New()
			snapshots[i].OrgID, snapshots[i].PeriodID, snapshots[i].Revision = locked.OrgID, locked.ID, locked.Revision
			snapshots[i].CreatedAt = now
		}
		for i := range summaries {
			summaries[i].ID = uuid.New()
			summaries[i].OrgID, summaries[i].PeriodID, summaries[i].Revision = locked.OrgID, locked.ID, locked.Revision
			summaries[i].CreatedAt = now
		}
		if err := tx.InsertSnapshots(ctx, snapshots); err != nil {
			return err
		}
		if err := tx.InsertSummaries(ctx, summaries); err != nil {
			return err
		}
		locked.Status = PeriodStatusClosed
		locked.ClosedAt = &now
		locked.ClosedBy = actor.UserID
		locked.OverrideReason = ""
		if overrideUsed {
			locked.OverrideReason = reason
			if err := tx.InsertPeriodEvent(ctx, s.event(locked, EventOverrideUsed, actor.UserID, reason, map[string]any{"blockers": len(blockers)})); err != nil {
				return err
			}
		}
		locked.UpdatedAt = now
		closed = locked
		if err := tx.UpdatePeriod(ctx, locked); err != nil {
			return err
		}
		return tx.InsertPeriodEvent(ctx, s.event(locked, EventClosed, actor.UserID, "", map[string]any{
			"snapshots": len(snapshots), "summaries": len(summaries),
		}))
	})
	if err != nil {
		return CloseResult{}, err
	}
	s.recordAudit(ctx, actor, "PERIOD_CLOSE", closed.ID, map[string]any{"revision": closed.Revision, "override": overrideUsed})
	s.logger.Info("period closed", slog.String("period_id", closed.ID.String()), slog.Int("revision", closed.Revision),
		slog.Int("snapshots", len(snapshots)), slog.Bool("override", overrideUsed))
	return CloseResult{Period: closed, OverrideUsed: overrideUsed, Snapshots: snapshots, Summaries: summaries}, nil
}

// Reopen returns a closed period to OPEN under a new revision. Earlier snapshots are kept.
func (s *Service) Reopen(ctx context.Context, actor shared.Principal, periodID uuid.UUID, reason string) (Period, error) {
	if err := s.require(actor, shared.PermPeriodReopen); err != nil {
		return Period{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Period{}, ErrReasonRequired
	}
	release, err := s.lock(ctx, actor.OrgID, periodID)
	if err != nil {
		return Period{}, err
	}
	defer release()

	var reopened Period
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockPeriod(ctx, actor.OrgID, periodID)
		if err != nil {
			return err
		}
		if err := shared.ValidatePeriodTransition(string(p.Status), string(PeriodStatusOpen), true); err != nil {
			return err
		}
		p.Status = PeriodStatusOpen
		p.Revision++
		p.ClosedAt = nil
		p.ClosedBy = uuid.Nil
		p.OverrideReason = ""
		p.UpdatedAt = s.now().UTC()
		reopened = p
		if err := tx.UpdatePeriod(ctx, p); err != nil {
			return err
		}
		return tx.InsertPeriodEvent(ctx, s.event(p, EventReopened, actor.UserID, reason, nil))
	})
	if err != nil {
		return Period{}, err
	}
	s.recordAudit(ctx, actor, "PERIOD_REOPEN", reopened.ID, map[string]any{"revision": reopened.Revision, "reason": reason})
	s.logger.Warn("period reopened", slog.String("period_id", reopened.ID.String()), slog.Int("revision", reopened.Revision))
	return reopened, nil
}

// Reconcile compares inventory-derived figures of a closed revision with GL amounts and stores the report.
func (s *Service) Reconcile(ctx context.Context, actor shared.Principal, periodID uuid.UUID, in ReconcileInput) (ReconciliationReport, error) {
	if err := s.require(actor, shared.PermPeriodReconcile); err != nil {
		return ReconciliationReport{}, err
	}
	tolerance := s.cfg.Tolerance
	if in.Tolerance != nil {
		if in.Tolerance.IsNegative() {
			return ReconciliationReport{}, shared.NewError(shared.ErrValidation, "closing: tolerance must be >= 0")
		}
		tolerance = *in.Tolerance
	}
	p, err := s.repo.GetPeriod(ctx, actor.OrgID, periodID)
	if err != nil {
		return ReconciliationReport{}, err
	}
	if p.Status != PeriodStatusClosed {
		return ReconciliationReport{}, ErrPeriodNotClosed
	}
	from, to, err := s.window(ctx, p)
	if err != nil {
		return ReconciliationReport{}, err
	}
	snapshots, err := s.repo.ListSnapshots(ctx, p.OrgID, p.ID, p.Revision)
	if err != nil {
		return ReconciliationReport{}, err
	}
	activity, err := s.ledger.ReasonTotals(ctx, p.OrgID, p.BranchID, from, to)
	if err != nil {
		return ReconciliationReport{}, err
	}
	gl := map[ReconCategory]decimal.Decimal{}
	for c, v := range in.GL {
		gl[c] = v
	}
	lines, status := reconLines(reconFigures(snapshots, activity), gl, tolerance)
	report := ReconciliationReport{
		ID:        uuid.New(),
		OrgID:     p.OrgID,
		PeriodID:  p.ID,
		Revision:  p.Revision,
		Tolerance: tolerance,
		Status:    status,
		Lines:     lines,
		CreatedBy: actor.UserID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SaveReconciliation(ctx, report)
	}); err != nil {
		return ReconciliationReport{}, err
	}
	s.recordAudit(ctx, actor, "PERIOD_RECONCILE", p.ID, map[string]any{"revision": p.Revision, "status": string(status)})
	return report, nil
}

func (s *Service) lock(ctx context.Context, orgID, periodID uuid.UUID) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Obtain(ctx, shared.PeriodLockKey(orgID, periodID), s.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("period lock release failed", slog.String("period_id", periodID.String()), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) event(p Period, typ EventType, actorID uuid.UUID, reason string, meta map[string]any) PeriodEvent {
	return PeriodEvent{
		ID:        uuid.New(),
		OrgID:     p.OrgID,
		PeriodID:  p.ID,
		Revision:  p.Revision,
		Type:      typ,
		ActorID:   actorID,
		Reason:    reason,
		Meta:      meta,
		CreatedAt: s.now().UTC(),
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Principal, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{OrgID: actor.OrgID, ActorID: actor.UserID, Action: action, Entity: "inventory_period", EntityID: id.String(), Meta: meta, At: s.now()})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

// IsBlocked reports whether err carries blocking documents.
func IsBlocked(err error) ([]BlockingState, bool) {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return blocked.Blockers, true
	}
	return nil, false
}
