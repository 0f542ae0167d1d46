package lots

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLot(ctx context.Context, orgID, id uuid.UUID) (Lot, error)
	ListLots(ctx context.Context, orgID uuid.UUID, filter Filter) ([]Lot, error)
	ListAllocationsByLot(ctx context.Context, orgID, lotID uuid.UUID) ([]Allocation, error)
	// ExpireDue flips ACTIVE lots with expiry at or before now to EXPIRED across all orgs.
	ExpireDue(ctx context.Context, now time.Time) ([]Lot, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes lot queries and status changes.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// GetLot returns a lot of the org.
func (s *Service) GetLot(ctx context.Context, orgID, id uuid.UUID) (Lot, error) {
	return s.repo.GetLot(ctx, orgID, id)
}

// ListLots lists lots in FEFO order.
func (s *Service) ListLots(ctx context.Context, orgID uuid.UUID, filter Filter) ([]Lot, error) {
	lots, err := s.repo.ListLots(ctx, orgID, filter)
	if err != nil {
		return nil, err
	}
	SortFEFO(lots)
	return lots, nil
}

// Quarantine blocks an ACTIVE lot from allocation.
func (s *Service) Quarantine(ctx context.Context, actorID, orgID, lotID uuid.UUID, reason string) (Lot, error) {
	return s.transition(ctx, actorID, orgID, lotID, StatusActive, StatusQuarantine, "LOT_QUARANTINE", reason)
}

// Release returns a quarantined lot to ACTIVE.
func (s *Service) Release(ctx context.Context, actorID, orgID, lotID uuid.UUID, reason string) (Lot, error) {
	return s.transition(ctx, actorID, orgID, lotID, StatusQuarantine, StatusActive, "LOT_RELEASE", reason)
}

func (s *Service) transition(ctx context.Context, actorID, orgID, lotID uuid.UUID, from, to Status, action, reason string) (Lot, error) {
	var saved Lot
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lot, err := tx.LockLot(ctx, orgID, lotID)
		if err != nil {
			return err
		}
		if lot.Status != from {
			return ErrInvalidLotTransition
		}
		lot.Status = to
		lot.UpdatedAt = s.now().UTC()
		saved = lot
		return tx.UpdateLot(ctx, lot)
	})
	if err != nil {
		return Lot{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{OrgID: orgID, ActorID: actorID, Action: action, Entity: "lot", EntityID: lotID.String(),
			Meta: map[string]any{"reason": reason, "lot_number": saved.LotNumber}, At: s.now()}); err != nil {
			s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
		}
	}
	return saved, nil
}

// Traceability returns a lot with every allocation in creation order and totals per source type.
func (s *Service) Traceability(ctx context.Context, orgID, lotID uuid.UUID) (Trace, error) {
	lot, err := s.repo.GetLot(ctx, orgID, lotID)
	if err != nil {
		return Trace{}, err
	}
	allocs, err := s.repo.ListAllocationsByLot(ctx, orgID, lotID)
	if err != nil {
		return Trace{}, err
	}
	sort.SliceStable(allocs, func(i, j int) bool {
		if !allocs[i].CreatedAt.Equal(allocs[j].CreatedAt) {
			return allocs[i].CreatedAt.Before(allocs[j].CreatedAt)
		}
		return allocs[i].AllocationOrder < allocs[j].AllocationOrder
	})
	trace := Trace{Lot: lot, Allocations: allocs, Allocated: decimal.Zero}
	totals := map[string]decimal.Decimal{}
	for _, a := range allocs {
		totals[a.SourceType] = totals[a.SourceType].Add(a.AllocatedQty)
		trace.Allocated = trace.Allocated.Add(a.AllocatedQty)
	}
	for source, qty := range totals {
		trace.BySource = append(trace.BySource, SourceTotal{SourceType: source, Qty: qty})
	}
	sort.Slice(trace.BySource, func(i, j int) bool { return trace.BySource[i].SourceType < trace.BySource[j].SourceType })
	return trace, nil
}

// ExpireDue marks lots past expiry as EXPIRED and returns how many changed.
func (s *Service) ExpireDue(ctx context.Context) (int, error) {
	expired, err := s.repo.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if len(expired) > 0 {
		s.logger.Info("lots expired", slog.Int("count", len(expired)))
	}
	return len(expired), nil
}
