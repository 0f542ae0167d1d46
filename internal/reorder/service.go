package reorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPolicy(ctx context.Context, orgID, id uuid.UUID) (Policy, error)
	ListPolicies(ctx context.Context, orgID uuid.UUID, filter PolicyFilter) ([]Policy, error)
	GetForecastByHash(ctx context.Context, orgID uuid.UUID, hash string) (ForecastSnapshot, error)
	ListForecasts(ctx context.Context, orgID, branchID uuid.UUID, asOf time.Time) ([]ForecastSnapshot, error)
	GetRun(ctx context.Context, orgID, id uuid.UUID) (OptimizationRun, error)
	GetRunByHash(ctx context.Context, orgID uuid.UUID, hash string) (OptimizationRun, error)
	ListRuns(ctx context.Context, orgID uuid.UUID, filter RunFilter) ([]OptimizationRun, error)
}

// TxRepository exposes reorder writes on one transaction.
type TxRepository interface {
	// LockActivePolicy returns the active policy of (item, branch); ok is false when none exists.
	LockActivePolicy(ctx context.Context, orgID, itemID, branchID uuid.UUID) (Policy, bool, error)
	LockPolicy(ctx context.Context, orgID, id uuid.UUID) (Policy, error)
	InsertPolicy(ctx context.Context, p Policy) error
	UpdatePolicy(ctx context.Context, p Policy) error
	// InsertForecast reports false when a snapshot with the same hash already exists.
	InsertForecast(ctx context.Context, snap ForecastSnapshot) (bool, error)
	// InsertRun reports false when a run with the same hash already exists.
	InsertRun(ctx context.Context, run OptimizationRun) (bool, error)
	LockRun(ctx context.Context, orgID, id uuid.UUID) (OptimizationRun, error)
	SetRunPurchaseOrders(ctx context.Context, orgID, runID uuid.UUID, poIDs []uuid.UUID) error
}

// LedgerPort is the stock data suggestions read.
type LedgerPort interface {
	OnHandByBranch(ctx context.Context, orgID, branchID, itemID uuid.UUID) ([]ledger.Position, error)
	DailyTotals(ctx context.Context, orgID, branchID uuid.UUID, reasons []ledger.Reason, from, to time.Time, loc *time.Location) ([]ledger.DayTotal, error)
	LatestUnitCost(ctx context.Context, orgID, itemID uuid.UUID, at time.Time) (decimal.Decimal, bool, error)
}

// DocumentsPort reads open orders and drafts new ones.
type DocumentsPort interface {
	OnOrderQty(ctx context.Context, orgID, branchID, itemID uuid.UUID) (decimal.Decimal, error)
	CreatePurchaseOrders(ctx context.Context, actor shared.Principal, inputs []documents.CreatePurchaseOrderInput) ([]documents.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, orgID, id uuid.UUID) (documents.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, orgID uuid.UUID, filter documents.ListFilter) ([]documents.PurchaseOrder, error)
}

// CatalogPort is the master data reorder reads.
type CatalogPort interface {
	GetBranch(ctx context.Context, orgID, id uuid.UUID) (catalog.Branch, error)
	GetItem(ctx context.Context, orgID, id uuid.UUID) (catalog.Item, error)
	ListSupplierItems(ctx context.Context, orgID uuid.UUID, filter catalog.SupplierItemFilter) ([]catalog.SupplierItem, error)
}

// Cache keeps demand series of closed windows.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig tunes reorder behaviour.
type ServiceConfig struct {
	DemandCacheTTL time.Duration
	LockTTL        time.Duration
}

// Service computes forecasts and replenishment suggestions.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	docs    DocumentsPort
	catalog CatalogPort
	audit   AuditPort
	cache   Cache
	locker  shared.Locker
	cfg     ServiceConfig
	group   singleflight.Group
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo RepositoryPort, led LedgerPort, docs DocumentsPort, cat CatalogPort, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.DemandCacheTTL <= 0 {
		cfg.DemandCacheTTL = 24 * time.Hour
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: led, docs: docs, catalog: cat, audit: audit, cfg: cfg, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithCache enables caching of demand series.
func (s *Service) WithCache(c Cache) { s.cache = c }

// WithLocker serialises draft PO generation across instances.
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

// UpsertPolicy replaces the active policy of (item, branch) or creates one.
func (s *Service) UpsertPolicy(ctx context.Context, actor shared.Principal, in PolicyInput) (Policy, error) {
	if err := s.require(actor, shared.PermReorderPolicy); err != nil {
		return Policy{}, err
	}
	if err := in.Validate(); err != nil {
		return Policy{}, err
	}
	if _, err := s.catalog.GetItem(ctx, actor.OrgID, in.ItemID); err != nil {
		return Policy{}, err
	}
	if in.BranchID != uuid.Nil {
		if _, err := s.catalog.GetBranch(ctx, actor.OrgID, in.BranchID); err != nil {
			return Policy{}, err
		}
	}
	at := s.now().UTC()
	var (
		out     Policy
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, ok, err := tx.LockActivePolicy(ctx, actor.OrgID, in.ItemID, in.BranchID)
		if err != nil {
			return err
		}
		p := Policy{
			ID:                uuid.New(),
			OrgID:             actor.OrgID,
			ItemID:            in.ItemID,
			BranchID:          in.BranchID,
			ReorderPointQty:   in.ReorderPointQty,
			ReorderQty:        in.ReorderQty,
			PreferredVendorID: in.PreferredVendorID,
			LeadTimeDays:      in.LeadTimeDays,
			SafetyStockDays:   in.SafetyStockDays,
			Sizing:            in.Sizing,
			Active:            true,
			CreatedBy:         actor.UserID,
			CreatedAt:         at,
			UpdatedAt:         at,
		}
		if ok {
			p.ID, p.CreatedBy, p.CreatedAt = existing.ID, existing.CreatedBy, existing.CreatedAt
			out = p
			return tx.UpdatePolicy(ctx, p)
		}
		out, created = p, true
		return tx.InsertPolicy(ctx, p)
	})
	if err != nil {
		return Policy{}, err
	}
	action := "REORDER_POLICY_UPDATE"
	if created {
		action = "REORDER_POLICY_CREATE"
	}
	s.recordAudit(ctx, actor, action, "reorder_policy", out.ID, map[string]any{
		"item_id": out.ItemID.String(), "branch_id": out.BranchID.String(), "sizing": string(out.Sizing),
	})
	return out, nil
}

// DeactivatePolicy retires a policy; it stays listed as inactive.
func (s *Service) DeactivatePolicy(ctx context.Context, actor shared.Principal, id uuid.UUID) (Policy, error) {
	if err := s.require(actor, shared.PermReorderPolicy); err != nil {
		return Policy{}, err
	}
	var out Policy
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockPolicy(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		if !p.Active {
			out = p
			return nil
		}
		p.Active = false
		p.UpdatedAt = s.now().UTC()
		out = p
		return tx.UpdatePolicy(ctx, p)
	})
	if err != nil {
		return Policy{}, err
	}
	s.recordAudit(ctx, actor, "REORDER_POLICY_DEACTIVATE", "reorder_policy", id, nil)
	return out, nil
}

// GetPolicy returns a single policy.
func (s *Service) GetPolicy(ctx context.Context, orgID, id uuid.UUID) (Policy, error) {
	return s.repo.GetPolicy(ctx, orgID, id)
}

// ListPolicies lists policies ordered by item then branch.
func (s *Service) ListPolicies(ctx context.Context, orgID uuid.UUID, filter PolicyFilter) ([]Policy, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListPolicies(ctx, orgID, filter)
}

// applicablePolicies resolves the active policy of each item for a branch.
// A branch policy overrides an all-branches policy of the same item.
func (s *Service) applicablePolicies(ctx context.Context, orgID, branchID uuid.UUID) ([]Policy, error) {
	byItem := map[uuid.UUID]Policy{}
	filter := PolicyFilter{ActiveOnly: true, Page: shared.Page{Limit: 1000}}
	for {
		page, err := s.repo.ListPolicies(ctx, orgID, filter)
		if err != nil {
			return nil, err
		}
		for _, p := range page {
			if p.BranchID != uuid.Nil && p.BranchID != branchID {
				continue
			}
			current, seen := byItem[p.ItemID]
			if !seen || (current.BranchID == uuid.Nil && p.BranchID != uuid.Nil) {
				byItem[p.ItemID] = p
			}
		}
		if len(page) < filter.Page.Limit {
			break
		}
		filter.Page.Offset += filter.Page.Limit
	}
	ids := map[uuid.UUID]struct{}{}
	for id := range byItem {
		ids[id] = struct{}{}
	}
	out := make([]Policy, 0, len(byItem))
	for _, id := range sortedIDs(ids) {
		out = append(out, byItem[id])
	}
	return out, nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Principal, action, entity string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{OrgID: actor.OrgID, ActorID: actor.UserID, Action: action, Entity: entity, EntityID: id.String(), Meta: meta, At: s.now()})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
