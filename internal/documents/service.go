package documents

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/uom"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchaseOrder(ctx context.Context, orgID, id uuid.UUID) (PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]PurchaseOrder, error)
	GetReceipt(ctx context.Context, orgID, id uuid.UUID) (Receipt, error)
	ListReceipts(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Receipt, error)
	GetTransfer(ctx context.Context, orgID, id uuid.UUID) (Transfer, error)
	// ListTransfers matches BranchID against either end of the transfer.
	ListTransfers(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Transfer, error)
	GetWaste(ctx context.Context, orgID, id uuid.UUID) (WasteDocument, error)
	ListWaste(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]WasteDocument, error)
	GetProduction(ctx context.Context, orgID, id uuid.UUID) (ProductionBatch, error)
	ListProductions(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]ProductionBatch, error)
	GetDepletion(ctx context.Context, orgID, id uuid.UUID) (Depletion, error)
	ListDepletions(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Depletion, error)
	FindDepletionByOrder(ctx context.Context, orgID uuid.UUID, orderID string) (Depletion, error)
}

// TxRepository exposes document, ledger and lot writes on one transaction.
type TxRepository interface {
	ledger.TxRepository
	lots.TxRepository
	LockPurchaseOrder(ctx context.Context, orgID, id uuid.UUID) (PurchaseOrder, error)
	InsertPurchaseOrder(ctx context.Context, po PurchaseOrder) error
	UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder) error
	LockReceipt(ctx context.Context, orgID, id uuid.UUID) (Receipt, error)
	InsertReceipt(ctx context.Context, r Receipt) error
	UpdateReceipt(ctx context.Context, r Receipt) error
	LockTransfer(ctx context.Context, orgID, id uuid.UUID) (Transfer, error)
	InsertTransfer(ctx context.Context, t Transfer) error
	UpdateTransfer(ctx context.Context, t Transfer) error
	LockWaste(ctx context.Context, orgID, id uuid.UUID) (WasteDocument, error)
	InsertWaste(ctx context.Context, w WasteDocument) error
	UpdateWaste(ctx context.Context, w WasteDocument) error
	LockProduction(ctx context.Context, orgID, id uuid.UUID) (ProductionBatch, error)
	InsertProduction(ctx context.Context, p ProductionBatch) error
	UpdateProduction(ctx context.Context, p ProductionBatch) error
	LockDepletion(ctx context.Context, orgID, id uuid.UUID) (Depletion, error)
	InsertDepletion(ctx context.Context, d Depletion) error
	UpdateDepletion(ctx context.Context, d Depletion) error
}

// CatalogPort is the master data the workflows read.
type CatalogPort interface {
	GetItem(ctx context.Context, orgID, id uuid.UUID) (catalog.Item, error)
	GetBranch(ctx context.Context, orgID, id uuid.UUID) (catalog.Branch, error)
	GetLocation(ctx context.Context, orgID, id uuid.UUID) (catalog.Location, error)
	FindLocationByCode(ctx context.Context, orgID, branchID uuid.UUID, code string) (catalog.Location, error)
	Ingredients(ctx context.Context, orgID, itemID uuid.UUID) ([]catalog.RecipeIngredient, error)
	DepletionMapping(ctx context.Context, orgID, branchID, itemID uuid.UUID) (catalog.DepletionMapping, error)
}

// ConverterPort converts entered quantities to base units.
type ConverterPort interface {
	Line(ctx context.Context, orgID, vendorID, itemID uuid.UUID, unit string, qty decimal.Decimal) (uom.Line, error)
}

// LedgerPort reads costs and entries from the quantity ledger.
type LedgerPort interface {
	LatestUnitCost(ctx context.Context, orgID, itemID uuid.UUID, at time.Time) (decimal.Decimal, bool, error)
	ListEntries(ctx context.Context, orgID uuid.UUID, filter ledger.Filter) ([]ledger.Entry, error)
}

// DepletionQueue hands a pending depletion to the background consumer.
type DepletionQueue interface {
	EnqueueDepletion(ctx context.Context, orgID, depletionID uuid.UUID, orderID string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts workflow outcomes.
type MetricsPort interface {
	EntriesAppended(reason string, n int)
	DepletionOutcome(status string)
	AllocationFailed(sourceType string)
}

// ServiceConfig tunes workflow behaviour.
type ServiceConfig struct {
	// ProductionCode is the conventional location code depletions fall back to.
	ProductionCode string
	// LockTTL bounds how long one worker holds an order's depletion lock.
	LockTTL time.Duration
}

// Service runs the document workflows.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	conv    ConverterPort
	ledger  LedgerPort
	audit   AuditPort
	idem    shared.IdempotencyPort
	cfg     ServiceConfig
	queue   DepletionQueue
	locker  shared.Locker
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, cat CatalogPort, conv ConverterPort, led LedgerPort, audit AuditPort, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.ProductionCode == "" {
		cfg.ProductionCode = "KITCHEN"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, catalog: cat, conv: conv, ledger: led, audit: audit, cfg: cfg, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithQueue routes new depletions to a background consumer. Without one they are processed inline.
func (s *Service) WithQueue(q DepletionQueue) { s.queue = q }

// WithLocker serialises depletion processing per order across workers.
func (s *Service) WithLocker(l shared.Locker) { s.locker = l }

// WithMetrics attaches a metrics recorder.
func (s *Service) WithMetrics(m MetricsPort) { s.metrics = m }

// WithIdempotency claims adjustment idempotency keys so concurrent retries post once.
func (s *Service) WithIdempotency(store shared.IdempotencyPort) { s.idem = store }

func (s *Service) convertLines(ctx context.Context, orgID, vendorID uuid.UUID, inputs []LineInput) ([]Line, map[uuid.UUID]catalog.Item, error) {
	if len(inputs) == 0 {
		return nil, nil, ErrEmptyDocument
	}
	items := map[uuid.UUID]catalog.Item{}
	lines := make([]Line, 0, len(inputs))
	for _, in := range inputs {
		if !in.Qty.IsPositive() {
			return nil, nil, shared.NewError(shared.ErrValidation, "documents: line quantity must be > 0")
		}
		converted, err := s.conv.Line(ctx, orgID, vendorID, in.ItemID, in.UOM, in.Qty)
		if err != nil {
			return nil, nil, err
		}
		items[in.ItemID] = converted.Item
		lines = append(lines, Line{
			ItemID:           in.ItemID,
			UOM:              converted.UOM,
			QtyInputUOM:      converted.QtyInputUOM,
			ConversionFactor: converted.Factor,
			QtyBase:          converted.QtyBase,
		})
	}
	return lines, items, nil
}

func (s *Service) loadItems(ctx context.Context, orgID uuid.UUID, ids ...uuid.UUID) (map[uuid.UUID]catalog.Item, error) {
	items := make(map[uuid.UUID]catalog.Item, len(ids))
	for _, id := range ids {
		if _, ok := items[id]; ok {
			continue
		}
		item, err := s.catalog.GetItem(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		items[id] = item
	}
	return items, nil
}

func (s *Service) requireLocation(ctx context.Context, orgID, branchID, locationID uuid.UUID) (catalog.Location, error) {
	loc, err := s.catalog.GetLocation(ctx, orgID, locationID)
	if err != nil {
		return catalog.Location{}, err
	}
	if branchID != uuid.Nil && loc.BranchID != branchID {
		return catalog.Location{}, shared.NewError(shared.ErrValidation, "documents: location belongs to another branch")
	}
	return loc, nil
}

// outbound is one stock removal, FEFO-allocated when the item is lot tracked.
type outbound struct {
	item       catalog.Item
	locationID uuid.UUID
	qtyBase    decimal.Decimal
	unitCost   decimal.Decimal
}

// postOutbound appends removals and allocates lots inside tx.
// Ledger rows are locked before lot rows so writers on one key take locks in the same order.
func (s *Service) postOutbound(ctx context.Context, tx TxRepository, orgID, branchID uuid.UUID, reason ledger.Reason, sourceType string, sourceID uuid.UUID, removals []outbound, extra []ledger.Movement) (PostResult, error) {
	return s.postOutboundAt(ctx, tx, orgID, branchID, reason, sourceType, sourceID, removals, extra, time.Time{})
}

// postOutboundAt is postOutbound with entries stamped at; a zero at means now.
// Lots are always allocated against the current clock.
func (s *Service) postOutboundAt(ctx context.Context, tx TxRepository, orgID, branchID uuid.UUID, reason ledger.Reason, sourceType string, sourceID uuid.UUID, removals []outbound, extra []ledger.Movement, at time.Time) (PostResult, error) {
	now := s.now()
	if at.IsZero() || at.After(now) {
		at = now
	}
	movements := make([]ledger.Movement, 0, len(removals)+len(extra))
	for _, r := range removals {
		movements = append(movements, ledger.Movement{
			BranchID:   branchID,
			ItemID:     r.item.ID,
			LocationID: r.locationID,
			QtyDelta:   r.qtyBase.Neg(),
			UnitCost:   r.unitCost,
			Reason:     reason,
			SourceType: sourceType,
			SourceID:   sourceID,
		})
	}
	movements = append(movements, extra...)
	entries, err := ledger.Post(ctx, tx, orgID, movements, at)
	if err != nil {
		return PostResult{}, err
	}
	res := PostResult{Entries: entries, EntriesCreated: len(entries)}
	for _, r := range removals {
		if !r.item.LotTracked {
			continue
		}
		alloc, err := lots.Allocate(ctx, tx, lots.Request{
			OrgID:      orgID,
			ItemID:     r.item.ID,
			LocationID: r.locationID,
			Qty:        r.qtyBase,
			SourceType: sourceType,
			SourceID:   sourceID,
		}, now)
		if err != nil {
			if s.metrics != nil && errors.Is(err, ledger.ErrInsufficientStock) {
				s.metrics.AllocationFailed(sourceType)
			}
			return PostResult{}, err
		}
		res.Allocations = append(res.Allocations, alloc.Allocations...)
	}
	return res, nil
}

func (s *Service) observe(entries []ledger.Entry) {
	if s.metrics == nil {
		return
	}
	counts := map[ledger.Reason]int{}
	for _, e := range entries {
		counts[e.Reason]++
	}
	for reason, n := range counts {
		s.metrics.EntriesAppended(string(reason), n)
	}
}

func (s *Service) unitCost(ctx context.Context, orgID uuid.UUID, item catalog.Item) decimal.Decimal {
	if s.ledger != nil {
		cost, ok, err := s.ledger.LatestUnitCost(ctx, orgID, item.ID, time.Time{})
		if err != nil {
			s.logger.Warn("latest unit cost lookup failed", slog.String("item_id", item.ID.String()), slog.Any("error", err))
		} else if ok {
			return cost
		}
	}
	return item.StandardCost
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Principal, action string, kind Kind, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{OrgID: actor.OrgID, ActorID: actor.UserID, Action: action, Entity: string(kind), EntityID: id.String(), Meta: meta, At: s.now()})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func requireOrg(actor shared.Principal) error {
	if actor.OrgID == uuid.Nil {
		return shared.ErrUnauthorized
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}
