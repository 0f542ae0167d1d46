// Package reports assembles export datasets from the domain services.
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/closing"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/export"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/reorder"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Dataset names.
const (
	DatasetPurchaseOrders       = "purchase_orders"
	DatasetReceipts             = "receipts"
	DatasetTransfers            = "transfers"
	DatasetWaste                = "waste"
	DatasetSupplierItems        = "supplier_items"
	DatasetReorderSuggestions   = "reorder_suggestions"
	DatasetPeriodValuation      = "period_valuation"
	DatasetPeriodMovements      = "period_movements"
	DatasetPeriodReconciliation = "period_reconciliation"
	DatasetLedgerEntries        = "ledger_entries"
	DatasetLotTraceability      = "lot_traceability"
)

// Datasets lists every exportable dataset.
var Datasets = []string{
	DatasetPurchaseOrders, DatasetReceipts, DatasetTransfers, DatasetWaste, DatasetSupplierItems,
	DatasetReorderSuggestions, DatasetPeriodValuation, DatasetPeriodMovements, DatasetPeriodReconciliation,
	DatasetLedgerEntries, DatasetLotTraceability,
}

// ErrUnknownDataset indicates a dataset name outside Datasets.
var ErrUnknownDataset = shared.NewError(shared.ErrNotFound, "reports: unknown dataset")

// Request narrows an export. Which fields apply depends on the dataset.
type Request struct {
	Dataset  string
	BranchID uuid.UUID
	// From and To bound document creation or entry time, [From, To).
	From     time.Time
	To       time.Time
	PeriodID uuid.UUID
	Revision int
	RunID    uuid.UUID
	LotID    uuid.UUID
	VendorID uuid.UUID
}

// DocumentsPort lists documents.
type DocumentsPort interface {
	ListPurchaseOrders(ctx context.Context, orgID uuid.UUID, filter documents.ListFilter) ([]documents.PurchaseOrder, error)
	ListReceipts(ctx context.Context, orgID uuid.UUID, filter documents.ListFilter) ([]documents.Receipt, error)
	ListTransfers(ctx context.Context, orgID uuid.UUID, filter documents.ListFilter) ([]documents.Transfer, error)
	ListWaste(ctx context.Context, orgID uuid.UUID, filter documents.ListFilter) ([]documents.WasteDocument, error)
}

// CatalogPort resolves master data.
type CatalogPort interface {
	GetItem(ctx context.Context, orgID, id uuid.UUID) (catalog.Item, error)
	ListSupplierItems(ctx context.Context, orgID uuid.UUID, filter catalog.SupplierItemFilter) ([]catalog.SupplierItem, error)
}

// ClosingPort reads frozen period results.
type ClosingPort interface {
	GetPeriod(ctx context.Context, orgID, id uuid.UUID) (closing.Period, error)
	Snapshots(ctx context.Context, orgID, periodID uuid.UUID, revision int) ([]closing.ValuationSnapshot, error)
	Summaries(ctx context.Context, orgID, periodID uuid.UUID, revision int) ([]closing.MovementSummary, error)
	Reconciliation(ctx context.Context, orgID, periodID uuid.UUID, revision int) (closing.ReconciliationReport, error)
	RecordExport(ctx context.Context, actor shared.Principal, periodID uuid.UUID, revision int, dataset string, rows int) error
}

// ReorderPort reads optimization runs.
type ReorderPort interface {
	GetRun(ctx context.Context, orgID, id uuid.UUID) (reorder.OptimizationRun, error)
}

// LedgerPort lists ledger entries.
type LedgerPort interface {
	ListEntries(ctx context.Context, orgID uuid.UUID, filter ledger.Filter) ([]ledger.Entry, error)
}

// LotsPort reads lot history.
type LotsPort interface {
	Traceability(ctx context.Context, orgID, lotID uuid.UUID) (lots.Trace, error)
}

// Service builds datasets.
type Service struct {
	docs    DocumentsPort
	catalog CatalogPort
	closing ClosingPort
	reorder ReorderPort
	ledger  LedgerPort
	lots    LotsPort
	logger  *slog.Logger
}

// NewService constructs a Service instance.
func NewService(docs DocumentsPort, cat CatalogPort, cl ClosingPort, ro ReorderPort, led LedgerPort, lotsPort LotsPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, catalog: cat, closing: cl, reorder: ro, ledger: led, lots: lotsPort, logger: logger}
}

// Build assembles the requested dataset for the actor's org.
func (s *Service) Build(ctx context.Context, actor shared.Principal, req Request) (export.Dataset, error) {
	if actor.OrgID == uuid.Nil {
		return export.Dataset{}, shared.ErrUnauthorized
	}
	if !shared.HasLevel(actor, shared.PermExport) {
		return export.Dataset{}, shared.ErrForbidden
	}
	if !req.To.IsZero() && !req.To.After(req.From) {
		return export.Dataset{}, shared.NewError(shared.ErrValidation, "reports: to must be after from")
	}
	org := actor.OrgID
	var (
		ds  export.Dataset
		err error
	)
	switch req.Dataset {
	case DatasetPurchaseOrders:
		ds, err = s.purchaseOrders(ctx, org, req)
	case DatasetReceipts:
		ds, err = s.receipts(ctx, org, req)
	case DatasetTransfers:
		ds, err = s.transfers(ctx, org, req)
	case DatasetWaste:
		ds, err = s.waste(ctx, org, req)
	case DatasetSupplierItems:
		ds, err = s.supplierItems(ctx, org, req)
	case DatasetReorderSuggestions:
		ds, err = s.suggestions(ctx, org, req)
	case DatasetPeriodValuation, DatasetPeriodMovements, DatasetPeriodReconciliation:
		ds, err = s.period(ctx, actor, req)
	case DatasetLedgerEntries:
		ds, err = s.entries(ctx, org, req)
	case DatasetLotTraceability:
		ds, err = s.traceability(ctx, org, req)
	default:
		return export.Dataset{}, ErrUnknownDataset
	}
	if err != nil {
		return export.Dataset{}, err
	}
	s.logger.Info("export built",
		slog.String("org_id", org.String()),
		slog.String("dataset", req.Dataset),
		slog.Int("rows", len(ds.Rows)))
	return ds, nil
}

func (req Request) inRange(t time.Time) bool {
	if !req.From.IsZero() && t.Before(req.From) {
		return false
	}
	if !req.To.IsZero() && !t.Before(req.To) {
		return false
	}
	return true
}

func (req Request) docFilter() documents.ListFilter {
	return documents.ListFilter{BranchID: req.BranchID, VendorID: req.VendorID, CreatedBefore: req.To, Page: shared.Page{Limit: 1000}}
}

// collect pages through a listing until a short page.
func collect[T any](ctx context.Context, filter documents.ListFilter, list func(context.Context, documents.ListFilter) ([]T, error)) ([]T, error) {
	var out []T
	for {
		page, err := list(ctx, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < filter.Page.Limit {
			return out, nil
		}
		filter.Page.Offset += filter.Page.Limit
	}
}

// skus memoises item SKUs; unknown items render their id.
func (s *Service) skus(ctx context.Context, orgID uuid.UUID) closing.SKUFunc {
	cache := map[uuid.UUID]string{}
	return func(id uuid.UUID) string {
		if v, ok := cache[id]; ok {
			return v
		}
		v := id.String()
		if item, err := s.catalog.GetItem(ctx, orgID, id); err == nil {
			v = item.SKU
		}
		cache[id] = v
		return v
	}
}

func requireID(id uuid.UUID, name string) error {
	if id == uuid.Nil {
		return shared.NewError(shared.ErrValidation, fmt.Sprintf("reports: %s required", name))
	}
	return nil
}
