package reports

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/closing"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/export"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func (s *Service) purchaseOrders(ctx context.Context, orgID uuid.UUID, req Request) (export.Dataset, error) {
	filter := req.docFilter()
	filter.OptimizationRunID = req.RunID
	pos, err := collect(ctx, filter, func(ctx context.Context, f documents.ListFilter) ([]documents.PurchaseOrder, error) {
		return s.docs.ListPurchaseOrders(ctx, orgID, f)
	})
	if err != nil {
		return export.Dataset{}, err
	}
	sku := s.skus(ctx, orgID)
	ds := export.Dataset{
		Name: DatasetPurchaseOrders,
		Columns: []string{"number", "po_id", "branch_id", "vendor_id", "status", "created_at", "expected_date", "line_no",
			"item_id", "sku", "uom", "qty_input_uom", "conversion_factor", "qty_base", "unit_price", "received_base", "optimization_run_id"},
		SortKeys: []int{0, 7},
	}
	for _, po := range pos {
		if !req.inRange(po.CreatedAt) {
			continue
		}
		for i, l := range po.Lines {
			ds.Append(po.Number, po.ID.String(), po.BranchID.String(), export.ID(po.VendorID), string(po.Status),
				export.Time(po.CreatedAt), datePtr(po.ExpectedDate), lineNo(i), l.ItemID.String(), sku(l.ItemID), l.UOM,
				export.Qty(l.QtyInputUOM), export.Qty(l.ConversionFactor), export.Qty(l.QtyBase), export.Money(l.UnitPrice),
				export.Qty(l.ReceivedBase), export.ID(po.OptimizationRunID))
		}
	}
	return ds, nil
}

func (s *Service) receipts(ctx context.Context, orgID uuid.UUID, req Request) (export.Dataset, error) {
	rs, err := collect(ctx, req.docFilter(), func(ctx context.Context, f documents.ListFilter) ([]documents.Receipt, error) {
		return s.docs.ListReceipts(ctx, orgID, f)
	})
	if err != nil {
		return export.Dataset{}, err
	}
	sku := s.skus(ctx, orgID)
	ds := export.Dataset{
		Name: DatasetReceipts,
		Columns: []string{"number", "receipt_id", "branch_id", "location_id", "vendor_id", "purchase_order_id", "status", "posted_at",
			"line_no", "item_id", "sku", "uom", "qty_input_uom", "conversion_factor", "qty_base", "unit_cost", "lot_number", "expiry_date"},
		SortKeys: []int{0, 8},
	}
	for _, r := range rs {
		if !req.inRange(r.CreatedAt) {
			continue
		}
		for i, l := range r.Lines {
			ds.Append(r.Number, r.ID.String(), r.BranchID.String(), r.LocationID.String(), export.ID(r.VendorID),
				export.ID(r.PurchaseOrderID), string(r.Status), export.TimePtr(r.PostedAt), lineNo(i), l.ItemID.String(),
				sku(l.ItemID), l.UOM, export.Qty(l.QtyInputUOM), export.Qty(l.ConversionFactor), export.Qty(l.QtyBase),
				export.Money(l.UnitCost), l.LotNumber, datePtr(l.ExpiryDate))
		}
	}
	return ds, nil
}

func (s *Service) transfers(ctx context.Context, orgID uuid.UUID, req Request) (export.Dataset, error) {
	ts, err := collect(ctx, req.docFilter(), func(ctx context.Context, f documents.ListFilter) ([]documents.Transfer, error) {
		return s.docs.ListTransfers(ctx, orgID, f)
	})
	if err != nil {
		return export.Dataset{}, err
	}
	sku := s.skus(ctx, orgID)
	ds := export.Dataset{
		Name: DatasetTransfers,
		Columns: []string{"number", "transfer_id", "source_branch_id", "source_location_id", "dest_branch_id", "dest_location_id",
			"status", "shipped_at", "received_at", "line_no", "item_id", "sku", "uom", "qty_input_uom", "qty_base", "unit_cost"},
		SortKeys: []int{0, 9},
	}
	for _, t := range ts {
		if !req.inRange(t.CreatedAt) {
			continue
		}
		for i, l := range t.Lines {
			ds.Append(t.Number, t.ID.String(), t.SourceBranchID.String(), t.SourceLocationID.String(), t.DestBranchID.String(),
				t.DestLocationID.String(), string(t.Status), export.TimePtr(t.ShippedAt), export.TimePtr(t.ReceivedAt), lineNo(i),
				l.ItemID.String(), sku(l.ItemID), l.UOM, export.Qty(l.QtyInputUOM), export.Qty(l.QtyBase), export.Money(l.UnitCost))
		}
	}
	return ds, nil
}

func (s *Service) waste(ctx context.Context, orgID uuid.UUID, req Request) (export.Dataset, error) {
	ws, err := collect(ctx, req.docFilter(), func(ctx context.Context, f documents.ListFilter) ([]documents.WasteDocument, error) {
		return s.docs.ListWaste(ctx, orgID, f)
	})
	if err != nil {
		return export.Dataset{}, err
	}
	sku := s.skus(ctx, orgID)
	ds := export.Dataset{
		Name: DatasetWaste,
		Columns: []string{"number", "waste_id", "branch_id", "location_id", "status", "reason", "posted_at", "line_no",
			"item_id", "sku", "uom", "qty_input_uom", "qty_base"},
		SortKeys: []int{0, 7},
	}
	for _, w := range ws {
		if !req.inRange(w.CreatedAt) {
			continue
		}
		for i, l := range w.Lines {
			ds.Append(w.Number, w.ID.String(), w.BranchID.String(), w.LocationID.String(), string(w.Status), w.Reason,
				export.TimePtr(w.PostedAt), lineNo(i), l.ItemID.String(), sku(l.ItemID), l.UOM, export.Qty(l.QtyInputUOM), export.Qty(l.QtyBase))
		}
	}
	return ds, nil
}

func (s *Service) supplierItems(ctx context.Context, orgID uuid.UUID, req Request) (export.Dataset, error) {
	sis, err := s.catalog.ListSupplierItems(ctx, orgID, catalog.SupplierItemFilter{VendorID: req.VendorID})
	if err != nil {
		return export.Dataset{}, err
	}
	sku := s.skus(ctx, orgID)
	ds := export.Dataset{
		Name:     DatasetSupplierItems,
		Columns:  []string{"vendor_id", "item_id", "sku", "uom", "factor_to_base", "vendor_sku", "active"},
		SortKeys: []int{0, 2, 3},
	}
	for _, si := range sis {
		ds.Append(export.ID(si.VendorID), si.ItemID.String(), sku(si.ItemID), si.UOM, export.Qty(si.FactorToBase),
			si.VendorSKU, strconv.FormatBool(si.Active))
	}
	return ds, nil
}

func (s *Service) suggestions(ctx context.Context, orgID uuid.UUID, req Request) (export.Dataset, error) {
	if err := requireID(req.RunID, "run id"); err != nil {
		return export.Dataset{}, err
	}
	run, err := s.reorder.GetRun(ctx, orgID, req.RunID)
	if err != nil {
		return export.Dataset{}, err
	}
	sku := s.skus(ctx, orgID)
	ds := export.Dataset{
		Name: DatasetReorderSuggestions,
		Columns: []string{"run_id", "item_id", "sku", "vendor_id", "on_hand_qty", "on_order_qty", "avg_daily_qty", "target_stock_qty",
			"need_qty", "suggested_base_qty", "suggested_vendor_qty", "vendor_uom", "pack_factor", "reason_codes", "explanation"},
		SortKeys: []int{2, 1},
	}
	for _, l := range run.Lines {
		ds.Append(run.ID.String(), l.ItemID.String(), sku(l.ItemID), export.ID(l.VendorID), export.Qty(l.OnHandQty),
			export.Qty(l.OnOrderQty), export.Qty(l.AvgDailyQty), export.Qty(l.TargetStockQty), export.Qty(l.NeedQty),
			export.Qty(l.SuggestedBaseQty), export.Qty(l.SuggestedVendorQty), l.VendorUOM, export.Qty(l.PackFactor),
			strings.Join(l.ReasonCodes, ";"), l.Explanation)
	}
	return ds, nil
}

func (s *Service) period(ctx context.Context, actor shared.Principal, req Request) (export.Dataset, error) {
	if err := requireID(req.PeriodID, "period id"); err != nil {
		return export.Dataset{}, err
	}
	orgID := actor.OrgID
	if _, err := s.closing.GetPeriod(ctx, orgID, req.PeriodID); err != nil {
		return export.Dataset{}, err
	}
	sku := s.skus(ctx, orgID)
	var ds export.Dataset
	switch req.Dataset {
	case DatasetPeriodValuation:
		snaps, err := s.closing.Snapshots(ctx, orgID, req.PeriodID, req.Revision)
		if err != nil {
			return export.Dataset{}, err
		}
		ds = closing.ValuationDataset(snaps, sku)
	case DatasetPeriodMovements:
		sums, err := s.closing.Summaries(ctx, orgID, req.PeriodID, req.Revision)
		if err != nil {
			return export.Dataset{}, err
		}
		ds = closing.MovementsDataset(sums, sku)
	default:
		// Periods that were never reconciled export the header only.
		rep, err := s.closing.Reconciliation(ctx, orgID, req.PeriodID, req.Revision)
		if err != nil && !errors.Is(err, shared.ErrNotFound) {
			return export.Dataset{}, err
		}
		ds = closing.ReconciliationDataset(rep)
	}
	if err := s.closing.RecordExport(ctx, actor, req.PeriodID, req.Revision, req.Dataset, len(ds.Rows)); err != nil {
		return export.Dataset{}, err
	}
	return ds, nil
}

func (s *Service) entries(ctx context.Context, orgID uuid.UUID, req Request) (export.Dataset, error) {
	entries, err := s.ledger.ListEntries(ctx, orgID, ledger.Filter{BranchID: req.BranchID, From: req.From, To: req.To})
	if err != nil {
		return export.Dataset{}, err
	}
	sku := s.skus(ctx, orgID)
	ds := export.Dataset{
		Name: DatasetLedgerEntries,
		Columns: []string{"created_at", "entry_id", "branch_id", "item_id", "sku", "location_id", "reason", "qty_delta",
			"unit_cost", "source_type", "source_id"},
		SortKeys: []int{0, 1},
	}
	for _, e := range entries {
		ds.Append(export.Time(e.CreatedAt), e.ID.String(), e.BranchID.String(), e.ItemID.String(), sku(e.ItemID),
			e.LocationID.String(), string(e.Reason), export.Qty(e.QtyDelta), export.Qty(e.UnitCost), e.SourceType, export.ID(e.SourceID))
	}
	return ds, nil
}

func (s *Service) traceability(ctx context.Context, orgID uuid.UUID, req Request) (export.Dataset, error) {
	if err := requireID(req.LotID, "lot id"); err != nil {
		return export.Dataset{}, err
	}
	trace, err := s.lots.Traceability(ctx, orgID, req.LotID)
	if err != nil {
		return export.Dataset{}, err
	}
	lot := trace.Lot
	ds := export.Dataset{
		Name: DatasetLotTraceability,
		Columns: []string{"lot_id", "lot_number", "item_id", "sku", "received_qty", "remaining_qty", "expiry_date", "status",
			"allocation_order", "allocated_qty", "source_type", "source_id", "allocated_at"},
		SortKeys: []int{12, 8},
	}
	sku := s.skus(ctx, orgID)(lot.ItemID)
	for _, a := range trace.Allocations {
		ds.Append(lot.ID.String(), lot.LotNumber, lot.ItemID.String(), sku, export.Qty(lot.ReceivedQty), export.Qty(lot.RemainingQty),
			datePtr(lot.ExpiryDate), string(lot.Status), strconv.Itoa(a.AllocationOrder), export.Qty(a.AllocatedQty),
			a.SourceType, export.ID(a.SourceID), export.Time(a.CreatedAt))
	}
	return ds, nil
}

func lineNo(i int) string { return strconv.Itoa(i + 1) }

func datePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return export.Date(*t)
}
