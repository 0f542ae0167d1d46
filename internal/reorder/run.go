package reorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/uom"
)

// GenerateForecastSnapshot stores one snapshot per item for the request.
// Snapshots are keyed by their inputs, so repeating a request returns the stored ones.
func (s *Service) GenerateForecastSnapshot(ctx context.Context, actor shared.Principal, req ForecastRequest) (ForecastResult, error) {
	if err := s.require(actor, shared.PermReorderRun); err != nil {
		return ForecastResult{}, err
	}
	if !demandWindows[req.WindowDays] {
		return ForecastResult{}, ErrInvalidWindow
	}
	if err := validateHorizon(req.HorizonDays); err != nil {
		return ForecastResult{}, err
	}
	branch, err := s.catalog.GetBranch(ctx, actor.OrgID, req.BranchID)
	if err != nil {
		return ForecastResult{}, err
	}
	asOf := s.resolveAsOf(req.AsOf, branch.Location())

	ids := make([]string, len(req.ItemIDs))
	for i, id := range req.ItemIDs {
		ids[i] = id.String()
	}
	sort.Strings(ids)
	key := inputHash("forecast-request", actor.OrgID.String(), branch.ID.String(), strconv.Itoa(req.WindowDays),
		strconv.Itoa(req.HorizonDays), asOf.Format("2006-01-02"), strings.Join(ids, ","))
	val, err := s.flight(ctx, key, func(ctx context.Context) (any, error) {
		return s.forecast(ctx, actor.OrgID, branch, req, asOf)
	})
	if err != nil {
		return ForecastResult{}, err
	}
	res := val.(ForecastResult)
	// Shared results report the counts of the call that did the work.
	out := ForecastResult{Snapshots: append([]ForecastSnapshot(nil), res.Snapshots...), Created: res.Created, Existing: res.Existing}
	return out, nil
}

func (s *Service) forecast(ctx context.Context, orgID uuid.UUID, branch catalog.Branch, req ForecastRequest, asOf time.Time) (ForecastResult, error) {
	series, err := s.demand(ctx, orgID, branch, req.WindowDays, asOf)
	if err != nil {
		return ForecastResult{}, err
	}
	items := map[uuid.UUID]struct{}{}
	if len(req.ItemIDs) > 0 {
		for _, id := range req.ItemIDs {
			items[id] = struct{}{}
		}
	} else {
		for _, it := range series.Items {
			items[it.ItemID] = struct{}{}
		}
		policies, err := s.applicablePolicies(ctx, orgID, branch.ID)
		if err != nil {
			return ForecastResult{}, err
		}
		for _, p := range policies {
			items[p.ItemID] = struct{}{}
		}
	}

	res := ForecastResult{Snapshots: []ForecastSnapshot{}}
	var fresh []ForecastSnapshot
	at := s.now().UTC()
	for _, itemID := range sortedIDs(items) {
		hash := forecastHash(orgID, branch.ID, itemID, req.WindowDays, req.HorizonDays, asOf)
		existing, err := s.repo.GetForecastByHash(ctx, orgID, hash)
		if err == nil {
			res.Snapshots = append(res.Snapshots, existing)
			res.Existing++
			continue
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return ForecastResult{}, err
		}
		stats := computeForecast(series.Item(itemID), req.WindowDays, req.HorizonDays)
		fresh = append(fresh, ForecastSnapshot{
			ID:           uuid.NewSHA1(artifactNS, []byte(hash)),
			OrgID:        orgID,
			BranchID:     branch.ID,
			ItemID:       itemID,
			InputHash:    hash,
			WindowDays:   req.WindowDays,
			HorizonDays:  req.HorizonDays,
			AsOf:         asOf,
			AvgDailyQty:  stats.avg,
			StdDevQty:    stats.stdDev,
			ProjectedQty: stats.projected,
			LowerQty:     stats.lower,
			UpperQty:     stats.upper,
			CreatedAt:    at,
		})
	}
	if len(fresh) > 0 {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			for _, snap := range fresh {
				inserted, err := tx.InsertForecast(ctx, snap)
				if err != nil {
					return err
				}
				if inserted {
					res.Created++
				} else {
					res.Existing++
				}
			}
			return nil
		})
		if err != nil {
			return ForecastResult{}, err
		}
		// Ids derive from the hash, so a lost insert race yields the same snapshot id.
		for _, snap := range fresh {
			stored, err := s.repo.GetForecastByHash(ctx, orgID, snap.InputHash)
			if err != nil {
				return ForecastResult{}, err
			}
			res.Snapshots = append(res.Snapshots, stored)
		}
		sort.Slice(res.Snapshots, func(i, j int) bool { return res.Snapshots[i].ItemID.String() < res.Snapshots[j].ItemID.String() })
	}
	s.logger.Info("forecast generated",
		slog.String("branch_id", branch.ID.String()),
		slog.Int("window_days", req.WindowDays),
		slog.Int("horizon_days", req.HorizonDays),
		slog.Bool("demand_cached", series.Cached),
		slog.Int("created", res.Created),
		slog.Int("existing", res.Existing))
	return res, nil
}

// ListForecasts returns the snapshots of a branch for one demand end date.
func (s *Service) ListForecasts(ctx context.Context, orgID, branchID uuid.UUID, asOf time.Time) ([]ForecastSnapshot, error) {
	y, m, d := asOf.Date()
	return s.repo.ListForecasts(ctx, orgID, branchID, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func runHash(orgID, branchID uuid.UUID, window, horizon int, asOf time.Time, policies []Policy) string {
	parts := []string{"run", orgID.String(), branchID.String(), strconv.Itoa(window), strconv.Itoa(horizon), asOf.Format("2006-01-02")}
	for _, p := range policies {
		parts = append(parts, p.ID.String()+"@"+p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}
	return inputHash(parts...)
}

// GenerateOptimizationRun evaluates every active policy of a branch.
// Identical inputs, including unchanged policies, return the stored run.
func (s *Service) GenerateOptimizationRun(ctx context.Context, actor shared.Principal, req RunRequest) (RunResult, error) {
	if err := s.require(actor, shared.PermReorderRun); err != nil {
		return RunResult{}, err
	}
	if req.WindowDays == 0 {
		req.WindowDays = 28
	}
	if !demandWindows[req.WindowDays] {
		return RunResult{}, ErrInvalidWindow
	}
	if err := validateHorizon(req.HorizonDays); err != nil {
		return RunResult{}, err
	}
	branch, err := s.catalog.GetBranch(ctx, actor.OrgID, req.BranchID)
	if err != nil {
		return RunResult{}, err
	}
	asOf := s.resolveAsOf(req.AsOf, branch.Location())
	policies, err := s.applicablePolicies(ctx, actor.OrgID, branch.ID)
	if err != nil {
		return RunResult{}, err
	}
	if len(policies) == 0 {
		return RunResult{}, ErrPolicyNotFound
	}
	hash := runHash(actor.OrgID, branch.ID, req.WindowDays, req.HorizonDays, asOf, policies)
	val, err := s.flight(ctx, hash, func(ctx context.Context) (any, error) {
		return s.optimize(ctx, actor, branch, req, asOf, policies, hash)
	})
	if err != nil {
		return RunResult{}, err
	}
	return val.(RunResult), nil
}

func (s *Service) optimize(ctx context.Context, actor shared.Principal, branch catalog.Branch, req RunRequest, asOf time.Time, policies []Policy, hash string) (RunResult, error) {
	existing, err := s.repo.GetRunByHash(ctx, actor.OrgID, hash)
	if err == nil {
		return RunResult{Run: existing}, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return RunResult{}, err
	}
	series, err := s.demand(ctx, actor.OrgID, branch, req.WindowDays, asOf)
	if err != nil {
		return RunResult{}, err
	}
	lines := make([]SuggestionLine, 0, len(policies))
	for _, p := range policies {
		line, err := s.suggest(ctx, actor.OrgID, branch.ID, p, series, req.HorizonDays)
		if err != nil {
			return RunResult{}, err
		}
		lines = append(lines, line)
	}
	run := OptimizationRun{
		ID:          uuid.NewSHA1(artifactNS, []byte(hash)),
		OrgID:       actor.OrgID,
		BranchID:    branch.ID,
		InputHash:   hash,
		WindowDays:  req.WindowDays,
		HorizonDays: req.HorizonDays,
		AsOf:        asOf,
		Lines:       lines,
		CreatedBy:   actor.UserID,
		CreatedAt:   s.now().UTC(),
	}
	var inserted bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inserted, err = tx.InsertRun(ctx, run)
		return err
	})
	if err != nil {
		return RunResult{}, err
	}
	if !inserted {
		stored, err := s.repo.GetRunByHash(ctx, actor.OrgID, hash)
		if err != nil {
			return RunResult{}, err
		}
		return RunResult{Run: stored}, nil
	}
	orderable := 0
	for _, l := range lines {
		if l.Orderable() {
			orderable++
		}
	}
	s.recordAudit(ctx, actor, "REORDER_RUN_CREATE", "optimization_run", run.ID, map[string]any{
		"branch_id": branch.ID.String(), "lines": len(lines), "orderable": orderable,
	})
	s.logger.Info("optimization run created",
		slog.String("run_id", run.ID.String()),
		slog.String("branch_id", branch.ID.String()),
		slog.Int("lines", len(lines)),
		slog.Int("orderable", orderable))
	return RunResult{Run: run, Created: true}, nil
}

// suggest evaluates one policy: need = avg×(horizon+safety) − (on hand + on order).
func (s *Service) suggest(ctx context.Context, orgID, branchID uuid.UUID, p Policy, series DemandSeries, horizon int) (SuggestionLine, error) {
	positions, err := s.ledger.OnHandByBranch(ctx, orgID, branchID, p.ItemID)
	if err != nil {
		return SuggestionLine{}, err
	}
	onHand := decimal.Zero
	for _, pos := range positions {
		onHand = onHand.Add(pos.Qty)
	}
	onOrder, err := s.docs.OnOrderQty(ctx, orgID, branchID, p.ItemID)
	if err != nil {
		return SuggestionLine{}, err
	}
	demand := series.Item(p.ItemID)
	avg := demand.Total.DivRound(decimal.NewFromInt(int64(series.WindowDays)), qtyScale)
	target := avg.Mul(decimal.NewFromInt(int64(horizon + p.SafetyStockDays))).Round(qtyScale)
	available := onHand.Add(onOrder)
	need := target.Sub(available)

	line := SuggestionLine{
		PolicyID:           p.ID,
		ItemID:             p.ItemID,
		VendorID:           p.PreferredVendorID,
		OnHandQty:          onHand,
		OnOrderQty:         onOrder,
		AvgDailyQty:        avg,
		TargetStockQty:     target,
		NeedQty:            need,
		SuggestedBaseQty:   decimal.Zero,
		SuggestedVendorQty: decimal.Zero,
		PackFactor:         decimal.NewFromInt(1),
		ReasonCodes:        []string{},
	}
	if avg.IsPositive() {
		line.ReasonCodes = append(line.ReasonCodes, ReasonForecastDemand)
	} else {
		line.ReasonCodes = append(line.ReasonCodes, ReasonNoDemandHistory)
	}
	if p.SafetyStockDays > 0 {
		line.ReasonCodes = append(line.ReasonCodes, ReasonSafetyStock)
	}
	below := !available.GreaterThan(p.ReorderPointQty)
	if below {
		line.ReasonCodes = append(line.ReasonCodes, ReasonBelowReorderPoint)
	}

	item, err := s.catalog.GetItem(ctx, orgID, p.ItemID)
	if err != nil {
		return SuggestionLine{}, err
	}
	line.VendorUOM = item.BaseUOM

	var base decimal.Decimal
	switch {
	case p.Sizing == SizingFixed && (need.IsPositive() || below):
		base = p.ReorderQty
		line.ReasonCodes = append(line.ReasonCodes, ReasonFixedQty)
	case p.Sizing == SizingGap && need.IsPositive():
		base = need
		line.ReasonCodes = append(line.ReasonCodes, ReasonGapQty)
	default:
		if onOrder.IsPositive() && onHand.LessThan(target) {
			line.ReasonCodes = append(line.ReasonCodes, ReasonOnOrderCovers)
		} else {
			line.ReasonCodes = append(line.ReasonCodes, ReasonCoveredByStock)
		}
		line.Explanation = explain(line, series.WindowDays, horizon, p.SafetyStockDays)
		return line, nil
	}

	if p.PreferredVendorID == uuid.Nil {
		line.ReasonCodes = append(line.ReasonCodes, ReasonNoPreferredVendor)
	} else {
		packUOM, factor, err := s.pack(ctx, orgID, p.PreferredVendorID, item)
		if err != nil {
			return SuggestionLine{}, err
		}
		line.VendorUOM, line.PackFactor = packUOM, factor
	}
	vendorQty, err := uom.ToVendorUnit(base, line.PackFactor)
	if err != nil {
		return SuggestionLine{}, err
	}
	rounded, err := uom.ToBase(vendorQty, line.PackFactor)
	if err != nil {
		return SuggestionLine{}, err
	}
	if !rounded.Equal(base) {
		line.ReasonCodes = append(line.ReasonCodes, ReasonPackRounded)
	}
	line.SuggestedVendorQty = vendorQty
	line.SuggestedBaseQty = rounded
	line.Explanation = explain(line, series.WindowDays, horizon, p.SafetyStockDays)
	return line, nil
}

// pack picks the vendor's largest active pack of the item, else the base unit.
func (s *Service) pack(ctx context.Context, orgID, vendorID uuid.UUID, item catalog.Item) (string, decimal.Decimal, error) {
	sis, err := s.catalog.ListSupplierItems(ctx, orgID, catalog.SupplierItemFilter{VendorID: vendorID, ItemID: item.ID, ActiveOnly: true})
	if err != nil {
		return "", decimal.Zero, err
	}
	best := catalog.SupplierItem{UOM: item.BaseUOM, FactorToBase: decimal.NewFromInt(1)}
	found := false
	for _, si := range sis {
		if !si.Active || !si.FactorToBase.IsPositive() {
			continue
		}
		if !found || si.FactorToBase.GreaterThan(best.FactorToBase) ||
			(si.FactorToBase.Equal(best.FactorToBase) && si.UOM < best.UOM) {
			best, found = si, true
		}
	}
	return best.UOM, best.FactorToBase, nil
}

func explain(l SuggestionLine, window, horizon, safety int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "avg %s/day over %d days; target %s for %d+%d days; on hand %s, on order %s; need %s",
		l.AvgDailyQty.String(), window, l.TargetStockQty.String(), horizon, safety,
		l.OnHandQty.String(), l.OnOrderQty.String(), l.NeedQty.String())
	if l.SuggestedBaseQty.IsPositive() {
		fmt.Fprintf(&b, "; suggest %s %s (%s base)", l.SuggestedVendorQty.String(), l.VendorUOM, l.SuggestedBaseQty.String())
	} else {
		b.WriteString("; nothing to order")
	}
	return b.String()
}

// GetRun returns a single run.
func (s *Service) GetRun(ctx context.Context, orgID, id uuid.UUID) (OptimizationRun, error) {
	return s.repo.GetRun(ctx, orgID, id)
}

// ListRuns lists runs newest first.
func (s *Service) ListRuns(ctx context.Context, orgID uuid.UUID, filter RunFilter) ([]OptimizationRun, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListRuns(ctx, orgID, filter)
}

// GenerateDraftPOs turns the orderable lines of a run into one DRAFT PO per vendor.
// A run is materialised at most once; later calls return the same orders.
func (s *Service) GenerateDraftPOs(ctx context.Context, actor shared.Principal, runID uuid.UUID) (DraftPOResult, error) {
	if err := s.require(actor, shared.PermReorderDraftPOs); err != nil {
		return DraftPOResult{}, err
	}
	if s.locker != nil {
		release, err := s.locker.Obtain(ctx, shared.ReorderRunLockKey(actor.OrgID, runID), s.cfg.LockTTL)
		if err != nil {
			return DraftPOResult{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("reorder lock release failed", slog.String("run_id", runID.String()), slog.Any("error", err))
			}
		}()
	}
	run, err := s.repo.GetRun(ctx, actor.OrgID, runID)
	if err != nil {
		return DraftPOResult{}, err
	}
	if len(run.PurchaseOrderIDs) > 0 {
		pos, err := s.loadOrders(ctx, actor.OrgID, run.PurchaseOrderIDs)
		if err != nil {
			return DraftPOResult{}, err
		}
		return DraftPOResult{RunID: run.ID, PurchaseOrders: pos}, nil
	}

	// Orders created before a failed link step are adopted instead of duplicated.
	linked, err := s.docs.ListPurchaseOrders(ctx, actor.OrgID, documents.ListFilter{BranchID: run.BranchID, OptimizationRunID: run.ID})
	if err != nil {
		return DraftPOResult{}, err
	}
	if len(linked) > 0 {
		if err := s.linkOrders(ctx, actor.OrgID, run.ID, linked); err != nil {
			return DraftPOResult{}, err
		}
		return DraftPOResult{RunID: run.ID, PurchaseOrders: linked}, nil
	}

	inputs, err := s.draftInputs(ctx, actor.OrgID, run)
	if err != nil {
		return DraftPOResult{}, err
	}
	if len(inputs) == 0 {
		return DraftPOResult{}, ErrNothingToOrder
	}
	pos, err := s.docs.CreatePurchaseOrders(ctx, actor, inputs)
	if err != nil {
		return DraftPOResult{}, err
	}
	if err := s.linkOrders(ctx, actor.OrgID, run.ID, pos); err != nil {
		return DraftPOResult{}, err
	}
	s.recordAudit(ctx, actor, "REORDER_DRAFT_POS", "optimization_run", run.ID, map[string]any{"purchase_orders": len(pos)})
	s.logger.Info("draft purchase orders created", slog.String("run_id", run.ID.String()), slog.Int("purchase_orders", len(pos)))
	return DraftPOResult{RunID: run.ID, PurchaseOrders: pos, IsNew: true}, nil
}

func (s *Service) linkOrders(ctx context.Context, orgID, runID uuid.UUID, pos []documents.PurchaseOrder) error {
	ids := make([]uuid.UUID, len(pos))
	for i, po := range pos {
		ids[i] = po.ID
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockRun(ctx, orgID, runID); err != nil {
			return err
		}
		return tx.SetRunPurchaseOrders(ctx, orgID, runID, ids)
	})
}

func (s *Service) loadOrders(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]documents.PurchaseOrder, error) {
	out := make([]documents.PurchaseOrder, 0, len(ids))
	for _, id := range ids {
		po, err := s.docs.GetPurchaseOrder(ctx, orgID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, nil
}

// draftInputs groups orderable lines by vendor, vendors in id order.
func (s *Service) draftInputs(ctx context.Context, orgID uuid.UUID, run OptimizationRun) ([]documents.CreatePurchaseOrderInput, error) {
	byVendor := map[uuid.UUID][]documents.PurchaseOrderLineInput{}
	vendors := map[uuid.UUID]struct{}{}
	for _, l := range run.Lines {
		if !l.Orderable() {
			continue
		}
		price, err := s.packPrice(ctx, orgID, l)
		if err != nil {
			return nil, err
		}
		byVendor[l.VendorID] = append(byVendor[l.VendorID], documents.PurchaseOrderLineInput{
			LineInput: documents.LineInput{ItemID: l.ItemID, UOM: l.VendorUOM, Qty: l.SuggestedVendorQty},
			UnitPrice: price,
		})
		vendors[l.VendorID] = struct{}{}
	}
	note := "reorder run " + run.InputHash[:12]
	inputs := make([]documents.CreatePurchaseOrderInput, 0, len(vendors))
	for _, vendorID := range sortedIDs(vendors) {
		inputs = append(inputs, documents.CreatePurchaseOrderInput{
			BranchID:          run.BranchID,
			VendorID:          vendorID,
			Note:              note,
			Lines:             byVendor[vendorID],
			OptimizationRunID: run.ID,
		})
	}
	return inputs, nil
}

// packPrice prices one vendor unit at the latest ledger cost, else the item's standard cost.
func (s *Service) packPrice(ctx context.Context, orgID uuid.UUID, l SuggestionLine) (decimal.Decimal, error) {
	cost, ok, err := s.ledger.LatestUnitCost(ctx, orgID, l.ItemID, s.now())
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		item, err := s.catalog.GetItem(ctx, orgID, l.ItemID)
		if err != nil {
			return decimal.Zero, err
		}
		cost = item.StandardCost
	}
	return cost.Mul(l.PackFactor).Round(4), nil
}
