package closing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// valuePlaces is the rounding of reconciliation category totals. Snapshot values stay exact.
const valuePlaces = 2

type positionKey struct {
	itemID     uuid.UUID
	locationID uuid.UUID
}

type unitCost struct {
	cost   decimal.Decimal
	source CostSource
}

// resolveCosts looks up the closing unit cost of every item concurrently.
func (s *Service) resolveCosts(ctx context.Context, orgID uuid.UUID, items []uuid.UUID, at time.Time) (map[uuid.UUID]unitCost, error) {
	var mu sync.Mutex
	out := make(map[uuid.UUID]unitCost, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(costLookupConcurrency)
	for _, id := range items {
		g.Go(func() error {
			cost, ok, err := s.ledger.LatestUnitCost(ctx, orgID, id, at)
			if err != nil {
				return err
			}
			uc := unitCost{cost: cost, source: CostSourceLedger}
			if !ok {
				item, err := s.catalog.GetItem(ctx, orgID, id)
				if err != nil {
					return err
				}
				uc = unitCost{cost: item.StandardCost, source: CostSourceStandard}
			}
			mu.Lock()
			out[id] = uc
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

const costLookupConcurrency = 8

// valuationKeys returns every (item, location) with activity in the window or a non-zero closing quantity.
func valuationKeys(closing []ledger.Position, activity []ledger.ReasonTotal) ([]positionKey, map[positionKey]decimal.Decimal) {
	qty := map[positionKey]decimal.Decimal{}
	seen := map[positionKey]bool{}
	for _, p := range closing {
		k := positionKey{p.ItemID, p.LocationID}
		qty[k] = qty[k].Add(p.Qty)
		if !qty[k].IsZero() {
			seen[k] = true
		}
	}
	for _, a := range activity {
		seen[positionKey{a.ItemID, a.LocationID}] = true
	}
	keys := make([]positionKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].itemID != keys[j].itemID {
			return keys[i].itemID.String() < keys[j].itemID.String()
		}
		return keys[i].locationID.String() < keys[j].locationID.String()
	})
	return keys, qty
}

func itemsOf(keys []positionKey) []uuid.UUID {
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, k := range keys {
		if !seen[k.itemID] {
			seen[k.itemID] = true
			out = append(out, k.itemID)
		}
	}
	return out
}

func buildSnapshots(keys []positionKey, qty map[positionKey]decimal.Decimal, costs map[uuid.UUID]unitCost) []ValuationSnapshot {
	out := make([]ValuationSnapshot, 0, len(keys))
	for _, k := range keys {
		c := costs[k.itemID]
		q := qty[k]
		out = append(out, ValuationSnapshot{
			ItemID:     k.itemID,
			LocationID: k.locationID,
			Qty:        q,
			UnitCost:   c.cost,
			CostSource: c.source,
			TotalValue: q.Mul(c.cost),
		})
	}
	return out
}

// buildSummaries rolls activity up per item. Items with neither opening stock nor activity are skipped.
func buildSummaries(opening []ledger.Position, activity []ledger.ReasonTotal) []MovementSummary {
	byItem := map[uuid.UUID]*MovementSummary{}
	get := func(id uuid.UUID) *MovementSummary {
		m, ok := byItem[id]
		if !ok {
			m = &MovementSummary{ItemID: id}
			byItem[id] = m
		}
		return m
	}
	for _, p := range opening {
		if p.Qty.IsZero() {
			continue
		}
		m := get(p.ItemID)
		m.Opening = m.Opening.Add(p.Qty)
	}
	for _, a := range activity {
		m := get(a.ItemID)
		switch a.Reason {
		case ledger.ReasonPurchase, ledger.ReasonInitial:
			m.Receipts = m.Receipts.Add(a.Qty)
		case ledger.ReasonSale:
			m.Sales = m.Sales.Add(a.Qty)
		case ledger.ReasonWastage:
			m.Waste = m.Waste.Add(a.Qty)
		case ledger.ReasonTransferIn:
			m.TransfersIn = m.TransfersIn.Add(a.Qty)
		case ledger.ReasonTransferOut:
			m.TransfersOut = m.TransfersOut.Add(a.Qty)
		case ledger.ReasonAdjustment, ledger.ReasonCountVariance:
			m.Adjustments = m.Adjustments.Add(a.Qty)
		case ledger.ReasonProductionConsume:
			m.ProductionConsume = m.ProductionConsume.Add(a.Qty)
		case ledger.ReasonProductionProduce:
			m.ProductionProduce = m.ProductionProduce.Add(a.Qty)
		}
	}
	out := make([]MovementSummary, 0, len(byItem))
	for _, m := range byItem {
		m.Closing = m.Opening.Add(m.Net())
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID.String() < out[j].ItemID.String() })
	return out
}

// reconFigures derives the inventory side of each reconciliation category.
// Removals are reported as positive amounts.
func reconFigures(snapshots []ValuationSnapshot, activity []ledger.ReasonTotal) map[ReconCategory]decimal.Decimal {
	out := map[ReconCategory]decimal.Decimal{}
	for _, c := range ReconCategories {
		out[c] = decimal.Zero
	}
	for _, sn := range snapshots {
		out[ReconInventoryValue] = out[ReconInventoryValue].Add(sn.TotalValue)
	}
	for _, a := range activity {
		switch a.Reason {
		case ledger.ReasonSale:
			out[ReconCOGS] = out[ReconCOGS].Sub(a.Value)
		case ledger.ReasonWastage:
			out[ReconWaste] = out[ReconWaste].Sub(a.Value)
		case ledger.ReasonPurchase:
			out[ReconPurchases] = out[ReconPurchases].Add(a.Value)
		case ledger.ReasonAdjustment, ledger.ReasonCountVariance:
			out[ReconAdjustments] = out[ReconAdjustments].Add(a.Value)
		}
	}
	for c, v := range out {
		out[c] = v.Round(valuePlaces)
	}
	return out
}

func reconLines(inventory, gl map[ReconCategory]decimal.Decimal, tolerance decimal.Decimal) ([]ReconLine, ReconStatus) {
	overall := ReconBalanced
	lines := make([]ReconLine, 0, len(ReconCategories))
	for _, c := range ReconCategories {
		inv := inventory[c]
		g := gl[c]
		variance := inv.Sub(g)
		status := ReconBalanced
		if variance.Abs().GreaterThan(tolerance) {
			status = ReconDiscrepancy
			overall = ReconDiscrepancy
		}
		lines = append(lines, ReconLine{Category: c, Inventory: inv, GL: g, Variance: variance, Status: status})
	}
	return lines, overall
}
