package documents

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// openPageLimit bounds each open-document listing; blockers beyond it are not useful to enumerate.
const openPageLimit = 500

// OpenDocuments lists unfinished documents of a branch created before the given instant.
func (s *Service) OpenDocuments(ctx context.Context, orgID, branchID uuid.UUID, before time.Time) ([]OpenDocument, error) {
	base := ListFilter{BranchID: branchID, CreatedBefore: before, Page: shared.Page{Limit: openPageLimit}}
	var out []OpenDocument

	draft := base
	draft.Statuses = []Status{StatusDraft}
	receipts, err := s.repo.ListReceipts(ctx, orgID, draft)
	if err != nil {
		return nil, err
	}
	for _, r := range receipts {
		out = append(out, OpenDocument{Kind: KindReceipt, ID: r.ID, Number: r.Number, Status: r.Status, CreatedAt: r.CreatedAt})
	}
	waste, err := s.repo.ListWaste(ctx, orgID, draft)
	if err != nil {
		return nil, err
	}
	for _, w := range waste {
		out = append(out, OpenDocument{Kind: KindWaste, ID: w.ID, Number: w.Number, Status: w.Status, CreatedAt: w.CreatedAt})
	}
	batches, err := s.repo.ListProductions(ctx, orgID, draft)
	if err != nil {
		return nil, err
	}
	for _, p := range batches {
		out = append(out, OpenDocument{Kind: KindProduction, ID: p.ID, Number: p.Number, Status: p.Status, CreatedAt: p.CreatedAt})
	}

	moving := base
	moving.Statuses = []Status{StatusDraft, StatusInTransit}
	transfers, err := s.repo.ListTransfers(ctx, orgID, moving)
	if err != nil {
		return nil, err
	}
	for _, t := range transfers {
		out = append(out, OpenDocument{Kind: KindTransfer, ID: t.ID, Number: t.Number, Status: t.Status, CreatedAt: t.CreatedAt})
	}

	unposted := base
	unposted.Statuses = []Status{StatusPending, StatusFailed}
	depletions, err := s.repo.ListDepletions(ctx, orgID, unposted)
	if err != nil {
		return nil, err
	}
	for _, d := range depletions {
		out = append(out, OpenDocument{Kind: KindDepletion, ID: d.ID, Number: d.OrderID, Status: d.Status, CreatedAt: d.CreatedAt})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// OnOrderQty sums the still-open base quantity of an item on approved purchase orders of a branch.
func (s *Service) OnOrderQty(ctx context.Context, orgID, branchID, itemID uuid.UUID) (decimal.Decimal, error) {
	filter := ListFilter{
		BranchID: branchID,
		Statuses: []Status{StatusApproved, StatusPartiallyReceived},
		Page:     shared.Page{Limit: openPageLimit},
	}
	total := decimal.Zero
	for {
		pos, err := s.repo.ListPurchaseOrders(ctx, orgID, filter)
		if err != nil {
			return decimal.Zero, err
		}
		for _, po := range pos {
			for _, l := range po.Lines {
				if l.ItemID == itemID {
					total = total.Add(l.RemainingBase())
				}
			}
		}
		if len(pos) < filter.Page.Limit {
			return total, nil
		}
		filter.Page.Offset += filter.Page.Limit
	}
}
