package documents

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const (
	adjustmentModule = "ledger.adjustment"
	kindLedgerEntry  = Kind("ledger_entry")
)

// adjustmentNS derives adjustment source ids from idempotency keys.
var adjustmentNS = uuid.MustParse("9b1f6c3e-54a2-4f0b-8d7e-2c61a0e4b7d5")

var errAdjustmentKeyReused = shared.NewError(shared.ErrConflict, "documents: idempotency key reused for a different adjustment")

var _ ledger.ManualPoster = (*Service)(nil)

// PostAdjustment appends a signed ADJUSTMENT. Removals draw lots FEFO; additions of a
// lot-tracked item open a lot. A retry with the same key returns the first entry.
func (s *Service) PostAdjustment(ctx context.Context, actor shared.Principal, in ledger.AdjustmentInput) (ledger.ManualResult, error) {
	if err := requireOrg(actor); err != nil {
		return ledger.ManualResult{}, err
	}
	note := strings.TrimSpace(in.Note)
	if note == "" {
		return ledger.ManualResult{}, shared.NewError(shared.ErrValidation, "documents: adjustment note required")
	}
	if in.QtyDelta.IsZero() {
		return ledger.ManualResult{}, ledger.ErrInvalidQuantity
	}
	loc, item, err := s.manualTarget(ctx, actor.OrgID, in.ItemID, in.LocationID, in.Lot)
	if err != nil {
		return ledger.ManualResult{}, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	sourceID := uuid.New()
	if key != "" {
		sourceID = uuid.NewSHA1(adjustmentNS, []byte(actor.OrgID.String()+"/"+key))
		if prior, ok, err := s.priorAdjustment(ctx, actor.OrgID, sourceID, in); err != nil || ok {
			return prior, err
		}
		if s.idem != nil {
			if err := s.idem.CheckAndInsert(ctx, actor.OrgID, key, adjustmentModule); err != nil {
				if !errors.Is(err, shared.ErrIdempotencyConflict) {
					return ledger.ManualResult{}, err
				}
				// Claimed by a request that may have committed since the first look.
				if prior, ok, perr := s.priorAdjustment(ctx, actor.OrgID, sourceID, in); perr != nil || ok {
					return prior, perr
				}
				return ledger.ManualResult{}, err
			}
		}
	}

	var res ledger.ManualResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cost := in.UnitCost
		if !cost.IsPositive() {
			cost = s.unitCost(ctx, actor.OrgID, item)
		}
		var err error
		res, err = s.postManual(ctx, tx, actor.OrgID, loc.BranchID, item, in.LocationID, in.QtyDelta, cost,
			ledger.ReasonAdjustment, ledger.SourceAdjustment, sourceID, in.Lot)
		return err
	})
	if err != nil {
		if key != "" && s.idem != nil {
			if derr := s.idem.Delete(ctx, actor.OrgID, key, adjustmentModule); derr != nil {
				s.logger.Warn("idempotency key release failed", slog.String("module", adjustmentModule), slog.Any("error", derr))
			}
		}
		return ledger.ManualResult{}, err
	}
	s.observe([]ledger.Entry{res.Entry})
	s.recordAudit(ctx, actor, "STOCK_ADJUST", kindLedgerEntry, res.Entry.ID, map[string]any{
		"item_id": in.ItemID.String(), "location_id": in.LocationID.String(), "qty": in.QtyDelta.String(), "note": note,
	})
	return res, nil
}

// PostInitial loads opening stock as an INITIAL entry, opening a lot for lot-tracked items.
func (s *Service) PostInitial(ctx context.Context, actor shared.Principal, in ledger.InitialInput) (ledger.ManualResult, error) {
	if err := requireOrg(actor); err != nil {
		return ledger.ManualResult{}, err
	}
	if !in.Qty.IsPositive() {
		return ledger.ManualResult{}, ledger.ErrInvalidQuantity
	}
	loc, item, err := s.manualTarget(ctx, actor.OrgID, in.ItemID, in.LocationID, in.Lot)
	if err != nil {
		return ledger.ManualResult{}, err
	}
	var res ledger.ManualResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = s.postManual(ctx, tx, actor.OrgID, loc.BranchID, item, in.LocationID, in.Qty, in.UnitCost,
			ledger.ReasonInitial, ledger.SourceInitial, uuid.New(), in.Lot)
		return err
	})
	if err != nil {
		return ledger.ManualResult{}, err
	}
	s.observe([]ledger.Entry{res.Entry})
	s.recordAudit(ctx, actor, "STOCK_INITIAL", kindLedgerEntry, res.Entry.ID, map[string]any{"qty": in.Qty.String()})
	return res, nil
}

// RecordCount writes COUNT_VARIANCE = counted - onHand. Equal quantities write nothing.
func (s *Service) RecordCount(ctx context.Context, actor shared.Principal, in ledger.CountInput) (ledger.CountResult, error) {
	if err := requireOrg(actor); err != nil {
		return ledger.CountResult{}, err
	}
	if in.CountedQty.IsNegative() {
		return ledger.CountResult{}, ledger.ErrInvalidQuantity
	}
	loc, item, err := s.manualTarget(ctx, actor.OrgID, in.ItemID, in.LocationID, in.Lot)
	if err != nil {
		return ledger.CountResult{}, err
	}
	result := ledger.CountResult{Counted: in.CountedQty}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bal, err := tx.LockBalance(ctx, actor.OrgID, loc.BranchID, ledger.Key{ItemID: in.ItemID, LocationID: in.LocationID})
		if err != nil {
			return err
		}
		result.OnHand = bal.Qty
		result.Variance = in.CountedQty.Sub(bal.Qty)
		if result.Variance.IsZero() {
			return nil
		}
		posted, err := s.postManual(ctx, tx, actor.OrgID, loc.BranchID, item, in.LocationID, result.Variance,
			s.unitCost(ctx, actor.OrgID, item), ledger.ReasonCountVariance, ledger.SourceCount, uuid.New(), in.Lot)
		if err != nil {
			return err
		}
		result.Entry, result.LotIDs = &posted.Entry, posted.LotIDs
		return nil
	})
	if err != nil {
		return ledger.CountResult{}, err
	}
	if result.Entry != nil {
		s.observe([]ledger.Entry{*result.Entry})
		s.recordAudit(ctx, actor, "STOCK_COUNT", kindLedgerEntry, result.Entry.ID, map[string]any{
			"counted": in.CountedQty.String(), "variance": result.Variance.String(), "note": in.Note,
		})
	}
	return result, nil
}

func (s *Service) manualTarget(ctx context.Context, orgID, itemID, locationID uuid.UUID, lot ledger.LotDetails) (catalog.Location, catalog.Item, error) {
	loc, err := s.requireLocation(ctx, orgID, uuid.Nil, locationID)
	if err != nil {
		return catalog.Location{}, catalog.Item{}, err
	}
	items, err := s.loadItems(ctx, orgID, itemID)
	if err != nil {
		return catalog.Location{}, catalog.Item{}, err
	}
	item := items[itemID]
	if !item.LotTracked && (lot.LotNumber != "" || lot.ExpiryDate != nil) {
		return catalog.Location{}, catalog.Item{}, shared.NewError(shared.ErrValidation, "documents: lot details given for an item without lot tracking")
	}
	return loc, item, nil
}

// postManual writes one entry and keeps the item's lots in step with it.
func (s *Service) postManual(ctx context.Context, tx TxRepository, orgID, branchID uuid.UUID, item catalog.Item, locationID uuid.UUID, delta, unitCost decimal.Decimal, reason ledger.Reason, sourceType string, sourceID uuid.UUID, lot ledger.LotDetails) (ledger.ManualResult, error) {
	if delta.IsNegative() {
		posted, err := s.postOutbound(ctx, tx, orgID, branchID, reason, sourceType, sourceID,
			[]outbound{{item: item, locationID: locationID, qtyBase: delta.Neg(), unitCost: unitCost}}, nil)
		if err != nil {
			return ledger.ManualResult{}, err
		}
		res := ledger.ManualResult{Entry: posted.Entries[0]}
		for _, a := range posted.Allocations {
			res.LotIDs = append(res.LotIDs, a.LotID)
		}
		return res, nil
	}
	now := s.now()
	entries, err := ledger.Post(ctx, tx, orgID, []ledger.Movement{{
		BranchID:   branchID,
		ItemID:     item.ID,
		LocationID: locationID,
		QtyDelta:   delta,
		UnitCost:   unitCost,
		Reason:     reason,
		SourceType: sourceType,
		SourceID:   sourceID,
	}}, now)
	if err != nil {
		return ledger.ManualResult{}, err
	}
	res := ledger.ManualResult{Entry: entries[0]}
	if !item.LotTracked {
		return res, nil
	}
	opened, err := lots.Receive(ctx, tx, lots.ReceiveInput{
		OrgID:      orgID,
		BranchID:   branchID,
		ItemID:     item.ID,
		LocationID: locationID,
		LotNumber:  lot.LotNumber,
		Qty:        delta,
		ExpiryDate: lot.ExpiryDate,
		SourceType: sourceType,
		SourceID:   sourceID,
	}, now)
	if err != nil {
		return ledger.ManualResult{}, err
	}
	res.LotIDs = []uuid.UUID{opened.ID}
	return res, nil
}

// priorAdjustment finds the entry already written for a keyed adjustment.
func (s *Service) priorAdjustment(ctx context.Context, orgID, sourceID uuid.UUID, in ledger.AdjustmentInput) (ledger.ManualResult, bool, error) {
	if s.ledger == nil {
		return ledger.ManualResult{}, false, nil
	}
	entries, err := s.ledger.ListEntries(ctx, orgID, ledger.Filter{SourceType: ledger.SourceAdjustment, SourceID: sourceID})
	if err != nil || len(entries) == 0 {
		return ledger.ManualResult{}, false, err
	}
	e := entries[0]
	if e.ItemID != in.ItemID || e.LocationID != in.LocationID || !e.QtyDelta.Equal(in.QtyDelta) {
		return ledger.ManualResult{}, false, errAdjustmentKeyReused
	}
	return ledger.ManualResult{Entry: e, AlreadyPosted: true}, true, nil
}
