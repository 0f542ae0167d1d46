package documents

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// CreateProductionInput describes a batch producing OutputQty base units of OutputItemID.
type CreateProductionInput struct {
	BranchID        uuid.UUID
	LocationID      uuid.UUID
	OutputItemID    uuid.UUID
	OutputQty       decimal.Decimal
	OutputLotNumber string
	OutputExpiry    *time.Time
}

// recipeLines expands the recipe of itemID for qty output units into base-unit lines.
// A missing recipe is reported as shared.ErrNotFound.
func (s *Service) recipeLines(ctx context.Context, orgID, itemID uuid.UUID, qty decimal.Decimal) ([]Line, error) {
	ingredients, err := s.catalog.Ingredients(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	if len(ingredients) == 0 {
		return nil, shared.NewError(shared.ErrNotFound, "documents: recipe not found")
	}
	lines := make([]Line, 0, len(ingredients))
	for _, ing := range ingredients {
		converted, err := s.conv.Line(ctx, orgID, uuid.Nil, ing.IngredientItemID, ing.UOM, ing.QtyPerUnit.Mul(qty))
		if err != nil {
			return nil, err
		}
		lines = append(lines, Line{
			ItemID:           ing.IngredientItemID,
			UOM:              converted.UOM,
			QtyInputUOM:      converted.QtyInputUOM,
			ConversionFactor: converted.Factor,
			QtyBase:          converted.QtyBase,
		})
	}
	return lines, nil
}

// CreateProduction stores a DRAFT batch with its ingredient consumption expanded from the recipe.
func (s *Service) CreateProduction(ctx context.Context, actor shared.Principal, in CreateProductionInput) (ProductionBatch, error) {
	if err := requireOrg(actor); err != nil {
		return ProductionBatch{}, err
	}
	if !in.OutputQty.IsPositive() {
		return ProductionBatch{}, shared.NewError(shared.ErrValidation, "documents: output quantity must be > 0")
	}
	if _, err := s.requireLocation(ctx, actor.OrgID, in.BranchID, in.LocationID); err != nil {
		return ProductionBatch{}, err
	}
	if _, err := s.catalog.GetItem(ctx, actor.OrgID, in.OutputItemID); err != nil {
		return ProductionBatch{}, err
	}
	consumed, err := s.recipeLines(ctx, actor.OrgID, in.OutputItemID, in.OutputQty)
	if err != nil {
		return ProductionBatch{}, err
	}
	at := s.now().UTC()
	id := uuid.New()
	p := ProductionBatch{
		ID:              id,
		OrgID:           actor.OrgID,
		BranchID:        in.BranchID,
		LocationID:      in.LocationID,
		Number:          DocumentNumber(KindProduction, id, at),
		Status:          StatusDraft,
		OutputItemID:    in.OutputItemID,
		OutputQty:       in.OutputQty,
		OutputLotNumber: strings.TrimSpace(in.OutputLotNumber),
		OutputExpiry:    in.OutputExpiry,
		Consumed:        consumed,
		CreatedBy:       actor.UserID,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertProduction(ctx, p)
	}); err != nil {
		return ProductionBatch{}, err
	}
	s.recordAudit(ctx, actor, "PRODUCTION_CREATE", KindProduction, p.ID, map[string]any{"number": p.Number, "ingredients": len(consumed)})
	return p, nil
}

// PostProduction consumes the ingredients FEFO and adds the output valued at the consumed cost.
func (s *Service) PostProduction(ctx context.Context, actor shared.Principal, id uuid.UUID) (PostResult, error) {
	if err := requireOrg(actor); err != nil {
		return PostResult{}, err
	}
	res := PostResult{Kind: KindProduction, DocumentID: id}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockProduction(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		to, already, err := WorkflowFor(KindProduction).Next(p, ActionPost, actor)
		if err != nil {
			return err
		}
		if already {
			res.Status, res.AlreadyPosted = p.Status, true
			return nil
		}
		if len(p.Consumed) == 0 {
			return ErrEmptyDocument
		}
		ids := make([]uuid.UUID, 0, len(p.Consumed)+1)
		for _, l := range p.Consumed {
			ids = append(ids, l.ItemID)
		}
		ids = append(ids, p.OutputItemID)
		items, err := s.loadItems(ctx, actor.OrgID, ids...)
		if err != nil {
			return err
		}

		removals := make([]outbound, len(p.Consumed))
		total := decimal.Zero
		for i, l := range p.Consumed {
			item := items[l.ItemID]
			cost := s.unitCost(ctx, actor.OrgID, item)
			total = total.Add(cost.Mul(l.QtyBase))
			removals[i] = outbound{item: item, locationID: p.LocationID, qtyBase: l.QtyBase, unitCost: cost}
		}
		p.OutputUnitCost = total.DivRound(p.OutputQty, costPrecision)
		produce := ledger.Movement{
			BranchID:   p.BranchID,
			ItemID:     p.OutputItemID,
			LocationID: p.LocationID,
			QtyDelta:   p.OutputQty,
			UnitCost:   p.OutputUnitCost,
			Reason:     ledger.ReasonProductionProduce,
			SourceType: string(KindProduction),
			SourceID:   p.ID,
		}
		posted, err := s.postOutbound(ctx, tx, actor.OrgID, p.BranchID, ledger.ReasonProductionConsume, string(KindProduction), p.ID, removals, []ledger.Movement{produce})
		if err != nil {
			return err
		}
		res.Entries, res.EntriesCreated, res.Allocations = posted.Entries, posted.EntriesCreated, posted.Allocations

		now := s.now()
		if output := items[p.OutputItemID]; output.LotTracked {
			lot, err := lots.Receive(ctx, tx, lots.ReceiveInput{
				OrgID:      actor.OrgID,
				BranchID:   p.BranchID,
				ItemID:     output.ID,
				LocationID: p.LocationID,
				LotNumber:  p.OutputLotNumber,
				Qty:        p.OutputQty,
				ExpiryDate: p.OutputExpiry,
				SourceType: string(KindProduction),
				SourceID:   p.ID,
			}, now)
			if err != nil {
				return err
			}
			res.Lots = append(res.Lots, lot)
		}
		p.Status = to
		p.PostedBy = actor.UserID
		p.PostedAt = timePtr(now)
		p.UpdatedAt = now.UTC()
		res.Status = p.Status
		return tx.UpdateProduction(ctx, p)
	})
	if err != nil {
		return PostResult{}, err
	}
	if !res.AlreadyPosted {
		s.observe(res.Entries)
		s.recordAudit(ctx, actor, "PRODUCTION_POST", KindProduction, id, map[string]any{"entries": res.EntriesCreated})
		s.logger.Info("production posted", slog.String("production_id", id.String()), slog.Int("entries", res.EntriesCreated))
	}
	return res, nil
}

// VoidProduction abandons a DRAFT batch.
func (s *Service) VoidProduction(ctx context.Context, actor shared.Principal, id uuid.UUID) (ProductionBatch, error) {
	if err := requireOrg(actor); err != nil {
		return ProductionBatch{}, err
	}
	var (
		saved   ProductionBatch
		already bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.LockProduction(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		to, done, err := WorkflowFor(KindProduction).Next(p, ActionVoid, actor)
		if err != nil {
			return err
		}
		saved, already = p, done
		if done {
			return nil
		}
		p.Status = to
		p.UpdatedAt = s.now().UTC()
		saved = p
		return tx.UpdateProduction(ctx, p)
	})
	if err != nil {
		return ProductionBatch{}, err
	}
	if !already {
		s.recordAudit(ctx, actor, "PRODUCTION_VOID", KindProduction, id, nil)
	}
	return saved, nil
}

// GetProduction returns a batch.
func (s *Service) GetProduction(ctx context.Context, orgID, id uuid.UUID) (ProductionBatch, error) {
	return s.repo.GetProduction(ctx, orgID, id)
}

// ListProductions lists batches.
func (s *Service) ListProductions(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]ProductionBatch, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListProductions(ctx, orgID, filter)
}
