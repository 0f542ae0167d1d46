package documents

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// CreateWasteInput describes a new draft waste document.
type CreateWasteInput struct {
	BranchID   uuid.UUID
	LocationID uuid.UUID
	Reason     string
	Lines      []LineInput
}

// CreateWaste stores a DRAFT waste document.
func (s *Service) CreateWaste(ctx context.Context, actor shared.Principal, in CreateWasteInput) (WasteDocument, error) {
	if err := requireOrg(actor); err != nil {
		return WasteDocument{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return WasteDocument{}, shared.NewError(shared.ErrValidation, "documents: waste reason required")
	}
	if _, err := s.requireLocation(ctx, actor.OrgID, in.BranchID, in.LocationID); err != nil {
		return WasteDocument{}, err
	}
	lines, _, err := s.convertLines(ctx, actor.OrgID, uuid.Nil, in.Lines)
	if err != nil {
		return WasteDocument{}, err
	}
	at := s.now().UTC()
	id := uuid.New()
	w := WasteDocument{
		ID:         id,
		OrgID:      actor.OrgID,
		BranchID:   in.BranchID,
		LocationID: in.LocationID,
		Number:     DocumentNumber(KindWaste, id, at),
		Status:     StatusDraft,
		Reason:     reason,
		Lines:      lines,
		CreatedBy:  actor.UserID,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertWaste(ctx, w)
	}); err != nil {
		return WasteDocument{}, err
	}
	s.recordAudit(ctx, actor, "WASTE_CREATE", KindWaste, w.ID, map[string]any{"number": w.Number, "reason": reason})
	return w, nil
}

// UpdateWasteLines replaces the lines of a DRAFT waste document.
func (s *Service) UpdateWasteLines(ctx context.Context, actor shared.Principal, id uuid.UUID, inputs []LineInput) (WasteDocument, error) {
	if err := requireOrg(actor); err != nil {
		return WasteDocument{}, err
	}
	lines, _, err := s.convertLines(ctx, actor.OrgID, uuid.Nil, inputs)
	if err != nil {
		return WasteDocument{}, err
	}
	var saved WasteDocument
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		w, err := tx.LockWaste(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		if err := requireDraft(w); err != nil {
			return err
		}
		w.Lines = lines
		w.UpdatedAt = s.now().UTC()
		saved = w
		return tx.UpdateWaste(ctx, w)
	})
	if err != nil {
		return WasteDocument{}, err
	}
	s.recordAudit(ctx, actor, "WASTE_UPDATE", KindWaste, id, map[string]any{"lines": len(lines)})
	return saved, nil
}

// PostWaste writes off the lines as WASTAGE. A shortfall on any line leaves the document DRAFT.
func (s *Service) PostWaste(ctx context.Context, actor shared.Principal, id uuid.UUID) (PostResult, error) {
	if err := requireOrg(actor); err != nil {
		return PostResult{}, err
	}
	res := PostResult{Kind: KindWaste, DocumentID: id}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		w, err := tx.LockWaste(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		to, already, err := WorkflowFor(KindWaste).Next(w, ActionPost, actor)
		if err != nil {
			return err
		}
		if already {
			res.Status, res.AlreadyPosted = w.Status, true
			return nil
		}
		if len(w.Lines) == 0 {
			return ErrEmptyDocument
		}
		ids := make([]uuid.UUID, len(w.Lines))
		for i, l := range w.Lines {
			ids[i] = l.ItemID
		}
		items, err := s.loadItems(ctx, actor.OrgID, ids...)
		if err != nil {
			return err
		}
		removals := make([]outbound, len(w.Lines))
		for i, l := range w.Lines {
			item := items[l.ItemID]
			removals[i] = outbound{item: item, locationID: w.LocationID, qtyBase: l.QtyBase, unitCost: s.unitCost(ctx, actor.OrgID, item)}
		}
		posted, err := s.postOutbound(ctx, tx, actor.OrgID, w.BranchID, ledger.ReasonWastage, string(KindWaste), w.ID, removals, nil)
		if err != nil {
			return err
		}
		res.Entries, res.EntriesCreated, res.Allocations = posted.Entries, posted.EntriesCreated, posted.Allocations
		now := s.now()
		w.Status = to
		w.PostedBy = actor.UserID
		w.PostedAt = timePtr(now)
		w.UpdatedAt = now.UTC()
		res.Status = w.Status
		return tx.UpdateWaste(ctx, w)
	})
	if err != nil {
		return PostResult{}, err
	}
	if !res.AlreadyPosted {
		s.observe(res.Entries)
		s.recordAudit(ctx, actor, "WASTE_POST", KindWaste, id, map[string]any{"entries": res.EntriesCreated})
		s.logger.Info("waste posted", slog.String("waste_id", id.String()), slog.Int("entries", res.EntriesCreated))
	}
	return res, nil
}

// VoidWaste abandons a DRAFT waste document.
func (s *Service) VoidWaste(ctx context.Context, actor shared.Principal, id uuid.UUID) (WasteDocument, error) {
	if err := requireOrg(actor); err != nil {
		return WasteDocument{}, err
	}
	var (
		saved   WasteDocument
		already bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		w, err := tx.LockWaste(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		to, done, err := WorkflowFor(KindWaste).Next(w, ActionVoid, actor)
		if err != nil {
			return err
		}
		saved, already = w, done
		if done {
			return nil
		}
		w.Status = to
		w.UpdatedAt = s.now().UTC()
		saved = w
		return tx.UpdateWaste(ctx, w)
	})
	if err != nil {
		return WasteDocument{}, err
	}
	if !already {
		s.recordAudit(ctx, actor, "WASTE_VOID", KindWaste, id, nil)
	}
	return saved, nil
}

// GetWaste returns a waste document.
func (s *Service) GetWaste(ctx context.Context, orgID, id uuid.UUID) (WasteDocument, error) {
	return s.repo.GetWaste(ctx, orgID, id)
}

// ListWaste lists waste documents.
func (s *Service) ListWaste(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]WasteDocument, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListWaste(ctx, orgID, filter)
}
