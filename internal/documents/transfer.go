package documents

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// CreateTransferInput describes a new draft transfer.
type CreateTransferInput struct {
	SourceLocationID uuid.UUID
	DestLocationID   uuid.UUID
	Lines            []LineInput
}

func (s *Service) transferLines(ctx context.Context, orgID uuid.UUID, inputs []LineInput) ([]TransferLine, error) {
	converted, _, err := s.convertLines(ctx, orgID, uuid.Nil, inputs)
	if err != nil {
		return nil, err
	}
	lines := make([]TransferLine, len(converted))
	for i, l := range converted {
		lines[i] = TransferLine{Line: l}
	}
	return lines, nil
}

// CreateTransfer stores a DRAFT transfer between two distinct locations.
func (s *Service) CreateTransfer(ctx context.Context, actor shared.Principal, in CreateTransferInput) (Transfer, error) {
	if err := requireOrg(actor); err != nil {
		return Transfer{}, err
	}
	if in.SourceLocationID == in.DestLocationID {
		return Transfer{}, shared.NewError(shared.ErrValidation, "documents: transfer source and destination must differ")
	}
	src, err := s.requireLocation(ctx, actor.OrgID, uuid.Nil, in.SourceLocationID)
	if err != nil {
		return Transfer{}, err
	}
	dst, err := s.requireLocation(ctx, actor.OrgID, uuid.Nil, in.DestLocationID)
	if err != nil {
		return Transfer{}, err
	}
	lines, err := s.transferLines(ctx, actor.OrgID, in.Lines)
	if err != nil {
		return Transfer{}, err
	}
	at := s.now().UTC()
	id := uuid.New()
	t := Transfer{
		ID:               id,
		OrgID:            actor.OrgID,
		Number:           DocumentNumber(KindTransfer, id, at),
		SourceBranchID:   src.BranchID,
		SourceLocationID: src.ID,
		DestBranchID:     dst.BranchID,
		DestLocationID:   dst.ID,
		Status:           StatusDraft,
		Lines:            lines,
		CreatedBy:        actor.UserID,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertTransfer(ctx, t)
	}); err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actor, "TRANSFER_CREATE", KindTransfer, t.ID, map[string]any{"number": t.Number})
	return t, nil
}

// UpdateTransferLines replaces the lines of a DRAFT transfer.
func (s *Service) UpdateTransferLines(ctx context.Context, actor shared.Principal, id uuid.UUID, inputs []LineInput) (Transfer, error) {
	if err := requireOrg(actor); err != nil {
		return Transfer{}, err
	}
	lines, err := s.transferLines(ctx, actor.OrgID, inputs)
	if err != nil {
		return Transfer{}, err
	}
	var saved Transfer
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockTransfer(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		if err := requireDraft(t); err != nil {
			return err
		}
		t.Lines = lines
		t.UpdatedAt = s.now().UTC()
		saved = t
		return tx.UpdateTransfer(ctx, t)
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actor, "TRANSFER_UPDATE", KindTransfer, id, map[string]any{"lines": len(lines)})
	return saved, nil
}

// ShipTransfer removes stock at the source and leaves the transfer IN_TRANSIT.
// Each line records the unit cost it left at so the destination receives the same value.
func (s *Service) ShipTransfer(ctx context.Context, actor shared.Principal, id uuid.UUID) (PostResult, error) {
	if err := requireOrg(actor); err != nil {
		return PostResult{}, err
	}
	res := PostResult{Kind: KindTransfer, DocumentID: id}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockTransfer(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		to, already, err := WorkflowFor(KindTransfer).Next(t, ActionShip, actor)
		if err != nil {
			return err
		}
		if already {
			res.Status, res.AlreadyPosted = t.Status, true
			return nil
		}
		items, err := s.transferItems(ctx, actor.OrgID, t)
		if err != nil {
			return err
		}
		removals := make([]outbound, len(t.Lines))
		for i, l := range t.Lines {
			item := items[l.ItemID]
			t.Lines[i].UnitCost = s.unitCost(ctx, actor.OrgID, item)
			removals[i] = outbound{item: item, locationID: t.SourceLocationID, qtyBase: l.QtyBase, unitCost: t.Lines[i].UnitCost}
		}
		posted, err := s.postOutbound(ctx, tx, actor.OrgID, t.SourceBranchID, ledger.ReasonTransferOut, string(KindTransfer), t.ID, removals, nil)
		if err != nil {
			return err
		}
		res.Entries, res.EntriesCreated, res.Allocations = posted.Entries, posted.EntriesCreated, posted.Allocations
		t.Status = to
		t.ShippedAt = timePtr(s.now())
		t.UpdatedAt = s.now().UTC()
		res.Status = t.Status
		return tx.UpdateTransfer(ctx, t)
	})
	if err != nil {
		return PostResult{}, err
	}
	if !res.AlreadyPosted {
		s.observe(res.Entries)
		s.recordAudit(ctx, actor, "TRANSFER_SHIP", KindTransfer, id, map[string]any{"entries": res.EntriesCreated})
		s.logger.Info("transfer shipped", slog.String("transfer_id", id.String()), slog.Int("entries", res.EntriesCreated))
	}
	return res, nil
}

// ReceiveTransfer adds the shipped stock at the destination.
// Lot-tracked stock arrives as new lots carrying the source lot number and expiry.
func (s *Service) ReceiveTransfer(ctx context.Context, actor shared.Principal, id uuid.UUID) (PostResult, error) {
	if err := requireOrg(actor); err != nil {
		return PostResult{}, err
	}
	res := PostResult{Kind: KindTransfer, DocumentID: id}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockTransfer(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		to, already, err := WorkflowFor(KindTransfer).Next(t, ActionReceive, actor)
		if err != nil {
			return err
		}
		if already {
			res.Status, res.AlreadyPosted = t.Status, true
			return nil
		}
		items, err := s.transferItems(ctx, actor.OrgID, t)
		if err != nil {
			return err
		}
		movements := make([]ledger.Movement, len(t.Lines))
		for i, l := range t.Lines {
			movements[i] = ledger.Movement{
				BranchID:   t.DestBranchID,
				ItemID:     l.ItemID,
				LocationID: t.DestLocationID,
				QtyDelta:   l.QtyBase,
				UnitCost:   l.UnitCost,
				Reason:     ledger.ReasonTransferIn,
				SourceType: string(KindTransfer),
				SourceID:   t.ID,
			}
		}
		now := s.now()
		entries, err := ledger.Post(ctx, tx, actor.OrgID, movements, now)
		if err != nil {
			return err
		}
		res.Entries, res.EntriesCreated = entries, len(entries)
		arrived, err := s.transferLots(ctx, tx, t, items)
		if err != nil {
			return err
		}
		res.Lots = arrived
		t.Status = to
		t.ReceivedAt = timePtr(now)
		t.UpdatedAt = now.UTC()
		res.Status = t.Status
		return tx.UpdateTransfer(ctx, t)
	})
	if err != nil {
		return PostResult{}, err
	}
	if !res.AlreadyPosted {
		s.observe(res.Entries)
		s.recordAudit(ctx, actor, "TRANSFER_RECEIVE", KindTransfer, id, map[string]any{"entries": res.EntriesCreated, "lots": len(res.Lots)})
		s.logger.Info("transfer received", slog.String("transfer_id", id.String()), slog.Int("entries", res.EntriesCreated))
	}
	return res, nil
}

// transferLots recreates the lots drawn at ship time at the destination, one per source lot.
func (s *Service) transferLots(ctx context.Context, tx TxRepository, t Transfer, items map[uuid.UUID]catalog.Item) ([]lots.Lot, error) {
	allocations, err := tx.ListAllocationsBySource(ctx, t.OrgID, string(KindTransfer), t.ID)
	if err != nil {
		return nil, err
	}
	var out []lots.Lot
	for _, a := range allocations {
		src, err := tx.LockLot(ctx, t.OrgID, a.LotID)
		if err != nil {
			return nil, err
		}
		if !items[src.ItemID].LotTracked {
			continue
		}
		lot, err := lots.Receive(ctx, tx, lots.ReceiveInput{
			OrgID:      t.OrgID,
			BranchID:   t.DestBranchID,
			ItemID:     src.ItemID,
			LocationID: t.DestLocationID,
			LotNumber:  src.LotNumber,
			Qty:        a.AllocatedQty,
			ExpiryDate: src.ExpiryDate,
			SourceType: string(KindTransfer),
			SourceID:   t.ID,
		}, s.now())
		if err != nil {
			return nil, err
		}
		out = append(out, lot)
	}
	return out, nil
}

func (s *Service) transferItems(ctx context.Context, orgID uuid.UUID, t Transfer) (map[uuid.UUID]catalog.Item, error) {
	if len(t.Lines) == 0 {
		return nil, ErrEmptyDocument
	}
	ids := make([]uuid.UUID, len(t.Lines))
	for i, l := range t.Lines {
		ids[i] = l.ItemID
	}
	return s.loadItems(ctx, orgID, ids...)
}

// VoidTransfer abandons a DRAFT transfer.
func (s *Service) VoidTransfer(ctx context.Context, actor shared.Principal, id uuid.UUID) (Transfer, error) {
	if err := requireOrg(actor); err != nil {
		return Transfer{}, err
	}
	var (
		saved   Transfer
		already bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.LockTransfer(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		to, done, err := WorkflowFor(KindTransfer).Next(t, ActionVoid, actor)
		if err != nil {
			return err
		}
		saved, already = t, done
		if done {
			return nil
		}
		t.Status = to
		t.UpdatedAt = s.now().UTC()
		saved = t
		return tx.UpdateTransfer(ctx, t)
	})
	if err != nil {
		return Transfer{}, err
	}
	if !already {
		s.recordAudit(ctx, actor, "TRANSFER_VOID", KindTransfer, id, nil)
	}
	return saved, nil
}

// GetTransfer returns a transfer.
func (s *Service) GetTransfer(ctx context.Context, orgID, id uuid.UUID) (Transfer, error) {
	return s.repo.GetTransfer(ctx, orgID, id)
}

// ListTransfers lists transfers touching a branch at either end.
func (s *Service) ListTransfers(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Transfer, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListTransfers(ctx, orgID, filter)
}
