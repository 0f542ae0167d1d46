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

// ReceiptLineInput is a received line as entered.
type ReceiptLineInput struct {
	LineInput
	UnitCost   decimal.Decimal
	LotNumber  string
	ExpiryDate *time.Time
}

// CreateReceiptInput describes a new draft receipt.
type CreateReceiptInput struct {
	BranchID        uuid.UUID
	LocationID      uuid.UUID
	VendorID        uuid.UUID
	PurchaseOrderID uuid.UUID
	Lines           []ReceiptLineInput
}

func (s *Service) receiptLines(ctx context.Context, orgID, vendorID uuid.UUID, inputs []ReceiptLineInput) ([]ReceiptLine, error) {
	plain := make([]LineInput, len(inputs))
	for i, in := range inputs {
		if in.UnitCost.IsNegative() {
			return nil, shared.NewError(shared.ErrValidation, "documents: unit cost must be >= 0")
		}
		plain[i] = in.LineInput
	}
	converted, _, err := s.convertLines(ctx, orgID, vendorID, plain)
	if err != nil {
		return nil, err
	}
	lines := make([]ReceiptLine, len(converted))
	for i, l := range converted {
		lines[i] = ReceiptLine{
			Line:       l,
			UnitCost:   inputs[i].UnitCost,
			LotNumber:  strings.TrimSpace(inputs[i].LotNumber),
			ExpiryDate: inputs[i].ExpiryDate,
		}
	}
	return lines, nil
}

// CreateReceipt stores a DRAFT receipt. A linked PO must belong to the same branch and vendor.
func (s *Service) CreateReceipt(ctx context.Context, actor shared.Principal, in CreateReceiptInput) (Receipt, error) {
	if err := requireOrg(actor); err != nil {
		return Receipt{}, err
	}
	if _, err := s.requireLocation(ctx, actor.OrgID, in.BranchID, in.LocationID); err != nil {
		return Receipt{}, err
	}
	if in.PurchaseOrderID != uuid.Nil {
		po, err := s.repo.GetPurchaseOrder(ctx, actor.OrgID, in.PurchaseOrderID)
		if err != nil {
			return Receipt{}, err
		}
		if po.BranchID != in.BranchID {
			return Receipt{}, shared.NewError(shared.ErrValidation, "documents: purchase order belongs to another branch")
		}
		if in.VendorID == uuid.Nil {
			in.VendorID = po.VendorID
		} else if in.VendorID != po.VendorID {
			return Receipt{}, shared.NewError(shared.ErrValidation, "documents: purchase order vendor mismatch")
		}
	}
	lines, err := s.receiptLines(ctx, actor.OrgID, in.VendorID, in.Lines)
	if err != nil {
		return Receipt{}, err
	}
	at := s.now().UTC()
	id := uuid.New()
	r := Receipt{
		ID:              id,
		OrgID:           actor.OrgID,
		BranchID:        in.BranchID,
		LocationID:      in.LocationID,
		VendorID:        in.VendorID,
		PurchaseOrderID: in.PurchaseOrderID,
		Number:          DocumentNumber(KindReceipt, id, at),
		Status:          StatusDraft,
		Lines:           lines,
		CreatedBy:       actor.UserID,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertReceipt(ctx, r)
	}); err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, actor, "RECEIPT_CREATE", KindReceipt, r.ID, map[string]any{"number": r.Number, "purchase_order_id": in.PurchaseOrderID.String()})
	return r, nil
}

// UpdateReceiptLines replaces the lines of a DRAFT receipt.
func (s *Service) UpdateReceiptLines(ctx context.Context, actor shared.Principal, id uuid.UUID, inputs []ReceiptLineInput) (Receipt, error) {
	if err := requireOrg(actor); err != nil {
		return Receipt{}, err
	}
	current, err := s.repo.GetReceipt(ctx, actor.OrgID, id)
	if err != nil {
		return Receipt{}, err
	}
	lines, err := s.receiptLines(ctx, actor.OrgID, current.VendorID, inputs)
	if err != nil {
		return Receipt{}, err
	}
	var saved Receipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.LockReceipt(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		if err := requireDraft(r); err != nil {
			return err
		}
		r.Lines = lines
		r.UpdatedAt = s.now().UTC()
		saved = r
		return tx.UpdateReceipt(ctx, r)
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, actor, "RECEIPT_UPDATE", KindReceipt, id, map[string]any{"lines": len(lines)})
	return saved, nil
}

// PostReceipt appends PURCHASE entries, opens lots for tracked items and advances the linked PO.
// Posting an already posted receipt returns AlreadyPosted without writing.
func (s *Service) PostReceipt(ctx context.Context, actor shared.Principal, id uuid.UUID) (PostResult, error) {
	if err := requireOrg(actor); err != nil {
		return PostResult{}, err
	}
	res := PostResult{Kind: KindReceipt, DocumentID: id}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		r, err := tx.LockReceipt(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		to, already, err := WorkflowFor(KindReceipt).Next(r, ActionPost, actor)
		if err != nil {
			return err
		}
		if already {
			res.Status, res.AlreadyPosted = r.Status, true
			return nil
		}
		if len(r.Lines) == 0 {
			return ErrEmptyDocument
		}
		var po *PurchaseOrder
		if r.PurchaseOrderID != uuid.Nil {
			locked, err := tx.LockPurchaseOrder(ctx, actor.OrgID, r.PurchaseOrderID)
			if err != nil {
				return err
			}
			if err := checkOverReceipt(locked, r.Lines); err != nil {
				return err
			}
			po = &locked
		}

		ids := make([]uuid.UUID, len(r.Lines))
		movements := make([]ledger.Movement, len(r.Lines))
		for i, l := range r.Lines {
			ids[i] = l.ItemID
			movements[i] = ledger.Movement{
				BranchID:   r.BranchID,
				ItemID:     l.ItemID,
				LocationID: r.LocationID,
				QtyDelta:   l.QtyBase,
				UnitCost:   l.BaseUnitCost(),
				Reason:     ledger.ReasonPurchase,
				SourceType: string(KindReceipt),
				SourceID:   r.ID,
			}
		}
		items, err := s.loadItems(ctx, actor.OrgID, ids...)
		if err != nil {
			return err
		}
		now := s.now()
		entries, err := ledger.Post(ctx, tx, actor.OrgID, movements, now)
		if err != nil {
			return err
		}
		res.Entries, res.EntriesCreated = entries, len(entries)
		for _, l := range r.Lines {
			if !items[l.ItemID].LotTracked {
				continue
			}
			lot, err := lots.Receive(ctx, tx, lots.ReceiveInput{
				OrgID:      actor.OrgID,
				BranchID:   r.BranchID,
				ItemID:     l.ItemID,
				LocationID: r.LocationID,
				LotNumber:  l.LotNumber,
				Qty:        l.QtyBase,
				ExpiryDate: l.ExpiryDate,
				SourceType: string(KindReceipt),
				SourceID:   r.ID,
			}, now)
			if err != nil {
				return err
			}
			res.Lots = append(res.Lots, lot)
		}

		if po != nil {
			applyReceipt(po, r.Lines)
			action := ActionReceivePartial
			if po.FullyReceived() {
				action = ActionReceiveFull
			}
			poTo, _, err := WorkflowFor(KindPurchaseOrder).Next(*po, action, actor)
			if err != nil {
				return err
			}
			po.Status = poTo
			po.UpdatedAt = now.UTC()
			if err := tx.UpdatePurchaseOrder(ctx, *po); err != nil {
				return err
			}
		}

		r.Status = to
		r.PostedBy = actor.UserID
		r.PostedAt = timePtr(now)
		r.UpdatedAt = now.UTC()
		res.Status = r.Status
		return tx.UpdateReceipt(ctx, r)
	})
	if err != nil {
		return PostResult{}, err
	}
	if !res.AlreadyPosted {
		s.observe(res.Entries)
		s.recordAudit(ctx, actor, "RECEIPT_POST", KindReceipt, id, map[string]any{"entries": res.EntriesCreated, "lots": len(res.Lots)})
		s.logger.Info("receipt posted", slog.String("receipt_id", id.String()), slog.Int("entries", res.EntriesCreated))
	}
	return res, nil
}

// checkOverReceipt rejects a receipt whose per-item total would exceed the ordered quantity.
// The PO must still be open for receiving.
func checkOverReceipt(po PurchaseOrder, lines []ReceiptLine) error {
	if po.Status != StatusApproved && po.Status != StatusPartiallyReceived {
		return &TransitionError{Kind: KindPurchaseOrder, DocumentID: po.ID, From: po.Status, Action: ActionReceivePartial}
	}
	attempted := map[uuid.UUID]decimal.Decimal{}
	order := []uuid.UUID{}
	for _, l := range lines {
		if _, ok := attempted[l.ItemID]; !ok {
			order = append(order, l.ItemID)
		}
		attempted[l.ItemID] = attempted[l.ItemID].Add(l.QtyBase)
	}
	for _, itemID := range order {
		ordered := po.OrderedBase(itemID)
		received := po.ReceivedBase(itemID)
		if received.Add(attempted[itemID]).GreaterThan(ordered) {
			return &OverReceiptError{
				PurchaseOrderID: po.ID,
				ItemID:          itemID,
				OrderedBase:     ordered,
				ReceivedBase:    received,
				AttemptedBase:   attempted[itemID],
			}
		}
	}
	return nil
}

// applyReceipt spreads received quantities over the PO lines in line order.
func applyReceipt(po *PurchaseOrder, lines []ReceiptLine) {
	for _, l := range lines {
		left := l.QtyBase
		for i := range po.Lines {
			if left.IsZero() {
				break
			}
			if po.Lines[i].ItemID != l.ItemID {
				continue
			}
			take := decimal.Min(po.Lines[i].RemainingBase(), left)
			po.Lines[i].ReceivedBase = po.Lines[i].ReceivedBase.Add(take)
			left = left.Sub(take)
		}
	}
}

// GetReceipt returns a receipt.
func (s *Service) GetReceipt(ctx context.Context, orgID, id uuid.UUID) (Receipt, error) {
	return s.repo.GetReceipt(ctx, orgID, id)
}

// ListReceipts lists receipts.
func (s *Service) ListReceipts(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]Receipt, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListReceipts(ctx, orgID, filter)
}
