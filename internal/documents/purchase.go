package documents

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// PurchaseOrderLineInput is an ordered line as entered.
type PurchaseOrderLineInput struct {
	LineInput
	UnitPrice decimal.Decimal
}

// CreatePurchaseOrderInput describes a new draft PO.
type CreatePurchaseOrderInput struct {
	BranchID     uuid.UUID
	VendorID     uuid.UUID
	ExpectedDate *time.Time
	Note         string
	Lines        []PurchaseOrderLineInput

	// OptimizationRunID links a PO drafted from reorder suggestions.
	OptimizationRunID uuid.UUID
}

// NewPurchaseOrder assembles a DRAFT purchase order from already converted lines.
func NewPurchaseOrder(orgID, branchID, vendorID, createdBy uuid.UUID, lines []PurchaseOrderLine, now time.Time) (PurchaseOrder, error) {
	if orgID == uuid.Nil || branchID == uuid.Nil || vendorID == uuid.Nil {
		return PurchaseOrder{}, shared.NewError(shared.ErrValidation, "documents: org, branch and vendor required")
	}
	if len(lines) == 0 {
		return PurchaseOrder{}, ErrEmptyDocument
	}
	for i := range lines {
		if !lines[i].QtyBase.IsPositive() || lines[i].UnitPrice.IsNegative() {
			return PurchaseOrder{}, shared.NewError(shared.ErrValidation, "documents: invalid purchase order line")
		}
		lines[i].ReceivedBase = decimal.Zero
	}
	at := now.UTC()
	id := uuid.New()
	return PurchaseOrder{
		ID:        id,
		OrgID:     orgID,
		BranchID:  branchID,
		VendorID:  vendorID,
		Number:    DocumentNumber(KindPurchaseOrder, id, at),
		Status:    StatusDraft,
		Lines:     lines,
		CreatedBy: createdBy,
		CreatedAt: at,
		UpdatedAt: at,
	}, nil
}

func (s *Service) purchaseLines(ctx context.Context, orgID, vendorID uuid.UUID, inputs []PurchaseOrderLineInput) ([]PurchaseOrderLine, error) {
	plain := make([]LineInput, len(inputs))
	for i, in := range inputs {
		plain[i] = in.LineInput
	}
	converted, _, err := s.convertLines(ctx, orgID, vendorID, plain)
	if err != nil {
		return nil, err
	}
	lines := make([]PurchaseOrderLine, len(converted))
	for i, l := range converted {
		lines[i] = PurchaseOrderLine{Line: l, UnitPrice: inputs[i].UnitPrice, ReceivedBase: decimal.Zero}
	}
	return lines, nil
}

// CreatePurchaseOrder stores a DRAFT PO with lines converted under the vendor's units.
func (s *Service) CreatePurchaseOrder(ctx context.Context, actor shared.Principal, in CreatePurchaseOrderInput) (PurchaseOrder, error) {
	created, err := s.CreatePurchaseOrders(ctx, actor, []CreatePurchaseOrderInput{in})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return created[0], nil
}

// CreatePurchaseOrders stores several DRAFT POs in one transaction. Either all are stored or none.
func (s *Service) CreatePurchaseOrders(ctx context.Context, actor shared.Principal, inputs []CreatePurchaseOrderInput) ([]PurchaseOrder, error) {
	if err := requireOrg(actor); err != nil {
		return nil, err
	}
	pos := make([]PurchaseOrder, 0, len(inputs))
	for _, in := range inputs {
		po, err := s.buildPurchaseOrder(ctx, actor, in)
		if err != nil {
			return nil, err
		}
		pos = append(pos, po)
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, po := range pos {
			if err := tx.InsertPurchaseOrder(ctx, po); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for _, po := range pos {
		meta := map[string]any{"number": po.Number, "lines": len(po.Lines)}
		if po.OptimizationRunID != uuid.Nil {
			meta["optimization_run_id"] = po.OptimizationRunID.String()
		}
		s.recordAudit(ctx, actor, "PO_CREATE", KindPurchaseOrder, po.ID, meta)
	}
	return pos, nil
}

func (s *Service) buildPurchaseOrder(ctx context.Context, actor shared.Principal, in CreatePurchaseOrderInput) (PurchaseOrder, error) {
	if _, err := s.catalog.GetBranch(ctx, actor.OrgID, in.BranchID); err != nil {
		return PurchaseOrder{}, err
	}
	lines, err := s.purchaseLines(ctx, actor.OrgID, in.VendorID, in.Lines)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po, err := NewPurchaseOrder(actor.OrgID, in.BranchID, in.VendorID, actor.UserID, lines, s.now())
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.ExpectedDate = in.ExpectedDate
	po.Note = in.Note
	po.OptimizationRunID = in.OptimizationRunID
	return po, nil
}

// UpdatePurchaseOrderLines replaces the lines of a DRAFT PO.
func (s *Service) UpdatePurchaseOrderLines(ctx context.Context, actor shared.Principal, id uuid.UUID, inputs []PurchaseOrderLineInput) (PurchaseOrder, error) {
	if err := requireOrg(actor); err != nil {
		return PurchaseOrder{}, err
	}
	current, err := s.repo.GetPurchaseOrder(ctx, actor.OrgID, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	lines, err := s.purchaseLines(ctx, actor.OrgID, current.VendorID, inputs)
	if err != nil {
		return PurchaseOrder{}, err
	}
	var saved PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPurchaseOrder(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		if err := requireDraft(po); err != nil {
			return err
		}
		po.Lines = lines
		po.UpdatedAt = s.now().UTC()
		saved = po
		return tx.UpdatePurchaseOrder(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "PO_UPDATE", KindPurchaseOrder, id, map[string]any{"lines": len(lines)})
	return saved, nil
}

// SubmitPurchaseOrder moves a DRAFT PO to PENDING_APPROVAL.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, actor shared.Principal, id uuid.UUID) (PurchaseOrder, error) {
	return s.transitionPurchaseOrder(ctx, actor, id, ActionSubmit, "PO_SUBMIT")
}

// ApprovePurchaseOrder moves a PENDING_APPROVAL PO to APPROVED.
func (s *Service) ApprovePurchaseOrder(ctx context.Context, actor shared.Principal, id uuid.UUID) (PurchaseOrder, error) {
	return s.transitionPurchaseOrder(ctx, actor, id, ActionApprove, "PO_APPROVE")
}

// CancelPurchaseOrder cancels a PO that has not been received against.
func (s *Service) CancelPurchaseOrder(ctx context.Context, actor shared.Principal, id uuid.UUID) (PurchaseOrder, error) {
	return s.transitionPurchaseOrder(ctx, actor, id, ActionCancel, "PO_CANCEL")
}

func (s *Service) transitionPurchaseOrder(ctx context.Context, actor shared.Principal, id uuid.UUID, action Action, auditAction string) (PurchaseOrder, error) {
	if err := requireOrg(actor); err != nil {
		return PurchaseOrder{}, err
	}
	var (
		saved   PurchaseOrder
		already bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPurchaseOrder(ctx, actor.OrgID, id)
		if err != nil {
			return err
		}
		to, done, err := WorkflowFor(KindPurchaseOrder).Next(po, action, actor)
		if err != nil {
			return err
		}
		saved, already = po, done
		if done {
			return nil
		}
		po.Status = to
		po.UpdatedAt = s.now().UTC()
		if action == ActionApprove {
			po.ApprovedBy = actor.UserID
		}
		saved = po
		return tx.UpdatePurchaseOrder(ctx, po)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !already {
		s.recordAudit(ctx, actor, auditAction, KindPurchaseOrder, id, map[string]any{"status": string(saved.Status)})
	}
	return saved, nil
}

// GetPurchaseOrder returns a PO of the caller's org.
func (s *Service) GetPurchaseOrder(ctx context.Context, orgID, id uuid.UUID) (PurchaseOrder, error) {
	return s.repo.GetPurchaseOrder(ctx, orgID, id)
}

// ListPurchaseOrders lists POs.
func (s *Service) ListPurchaseOrders(ctx context.Context, orgID uuid.UUID, filter ListFilter) ([]PurchaseOrder, error) {
	filter.Page = filter.Page.Normalize()
	return s.repo.ListPurchaseOrders(ctx, orgID, filter)
}
