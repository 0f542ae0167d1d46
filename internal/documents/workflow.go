// Package documents implements the purchasing, receiving, transfer, waste, production and
// depletion workflows that move stock through the ledger.
package documents

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Kind tags a document variant.
type Kind string

const (
	KindPurchaseOrder Kind = "PURCHASE_ORDER"
	KindReceipt       Kind = "RECEIPT"
	KindTransfer      Kind = "TRANSFER"
	KindWaste         Kind = "WASTE"
	KindProduction    Kind = "PRODUCTION"
	KindDepletion     Kind = "DEPLETION"
)

// Status is a document lifecycle state.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusPendingApproval   Status = "PENDING_APPROVAL"
	StatusApproved          Status = "APPROVED"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
	StatusReceived          Status = "RECEIVED"
	StatusCancelled         Status = "CANCELLED"
	StatusPosted            Status = "POSTED"
	StatusInTransit         Status = "IN_TRANSIT"
	StatusVoid              Status = "VOID"
	StatusPending           Status = "PENDING"
	StatusFailed            Status = "FAILED"
	StatusSkipped           Status = "SKIPPED"
)

// Action names a transition.
type Action string

const (
	ActionSubmit         Action = "submit"
	ActionApprove        Action = "approve"
	ActionCancel         Action = "cancel"
	ActionReceivePartial Action = "receive_partial"
	ActionReceiveFull    Action = "receive_full"
	ActionPost           Action = "post"
	ActionShip           Action = "ship"
	ActionReceive        Action = "receive"
	ActionVoid           Action = "void"
	ActionFail           Action = "fail"
	ActionRetry          Action = "retry"
	ActionSkip           Action = "skip"
)

// Document is the capability shared by every workflow variant.
type Document interface {
	DocumentKind() Kind
	DocumentID() uuid.UUID
	CurrentStatus() Status
}

// Rule is one allowed transition and the permission it requires.
type Rule struct {
	From       []Status
	To         Status
	Permission string
}

// Workflow is the transition table of one document kind.
type Workflow struct {
	Kind  Kind
	Rules map[Action]Rule
}

var workflows = map[Kind]Workflow{
	KindPurchaseOrder: {Kind: KindPurchaseOrder, Rules: map[Action]Rule{
		ActionSubmit:         {From: []Status{StatusDraft}, To: StatusPendingApproval, Permission: shared.PermPOSubmit},
		ActionApprove:        {From: []Status{StatusPendingApproval}, To: StatusApproved, Permission: shared.PermPOApprove},
		ActionCancel:         {From: []Status{StatusDraft, StatusPendingApproval, StatusApproved}, To: StatusCancelled, Permission: shared.PermPOCancel},
		ActionReceivePartial: {From: []Status{StatusApproved, StatusPartiallyReceived}, To: StatusPartiallyReceived, Permission: shared.PermReceiptPost},
		ActionReceiveFull:    {From: []Status{StatusApproved, StatusPartiallyReceived}, To: StatusReceived, Permission: shared.PermReceiptPost},
	}},
	KindReceipt: {Kind: KindReceipt, Rules: map[Action]Rule{
		ActionPost: {From: []Status{StatusDraft}, To: StatusPosted, Permission: shared.PermReceiptPost},
	}},
	KindTransfer: {Kind: KindTransfer, Rules: map[Action]Rule{
		ActionShip:    {From: []Status{StatusDraft}, To: StatusInTransit, Permission: shared.PermTransferShip},
		ActionReceive: {From: []Status{StatusInTransit}, To: StatusReceived, Permission: shared.PermTransferReceive},
		ActionVoid:    {From: []Status{StatusDraft}, To: StatusVoid, Permission: shared.PermTransferVoid},
	}},
	KindWaste: {Kind: KindWaste, Rules: map[Action]Rule{
		ActionPost: {From: []Status{StatusDraft}, To: StatusPosted, Permission: shared.PermWastePost},
		ActionVoid: {From: []Status{StatusDraft}, To: StatusVoid, Permission: shared.PermWasteVoid},
	}},
	KindProduction: {Kind: KindProduction, Rules: map[Action]Rule{
		ActionPost: {From: []Status{StatusDraft}, To: StatusPosted, Permission: shared.PermProductionPost},
		ActionVoid: {From: []Status{StatusDraft}, To: StatusVoid, Permission: shared.PermProductionVoid},
	}},
	KindDepletion: {Kind: KindDepletion, Rules: map[Action]Rule{
		ActionPost:  {From: []Status{StatusPending}, To: StatusPosted, Permission: shared.PermDepletionIngest},
		ActionRetry: {From: []Status{StatusFailed}, To: StatusPosted, Permission: shared.PermDepletionRetry},
		ActionFail:  {From: []Status{StatusPending, StatusFailed}, To: StatusFailed, Permission: shared.PermDepletionIngest},
		ActionSkip:  {From: []Status{StatusFailed}, To: StatusSkipped, Permission: shared.PermDepletionSkip},
	}},
}

// WorkflowFor returns the transition table of kind.
func WorkflowFor(kind Kind) Workflow {
	return workflows[kind]
}

// Next validates action on doc for actor.
// already is true when doc sits in the target status of an action it can no longer take,
// which callers treat as an idempotent repeat.
func (w Workflow) Next(doc Document, action Action, actor shared.Principal) (to Status, already bool, err error) {
	rule, ok := w.Rules[action]
	if !ok {
		return "", false, &TransitionError{Kind: w.Kind, DocumentID: doc.DocumentID(), From: doc.CurrentStatus(), Action: action}
	}
	if !shared.HasLevel(actor, rule.Permission) {
		return "", false, shared.NewError(shared.ErrForbidden, fmt.Sprintf("documents: %s requires %s", rule.Permission, shared.RequiredLevel(rule.Permission)))
	}
	current := doc.CurrentStatus()
	for _, from := range rule.From {
		if current == from {
			return rule.To, false, nil
		}
	}
	if current == rule.To {
		return rule.To, true, nil
	}
	return "", false, &TransitionError{Kind: w.Kind, DocumentID: doc.DocumentID(), From: current, Action: action}
}

// Actions lists the actions the document can take from its current status.
func (w Workflow) Actions(doc Document) []Action {
	var out []Action
	for _, action := range []Action{ActionSubmit, ActionApprove, ActionCancel, ActionPost, ActionShip, ActionReceive, ActionVoid, ActionRetry, ActionSkip} {
		rule, ok := w.Rules[action]
		if !ok {
			continue
		}
		for _, from := range rule.From {
			if from == doc.CurrentStatus() {
				out = append(out, action)
				break
			}
		}
	}
	return out
}

// ErrInvalidStateTransition indicates an action attempted from the wrong status.
var ErrInvalidStateTransition = shared.NewError(shared.ErrConflict, "documents: invalid state transition")

// TransitionError details a rejected action.
type TransitionError struct {
	Kind       Kind
	DocumentID uuid.UUID
	From       Status
	Action     Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("documents: cannot %s %s %s in status %s", e.Action, e.Kind, e.DocumentID, e.From)
}

// Is matches ErrInvalidStateTransition and its kind.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition || target == shared.ErrConflict
}

func requireDraft(doc Document) error {
	if doc.CurrentStatus() != StatusDraft {
		return &TransitionError{Kind: doc.DocumentKind(), DocumentID: doc.DocumentID(), From: doc.CurrentStatus(), Action: "edit"}
	}
	return nil
}
