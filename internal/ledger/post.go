package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// TxRepository exposes ledger writes on an open transaction.
type TxRepository interface {
	// LockBalance returns the running total for key, creating a zero row when missing,
	// and holds its row lock until the transaction ends.
	LockBalance(ctx context.Context, orgID, branchID uuid.UUID, key Key) (Balance, error)
	InsertEntries(ctx context.Context, entries []Entry) error
	SaveBalance(ctx context.Context, balance Balance) error
}

type keyTotals struct {
	branchID uuid.UUID
	inbound  decimal.Decimal
	outbound decimal.Decimal
	removes  bool
}

// Post validates and appends movements inside tx.
// Balance rows of every touched key are locked in sorted key order before any sufficiency
// check, and nothing is written when one key would go negative.
func Post(ctx context.Context, tx TxRepository, orgID uuid.UUID, movements []Movement, now time.Time) ([]Entry, error) {
	if orgID == uuid.Nil {
		return nil, shared.NewError(shared.ErrValidation, "ledger: org required")
	}
	if len(movements) == 0 {
		return nil, nil
	}
	totals := make(map[Key]*keyTotals, len(movements))
	keys := make([]Key, 0, len(movements))
	for _, m := range movements {
		if err := validateMovement(m); err != nil {
			return nil, err
		}
		k := m.Key()
		t, ok := totals[k]
		if !ok {
			t = &keyTotals{branchID: m.BranchID, inbound: decimal.Zero, outbound: decimal.Zero}
			totals[k] = t
			keys = append(keys, k)
		}
		if m.QtyDelta.IsNegative() {
			t.outbound = t.outbound.Add(m.QtyDelta.Neg())
			t.removes = true
		} else {
			t.inbound = t.inbound.Add(m.QtyDelta)
		}
	}
	SortKeys(keys)

	balances := make(map[Key]Balance, len(keys))
	for _, k := range keys {
		bal, err := tx.LockBalance(ctx, orgID, totals[k].branchID, k)
		if err != nil {
			return nil, err
		}
		balances[k] = bal
	}
	for _, k := range keys {
		t := totals[k]
		if !t.removes {
			continue
		}
		available := balances[k].Qty.Add(t.inbound)
		if available.LessThan(t.outbound) {
			return nil, &InsufficientStockError{ItemID: k.ItemID, LocationID: k.LocationID, Requested: t.outbound, Available: balances[k].Qty}
		}
	}

	at := now.UTC()
	entries := make([]Entry, 0, len(movements))
	for _, m := range movements {
		entries = append(entries, Entry{
			ID:         newEntryID(),
			OrgID:      orgID,
			BranchID:   m.BranchID,
			ItemID:     m.ItemID,
			LocationID: m.LocationID,
			QtyDelta:   m.QtyDelta,
			UnitCost:   m.UnitCost,
			Reason:     m.Reason,
			SourceType: m.SourceType,
			SourceID:   m.SourceID,
			CreatedAt:  at,
		})
	}
	if err := tx.InsertEntries(ctx, entries); err != nil {
		return nil, err
	}
	for _, k := range keys {
		bal := balances[k]
		t := totals[k]
		bal.OrgID = orgID
		bal.BranchID = t.branchID
		bal.ItemID = k.ItemID
		bal.LocationID = k.LocationID
		bal.Qty = bal.Qty.Add(t.inbound).Sub(t.outbound)
		bal.UpdatedAt = at
		for _, m := range movements {
			if m.Key() == k {
				bal.EntryCount++
			}
		}
		if err := tx.SaveBalance(ctx, bal); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func validateMovement(m Movement) error {
	if m.ItemID == uuid.Nil || m.LocationID == uuid.Nil || m.BranchID == uuid.Nil {
		return shared.NewError(shared.ErrValidation, "ledger: branch, item and location required")
	}
	if !m.Reason.Valid() {
		return ErrInvalidReason
	}
	if m.QtyDelta.IsZero() {
		return ErrInvalidQuantity
	}
	if m.Reason.Outbound() && m.QtyDelta.IsPositive() {
		return ErrInvalidQuantity
	}
	if m.Reason.Inbound() && m.QtyDelta.IsNegative() {
		return ErrInvalidQuantity
	}
	if m.UnitCost.IsNegative() {
		return shared.NewError(shared.ErrValidation, "ledger: unit cost must be >= 0")
	}
	return nil
}

// newEntryID returns a time-ordered id so entries sharing a timestamp keep insertion order.
func newEntryID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
