package lots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// TxRepository exposes lot writes on an open transaction.
type TxRepository interface {
	// LockCandidateLots returns allocatable lots in FEFO order, row-locked.
	LockCandidateLots(ctx context.Context, orgID, itemID, locationID uuid.UUID, now time.Time) ([]Lot, error)
	LockLot(ctx context.Context, orgID, id uuid.UUID) (Lot, error)
	InsertLot(ctx context.Context, lot Lot) error
	UpdateLot(ctx context.Context, lot Lot) error
	InsertAllocations(ctx context.Context, allocations []Allocation) error
	ListAllocationsBySource(ctx context.Context, orgID uuid.UUID, sourceType string, sourceID uuid.UUID) ([]Allocation, error)
}

// Allocate draws req.Qty from lots earliest-expiry first.
// The full plan is computed before writing, so a shortfall leaves every lot untouched.
func Allocate(ctx context.Context, tx TxRepository, req Request, now time.Time) (Result, error) {
	if req.OrgID == uuid.Nil || req.ItemID == uuid.Nil || req.LocationID == uuid.Nil {
		return Result{}, shared.NewError(shared.ErrValidation, "lots: org, item and location required")
	}
	if !req.Qty.IsPositive() {
		return Result{}, ErrInvalidQuantity
	}
	candidates, err := tx.LockCandidateLots(ctx, req.OrgID, req.ItemID, req.LocationID, now)
	if err != nil {
		return Result{}, err
	}
	SortFEFO(candidates)

	need := req.Qty
	available := decimal.Zero
	var plan []Lot
	var takes []decimal.Decimal
	for _, lot := range candidates {
		if !lot.Allocatable(now) {
			continue
		}
		available = available.Add(lot.RemainingQty)
		if need.IsZero() {
			continue
		}
		take := decimal.Min(lot.RemainingQty, need)
		need = need.Sub(take)
		plan = append(plan, lot)
		takes = append(takes, take)
	}
	if need.IsPositive() {
		return Result{}, &ledger.InsufficientStockError{ItemID: req.ItemID, LocationID: req.LocationID, Requested: req.Qty, Available: available}
	}

	at := now.UTC()
	res := Result{Allocations: make([]Allocation, 0, len(plan)), Lots: make([]Lot, 0, len(plan))}
	for i, lot := range plan {
		lot.RemainingQty = lot.RemainingQty.Sub(takes[i])
		if lot.RemainingQty.IsZero() {
			lot.Status = StatusDepleted
		}
		lot.UpdatedAt = at
		if err := tx.UpdateLot(ctx, lot); err != nil {
			return Result{}, err
		}
		res.Lots = append(res.Lots, lot)
		res.Allocations = append(res.Allocations, Allocation{
			ID:              uuid.New(),
			OrgID:           req.OrgID,
			LotID:           lot.ID,
			AllocatedQty:    takes[i],
			SourceType:      req.SourceType,
			SourceID:        req.SourceID,
			AllocationOrder: i + 1,
			CreatedAt:       at,
		})
	}
	if err := tx.InsertAllocations(ctx, res.Allocations); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Receive creates an ACTIVE lot. An empty lot number is derived from the source.
func Receive(ctx context.Context, tx TxRepository, in ReceiveInput, now time.Time) (Lot, error) {
	if in.OrgID == uuid.Nil || in.ItemID == uuid.Nil || in.LocationID == uuid.Nil {
		return Lot{}, shared.NewError(shared.ErrValidation, "lots: org, item and location required")
	}
	if !in.Qty.IsPositive() {
		return Lot{}, ErrInvalidQuantity
	}
	number := strings.TrimSpace(in.LotNumber)
	if number == "" {
		number = DefaultLotNumber(in.SourceType, in.SourceID, now)
	}
	at := now.UTC()
	lot := Lot{
		ID:           uuid.New(),
		OrgID:        in.OrgID,
		BranchID:     in.BranchID,
		ItemID:       in.ItemID,
		LocationID:   in.LocationID,
		LotNumber:    number,
		ReceivedQty:  in.Qty,
		RemainingQty: in.Qty,
		ExpiryDate:   normalizeExpiry(in.ExpiryDate),
		Status:       StatusActive,
		SourceType:   in.SourceType,
		SourceID:     in.SourceID,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	if err := tx.InsertLot(ctx, lot); err != nil {
		return Lot{}, err
	}
	return lot, nil
}

// DefaultLotNumber builds SOURCE-YYYYMMDD-xxxxxxxx.
func DefaultLotNumber(sourceType string, sourceID uuid.UUID, now time.Time) string {
	prefix := strings.ToUpper(sourceType)
	if prefix == "" {
		prefix = "LOT"
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102"), strings.ToUpper(sourceID.String()[:8]))
}

func normalizeExpiry(d *time.Time) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	v := d.UTC()
	return &v
}
