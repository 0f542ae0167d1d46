package lots

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Status is the lifecycle state of a lot.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusQuarantine Status = "QUARANTINE"
	StatusExpired    Status = "EXPIRED"
	StatusDepleted   Status = "DEPLETED"
)

// Lot is a received batch of one item at one location.
type Lot struct {
	ID           uuid.UUID       `json:"id"`
	OrgID        uuid.UUID       `json:"orgId"`
	BranchID     uuid.UUID       `json:"branchId"`
	ItemID       uuid.UUID       `json:"itemId"`
	LocationID   uuid.UUID       `json:"locationId"`
	LotNumber    string          `json:"lotNumber"`
	ReceivedQty  decimal.Decimal `json:"receivedQty"`
	RemainingQty decimal.Decimal `json:"remainingQty"`
	ExpiryDate   *time.Time      `json:"expiryDate"`
	Status       Status          `json:"status"`
	SourceType   string          `json:"sourceType"`
	SourceID     uuid.UUID       `json:"sourceId"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Allocatable reports whether the lot can serve consumption at now.
func (l Lot) Allocatable(now time.Time) bool {
	if l.Status != StatusActive || !l.RemainingQty.IsPositive() {
		return false
	}
	return l.ExpiryDate == nil || l.ExpiryDate.After(now)
}

// Allocation records a quantity drawn from a lot by a source document.
type Allocation struct {
	ID              uuid.UUID       `json:"id"`
	OrgID           uuid.UUID       `json:"orgId"`
	LotID           uuid.UUID       `json:"lotId"`
	AllocatedQty    decimal.Decimal `json:"allocatedQty"`
	SourceType      string          `json:"sourceType"`
	SourceID        uuid.UUID       `json:"sourceId"`
	AllocationOrder int             `json:"allocationOrder"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Request asks for qty of an item at a location.
type Request struct {
	OrgID      uuid.UUID
	ItemID     uuid.UUID
	LocationID uuid.UUID
	Qty        decimal.Decimal
	SourceType string
	SourceID   uuid.UUID
}

// Result lists allocations with the lots they touched, in allocation order.
type Result struct {
	Allocations []Allocation
	Lots        []Lot
}

// ReceiveInput creates a lot.
type ReceiveInput struct {
	OrgID      uuid.UUID
	BranchID   uuid.UUID
	ItemID     uuid.UUID
	LocationID uuid.UUID
	LotNumber  string
	Qty        decimal.Decimal
	ExpiryDate *time.Time
	SourceType string
	SourceID   uuid.UUID
}

// Filter narrows lot listings. Zero values do not filter.
type Filter struct {
	BranchID      uuid.UUID
	ItemID        uuid.UUID
	LocationID    uuid.UUID
	Statuses      []Status
	WithRemaining bool
}

// Matches reports whether l passes f.
func (f Filter) Matches(l Lot) bool {
	if f.BranchID != uuid.Nil && l.BranchID != f.BranchID {
		return false
	}
	if f.ItemID != uuid.Nil && l.ItemID != f.ItemID {
		return false
	}
	if f.LocationID != uuid.Nil && l.LocationID != f.LocationID {
		return false
	}
	if f.WithRemaining && !l.RemainingQty.IsPositive() {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if l.Status == s {
			return true
		}
	}
	return false
}

// SourceTotal aggregates allocations of one source type.
type SourceTotal struct {
	SourceType string          `json:"sourceType"`
	Qty        decimal.Decimal `json:"qty"`
}

// Trace is the full consumption history of a lot.
type Trace struct {
	Lot         Lot             `json:"lot"`
	Allocations []Allocation    `json:"allocations"`
	BySource    []SourceTotal   `json:"bySource"`
	Allocated   decimal.Decimal `json:"allocated"`
}

// SortFEFO orders lots earliest expiry first, no-expiry last, then created_at, then id.
func SortFEFO(lots []Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		switch {
		case a.ExpiryDate != nil && b.ExpiryDate != nil:
			if !a.ExpiryDate.Equal(*b.ExpiryDate) {
				return a.ExpiryDate.Before(*b.ExpiryDate)
			}
		case a.ExpiryDate != nil:
			return true
		case b.ExpiryDate != nil:
			return false
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

var (
	// ErrInvalidLotTransition indicates a status change the lot cannot make.
	ErrInvalidLotTransition = shared.NewError(shared.ErrConflict, "lots: invalid status transition")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = shared.NewError(shared.ErrValidation, "lots: quantity must be > 0")
)
