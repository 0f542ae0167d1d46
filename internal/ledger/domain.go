package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Reason enumerates why a ledger entry exists.
type Reason string

const (
	ReasonInitial           Reason = "INITIAL"
	ReasonPurchase          Reason = "PURCHASE"
	ReasonSale              Reason = "SALE"
	ReasonWastage           Reason = "WASTAGE"
	ReasonTransferIn        Reason = "TRANSFER_IN"
	ReasonTransferOut       Reason = "TRANSFER_OUT"
	ReasonProductionConsume Reason = "PRODUCTION_CONSUME"
	ReasonProductionProduce Reason = "PRODUCTION_PRODUCE"
	ReasonAdjustment        Reason = "ADJUSTMENT"
	ReasonCountVariance     Reason = "COUNT_VARIANCE"
)

// Reasons lists every reason in declaration order.
func Reasons() []Reason {
	return []Reason{
		ReasonInitial, ReasonPurchase, ReasonSale, ReasonWastage, ReasonTransferIn, ReasonTransferOut,
		ReasonProductionConsume, ReasonProductionProduce, ReasonAdjustment, ReasonCountVariance,
	}
}

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	for _, known := range Reasons() {
		if r == known {
			return true
		}
	}
	return false
}

// Outbound reports whether the reason only ever removes stock.
func (r Reason) Outbound() bool {
	switch r {
	case ReasonSale, ReasonWastage, ReasonTransferOut, ReasonProductionConsume:
		return true
	}
	return false
}

// Inbound reports whether the reason only ever adds stock.
func (r Reason) Inbound() bool {
	switch r {
	case ReasonInitial, ReasonPurchase, ReasonTransferIn, ReasonProductionProduce:
		return true
	}
	return false
}

// Entry is an immutable signed quantity change in base units.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	OrgID      uuid.UUID       `json:"orgId"`
	BranchID   uuid.UUID       `json:"branchId"`
	ItemID     uuid.UUID       `json:"itemId"`
	LocationID uuid.UUID       `json:"locationId"`
	QtyDelta   decimal.Decimal `json:"qtyDelta"`
	UnitCost   decimal.Decimal `json:"unitCost"`
	Reason     Reason          `json:"reason"`
	SourceType string          `json:"sourceType"`
	SourceID   uuid.UUID       `json:"sourceId"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Key identifies the stock position an entry moves.
type Key struct {
	ItemID     uuid.UUID
	LocationID uuid.UUID
}

func (k Key) String() string {
	return k.ItemID.String() + ":" + k.LocationID.String()
}

// SortKeys orders keys so concurrent writers lock rows in the same sequence.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
}

// Balance is the running total materialised next to the log.
type Balance struct {
	OrgID      uuid.UUID       `json:"orgId"`
	BranchID   uuid.UUID       `json:"branchId"`
	ItemID     uuid.UUID       `json:"itemId"`
	LocationID uuid.UUID       `json:"locationId"`
	Qty        decimal.Decimal `json:"qty"`
	EntryCount int64           `json:"entryCount"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Key returns the balance key.
func (b Balance) Key() Key {
	return Key{ItemID: b.ItemID, LocationID: b.LocationID}
}

// Movement is a requested stock change, QtyDelta signed in base units.
type Movement struct {
	BranchID   uuid.UUID
	ItemID     uuid.UUID
	LocationID uuid.UUID
	QtyDelta   decimal.Decimal
	UnitCost   decimal.Decimal
	Reason     Reason
	SourceType string
	SourceID   uuid.UUID
}

// Key returns the movement key.
func (m Movement) Key() Key {
	return Key{ItemID: m.ItemID, LocationID: m.LocationID}
}

// Filter narrows ListEntries. Zero values do not filter.
type Filter struct {
	BranchID   uuid.UUID
	ItemID     uuid.UUID
	LocationID uuid.UUID
	Reasons    []Reason
	SourceType string
	SourceID   uuid.UUID
	From       time.Time
	To         time.Time
	Limit      int
}

// Matches reports whether e passes f. Used by in-memory stores.
func (f Filter) Matches(e Entry) bool {
	if f.BranchID != uuid.Nil && e.BranchID != f.BranchID {
		return false
	}
	if f.ItemID != uuid.Nil && e.ItemID != f.ItemID {
		return false
	}
	if f.LocationID != uuid.Nil && e.LocationID != f.LocationID {
		return false
	}
	if f.SourceType != "" && e.SourceType != f.SourceType {
		return false
	}
	if f.SourceID != uuid.Nil && e.SourceID != f.SourceID {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	if len(f.Reasons) > 0 {
		for _, r := range f.Reasons {
			if e.Reason == r {
				return true
			}
		}
		return false
	}
	return true
}

// SortEntries orders entries by creation time then id.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})
}

// Sum adds the deltas of entries.
func Sum(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.QtyDelta)
	}
	return total
}

var (
	// ErrInsufficientStock indicates a removal exceeding on-hand; nothing was written.
	ErrInsufficientStock = shared.NewError(shared.ErrConflict, "ledger: insufficient stock")
	// ErrInvalidQuantity indicates a zero or wrongly signed quantity.
	ErrInvalidQuantity = shared.NewError(shared.ErrValidation, "ledger: invalid quantity")
	// ErrInvalidReason indicates an unknown reason code.
	ErrInvalidReason = shared.NewError(shared.ErrValidation, "ledger: invalid reason")
)

// InsufficientStockError details which position could not cover a removal.
type InsufficientStockError struct {
	ItemID     uuid.UUID
	LocationID uuid.UUID
	Requested  decimal.Decimal
	Available  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for item %s at %s: requested %s, available %s",
		e.ItemID, e.LocationID, e.Requested.String(), e.Available.String())
}

// Is matches ErrInsufficientStock and its kind.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock || target == shared.ErrConflict
}
