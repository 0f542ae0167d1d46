package documents

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Line is a document quantity recorded with the conversion it was entered under.
type Line struct {
	ItemID           uuid.UUID       `json:"itemId"`
	UOM              string          `json:"uom"`
	QtyInputUOM      decimal.Decimal `json:"qtyInputUom"`
	ConversionFactor decimal.Decimal `json:"conversionFactor"`
	QtyBase          decimal.Decimal `json:"qtyBase"`
}

// LineInput is a line as entered by a user.
type LineInput struct {
	ItemID uuid.UUID
	UOM    string
	Qty    decimal.Decimal
}

// PurchaseOrderLine is an ordered item.
type PurchaseOrderLine struct {
	Line
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	ReceivedBase decimal.Decimal `json:"receivedBase"`
}

// RemainingBase is the still-open ordered quantity in base units.
func (l PurchaseOrderLine) RemainingBase() decimal.Decimal {
	rem := l.QtyBase.Sub(l.ReceivedBase)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// PurchaseOrder orders stock from one vendor for one branch.
type PurchaseOrder struct {
	ID                uuid.UUID           `json:"id"`
	OrgID             uuid.UUID           `json:"orgId"`
	BranchID          uuid.UUID           `json:"branchId"`
	VendorID          uuid.UUID           `json:"vendorId"`
	Number            string              `json:"number"`
	Status            Status              `json:"status"`
	ExpectedDate      *time.Time          `json:"expectedDate"`
	Note              string              `json:"note"`
	Lines             []PurchaseOrderLine `json:"lines"`
	OptimizationRunID uuid.UUID           `json:"optimizationRunId"`
	CreatedBy         uuid.UUID           `json:"createdBy"`
	ApprovedBy        uuid.UUID           `json:"approvedBy"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

func (p PurchaseOrder) DocumentKind() Kind    { return KindPurchaseOrder }
func (p PurchaseOrder) DocumentID() uuid.UUID { return p.ID }
func (p PurchaseOrder) CurrentStatus() Status { return p.Status }

// OrderedBase sums the ordered base quantity of an item.
func (p PurchaseOrder) OrderedBase(itemID uuid.UUID) decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Lines {
		if l.ItemID == itemID {
			total = total.Add(l.QtyBase)
		}
	}
	return total
}

// ReceivedBase sums the received base quantity of an item.
func (p PurchaseOrder) ReceivedBase(itemID uuid.UUID) decimal.Decimal {
	total := decimal.Zero
	for _, l := range p.Lines {
		if l.ItemID == itemID {
			total = total.Add(l.ReceivedBase)
		}
	}
	return total
}

// FullyReceived reports whether every line has been received.
func (p PurchaseOrder) FullyReceived() bool {
	for _, l := range p.Lines {
		if l.RemainingBase().IsPositive() {
			return false
		}
	}
	return true
}

// ReceiptLine is a received item with its cost per input unit.
type ReceiptLine struct {
	Line
	UnitCost   decimal.Decimal `json:"unitCost"`
	LotNumber  string          `json:"lotNumber,omitempty"`
	ExpiryDate *time.Time      `json:"expiryDate,omitempty"`
}

// BaseUnitCost is the cost of one base unit.
func (l ReceiptLine) BaseUnitCost() decimal.Decimal {
	if !l.ConversionFactor.IsPositive() {
		return l.UnitCost
	}
	return l.UnitCost.DivRound(l.ConversionFactor, costPrecision)
}

// Receipt records goods arriving at a location, optionally against a purchase order.
type Receipt struct {
	ID              uuid.UUID     `json:"id"`
	OrgID           uuid.UUID     `json:"orgId"`
	BranchID        uuid.UUID     `json:"branchId"`
	LocationID      uuid.UUID     `json:"locationId"`
	VendorID        uuid.UUID     `json:"vendorId"`
	PurchaseOrderID uuid.UUID     `json:"purchaseOrderId"`
	Number          string        `json:"number"`
	Status          Status        `json:"status"`
	Lines           []ReceiptLine `json:"lines"`
	CreatedBy       uuid.UUID     `json:"createdBy"`
	PostedBy        uuid.UUID     `json:"postedBy"`
	PostedAt        *time.Time    `json:"postedAt"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func (r Receipt) DocumentKind() Kind    { return KindReceipt }
func (r Receipt) DocumentID() uuid.UUID { return r.ID }
func (r Receipt) CurrentStatus() Status { return r.Status }

// TransferLine moves an item between locations at a carried unit cost.
type TransferLine struct {
	Line
	UnitCost decimal.Decimal `json:"unitCost"`
}

// Transfer moves stock from a source location to a destination location.
type Transfer struct {
	ID               uuid.UUID      `json:"id"`
	OrgID            uuid.UUID      `json:"orgId"`
	Number           string         `json:"number"`
	SourceBranchID   uuid.UUID      `json:"sourceBranchId"`
	SourceLocationID uuid.UUID      `json:"sourceLocationId"`
	DestBranchID     uuid.UUID      `json:"destBranchId"`
	DestLocationID   uuid.UUID      `json:"destLocationId"`
	Status           Status         `json:"status"`
	Lines            []TransferLine `json:"lines"`
	CreatedBy        uuid.UUID      `json:"createdBy"`
	ShippedAt        *time.Time     `json:"shippedAt"`
	ReceivedAt       *time.Time     `json:"receivedAt"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func (t Transfer) DocumentKind() Kind    { return KindTransfer }
func (t Transfer) DocumentID() uuid.UUID { return t.ID }
func (t Transfer) CurrentStatus() Status { return t.Status }

// WasteDocument writes off stock at one location.
type WasteDocument struct {
	ID         uuid.UUID  `json:"id"`
	OrgID      uuid.UUID  `json:"orgId"`
	BranchID   uuid.UUID  `json:"branchId"`
	LocationID uuid.UUID  `json:"locationId"`
	Number     string     `json:"number"`
	Status     Status     `json:"status"`
	Reason     string     `json:"reason"`
	Lines      []Line     `json:"lines"`
	CreatedBy  uuid.UUID  `json:"createdBy"`
	PostedBy   uuid.UUID  `json:"postedBy"`
	PostedAt   *time.Time `json:"postedAt"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (w WasteDocument) DocumentKind() Kind    { return KindWaste }
func (w WasteDocument) DocumentID() uuid.UUID { return w.ID }
func (w WasteDocument) CurrentStatus() Status { return w.Status }

// ProductionBatch turns recipe ingredients into an output item at one location.
type ProductionBatch struct {
	ID              uuid.UUID       `json:"id"`
	OrgID           uuid.UUID       `json:"orgId"`
	BranchID        uuid.UUID       `json:"branchId"`
	LocationID      uuid.UUID       `json:"locationId"`
	Number          string          `json:"number"`
	Status          Status          `json:"status"`
	OutputItemID    uuid.UUID       `json:"outputItemId"`
	OutputQty       decimal.Decimal `json:"outputQty"`
	OutputLotNumber string          `json:"outputLotNumber"`
	OutputExpiry    *time.Time      `json:"outputExpiry"`
	OutputUnitCost  decimal.Decimal `json:"outputUnitCost"`
	Consumed        []Line          `json:"consumed"`
	CreatedBy       uuid.UUID       `json:"createdBy"`
	PostedBy        uuid.UUID       `json:"postedBy"`
	PostedAt        *time.Time      `json:"postedAt"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (p ProductionBatch) DocumentKind() Kind    { return KindProduction }
func (p ProductionBatch) DocumentID() uuid.UUID { return p.ID }
func (p ProductionBatch) CurrentStatus() Status { return p.Status }

// SoldLine is a line of a closed POS order.
type SoldLine struct {
	ItemID uuid.UUID       `json:"itemId"`
	Qty    decimal.Decimal `json:"qty"`
}

// ConsumedLine is an ingredient quantity taken from a location by a depletion.
type ConsumedLine struct {
	ItemID     uuid.UUID       `json:"itemId"`
	LocationID uuid.UUID       `json:"locationId"`
	QtyBase    decimal.Decimal `json:"qtyBase"`
}

// Depletion error codes.
const (
	ErrorCodeLocationUnresolved = "LOCATION_UNRESOLVED"
	ErrorCodeRecipeNotFound     = "RECIPE_NOT_FOUND"
	ErrorCodeInsufficientStock  = "INSUFFICIENT_STOCK"
	ErrorCodeInvalidUOM         = "INVALID_UOM"
)

// Depletion is the inventory consequence of one closed POS order.
type Depletion struct {
	ID           uuid.UUID      `json:"id"`
	OrgID        uuid.UUID      `json:"orgId"`
	BranchID     uuid.UUID      `json:"branchId"`
	OrderID      string         `json:"orderId"`
	Status       Status         `json:"status"`
	Lines        []SoldLine     `json:"lines"`
	Consumed     []ConsumedLine `json:"consumed"`
	ErrorCode    string         `json:"errorCode"`
	ErrorMessage string         `json:"errorMessage"`
	Attempts     int            `json:"attempts"`
	SkipReason   string         `json:"skipReason"`
	OccurredAt   time.Time      `json:"occurredAt"`
	PostedAt     *time.Time     `json:"postedAt"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

func (d Depletion) DocumentKind() Kind    { return KindDepletion }
func (d Depletion) DocumentID() uuid.UUID { return d.ID }
func (d Depletion) CurrentStatus() Status { return d.Status }

// OrderCloseEvent is published by the POS when an order closes.
type OrderCloseEvent struct {
	OrgID    uuid.UUID
	OrderID  string
	BranchID uuid.UUID
	Lines    []SoldLine
	ClosedAt time.Time
}

// PostResult is returned by every stock-moving action.
type PostResult struct {
	Kind           Kind              `json:"kind"`
	DocumentID     uuid.UUID         `json:"documentId"`
	Status         Status            `json:"status"`
	AlreadyPosted  bool              `json:"alreadyPosted"`
	EntriesCreated int               `json:"entriesCreated"`
	Entries        []ledger.Entry    `json:"entries"`
	Allocations    []lots.Allocation `json:"allocations"`
	Lots           []lots.Lot        `json:"lots"`
}

// ListFilter narrows document listings. Zero values do not filter.
type ListFilter struct {
	BranchID      uuid.UUID
	VendorID      uuid.UUID
	Statuses      []Status
	CreatedBefore time.Time
	Page          shared.Page

	// OptimizationRunID only applies to purchase orders.
	OptimizationRunID uuid.UUID
}

// StatusIn reports whether s is one of f.Statuses or the filter is empty.
func (f ListFilter) StatusIn(s Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, want := range f.Statuses {
		if s == want {
			return true
		}
	}
	return false
}

// OpenDocument is an unfinished document that blocks a period close.
type OpenDocument struct {
	Kind      Kind      `json:"kind"`
	ID        uuid.UUID `json:"id"`
	Number    string    `json:"number"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

var (
	// ErrOverReceipt indicates a receipt exceeding the ordered quantity.
	ErrOverReceipt = shared.NewError(shared.ErrUnprocessable, "documents: receipt exceeds ordered quantity")
	// ErrEmptyDocument indicates a document without lines.
	ErrEmptyDocument = shared.NewError(shared.ErrValidation, "documents: at least one line required")
)

// OverReceiptError details which item would be over-received.
type OverReceiptError struct {
	PurchaseOrderID uuid.UUID
	ItemID          uuid.UUID
	OrderedBase     decimal.Decimal
	ReceivedBase    decimal.Decimal
	AttemptedBase   decimal.Decimal
}

func (e *OverReceiptError) Error() string {
	return fmt.Sprintf("documents: over-receipt on %s for item %s: ordered %s, received %s, attempted %s",
		e.PurchaseOrderID, e.ItemID, e.OrderedBase.String(), e.ReceivedBase.String(), e.AttemptedBase.String())
}

// Is matches ErrOverReceipt and its kind.
func (e *OverReceiptError) Is(target error) bool {
	return target == ErrOverReceipt || target == shared.ErrUnprocessable
}

// costPrecision is the number of decimals kept for per-base-unit costs.
const costPrecision = 6

var numberPrefixes = map[Kind]string{
	KindPurchaseOrder: "PO",
	KindReceipt:       "GRN",
	KindTransfer:      "TRF",
	KindWaste:         "WST",
	KindProduction:    "PRD",
}

// DocumentNumber renders PREFIX-YYYYMMDD-XXXXXX for a document.
func DocumentNumber(kind Kind, id uuid.UUID, at time.Time) string {
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return fmt.Sprintf("%s-%s-%s", numberPrefixes[kind], at.UTC().Format("20060102"), hex[len(hex)-6:])
}
