package reorder

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Sizing selects how a suggestion quantity is derived from the need.
type Sizing string

const (
	// SizingFixed orders the policy's reorder quantity.
	SizingFixed Sizing = "FIXED"
	// SizingGap orders exactly the computed need.
	SizingGap Sizing = "GAP"
)

// Policy holds replenishment settings of an item, for one branch or all branches (BranchID uuid.Nil).
type Policy struct {
	ID                uuid.UUID       `json:"id"`
	OrgID             uuid.UUID       `json:"orgId"`
	ItemID            uuid.UUID       `json:"itemId"`
	BranchID          uuid.UUID       `json:"branchId"`
	ReorderPointQty   decimal.Decimal `json:"reorderPointBaseQty"`
	ReorderQty        decimal.Decimal `json:"reorderQtyBaseQty"`
	PreferredVendorID uuid.UUID       `json:"preferredVendorId"`
	LeadTimeDays      int             `json:"leadTimeDays"`
	SafetyStockDays   int             `json:"safetyStockDays"`
	Sizing            Sizing          `json:"sizing"`
	Active            bool            `json:"active"`
	CreatedBy         uuid.UUID       `json:"createdBy"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// PolicyInput creates or replaces the active policy of (item, branch).
type PolicyInput struct {
	ItemID            uuid.UUID
	BranchID          uuid.UUID
	ReorderPointQty   decimal.Decimal
	ReorderQty        decimal.Decimal
	PreferredVendorID uuid.UUID
	LeadTimeDays      int
	SafetyStockDays   int
	Sizing            Sizing
}

// Validate checks the policy settings.
func (in PolicyInput) Validate() error {
	if in.ItemID == uuid.Nil {
		return shared.NewError(shared.ErrValidation, "reorder: item required")
	}
	if in.ReorderPointQty.IsNegative() || in.ReorderQty.IsNegative() {
		return shared.NewError(shared.ErrValidation, "reorder: quantities must be >= 0")
	}
	if in.LeadTimeDays < 0 || in.SafetyStockDays < 0 {
		return shared.NewError(shared.ErrValidation, "reorder: day counts must be >= 0")
	}
	switch in.Sizing {
	case SizingFixed:
		if !in.ReorderQty.IsPositive() {
			return shared.NewError(shared.ErrValidation, "reorder: fixed sizing needs a reorder quantity")
		}
	case SizingGap:
	default:
		return shared.NewError(shared.ErrValidation, "reorder: sizing must be FIXED or GAP")
	}
	return nil
}

// PolicyFilter narrows policy listings.
type PolicyFilter struct {
	BranchID   uuid.UUID
	ItemID     uuid.UUID
	ActiveOnly bool
	Page       shared.Page
}

// demandWindows are the supported trailing windows in days.
var demandWindows = map[int]bool{7: true, 14: true, 28: true}

// DemandPoint is one branch-local day of demand.
type DemandPoint struct {
	Day time.Time       `json:"day"`
	Qty decimal.Decimal `json:"qty"`
}

// ItemDemand is the zero-filled daily demand of one item.
type ItemDemand struct {
	ItemID uuid.UUID       `json:"itemId"`
	Points []DemandPoint   `json:"points"`
	Total  decimal.Decimal `json:"total"`
}

// DemandSeries is the trailing demand window of a branch ending at AsOf (inclusive).
type DemandSeries struct {
	BranchID   uuid.UUID    `json:"branchId"`
	WindowDays int          `json:"windowDays"`
	AsOf       time.Time    `json:"asOf"`
	Items      []ItemDemand `json:"items"`
	Cached     bool         `json:"-"`
}

// Item returns the demand of itemID, zero-filled when it had none.
func (d DemandSeries) Item(itemID uuid.UUID) ItemDemand {
	for _, it := range d.Items {
		if it.ItemID == itemID {
			return it
		}
	}
	points := make([]DemandPoint, d.WindowDays)
	start := d.AsOf.AddDate(0, 0, -(d.WindowDays - 1))
	for i := range points {
		points[i] = DemandPoint{Day: start.AddDate(0, 0, i), Qty: decimal.Zero}
	}
	return ItemDemand{ItemID: itemID, Points: points, Total: decimal.Zero}
}

// ForecastRequest asks for forecast snapshots of a branch.
type ForecastRequest struct {
	BranchID    uuid.UUID
	WindowDays  int
	HorizonDays int
	// AsOf is the last demand day; zero means yesterday in the branch timezone.
	AsOf time.Time
	// ItemIDs limits the forecast; empty means every item with demand or an active policy.
	ItemIDs []uuid.UUID
}

// ForecastSnapshot is the forecast of one item for fixed inputs.
type ForecastSnapshot struct {
	ID           uuid.UUID       `json:"id"`
	OrgID        uuid.UUID       `json:"orgId"`
	BranchID     uuid.UUID       `json:"branchId"`
	ItemID       uuid.UUID       `json:"itemId"`
	InputHash    string          `json:"inputHash"`
	WindowDays   int             `json:"windowDays"`
	HorizonDays  int             `json:"horizonDays"`
	AsOf         time.Time       `json:"asOf"`
	AvgDailyQty  decimal.Decimal `json:"avgDailyQty"`
	StdDevQty    decimal.Decimal `json:"stdDevQty"`
	ProjectedQty decimal.Decimal `json:"projectedQty"`
	LowerQty     decimal.Decimal `json:"lowerQty"`
	UpperQty     decimal.Decimal `json:"upperQty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// ForecastResult lists snapshots and how many were new.
type ForecastResult struct {
	Snapshots []ForecastSnapshot `json:"snapshots"`
	Created   int                `json:"created"`
	Existing  int                `json:"existing"`
}

// Reason codes explaining a suggestion line.
const (
	ReasonForecastDemand    = "FORECAST_DEMAND"
	ReasonSafetyStock       = "SAFETY_STOCK"
	ReasonNoDemandHistory   = "NO_DEMAND_HISTORY"
	ReasonBelowReorderPoint = "BELOW_REORDER_POINT"
	ReasonOnOrderCovers     = "ON_ORDER_COVERS_NEED"
	ReasonCoveredByStock    = "STOCK_COVERS_NEED"
	ReasonFixedQty          = "FIXED_QTY"
	ReasonGapQty            = "GAP_QTY"
	ReasonPackRounded       = "PACK_ROUNDED"
	ReasonNoPreferredVendor = "NO_PREFERRED_VENDOR"
)

// SuggestionLine is the evaluation of one policy within a run.
type SuggestionLine struct {
	PolicyID           uuid.UUID       `json:"policyId"`
	ItemID             uuid.UUID       `json:"itemId"`
	VendorID           uuid.UUID       `json:"vendorId"`
	OnHandQty          decimal.Decimal `json:"onHandQty"`
	OnOrderQty         decimal.Decimal `json:"onOrderQty"`
	AvgDailyQty        decimal.Decimal `json:"avgDailyQty"`
	TargetStockQty     decimal.Decimal `json:"targetStockQty"`
	NeedQty            decimal.Decimal `json:"needQty"`
	SuggestedBaseQty   decimal.Decimal `json:"suggestedBaseQty"`
	SuggestedVendorQty decimal.Decimal `json:"suggestedVendorQty"`
	VendorUOM          string          `json:"vendorUom"`
	PackFactor         decimal.Decimal `json:"packFactor"`
	ReasonCodes        []string        `json:"reasonCodes"`
	Explanation        string          `json:"explanation"`
}

// Orderable reports whether the line should become a purchase order line.
func (l SuggestionLine) Orderable() bool {
	return l.SuggestedBaseQty.IsPositive() && l.VendorID != uuid.Nil
}

// RunRequest asks for an optimization run of a branch.
type RunRequest struct {
	BranchID    uuid.UUID
	HorizonDays int
	// WindowDays is the demand window; zero means 28.
	WindowDays int
	AsOf       time.Time
}

// OptimizationRun is the set of suggestions for fixed inputs.
type OptimizationRun struct {
	ID               uuid.UUID        `json:"id"`
	OrgID            uuid.UUID        `json:"orgId"`
	BranchID         uuid.UUID        `json:"branchId"`
	InputHash        string           `json:"inputHash"`
	WindowDays       int              `json:"windowDays"`
	HorizonDays      int              `json:"horizonDays"`
	AsOf             time.Time        `json:"asOf"`
	Lines            []SuggestionLine `json:"lines"`
	PurchaseOrderIDs []uuid.UUID      `json:"purchaseOrderIds"`
	CreatedBy        uuid.UUID        `json:"createdBy"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// RunResult wraps a run with whether this call created it.
type RunResult struct {
	Run     OptimizationRun `json:"run"`
	Created bool            `json:"created"`
}

// DraftPOResult lists the purchase orders materialised from a run.
type DraftPOResult struct {
	RunID          uuid.UUID                 `json:"runId"`
	PurchaseOrders []documents.PurchaseOrder `json:"purchaseOrders"`
	IsNew          bool                      `json:"isNew"`
}

// RunFilter narrows run listings.
type RunFilter struct {
	BranchID uuid.UUID
	Page     shared.Page
}

var (
	// ErrPolicyNotFound indicates no active reorder policy applies.
	ErrPolicyNotFound = shared.NewError(shared.ErrNotFound, "reorder: no active policy")
	// ErrInvalidWindow indicates a demand window outside 7, 14 or 28 days.
	ErrInvalidWindow = shared.NewError(shared.ErrValidation, "reorder: window must be 7, 14 or 28 days")
	// ErrInvalidHorizon indicates a non-positive or oversized horizon.
	ErrInvalidHorizon = shared.NewError(shared.ErrValidation, "reorder: horizon must be between 1 and 365 days")
	// ErrNothingToOrder indicates a run without orderable lines.
	ErrNothingToOrder = shared.NewError(shared.ErrUnprocessable, "reorder: run has no orderable suggestions")
)

const maxHorizonDays = 365
