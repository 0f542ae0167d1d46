package closing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// PeriodStatus enumerates inventory period lifecycle stages.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = shared.PeriodStatusOpen
	PeriodStatusClosed PeriodStatus = shared.PeriodStatusClosed
)

// Period is a branch's inventory period. Start and end are calendar dates, both inclusive.
type Period struct {
	ID             uuid.UUID    `json:"id"`
	OrgID          uuid.UUID    `json:"orgId"`
	BranchID       uuid.UUID    `json:"branchId"`
	Name           string       `json:"name"`
	StartDate      time.Time    `json:"startDate"`
	EndDate        time.Time    `json:"endDate"`
	Status         PeriodStatus `json:"status"`
	Revision       int          `json:"revision"`
	ClosedAt       *time.Time   `json:"closedAt"`
	ClosedBy       uuid.UUID    `json:"closedBy"`
	OverrideReason string       `json:"overrideReason"`
	CreatedBy      uuid.UUID    `json:"createdBy"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Bounds returns the branch-local midnights enclosing the period: [from, to).
func (p Period) Bounds(loc *time.Location) (from, to time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	from = time.Date(p.StartDate.Year(), p.StartDate.Month(), p.StartDate.Day(), 0, 0, 0, 0, loc)
	to = time.Date(p.EndDate.Year(), p.EndDate.Month(), p.EndDate.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	return from.UTC(), to.UTC()
}

// CreatePeriodInput captures validation rules for new periods.
type CreatePeriodInput struct {
	BranchID  uuid.UUID
	Name      string
	StartDate time.Time
	EndDate   time.Time
}

// Validate ensures the create period input is coherent.
func (in CreatePeriodInput) Validate() error {
	if in.BranchID == uuid.Nil {
		return shared.NewError(shared.ErrValidation, "closing: branch required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return shared.NewError(shared.ErrValidation, "closing: start and end date required")
	}
	if dateOnly(in.StartDate).After(dateOnly(in.EndDate)) {
		return shared.NewError(shared.ErrValidation, "closing: start date cannot be after end date")
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodFilter narrows period listings.
type PeriodFilter struct {
	BranchID uuid.UUID
	Status   PeriodStatus
	Page     shared.Page
}

// CostSource tells where a snapshot's unit cost came from.
type CostSource string

const (
	CostSourceLedger   CostSource = "LEDGER"
	CostSourceStandard CostSource = "STANDARD"
)

// ValuationSnapshot is the closing quantity and value of one (item, location) for a period revision.
type ValuationSnapshot struct {
	ID         uuid.UUID       `json:"id"`
	OrgID      uuid.UUID       `json:"orgId"`
	PeriodID   uuid.UUID       `json:"periodId"`
	Revision   int             `json:"revision"`
	ItemID     uuid.UUID       `json:"itemId"`
	LocationID uuid.UUID       `json:"locationId"`
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unitCost"`
	CostSource CostSource      `json:"costSource"`
	TotalValue decimal.Decimal `json:"totalValue"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// MovementSummary rolls an item's ledger activity over a period revision.
// Removals are negative so Closing = Opening + every column.
type MovementSummary struct {
	ID                uuid.UUID       `json:"id"`
	OrgID             uuid.UUID       `json:"orgId"`
	PeriodID          uuid.UUID       `json:"periodId"`
	Revision          int             `json:"revision"`
	ItemID            uuid.UUID       `json:"itemId"`
	Opening           decimal.Decimal `json:"opening"`
	Receipts          decimal.Decimal `json:"receipts"`
	Sales             decimal.Decimal `json:"sales"`
	Waste             decimal.Decimal `json:"waste"`
	TransfersIn       decimal.Decimal `json:"transfersIn"`
	TransfersOut      decimal.Decimal `json:"transfersOut"`
	Adjustments       decimal.Decimal `json:"adjustments"`
	ProductionConsume decimal.Decimal `json:"productionConsume"`
	ProductionProduce decimal.Decimal `json:"productionProduce"`
	Closing           decimal.Decimal `json:"closing"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// Net is the sum of every movement column.
func (m MovementSummary) Net() decimal.Decimal {
	return m.Receipts.Add(m.Sales).Add(m.Waste).Add(m.TransfersIn).Add(m.TransfersOut).
		Add(m.Adjustments).Add(m.ProductionConsume).Add(m.ProductionProduce)
}

// BlockingState is an unfinished document preventing a clean close.
// Hard blockers cannot be overridden.
type BlockingState struct {
	Kind       documents.Kind   `json:"kind"`
	DocumentID uuid.UUID        `json:"documentId"`
	Number     string           `json:"number"`
	Status     documents.Status `json:"status"`
	Hard       bool             `json:"hard"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Warning codes raised by the pre-close check.
const (
	WarningExpiredLotStock     = "EXPIRED_LOT_STOCK"
	WarningQuarantinedLotStock = "QUARANTINED_LOT_STOCK"
	WarningZeroCost            = "ZERO_COST_ITEM"
)

// Warning flags data that closes cleanly but deserves review.
type Warning struct {
	Code       string          `json:"code"`
	ItemID     uuid.UUID       `json:"itemId"`
	LocationID uuid.UUID       `json:"locationId"`
	LotID      uuid.UUID       `json:"lotId"`
	Qty        decimal.Decimal `json:"qty"`
	Message    string          `json:"message"`
}

// CheckStatus is the outcome of one checklist line or of the whole pre-close check.
type CheckStatus string

const (
	CheckReady   CheckStatus = "READY"
	CheckBlocked CheckStatus = "BLOCKED"
	CheckWarning CheckStatus = "WARNING"
)

// ChecklistItem is one line of the pre-close checklist.
type ChecklistItem struct {
	Code   string      `json:"code"`
	Label  string      `json:"label"`
	Status CheckStatus `json:"status"`
	Count  int         `json:"count"`
}

// PreCloseResult summarises whether a period can close.
type PreCloseResult struct {
	PeriodID        uuid.UUID       `json:"periodId"`
	Status          CheckStatus     `json:"status"`
	OverrideAllowed bool            `json:"overrideAllowed"`
	Blockers        []BlockingState `json:"blockers"`
	Warnings        []Warning       `json:"warnings"`
	Checklist       []ChecklistItem `json:"checklist"`
}

// CloseInput controls a close.
type CloseInput struct {
	Override       bool
	OverrideReason string
}

// CloseResult is returned by Close.
type CloseResult struct {
	Period        Period              `json:"period"`
	AlreadyClosed bool                `json:"alreadyClosed"`
	OverrideUsed  bool                `json:"overrideUsed"`
	Snapshots     []ValuationSnapshot `json:"snapshots"`
	Summaries     []MovementSummary   `json:"summaries"`
}

// ReconCategory is a reconciled figure.
type ReconCategory string

const (
	ReconInventoryValue ReconCategory = "INVENTORY_VALUE"
	ReconCOGS           ReconCategory = "COGS"
	ReconWaste          ReconCategory = "WASTE"
	ReconPurchases      ReconCategory = "PURCHASES"
	ReconAdjustments    ReconCategory = "ADJUSTMENTS"
)

// ReconCategories lists categories in report order.
var ReconCategories = []ReconCategory{ReconInventoryValue, ReconCOGS, ReconWaste, ReconPurchases, ReconAdjustments}

// ReconStatus marks a line or report.
type ReconStatus string

const (
	ReconBalanced    ReconStatus = "BALANCED"
	ReconDiscrepancy ReconStatus = "DISCREPANCY"
)

// ReconLine compares one inventory-derived figure against the GL.
type ReconLine struct {
	Category  ReconCategory   `json:"category"`
	Inventory decimal.Decimal `json:"inventory"`
	GL        decimal.Decimal `json:"gl"`
	Variance  decimal.Decimal `json:"variance"`
	Status    ReconStatus     `json:"status"`
}

// ReconcileInput carries GL figures. A nil Tolerance uses the configured default.
type ReconcileInput struct {
	GL        map[ReconCategory]decimal.Decimal
	Tolerance *decimal.Decimal
}

// ReconciliationReport is persisted once per period revision; re-running replaces it.
type ReconciliationReport struct {
	ID        uuid.UUID       `json:"id"`
	OrgID     uuid.UUID       `json:"orgId"`
	PeriodID  uuid.UUID       `json:"periodId"`
	Revision  int             `json:"revision"`
	Tolerance decimal.Decimal `json:"tolerance"`
	Status    ReconStatus     `json:"status"`
	Lines     []ReconLine     `json:"lines"`
	CreatedBy uuid.UUID       `json:"createdBy"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EventType names a period event.
type EventType string

const (
	EventCreated         EventType = "CREATED"
	EventClosed          EventType = "CLOSED"
	EventReopened        EventType = "REOPENED"
	EventOverrideUsed    EventType = "OVERRIDE_USED"
	EventExportGenerated EventType = "EXPORT_GENERATED"
)

// PeriodEvent is an append-only record of period lifecycle changes.
type PeriodEvent struct {
	ID        uuid.UUID      `json:"id"`
	OrgID     uuid.UUID      `json:"orgId"`
	PeriodID  uuid.UUID      `json:"periodId"`
	Revision  int            `json:"revision"`
	Type      EventType      `json:"type"`
	ActorID   uuid.UUID      `json:"actorId"`
	Reason    string         `json:"reason"`
	Meta      map[string]any `json:"meta"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ClosePack is the archived evidence of a closed period revision.
type ClosePack struct {
	PeriodID    uuid.UUID `json:"periodId"`
	Revision    int       `json:"revision"`
	Filename    string    `json:"filename"`
	Body        []byte    `json:"-"`
	ContentHash string    `json:"contentHash"`
	Manifest    Manifest  `json:"manifest"`
	ObjectKey   string    `json:"objectKey"`
	Location    string    `json:"location"`
}

// Manifest describes the files of a close pack.
type Manifest struct {
	OrgID       uuid.UUID      `json:"org_id"`
	BranchID    uuid.UUID      `json:"branch_id"`
	PeriodID    uuid.UUID      `json:"period_id"`
	Revision    int            `json:"revision"`
	StartDate   string         `json:"start_date"`
	EndDate     string         `json:"end_date"`
	Files       []ManifestFile `json:"files"`
	ContentHash string         `json:"content_hash"`
}

// ManifestFile is one archived file.
type ManifestFile struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Bytes  int    `json:"bytes"`
}

var (
	// ErrPeriodOverlap indicates the requested period conflicts with an existing range.
	ErrPeriodOverlap = shared.NewError(shared.ErrConflict, "closing: period overlaps existing range")
	// ErrPeriodNotClosed indicates an action that needs a closed period.
	ErrPeriodNotClosed = shared.NewError(shared.ErrConflict, "closing: period is not closed")
	// ErrOverrideNotAllowed indicates hard blockers that an override cannot bypass.
	ErrOverrideNotAllowed = shared.NewError(shared.ErrUnprocessable, "closing: override not allowed with unprocessed depletions")
	// ErrReasonRequired indicates a privileged action without a reason.
	ErrReasonRequired = shared.NewError(shared.ErrValidation, "closing: reason required")
	// ErrCloseBlocked indicates open documents in the period.
	ErrCloseBlocked = shared.NewError(shared.ErrConflict, "closing: period has blocking documents")
)

// BlockedError lists the documents preventing a close.
type BlockedError struct {
	Blockers []BlockingState
}

func (e *BlockedError) Error() string {
	kinds := make([]string, 0, len(e.Blockers))
	for _, b := range e.Blockers {
		kinds = append(kinds, string(b.Kind)+" "+b.Number)
	}
	return fmt.Sprintf("closing: %d blocking documents: %s", len(e.Blockers), strings.Join(kinds, ", "))
}

// Is matches ErrCloseBlocked and its kind.
func (e *BlockedError) Is(target error) bool {
	return target == ErrCloseBlocked || target == shared.ErrConflict
}
