package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Source types of manual movements.
const (
	SourceAdjustment = "ADJUSTMENT"
	SourceInitial    = "INITIAL"
	SourceCount      = "COUNT"
)

// ManualPoster writes operator-entered movements. The implementation keeps lots of
// lot-tracked items in step with the log, so it lives with the document workflows.
type ManualPoster interface {
	PostAdjustment(ctx context.Context, actor shared.Principal, in AdjustmentInput) (ManualResult, error)
	PostInitial(ctx context.Context, actor shared.Principal, in InitialInput) (ManualResult, error)
	RecordCount(ctx context.Context, actor shared.Principal, in CountInput) (CountResult, error)
}

// LotDetails names the lot created when a manual movement adds lot-tracked stock.
type LotDetails struct {
	LotNumber  string     `json:"lotNumber"`
	ExpiryDate *time.Time `json:"expiryDate"`
}

// AdjustmentInput describes a manual signed correction.
type AdjustmentInput struct {
	ItemID     uuid.UUID
	LocationID uuid.UUID
	QtyDelta   decimal.Decimal
	UnitCost   decimal.Decimal
	Note       string
	// IdempotencyKey makes a retried request return the entry of the first one.
	IdempotencyKey string
	Lot            LotDetails
}

// InitialInput loads opening stock during onboarding.
type InitialInput struct {
	ItemID     uuid.UUID
	LocationID uuid.UUID
	Qty        decimal.Decimal
	UnitCost   decimal.Decimal
	Lot        LotDetails
}

// CountInput records a physical count.
type CountInput struct {
	ItemID     uuid.UUID
	LocationID uuid.UUID
	CountedQty decimal.Decimal
	Note       string
	Lot        LotDetails
}

// ManualResult reports a manual movement. LotIDs lists the lots created or drawn from.
type ManualResult struct {
	Entry         Entry       `json:"entry"`
	AlreadyPosted bool        `json:"alreadyPosted"`
	LotIDs        []uuid.UUID `json:"lotIds,omitempty"`
}

// CountResult reports the variance written for a count.
type CountResult struct {
	OnHand   decimal.Decimal `json:"onHand"`
	Counted  decimal.Decimal `json:"counted"`
	Variance decimal.Decimal `json:"variance"`
	Entry    *Entry          `json:"entry"`
	LotIDs   []uuid.UUID     `json:"lotIds,omitempty"`
}
