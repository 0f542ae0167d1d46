// Package uom converts quantities between vendor or recipe units and an item's base unit.
package uom

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ErrInvalidUOM indicates an unknown, inactive or malformed conversion.
var ErrInvalidUOM = shared.NewError(shared.ErrUnprocessable, "uom: invalid unit of measure")

// InvalidUOMError carries the pairing that failed to resolve.
type InvalidUOMError struct {
	ItemID   uuid.UUID
	VendorID uuid.UUID
	UOM      string
	Reason   string
}

func (e *InvalidUOMError) Error() string {
	return fmt.Sprintf("uom: invalid unit %q for item %s: %s", e.UOM, e.ItemID, e.Reason)
}

// Is matches ErrInvalidUOM and its kind.
func (e *InvalidUOMError) Is(target error) bool {
	return target == ErrInvalidUOM || target == shared.ErrUnprocessable
}

// divisionPrecision bounds intermediate division before the ceiling is applied.
const divisionPrecision = 18

// ToBase converts qty in a unit with the given factor to base units. The result is exact.
func ToBase(qty, factor decimal.Decimal) (decimal.Decimal, error) {
	if !factor.IsPositive() {
		return decimal.Zero, ErrInvalidUOM
	}
	return qty.Mul(factor), nil
}

// ToVendorUnit converts base units into whole vendor units, rounding up so suggestions never under-order.
func ToVendorUnit(qtyBase, factor decimal.Decimal) (decimal.Decimal, error) {
	if !factor.IsPositive() {
		return decimal.Zero, ErrInvalidUOM
	}
	units := qtyBase.DivRound(factor, divisionPrecision).Ceil()
	if units.Mul(factor).LessThan(qtyBase) {
		units = units.Add(decimal.NewFromInt(1))
	}
	return units, nil
}
