package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Item is a stock-keeping item recorded in its base unit.
type Item struct {
	ID           uuid.UUID       `json:"id"`
	OrgID        uuid.UUID       `json:"orgId"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	BaseUOM      string          `json:"baseUom"`
	LotTracked   bool            `json:"lotTracked"`
	StandardCost decimal.Decimal `json:"standardCost"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Branch groups locations and defines the local day boundary.
type Branch struct {
	ID                uuid.UUID `json:"id"`
	OrgID             uuid.UUID `json:"orgId"`
	Code              string    `json:"code"`
	Name              string    `json:"name"`
	Timezone          string    `json:"timezone"`
	DefaultLocationID uuid.UUID `json:"defaultLocationId"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Location returns the branch timezone, falling back to UTC.
func (b Branch) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Location is a storage or production place inside a branch.
type Location struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"orgId"`
	BranchID  uuid.UUID `json:"branchId"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// SupplierItem fixes the conversion of a vendor unit into the item's base unit.
// VendorID uuid.Nil denotes an item-level conversion usable with any vendor.
type SupplierItem struct {
	ID           uuid.UUID       `json:"id"`
	OrgID        uuid.UUID       `json:"orgId"`
	VendorID     uuid.UUID       `json:"vendorId"`
	ItemID       uuid.UUID       `json:"itemId"`
	UOM          string          `json:"uom"`
	FactorToBase decimal.Decimal `json:"factorToBase"`
	VendorSKU    string          `json:"vendorSku"`
	Active       bool            `json:"active"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// RecipeIngredient is one component consumed per unit of a sold or produced item.
type RecipeIngredient struct {
	IngredientItemID uuid.UUID       `json:"ingredientItemId"`
	QtyPerUnit       decimal.Decimal `json:"qtyPerUnit"`
	UOM              string          `json:"uom"`
}

// Recipe lists ingredients of an item.
type Recipe struct {
	OrgID       uuid.UUID          `json:"orgId"`
	ItemID      uuid.UUID          `json:"itemId"`
	Ingredients []RecipeIngredient `json:"ingredients"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// DepletionMapping routes sales of an item (or any item when ItemID is nil) in a branch to a location.
type DepletionMapping struct {
	OrgID      uuid.UUID `json:"orgId"`
	BranchID   uuid.UUID `json:"branchId"`
	ItemID     uuid.UUID `json:"itemId"`
	LocationID uuid.UUID `json:"locationId"`
}

// CreateItemInput describes a new item.
type CreateItemInput struct {
	OrgID        uuid.UUID
	SKU          string
	Name         string
	BaseUOM      string
	LotTracked   bool
	StandardCost decimal.Decimal
}

// CreateBranchInput describes a new branch.
type CreateBranchInput struct {
	OrgID    uuid.UUID
	Code     string
	Name     string
	Timezone string
}

// CreateLocationInput describes a new location. Default marks it as branch default.
type CreateLocationInput struct {
	OrgID    uuid.UUID
	BranchID uuid.UUID
	Code     string
	Name     string
	Default  bool
}

// SupplierItemInput describes a conversion to register.
type SupplierItemInput struct {
	OrgID        uuid.UUID
	VendorID     uuid.UUID
	ItemID       uuid.UUID
	UOM          string
	FactorToBase decimal.Decimal
	VendorSKU    string
}

// SupplierItemFilter narrows supplier item listings.
type SupplierItemFilter struct {
	VendorID   uuid.UUID
	ItemID     uuid.UUID
	ActiveOnly bool
}

var (
	// ErrConversionImmutable indicates an attempt to change a registered conversion factor.
	ErrConversionImmutable = shared.NewError(shared.ErrConflict, "catalog: conversion factor is immutable")
	// ErrInvalidFactor indicates a non-positive conversion factor.
	ErrInvalidFactor = shared.NewError(shared.ErrValidation, "catalog: conversion factor must be > 0")
	// ErrInvalidTimezone indicates an unknown IANA timezone.
	ErrInvalidTimezone = shared.NewError(shared.ErrValidation, "catalog: unknown timezone")
	// ErrDuplicateCode indicates a code already used in scope.
	ErrDuplicateCode = shared.NewError(shared.ErrConflict, "catalog: code already exists")
)

// NormalizeCode trims and upper-cases SKUs, unit and location codes.
// A Caser is stateful, so one is built per call.
func NormalizeCode(code string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}
