package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, orgID, id uuid.UUID) (Item, error)
	ListItems(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]Item, error)
	GetBranch(ctx context.Context, orgID, id uuid.UUID) (Branch, error)
	ListBranches(ctx context.Context, orgID uuid.UUID) ([]Branch, error)
	ListAllBranches(ctx context.Context) ([]Branch, error)
	GetLocation(ctx context.Context, orgID, id uuid.UUID) (Location, error)
	FindLocationByCode(ctx context.Context, orgID, branchID uuid.UUID, code string) (Location, error)
	ListLocations(ctx context.Context, orgID, branchID uuid.UUID) ([]Location, error)
	GetSupplierItem(ctx context.Context, orgID, vendorID, itemID uuid.UUID, uom string) (SupplierItem, error)
	ListSupplierItems(ctx context.Context, orgID uuid.UUID, filter SupplierItemFilter) ([]SupplierItem, error)
	GetRecipe(ctx context.Context, orgID, itemID uuid.UUID) (Recipe, error)
	FindDepletionMapping(ctx context.Context, orgID, branchID, itemID uuid.UUID) (DepletionMapping, error)
}

// TxRepository exposes transactional writes.
type TxRepository interface {
	InsertItem(ctx context.Context, item Item) error
	InsertBranch(ctx context.Context, branch Branch) error
	InsertLocation(ctx context.Context, loc Location) error
	SetBranchDefaultLocation(ctx context.Context, orgID, branchID, locationID uuid.UUID) error
	GetSupplierItemForUpdate(ctx context.Context, orgID, vendorID, itemID uuid.UUID, uom string) (SupplierItem, error)
	InsertSupplierItem(ctx context.Context, si SupplierItem) error
	UpdateSupplierItem(ctx context.Context, si SupplierItem) error
	SaveRecipe(ctx context.Context, recipe Recipe) error
	SaveDepletionMapping(ctx context.Context, m DepletionMapping) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages items, branches, locations and conversions.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

var oneFactor = decimal.NewFromInt(1)

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateItem registers an item.
func (s *Service) CreateItem(ctx context.Context, actorID uuid.UUID, in CreateItemInput) (Item, error) {
	item := Item{
		ID:           uuid.New(),
		OrgID:        in.OrgID,
		SKU:          NormalizeCode(in.SKU),
		Name:         in.Name,
		BaseUOM:      NormalizeCode(in.BaseUOM),
		LotTracked:   in.LotTracked,
		StandardCost: in.StandardCost,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	if item.OrgID == uuid.Nil || item.SKU == "" || item.BaseUOM == "" {
		return Item{}, shared.NewError(shared.ErrValidation, "catalog: org, sku and base uom required")
	}
	if item.StandardCost.IsNegative() {
		return Item{}, shared.NewError(shared.ErrValidation, "catalog: standard cost must be >= 0")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertItem(ctx, item)
	})
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, item.OrgID, actorID, "ITEM_CREATE", "item", item.ID, map[string]any{"sku": item.SKU})
	return item, nil
}

// GetItem returns an item of the org.
func (s *Service) GetItem(ctx context.Context, orgID, id uuid.UUID) (Item, error) {
	return s.repo.GetItem(ctx, orgID, id)
}

// ListItems lists items ordered by SKU.
func (s *Service) ListItems(ctx context.Context, orgID uuid.UUID, page shared.Page) ([]Item, error) {
	return s.repo.ListItems(ctx, orgID, page.Normalize())
}

// CreateBranch registers a branch with its timezone.
func (s *Service) CreateBranch(ctx context.Context, actorID uuid.UUID, in CreateBranchInput) (Branch, error) {
	if in.OrgID == uuid.Nil || NormalizeCode(in.Code) == "" {
		return Branch{}, shared.NewError(shared.ErrValidation, "catalog: org and code required")
	}
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return Branch{}, ErrInvalidTimezone
	}
	branch := Branch{ID: uuid.New(), OrgID: in.OrgID, Code: NormalizeCode(in.Code), Name: in.Name, Timezone: tz, CreatedAt: s.now().UTC()}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertBranch(ctx, branch)
	})
	if err != nil {
		return Branch{}, err
	}
	s.recordAudit(ctx, branch.OrgID, actorID, "BRANCH_CREATE", "branch", branch.ID, map[string]any{"code": branch.Code})
	return branch, nil
}

// GetBranch returns a branch of the org.
func (s *Service) GetBranch(ctx context.Context, orgID, id uuid.UUID) (Branch, error) {
	return s.repo.GetBranch(ctx, orgID, id)
}

// ListBranches lists branches of the org.
func (s *Service) ListBranches(ctx context.Context, orgID uuid.UUID) ([]Branch, error) {
	return s.repo.ListBranches(ctx, orgID)
}

// ListAllBranches lists branches across orgs for system jobs.
func (s *Service) ListAllBranches(ctx context.Context) ([]Branch, error) {
	return s.repo.ListAllBranches(ctx)
}

// CreateLocation registers a location inside a branch.
func (s *Service) CreateLocation(ctx context.Context, actorID uuid.UUID, in CreateLocationInput) (Location, error) {
	code := NormalizeCode(in.Code)
	if in.OrgID == uuid.Nil || in.BranchID == uuid.Nil || code == "" {
		return Location{}, shared.NewError(shared.ErrValidation, "catalog: org, branch and code required")
	}
	if _, err := s.repo.GetBranch(ctx, in.OrgID, in.BranchID); err != nil {
		return Location{}, err
	}
	if _, err := s.repo.FindLocationByCode(ctx, in.OrgID, in.BranchID, code); err == nil {
		return Location{}, ErrDuplicateCode
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Location{}, err
	}
	loc := Location{ID: uuid.New(), OrgID: in.OrgID, BranchID: in.BranchID, Code: code, Name: in.Name, CreatedAt: s.now().UTC()}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertLocation(ctx, loc); err != nil {
			return err
		}
		if in.Default {
			return tx.SetBranchDefaultLocation(ctx, loc.OrgID, loc.BranchID, loc.ID)
		}
		return nil
	})
	if err != nil {
		return Location{}, err
	}
	s.recordAudit(ctx, loc.OrgID, actorID, "LOCATION_CREATE", "location", loc.ID, map[string]any{"code": loc.Code, "default": in.Default})
	return loc, nil
}

// GetLocation returns a location of the org.
func (s *Service) GetLocation(ctx context.Context, orgID, id uuid.UUID) (Location, error) {
	return s.repo.GetLocation(ctx, orgID, id)
}

// FindLocationByCode looks a location up by its code within a branch.
func (s *Service) FindLocationByCode(ctx context.Context, orgID, branchID uuid.UUID, code string) (Location, error) {
	return s.repo.FindLocationByCode(ctx, orgID, branchID, NormalizeCode(code))
}

// ListLocations lists locations of a branch.
func (s *Service) ListLocations(ctx context.Context, orgID, branchID uuid.UUID) ([]Location, error) {
	return s.repo.ListLocations(ctx, orgID, branchID)
}

// UpsertSupplierItem registers a conversion or refreshes its vendor SKU and active flag.
// The factor of an existing (vendor, item, uom) pairing never changes.
func (s *Service) UpsertSupplierItem(ctx context.Context, actorID uuid.UUID, in SupplierItemInput) (SupplierItem, error) {
	uom := NormalizeCode(in.UOM)
	if in.OrgID == uuid.Nil || in.ItemID == uuid.Nil || uom == "" {
		return SupplierItem{}, shared.NewError(shared.ErrValidation, "catalog: org, item and uom required")
	}
	if !in.FactorToBase.IsPositive() {
		return SupplierItem{}, ErrInvalidFactor
	}
	item, err := s.repo.GetItem(ctx, in.OrgID, in.ItemID)
	if err != nil {
		return SupplierItem{}, err
	}
	if uom == item.BaseUOM && !in.FactorToBase.Equal(oneFactor) {
		return SupplierItem{}, ErrConversionImmutable
	}
	var saved SupplierItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetSupplierItemForUpdate(ctx, in.OrgID, in.VendorID, in.ItemID, uom)
		switch {
		case err == nil:
			if !existing.FactorToBase.Equal(in.FactorToBase) {
				return ErrConversionImmutable
			}
			existing.VendorSKU = in.VendorSKU
			existing.Active = true
			existing.UpdatedAt = s.now().UTC()
			saved = existing
			return tx.UpdateSupplierItem(ctx, existing)
		case errors.Is(err, shared.ErrNotFound):
			saved = SupplierItem{
				ID:           uuid.New(),
				OrgID:        in.OrgID,
				VendorID:     in.VendorID,
				ItemID:       in.ItemID,
				UOM:          uom,
				FactorToBase: in.FactorToBase,
				VendorSKU:    in.VendorSKU,
				Active:       true,
				UpdatedAt:    s.now().UTC(),
			}
			return tx.InsertSupplierItem(ctx, saved)
		default:
			return err
		}
	})
	if err != nil {
		return SupplierItem{}, err
	}
	s.recordAudit(ctx, saved.OrgID, actorID, "SUPPLIER_ITEM_UPSERT", "supplier_item", saved.ID, map[string]any{"uom": saved.UOM, "factor": saved.FactorToBase.String()})
	return saved, nil
}

// DeactivateSupplierItem retires a conversion. Existing documents keep their stored factor.
func (s *Service) DeactivateSupplierItem(ctx context.Context, actorID, orgID, vendorID, itemID uuid.UUID, uom string) (SupplierItem, error) {
	var saved SupplierItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetSupplierItemForUpdate(ctx, orgID, vendorID, itemID, NormalizeCode(uom))
		if err != nil {
			return err
		}
		existing.Active = false
		existing.UpdatedAt = s.now().UTC()
		saved = existing
		return tx.UpdateSupplierItem(ctx, existing)
	})
	if err != nil {
		return SupplierItem{}, err
	}
	s.recordAudit(ctx, orgID, actorID, "SUPPLIER_ITEM_DEACTIVATE", "supplier_item", saved.ID, nil)
	return saved, nil
}

// GetSupplierItem returns a registered conversion.
func (s *Service) GetSupplierItem(ctx context.Context, orgID, vendorID, itemID uuid.UUID, uom string) (SupplierItem, error) {
	return s.repo.GetSupplierItem(ctx, orgID, vendorID, itemID, NormalizeCode(uom))
}

// ListSupplierItems lists conversions.
func (s *Service) ListSupplierItems(ctx context.Context, orgID uuid.UUID, filter SupplierItemFilter) ([]SupplierItem, error) {
	return s.repo.ListSupplierItems(ctx, orgID, filter)
}

// SetRecipe replaces the ingredient list of an item.
func (s *Service) SetRecipe(ctx context.Context, actorID uuid.UUID, recipe Recipe) (Recipe, error) {
	if recipe.OrgID == uuid.Nil || recipe.ItemID == uuid.Nil {
		return Recipe{}, shared.NewError(shared.ErrValidation, "catalog: org and item required")
	}
	if _, err := s.repo.GetItem(ctx, recipe.OrgID, recipe.ItemID); err != nil {
		return Recipe{}, err
	}
	for i, ing := range recipe.Ingredients {
		if ing.IngredientItemID == uuid.Nil || !ing.QtyPerUnit.IsPositive() {
			return Recipe{}, shared.NewError(shared.ErrValidation, fmt.Sprintf("catalog: ingredient %d invalid", i))
		}
		if _, err := s.repo.GetItem(ctx, recipe.OrgID, ing.IngredientItemID); err != nil {
			return Recipe{}, err
		}
		recipe.Ingredients[i].UOM = NormalizeCode(ing.UOM)
	}
	recipe.UpdatedAt = s.now().UTC()
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SaveRecipe(ctx, recipe)
	}); err != nil {
		return Recipe{}, err
	}
	s.recordAudit(ctx, recipe.OrgID, actorID, "RECIPE_SET", "item", recipe.ItemID, map[string]any{"ingredients": len(recipe.Ingredients)})
	return recipe, nil
}

// Ingredients resolves the recipe of an item for depletion and production.
func (s *Service) Ingredients(ctx context.Context, orgID, itemID uuid.UUID) ([]RecipeIngredient, error) {
	recipe, err := s.repo.GetRecipe(ctx, orgID, itemID)
	if err != nil {
		return nil, err
	}
	return recipe.Ingredients, nil
}

// SetDepletionMapping routes sales depletion of an item (or all items when ItemID is nil) to a location.
func (s *Service) SetDepletionMapping(ctx context.Context, actorID uuid.UUID, m DepletionMapping) error {
	loc, err := s.repo.GetLocation(ctx, m.OrgID, m.LocationID)
	if err != nil {
		return err
	}
	if loc.BranchID != m.BranchID {
		return shared.NewError(shared.ErrValidation, "catalog: location belongs to another branch")
	}
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SaveDepletionMapping(ctx, m)
	}); err != nil {
		return err
	}
	s.recordAudit(ctx, m.OrgID, actorID, "DEPLETION_MAPPING_SET", "branch", m.BranchID, map[string]any{"item_id": m.ItemID.String(), "location_id": m.LocationID.String()})
	return nil
}

// DepletionMapping returns the mapping for an item, falling back to the branch-wide mapping.
func (s *Service) DepletionMapping(ctx context.Context, orgID, branchID, itemID uuid.UUID) (DepletionMapping, error) {
	m, err := s.repo.FindDepletionMapping(ctx, orgID, branchID, itemID)
	if err == nil || !errors.Is(err, shared.ErrNotFound) || itemID == uuid.Nil {
		return m, err
	}
	return s.repo.FindDepletionMapping(ctx, orgID, branchID, uuid.Nil)
}

func (s *Service) recordAudit(ctx context.Context, orgID, actorID uuid.UUID, action, entity string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{OrgID: orgID, ActorID: actorID, Action: action, Entity: entity, EntityID: id.String(), Meta: meta, At: s.now()})
}
