package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/rbac"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for the catalog module.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermCatalogView))
		r.Get("/items", h.listItems)
		r.Get("/items/{id}", h.getItem)
		r.Get("/items/{id}/recipe", h.getRecipe)
		r.Get("/branches", h.listBranches)
		r.Get("/branches/{id}", h.getBranch)
		r.Get("/branches/{id}/locations", h.listLocations)
		r.Get("/locations/{id}", h.getLocation)
		r.Get("/supplier-items", h.listSupplierItems)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermCatalogManage))
		r.Post("/items", h.createItem)
		r.Put("/items/{id}/recipe", h.setRecipe)
		r.Post("/branches", h.createBranch)
		r.Post("/branches/{id}/locations", h.createLocation)
		r.Put("/branches/{id}/depletion-mappings", h.setDepletionMapping)
		r.Put("/supplier-items", h.upsertSupplierItem)
		r.Post("/supplier-items/deactivate", h.deactivateSupplierItem)
	})
}

type itemRequest struct {
	SKU          string          `json:"sku" validate:"required,max=64"`
	Name         string          `json:"name" validate:"required,max=200"`
	BaseUOM      string          `json:"baseUom" validate:"required,max=16"`
	LotTracked   bool            `json:"lotTracked"`
	StandardCost decimal.Decimal `json:"standardCost"`
}

type branchRequest struct {
	Code     string `json:"code" validate:"required,max=32"`
	Name     string `json:"name" validate:"required,max=200"`
	Timezone string `json:"timezone" validate:"required"`
}

type locationRequest struct {
	Code    string `json:"code" validate:"required,max=32"`
	Name    string `json:"name" validate:"required,max=200"`
	Default bool   `json:"default"`
}

// VendorID empty registers an item-level conversion.
type supplierItemRequest struct {
	VendorID     uuid.UUID       `json:"vendorId"`
	ItemID       uuid.UUID       `json:"itemId" validate:"required"`
	UOM          string          `json:"uom" validate:"required,max=16"`
	FactorToBase decimal.Decimal `json:"factorToBase"`
	VendorSKU    string          `json:"vendorSku"`
}

type supplierItemKey struct {
	VendorID uuid.UUID `json:"vendorId"`
	ItemID   uuid.UUID `json:"itemId" validate:"required"`
	UOM      string    `json:"uom" validate:"required"`
}

type recipeRequest struct {
	Ingredients []RecipeIngredient `json:"ingredients" validate:"required,min=1"`
}

type mappingRequest struct {
	// ItemID empty routes every item of the branch.
	ItemID     uuid.UUID `json:"itemId"`
	LocationID uuid.UUID `json:"locationId" validate:"required"`
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := httpx.PageQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListItems(r.Context(), p.OrgID, page)
	if err != nil {
		h.fail(w, "list items", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "get item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req itemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), p.UserID, CreateItemInput{
		OrgID:        p.OrgID,
		SKU:          req.SKU,
		Name:         req.Name,
		BaseUOM:      req.BaseUOM,
		LotTracked:   req.LotTracked,
		StandardCost: req.StandardCost,
	})
	if err != nil {
		h.fail(w, "create item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) getRecipe(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	ingredients, err := h.service.Ingredients(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "get recipe", err)
		return
	}
	httpx.JSON(w, http.StatusOK, Recipe{OrgID: p.OrgID, ItemID: id, Ingredients: ingredients})
}

func (h *Handler) setRecipe(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	var req recipeRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	recipe, err := h.service.SetRecipe(r.Context(), p.UserID, Recipe{OrgID: p.OrgID, ItemID: id, Ingredients: req.Ingredients})
	if err != nil {
		h.fail(w, "set recipe", err)
		return
	}
	httpx.JSON(w, http.StatusOK, recipe)
}

func (h *Handler) listBranches(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	branches, err := h.service.ListBranches(r.Context(), p.OrgID)
	if err != nil {
		h.fail(w, "list branches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (h *Handler) getBranch(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	branch, err := h.service.GetBranch(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "get branch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, branch)
}

func (h *Handler) createBranch(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req branchRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	branch, err := h.service.CreateBranch(r.Context(), p.UserID, CreateBranchInput{OrgID: p.OrgID, Code: req.Code, Name: req.Name, Timezone: req.Timezone})
	if err != nil {
		h.fail(w, "create branch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, branch)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	locations, err := h.service.ListLocations(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "list locations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"locations": locations})
}

func (h *Handler) getLocation(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	loc, err := h.service.GetLocation(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "get location", err)
		return
	}
	httpx.JSON(w, http.StatusOK, loc)
}

func (h *Handler) createLocation(w http.ResponseWriter, r *http.Request) {
	p, branchID, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	loc, err := h.service.CreateLocation(r.Context(), p.UserID, CreateLocationInput{
		OrgID:    p.OrgID,
		BranchID: branchID,
		Code:     req.Code,
		Name:     req.Name,
		Default:  req.Default,
	})
	if err != nil {
		h.fail(w, "create location", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loc)
}

func (h *Handler) setDepletionMapping(w http.ResponseWriter, r *http.Request) {
	p, branchID, ok := h.principalAndID(w, r)
	if !ok {
		return
	}
	var req mappingRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	m := DepletionMapping{OrgID: p.OrgID, BranchID: branchID, ItemID: req.ItemID, LocationID: req.LocationID}
	if err := h.service.SetDepletionMapping(r.Context(), p.UserID, m); err != nil {
		h.fail(w, "set depletion mapping", err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) listSupplierItems(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	vendorID, err := httpx.UUIDQuery(r, "vendor_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.UUIDQuery(r, "item_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := SupplierItemFilter{VendorID: vendorID, ItemID: itemID, ActiveOnly: r.URL.Query().Get("active") == "true"}
	items, err := h.service.ListSupplierItems(r.Context(), p.OrgID, filter)
	if err != nil {
		h.fail(w, "list supplier items", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"supplierItems": items})
}

func (h *Handler) upsertSupplierItem(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req supplierItemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	si, err := h.service.UpsertSupplierItem(r.Context(), p.UserID, SupplierItemInput{
		OrgID:        p.OrgID,
		VendorID:     req.VendorID,
		ItemID:       req.ItemID,
		UOM:          req.UOM,
		FactorToBase: req.FactorToBase,
		VendorSKU:    req.VendorSKU,
	})
	if err != nil {
		h.fail(w, "upsert supplier item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, si)
}

func (h *Handler) deactivateSupplierItem(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req supplierItemKey
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	si, err := h.service.DeactivateSupplierItem(r.Context(), p.UserID, p.OrgID, req.VendorID, req.ItemID, req.UOM)
	if err != nil {
		h.fail(w, "deactivate supplier item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, si)
}

func (h *Handler) principalAndID(w http.ResponseWriter, r *http.Request) (shared.Principal, uuid.UUID, bool) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Principal{}, uuid.Nil, false
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Principal{}, uuid.Nil, false
	}
	return p, id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
