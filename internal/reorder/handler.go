package reorder

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/rbac"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for demand forecasting and reorder suggestions.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs reorder handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers reorder routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermReorderView))
		r.Get("/demand", h.demand)
		r.Get("/forecasts", h.listForecasts)
		r.Get("/policies", h.listPolicies)
		r.Get("/policies/{id}", h.getPolicy)
		r.Get("/runs", h.listRuns)
		r.Get("/runs/{id}", h.getRun)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermReorderPolicy))
		r.Put("/policies", h.upsertPolicy)
		r.Post("/policies/{id}/deactivate", h.deactivatePolicy)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermReorderRun))
		r.Post("/forecasts", h.generateForecast)
		r.Post("/runs", h.generateRun)
	})
	r.With(h.rbac.Require(shared.PermReorderDraftPOs)).Post("/runs/{id}/purchase-orders", h.draftPOs)
}

type policyRequest struct {
	ItemID            uuid.UUID       `json:"itemId" validate:"required"`
	BranchID          uuid.UUID       `json:"branchId"`
	ReorderPointQty   decimal.Decimal `json:"reorderPointBaseQty"`
	ReorderQty        decimal.Decimal `json:"reorderQtyBaseQty"`
	PreferredVendorID uuid.UUID       `json:"preferredVendorId"`
	LeadTimeDays      int             `json:"leadTimeDays" validate:"min=0,max=365"`
	SafetyStockDays   int             `json:"safetyStockDays" validate:"min=0,max=365"`
	Sizing            Sizing          `json:"sizing" validate:"required"`
}

type forecastRequest struct {
	BranchID    uuid.UUID   `json:"branchId" validate:"required"`
	WindowDays  int         `json:"windowDays"`
	HorizonDays int         `json:"horizonDays"`
	AsOf        *httpx.Date `json:"asOf"`
	ItemIDs     []uuid.UUID `json:"itemIds"`
}

type runRequest struct {
	BranchID    uuid.UUID   `json:"branchId" validate:"required"`
	HorizonDays int         `json:"horizonDays"`
	WindowDays  int         `json:"windowDays"`
	AsOf        *httpx.Date `json:"asOf"`
}

func (h *Handler) demand(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	branchID, err := httpx.UUIDQuery(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	window, err := httpx.IntQuery(r, "window", 28)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, err := httpx.DateQuery(r, "as_of")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if branchID == uuid.Nil {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, "reorder: branch_id required"))
		return
	}
	series, err := h.service.Demand(r.Context(), p.OrgID, branchID, window, asOf)
	if err != nil {
		h.fail(w, "demand", err)
		return
	}
	httpx.JSON(w, http.StatusOK, series)
}

func (h *Handler) listForecasts(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	branchID, err := httpx.UUIDQuery(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	asOf, err := httpx.DateQuery(r, "as_of")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	forecasts, err := h.service.ListForecasts(r.Context(), p.OrgID, branchID, asOf)
	if err != nil {
		h.fail(w, "list forecasts", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"forecasts": forecasts})
}

func (h *Handler) generateForecast(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req forecastRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	fr := ForecastRequest{BranchID: req.BranchID, WindowDays: req.WindowDays, HorizonDays: req.HorizonDays, ItemIDs: req.ItemIDs}
	if t := req.AsOf.Ptr(); t != nil {
		fr.AsOf = *t
	}
	res, err := h.service.GenerateForecastSnapshot(r.Context(), p, fr)
	if err != nil {
		h.fail(w, "generate forecast", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) listPolicies(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var filter PolicyFilter
	if filter.BranchID, err = httpx.UUIDQuery(r, "branch_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.ItemID, err = httpx.UUIDQuery(r, "item_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Page, err = httpx.PageQuery(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.ActiveOnly = r.URL.Query().Get("active") == "true"
	policies, err := h.service.ListPolicies(r.Context(), p.OrgID, filter)
	if err != nil {
		h.fail(w, "list policies", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"policies": policies})
}

func (h *Handler) getPolicy(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	policy, err := h.service.GetPolicy(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "get policy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) upsertPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req policyRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	policy, err := h.service.UpsertPolicy(r.Context(), p, PolicyInput{
		ItemID:            req.ItemID,
		BranchID:          req.BranchID,
		ReorderPointQty:   req.ReorderPointQty,
		ReorderQty:        req.ReorderQty,
		PreferredVendorID: req.PreferredVendorID,
		LeadTimeDays:      req.LeadTimeDays,
		SafetyStockDays:   req.SafetyStockDays,
		Sizing:            Sizing(strings.ToUpper(string(req.Sizing))),
	})
	if err != nil {
		h.fail(w, "upsert policy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) deactivatePolicy(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	policy, err := h.service.DeactivatePolicy(r.Context(), p, id)
	if err != nil {
		h.fail(w, "deactivate policy", err)
		return
	}
	httpx.JSON(w, http.StatusOK, policy)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var filter RunFilter
	if filter.BranchID, err = httpx.UUIDQuery(r, "branch_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.Page, err = httpx.PageQuery(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	runs, err := h.service.ListRuns(r.Context(), p.OrgID, filter)
	if err != nil {
		h.fail(w, "list runs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	run, err := h.service.GetRun(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "get run", err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

func (h *Handler) generateRun(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req runRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rr := RunRequest{BranchID: req.BranchID, HorizonDays: req.HorizonDays, WindowDays: req.WindowDays}
	if t := req.AsOf.Ptr(); t != nil {
		rr.AsOf = *t
	}
	res, err := h.service.GenerateOptimizationRun(r.Context(), p, rr)
	if err != nil {
		h.fail(w, "generate run", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) draftPOs(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	res, err := h.service.GenerateDraftPOs(r.Context(), p, id)
	if err != nil {
		h.fail(w, "generate draft purchase orders", err)
		return
	}
	status := http.StatusOK
	if res.IsNew {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, res)
}

func principalAndID(w http.ResponseWriter, r *http.Request) (shared.Principal, uuid.UUID, bool) {
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
