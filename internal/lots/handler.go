package lots

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/rbac"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler wires HTTP endpoints for lot tracking.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs lots handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers lot routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermLotsView))
		r.Get("/", h.listLots)
		r.Get("/{id}", h.getLot)
		r.Get("/{id}/trace", h.trace)
	})
	r.With(h.rbac.Require(shared.PermLotsQuarantine)).Post("/{id}/quarantine", h.quarantine)
	r.With(h.rbac.Require(shared.PermLotsRelease)).Post("/{id}/release", h.release)
}

type transitionRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) listLots(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var filter Filter
	for _, q := range []struct {
		name string
		dst  *uuid.UUID
	}{{"branch_id", &filter.BranchID}, {"item_id", &filter.ItemID}, {"location_id", &filter.LocationID}} {
		if *q.dst, err = httpx.UUIDQuery(r, q.name); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	for _, raw := range r.URL.Query()["status"] {
		filter.Statuses = append(filter.Statuses, Status(strings.ToUpper(strings.TrimSpace(raw))))
	}
	filter.WithRemaining = r.URL.Query().Get("remaining") == "true"
	lots, err := h.service.ListLots(r.Context(), p.OrgID, filter)
	if err != nil {
		h.fail(w, "list lots", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": lots})
}

func (h *Handler) getLot(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	lot, err := h.service.GetLot(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "get lot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

func (h *Handler) trace(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	trace, err := h.service.Traceability(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "lot traceability", err)
		return
	}
	httpx.JSON(w, http.StatusOK, trace)
}

func (h *Handler) quarantine(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Quarantine)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Release)
}

type transitionFunc func(ctx context.Context, actorID, orgID, lotID uuid.UUID, reason string) (Lot, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transitionRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	lot, err := fn(r.Context(), p.UserID, p.OrgID, id, req.Reason)
	if err != nil {
		h.fail(w, "lot transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
