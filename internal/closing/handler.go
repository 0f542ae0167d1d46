package closing

import (
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/rbac"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// HeaderContentSHA256 carries the hex digest of a downloaded archive.
const HeaderContentSHA256 = "X-Content-SHA256"

// Handler wires HTTP endpoints for period closing.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs closing handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermPeriodView))
		r.Get("/", h.listPeriods)
		r.Get("/{id}", h.getPeriod)
		r.Get("/{id}/events", h.listEvents)
		r.Get("/{id}/blockers", h.blockers)
		r.Get("/{id}/pre-close", h.preClose)
		r.Get("/{id}/snapshots", h.snapshots)
		r.Get("/{id}/summaries", h.summaries)
		r.Get("/{id}/reconciliation", h.reconciliation)
	})
	r.With(h.rbac.Require(shared.PermPeriodCreate)).Post("/", h.createPeriod)
	r.With(h.rbac.Require(shared.PermPeriodClose)).Post("/{id}/close", h.closePeriod)
	r.With(h.rbac.Require(shared.PermPeriodReopen)).Post("/{id}/reopen", h.reopen)
	r.With(h.rbac.Require(shared.PermPeriodReconcile)).Post("/{id}/reconcile", h.reconcile)
	r.With(h.rbac.Require(shared.PermPeriodPack)).Post("/{id}/pack", h.pack)
}

type periodRequest struct {
	BranchID  uuid.UUID  `json:"branchId" validate:"required"`
	Name      string     `json:"name" validate:"required,max=100"`
	StartDate httpx.Date `json:"startDate"`
	EndDate   httpx.Date `json:"endDate"`
}

type closeRequest struct {
	Override       bool   `json:"override"`
	OverrideReason string `json:"overrideReason" validate:"required_if=Override true,max=500"`
}

type reopenRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type reconcileRequest struct {
	GL        map[ReconCategory]decimal.Decimal `json:"gl" validate:"required"`
	Tolerance *decimal.Decimal                  `json:"tolerance"`
}

func (h *Handler) listPeriods(w http.ResponseWriter, r *http.Request) {
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
	page, err := httpx.PageQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := PeriodFilter{
		BranchID: branchID,
		Status:   PeriodStatus(strings.ToUpper(r.URL.Query().Get("status"))),
		Page:     page,
	}
	periods, err := h.service.ListPeriods(r.Context(), p.OrgID, filter)
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": periods})
}

func (h *Handler) getPeriod(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	period, err := h.service.GetPeriod(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "get period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	events, err := h.service.ListEvents(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "list period events", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) blockers(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	blockers, err := h.service.CheckBlockers(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "check blockers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"blockers": blockers})
}

func (h *Handler) preClose(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	res, err := h.service.PreCloseCheck(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "pre-close check", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) snapshots(w http.ResponseWriter, r *http.Request) {
	p, id, rev, ok := principalIDRevision(w, r)
	if !ok {
		return
	}
	snaps, err := h.service.Snapshots(r.Context(), p.OrgID, id, rev)
	if err != nil {
		h.fail(w, "list snapshots", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (h *Handler) summaries(w http.ResponseWriter, r *http.Request) {
	p, id, rev, ok := principalIDRevision(w, r)
	if !ok {
		return
	}
	sums, err := h.service.Summaries(r.Context(), p.OrgID, id, rev)
	if err != nil {
		h.fail(w, "list summaries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"summaries": sums})
}

func (h *Handler) reconciliation(w http.ResponseWriter, r *http.Request) {
	p, id, rev, ok := principalIDRevision(w, r)
	if !ok {
		return
	}
	report, err := h.service.Reconciliation(r.Context(), p.OrgID, id, rev)
	if err != nil {
		h.fail(w, "get reconciliation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) createPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req periodRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.CreatePeriod(r.Context(), p, CreatePeriodInput{
		BranchID:  req.BranchID,
		Name:      req.Name,
		StartDate: req.StartDate.Time,
		EndDate:   req.EndDate.Time,
	})
	if err != nil {
		h.fail(w, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, period)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	res, err := h.service.Close(r.Context(), p, id, CloseInput{Override: req.Override, OverrideReason: req.OverrideReason})
	if blockers, ok := IsBlocked(err); ok {
		httpx.JSON(w, http.StatusConflict, map[string]any{
			"title":    http.StatusText(http.StatusConflict),
			"status":   http.StatusConflict,
			"detail":   err.Error(),
			"blockers": blockers,
		})
		return
	}
	if err != nil {
		h.fail(w, "close period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	var req reopenRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	period, err := h.service.Reopen(r.Context(), p, id, req.Reason)
	if err != nil {
		h.fail(w, "reopen period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, period)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	var req reconcileRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Reconcile(r.Context(), p, id, ReconcileInput{GL: req.GL, Tolerance: req.Tolerance})
	if err != nil {
		h.fail(w, "reconcile period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

// pack streams the close pack archive. ?format=json answers with its metadata only.
func (h *Handler) pack(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	pack, err := h.service.BuildClosePack(r.Context(), p, id)
	if err != nil {
		h.fail(w, "build close pack", err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		httpx.JSON(w, http.StatusOK, pack)
		return
	}
	contentType := mime.TypeByExtension(path.Ext(pack.Filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+pack.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(pack.Body)))
	w.Header().Set(HeaderContentSHA256, pack.ContentHash)
	if pack.Location != "" {
		w.Header().Set("Content-Location", pack.Location)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pack.Body); err != nil {
		h.logger.Warn("write close pack", slog.String("period_id", id.String()), slog.Any("error", err))
	}
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

func principalIDRevision(w http.ResponseWriter, r *http.Request) (shared.Principal, uuid.UUID, int, bool) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return p, id, 0, false
	}
	rev, err := httpx.IntQuery(r, "revision", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return p, id, 0, false
	}
	return p, id, rev, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
