package ledger

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/rbac"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// HeaderIdempotencyKey deduplicates retried adjustments.
const HeaderIdempotencyKey = "Idempotency-Key"

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger  *slog.Logger
	service *Service
	manual  ManualPoster
	rbac    rbac.Middleware
}

// NewHandler constructs ledger handler. manual serves adjustments, counts and opening stock.
func NewHandler(logger *slog.Logger, service *Service, manual ManualPoster, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, manual: manual, rbac: rbac}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermLedgerView))
		r.Get("/on-hand", h.onHand)
		r.Get("/entries", h.listEntries)
		r.Get("/verify", h.verify)
	})
	r.With(h.rbac.Require(shared.PermLedgerAdjust)).Post("/adjustments", h.postAdjustment)
	r.With(h.rbac.Require(shared.PermLedgerInit)).Post("/initial", h.postInitial)
	r.With(h.rbac.Require(shared.PermLedgerCount)).Post("/counts", h.recordCount)
}

type lotRequest struct {
	LotNumber  string     `json:"lotNumber" validate:"max=64"`
	ExpiryDate *time.Time `json:"expiryDate"`
}

func (l lotRequest) details() LotDetails {
	return LotDetails{LotNumber: strings.TrimSpace(l.LotNumber), ExpiryDate: l.ExpiryDate}
}

type adjustmentRequest struct {
	lotRequest
	ItemID     uuid.UUID       `json:"itemId" validate:"required"`
	LocationID uuid.UUID       `json:"locationId" validate:"required"`
	QtyDelta   decimal.Decimal `json:"qtyDelta"`
	UnitCost   decimal.Decimal `json:"unitCost"`
	Note       string          `json:"note" validate:"required,max=500"`
}

type initialRequest struct {
	lotRequest
	ItemID     uuid.UUID       `json:"itemId" validate:"required"`
	LocationID uuid.UUID       `json:"locationId" validate:"required"`
	Qty        decimal.Decimal `json:"qty"`
	UnitCost   decimal.Decimal `json:"unitCost"`
}

type countRequest struct {
	lotRequest
	ItemID     uuid.UUID       `json:"itemId" validate:"required"`
	LocationID uuid.UUID       `json:"locationId" validate:"required"`
	CountedQty decimal.Decimal `json:"countedQty"`
	Note       string          `json:"note" validate:"max=500"`
}

// onHand answers for one key when location_id is given, otherwise lists branch positions.
func (h *Handler) onHand(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ids, err := uuidQueries(r, "item_id", "location_id", "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, locationID, branchID := ids[0], ids[1], ids[2]
	switch {
	case locationID != uuid.Nil && itemID != uuid.Nil:
		qty, err := h.service.OnHand(r.Context(), p.OrgID, itemID, locationID)
		if err != nil {
			h.fail(w, "on hand", err)
			return
		}
		httpx.JSON(w, http.StatusOK, Balance{OrgID: p.OrgID, ItemID: itemID, LocationID: locationID, Qty: qty})
	case branchID != uuid.Nil:
		positions, err := h.service.OnHandByBranch(r.Context(), p.OrgID, branchID, itemID)
		if err != nil {
			h.fail(w, "on hand by branch", err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"positions": positions})
	default:
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, "ledger: item_id with location_id, or branch_id, required"))
	}
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ids, err := uuidQueries(r, "branch_id", "item_id", "location_id", "source_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	from, err := httpx.DateQuery(r, "from")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := httpx.DateQuery(r, "to")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.IntQuery(r, "limit", 500)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := Filter{
		BranchID:   ids[0],
		ItemID:     ids[1],
		LocationID: ids[2],
		SourceID:   ids[3],
		SourceType: r.URL.Query().Get("source_type"),
		From:       from,
		To:         to,
		Limit:      limit,
	}
	for _, raw := range r.URL.Query()["reason"] {
		filter.Reasons = append(filter.Reasons, Reason(strings.ToUpper(strings.TrimSpace(raw))))
	}
	entries, err := h.service.ListEntries(r.Context(), p.OrgID, filter)
	if err != nil {
		h.fail(w, "list entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ids, err := uuidQueries(r, "item_id", "location_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if ids[0] == uuid.Nil || ids[1] == uuid.Nil {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, "ledger: item_id and location_id required"))
		return
	}
	v, err := h.service.Verify(r.Context(), p.OrgID, ids[0], ids[1])
	if err != nil {
		h.fail(w, "verify", err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.manual.PostAdjustment(r.Context(), p, AdjustmentInput{
		ItemID:         req.ItemID,
		LocationID:     req.LocationID,
		QtyDelta:       req.QtyDelta,
		UnitCost:       req.UnitCost,
		Note:           req.Note,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey)),
		Lot:            req.details(),
	})
	if err != nil {
		h.fail(w, "post adjustment", err)
		return
	}
	status := http.StatusCreated
	if res.AlreadyPosted {
		status = http.StatusOK
	}
	httpx.JSON(w, status, res)
}

func (h *Handler) postInitial(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req initialRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.manual.PostInitial(r.Context(), p, InitialInput{
		ItemID:     req.ItemID,
		LocationID: req.LocationID,
		Qty:        req.Qty,
		UnitCost:   req.UnitCost,
		Lot:        req.details(),
	})
	if err != nil {
		h.fail(w, "post initial", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) recordCount(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req countRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.manual.RecordCount(r.Context(), p, CountInput{
		ItemID:     req.ItemID,
		LocationID: req.LocationID,
		CountedQty: req.CountedQty,
		Note:       req.Note,
		Lot:        req.details(),
	})
	if err != nil {
		h.fail(w, "record count", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func uuidQueries(r *http.Request, names ...string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(names))
	for i, name := range names {
		id, err := httpx.UUIDQuery(r, name)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
