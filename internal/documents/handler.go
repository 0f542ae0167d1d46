package documents

import (
	"context"
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

// Handler wires HTTP endpoints for stock documents.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs documents handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers document routes. Transition permissions are re-checked by the workflow.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/purchase-orders", func(r chi.Router) {
		r.With(h.rbac.Require(shared.PermPOView)).Get("/", h.listPurchaseOrders)
		r.With(h.rbac.Require(shared.PermPOView)).Get("/{id}", h.getPurchaseOrder)
		r.With(h.rbac.Require(shared.PermPOCreate)).Post("/", h.createPurchaseOrder)
		r.With(h.rbac.Require(shared.PermPOCreate)).Put("/{id}/lines", h.updatePurchaseOrderLines)
		r.With(h.rbac.Require(shared.PermPOSubmit)).Post("/{id}/submit", transition(h, h.service.SubmitPurchaseOrder))
		r.With(h.rbac.Require(shared.PermPOApprove)).Post("/{id}/approve", transition(h, h.service.ApprovePurchaseOrder))
		r.With(h.rbac.Require(shared.PermPOCancel)).Post("/{id}/cancel", transition(h, h.service.CancelPurchaseOrder))
	})
	r.Route("/receipts", func(r chi.Router) {
		r.With(h.rbac.Require(shared.PermReceiptView)).Get("/", h.listReceipts)
		r.With(h.rbac.Require(shared.PermReceiptView)).Get("/{id}", h.getReceipt)
		r.With(h.rbac.Require(shared.PermReceiptCreate)).Post("/", h.createReceipt)
		r.With(h.rbac.Require(shared.PermReceiptCreate)).Put("/{id}/lines", h.updateReceiptLines)
		r.With(h.rbac.Require(shared.PermReceiptPost)).Post("/{id}/post", transition(h, h.service.PostReceipt))
	})
	r.Route("/transfers", func(r chi.Router) {
		r.With(h.rbac.Require(shared.PermTransferView)).Get("/", h.listTransfers)
		r.With(h.rbac.Require(shared.PermTransferView)).Get("/{id}", h.getTransfer)
		r.With(h.rbac.Require(shared.PermTransferCreate)).Post("/", h.createTransfer)
		r.With(h.rbac.Require(shared.PermTransferCreate)).Put("/{id}/lines", h.updateTransferLines)
		r.With(h.rbac.Require(shared.PermTransferShip)).Post("/{id}/ship", transition(h, h.service.ShipTransfer))
		r.With(h.rbac.Require(shared.PermTransferReceive)).Post("/{id}/receive", transition(h, h.service.ReceiveTransfer))
		r.With(h.rbac.Require(shared.PermTransferVoid)).Post("/{id}/void", transition(h, h.service.VoidTransfer))
	})
	r.Route("/waste", func(r chi.Router) {
		r.With(h.rbac.Require(shared.PermWasteView)).Get("/", h.listWaste)
		r.With(h.rbac.Require(shared.PermWasteView)).Get("/{id}", h.getWaste)
		r.With(h.rbac.Require(shared.PermWasteCreate)).Post("/", h.createWaste)
		r.With(h.rbac.Require(shared.PermWasteCreate)).Put("/{id}/lines", h.updateWasteLines)
		r.With(h.rbac.Require(shared.PermWastePost)).Post("/{id}/post", transition(h, h.service.PostWaste))
		r.With(h.rbac.Require(shared.PermWasteVoid)).Post("/{id}/void", transition(h, h.service.VoidWaste))
	})
	r.Route("/productions", func(r chi.Router) {
		r.With(h.rbac.Require(shared.PermProductionView)).Get("/", h.listProductions)
		r.With(h.rbac.Require(shared.PermProductionView)).Get("/{id}", h.getProduction)
		r.With(h.rbac.Require(shared.PermProductionCreate)).Post("/", h.createProduction)
		r.With(h.rbac.Require(shared.PermProductionPost)).Post("/{id}/post", transition(h, h.service.PostProduction))
		r.With(h.rbac.Require(shared.PermProductionVoid)).Post("/{id}/void", transition(h, h.service.VoidProduction))
	})
	r.Route("/depletions", func(r chi.Router) {
		r.With(h.rbac.Require(shared.PermDepletionView)).Get("/", h.listDepletions)
		r.With(h.rbac.Require(shared.PermDepletionView)).Get("/{id}", h.getDepletion)
		r.With(h.rbac.Require(shared.PermDepletionIngest)).Post("/order-close", h.ingestOrderClose)
		r.With(h.rbac.Require(shared.PermDepletionRetry)).Post("/{id}/retry", transition(h, h.service.RetryDepletion))
		r.With(h.rbac.Require(shared.PermDepletionSkip)).Post("/{id}/skip", h.skipDepletion)
	})
}

type lineRequest struct {
	ItemID uuid.UUID       `json:"itemId" validate:"required"`
	UOM    string          `json:"uom" validate:"required,max=16"`
	Qty    decimal.Decimal `json:"qty"`
}

func (l lineRequest) input() LineInput {
	return LineInput{ItemID: l.ItemID, UOM: l.UOM, Qty: l.Qty}
}

type purchaseOrderLineRequest struct {
	lineRequest
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type purchaseOrderRequest struct {
	BranchID     uuid.UUID                  `json:"branchId" validate:"required"`
	VendorID     uuid.UUID                  `json:"vendorId" validate:"required"`
	ExpectedDate *httpx.Date                `json:"expectedDate"`
	Note         string                     `json:"note" validate:"max=500"`
	Lines        []purchaseOrderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type receiptLineRequest struct {
	lineRequest
	UnitCost   decimal.Decimal `json:"unitCost"`
	LotNumber  string          `json:"lotNumber" validate:"max=64"`
	ExpiryDate *httpx.Date     `json:"expiryDate"`
}

type receiptRequest struct {
	BranchID        uuid.UUID            `json:"branchId" validate:"required"`
	LocationID      uuid.UUID            `json:"locationId" validate:"required"`
	VendorID        uuid.UUID            `json:"vendorId"`
	PurchaseOrderID uuid.UUID            `json:"purchaseOrderId"`
	Lines           []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type transferRequest struct {
	SourceLocationID uuid.UUID     `json:"sourceLocationId" validate:"required"`
	DestLocationID   uuid.UUID     `json:"destLocationId" validate:"required"`
	Lines            []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type wasteRequest struct {
	BranchID   uuid.UUID     `json:"branchId" validate:"required"`
	LocationID uuid.UUID     `json:"locationId" validate:"required"`
	Reason     string        `json:"reason" validate:"required,max=200"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type productionRequest struct {
	BranchID        uuid.UUID       `json:"branchId" validate:"required"`
	LocationID      uuid.UUID       `json:"locationId" validate:"required"`
	OutputItemID    uuid.UUID       `json:"outputItemId" validate:"required"`
	OutputQty       decimal.Decimal `json:"outputQty"`
	OutputLotNumber string          `json:"outputLotNumber" validate:"max=64"`
	OutputExpiry    *httpx.Date     `json:"outputExpiry"`
}

type linesRequest[T any] struct {
	Lines []T `json:"lines" validate:"required,min=1,dive"`
}

type orderCloseRequest struct {
	OrderID  string      `json:"orderId" validate:"required,max=128"`
	BranchID uuid.UUID   `json:"branchId" validate:"required"`
	Lines    []SoldLine  `json:"lines" validate:"required,min=1"`
	ClosedAt *httpx.Date `json:"closedAt"`
}

type skipRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func lineInputs(in []lineRequest) []LineInput {
	out := make([]LineInput, len(in))
	for i, l := range in {
		out[i] = l.input()
	}
	return out
}

func purchaseOrderLineInputs(in []purchaseOrderLineRequest) []PurchaseOrderLineInput {
	out := make([]PurchaseOrderLineInput, len(in))
	for i, l := range in {
		out[i] = PurchaseOrderLineInput{LineInput: l.input(), UnitPrice: l.UnitPrice}
	}
	return out
}

func receiptLineInputs(in []receiptLineRequest) []ReceiptLineInput {
	out := make([]ReceiptLineInput, len(in))
	for i, l := range in {
		out[i] = ReceiptLineInput{LineInput: l.input(), UnitCost: l.UnitCost, LotNumber: l.LotNumber, ExpiryDate: l.ExpiryDate.Ptr()}
	}
	return out
}

// transition adapts a workflow method into a POST /{id}/<verb> handler.
func transition[T any](h *Handler, fn func(context.Context, shared.Principal, uuid.UUID) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, id, ok := principalAndID(w, r)
		if !ok {
			return
		}
		out, err := fn(r.Context(), p, id)
		if err != nil {
			h.fail(w, "document transition", err)
			return
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

func get[T any](h *Handler, w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID, uuid.UUID) (T, error)) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	out, err := fn(r.Context(), p.OrgID, id)
	if err != nil {
		h.fail(w, "get document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func list[T any](h *Handler, w http.ResponseWriter, r *http.Request, key string, fn func(context.Context, uuid.UUID, ListFilter) ([]T, error)) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := listFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := fn(r.Context(), p.OrgID, filter)
	if err != nil {
		h.fail(w, "list "+key, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{key: out})
}

// listFilter reads branch_id, vendor_id, run_id, repeated status, before and paging from the query.
func listFilter(r *http.Request) (ListFilter, error) {
	var f ListFilter
	var err error
	if f.BranchID, err = httpx.UUIDQuery(r, "branch_id"); err != nil {
		return f, err
	}
	if f.VendorID, err = httpx.UUIDQuery(r, "vendor_id"); err != nil {
		return f, err
	}
	if f.OptimizationRunID, err = httpx.UUIDQuery(r, "run_id"); err != nil {
		return f, err
	}
	if f.CreatedBefore, err = httpx.DateQuery(r, "before"); err != nil {
		return f, err
	}
	if f.Page, err = httpx.PageQuery(r); err != nil {
		return f, err
	}
	for _, raw := range r.URL.Query()["status"] {
		f.Statuses = append(f.Statuses, Status(strings.ToUpper(strings.TrimSpace(raw))))
	}
	return f, nil
}

func (h *Handler) listPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, "purchaseOrders", h.service.ListPurchaseOrders)
}

func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	get(h, w, r, h.service.GetPurchaseOrder)
}

func (h *Handler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req purchaseOrderRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.CreatePurchaseOrder(r.Context(), p, CreatePurchaseOrderInput{
		BranchID:     req.BranchID,
		VendorID:     req.VendorID,
		ExpectedDate: req.ExpectedDate.Ptr(),
		Note:         req.Note,
		Lines:        purchaseOrderLineInputs(req.Lines),
	})
	if err != nil {
		h.fail(w, "create purchase order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, po)
}

func (h *Handler) updatePurchaseOrderLines(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	var req linesRequest[purchaseOrderLineRequest]
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.UpdatePurchaseOrderLines(r.Context(), p, id, purchaseOrderLineInputs(req.Lines))
	if err != nil {
		h.fail(w, "update purchase order lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, po)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, "receipts", h.service.ListReceipts)
}

func (h *Handler) getReceipt(w http.ResponseWriter, r *http.Request) {
	get(h, w, r, h.service.GetReceipt)
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiptRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rc, err := h.service.CreateReceipt(r.Context(), p, CreateReceiptInput{
		BranchID:        req.BranchID,
		LocationID:      req.LocationID,
		VendorID:        req.VendorID,
		PurchaseOrderID: req.PurchaseOrderID,
		Lines:           receiptLineInputs(req.Lines),
	})
	if err != nil {
		h.fail(w, "create receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rc)
}

func (h *Handler) updateReceiptLines(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	var req linesRequest[receiptLineRequest]
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rc, err := h.service.UpdateReceiptLines(r.Context(), p, id, receiptLineInputs(req.Lines))
	if err != nil {
		h.fail(w, "update receipt lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rc)
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, "transfers", h.service.ListTransfers)
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) {
	get(h, w, r, h.service.GetTransfer)
}

func (h *Handler) createTransfer(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transferRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tr, err := h.service.CreateTransfer(r.Context(), p, CreateTransferInput{
		SourceLocationID: req.SourceLocationID,
		DestLocationID:   req.DestLocationID,
		Lines:            lineInputs(req.Lines),
	})
	if err != nil {
		h.fail(w, "create transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tr)
}

func (h *Handler) updateTransferLines(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	var req linesRequest[lineRequest]
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tr, err := h.service.UpdateTransferLines(r.Context(), p, id, lineInputs(req.Lines))
	if err != nil {
		h.fail(w, "update transfer lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tr)
}

func (h *Handler) listWaste(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, "waste", h.service.ListWaste)
}

func (h *Handler) getWaste(w http.ResponseWriter, r *http.Request) {
	get(h, w, r, h.service.GetWaste)
}

func (h *Handler) createWaste(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req wasteRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.CreateWaste(r.Context(), p, CreateWasteInput{
		BranchID:   req.BranchID,
		LocationID: req.LocationID,
		Reason:     req.Reason,
		Lines:      lineInputs(req.Lines),
	})
	if err != nil {
		h.fail(w, "create waste", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) updateWasteLines(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	var req linesRequest[lineRequest]
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.UpdateWasteLines(r.Context(), p, id, lineInputs(req.Lines))
	if err != nil {
		h.fail(w, "update waste lines", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) listProductions(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, "productions", h.service.ListProductions)
}

func (h *Handler) getProduction(w http.ResponseWriter, r *http.Request) {
	get(h, w, r, h.service.GetProduction)
}

func (h *Handler) createProduction(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req productionRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch, err := h.service.CreateProduction(r.Context(), p, CreateProductionInput{
		BranchID:        req.BranchID,
		LocationID:      req.LocationID,
		OutputItemID:    req.OutputItemID,
		OutputQty:       req.OutputQty,
		OutputLotNumber: req.OutputLotNumber,
		OutputExpiry:    req.OutputExpiry.Ptr(),
	})
	if err != nil {
		h.fail(w, "create production", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) listDepletions(w http.ResponseWriter, r *http.Request) {
	list(h, w, r, "depletions", h.service.ListDepletions)
}

func (h *Handler) getDepletion(w http.ResponseWriter, r *http.Request) {
	get(h, w, r, h.service.GetDepletion)
}

// ingestOrderClose answers 201 for a new order and 200 when the order was already ingested.
func (h *Handler) ingestOrderClose(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req orderCloseRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ev := OrderCloseEvent{OrgID: p.OrgID, OrderID: req.OrderID, BranchID: req.BranchID, Lines: req.Lines}
	if t := req.ClosedAt.Ptr(); t != nil {
		ev.ClosedAt = *t
	}
	d, created, err := h.service.IngestOrderClose(r.Context(), p, ev)
	if err != nil {
		h.fail(w, "ingest order close", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, d)
}

func (h *Handler) skipDepletion(w http.ResponseWriter, r *http.Request) {
	p, id, ok := principalAndID(w, r)
	if !ok {
		return
	}
	var req skipRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.SkipDepletion(r.Context(), p, id, req.Reason)
	if err != nil {
		h.fail(w, "skip depletion", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
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
