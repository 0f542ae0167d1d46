package reports

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/export"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/rbac"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// HeaderContentSHA256 carries the digest of a CSV body without its BOM.
const HeaderContentSHA256 = "X-Content-SHA256"

// Handler serves dataset exports.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler constructs the export handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers export routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.Require(shared.PermExport))
		r.Get("/", h.datasets)
		r.Get("/{dataset}", h.export)
	})
}

func (h *Handler) datasets(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"datasets": Datasets})
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httpx.RespondError(w, shared.NewError(shared.ErrValidation, err.Error()))
		return
	}
	req, err := requestFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ds, err := h.service.Build(r.Context(), p, req)
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("build export", slog.String("dataset", req.Dataset), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	out, err := export.Render(ds, format)
	if err != nil {
		h.logger.Error("render export", slog.String("dataset", req.Dataset), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	header := w.Header()
	header.Set("Content-Type", out.ContentType)
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	header.Set("Content-Length", strconv.Itoa(len(out.Body)))
	if out.ContentSHA256 != "" {
		header.Set(HeaderContentSHA256, out.ContentSHA256)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Body)
}

func requestFrom(r *http.Request) (Request, error) {
	req := Request{Dataset: chi.URLParam(r, "dataset")}
	for _, q := range []struct {
		name string
		dst  *uuid.UUID
	}{
		{"branch_id", &req.BranchID},
		{"period_id", &req.PeriodID},
		{"run_id", &req.RunID},
		{"lot_id", &req.LotID},
		{"vendor_id", &req.VendorID},
	} {
		id, err := httpx.UUIDQuery(r, q.name)
		if err != nil {
			return Request{}, err
		}
		*q.dst = id
	}
	var err error
	if req.From, err = httpx.DateQuery(r, "from"); err != nil {
		return Request{}, err
	}
	if req.To, err = httpx.DateQuery(r, "to"); err != nil {
		return Request{}, err
	}
	if req.Revision, err = httpx.IntQuery(r, "revision", 0); err != nil {
		return Request{}, err
	}
	return req, nil
}
