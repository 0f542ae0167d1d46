package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// PermissionsHandler lists the policy table for the caller.
type PermissionsHandler struct {
	logger *slog.Logger
	rbac   Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.listPermissions)
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.Principal(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"level":       p.Level.String(),
		"permissions": PermissionsFor(p),
	})
}
