package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Middleware resolves the caller and enforces the policy table.
type Middleware struct {
	// Trusted accepts principal headers. Disable it when no gateway strips them from client requests.
	Trusted bool
	Logger  *slog.Logger
}

// Authenticate stores the principal described by the gateway headers in the request context.
// Requests without headers pass through anonymous; malformed headers are rejected.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Trusted || r.Header.Get(HeaderOrgID) == "" {
			next.ServeHTTP(w, r)
			return
		}
		p, err := principalFromHeaders(r.Header)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Warn("rbac rejected principal headers", slog.String("path", r.URL.Path), slog.Any("error", err))
			}
			httpx.RespondError(w, shared.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
	})
}

// Require ensures the caller has the level the permission demands.
func (m Middleware) Require(perm string) func(http.Handler) http.Handler {
	perm = strings.TrimSpace(strings.ToLower(perm))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthorized)
				return
			}
			if !shared.HasLevel(p, perm) {
				if m.Logger != nil {
					m.Logger.Info("rbac denied",
						slog.String("permission", perm),
						slog.String("org_id", p.OrgID.String()),
						slog.String("user_id", p.UserID.String()),
						slog.String("level", p.Level.String()))
				}
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func principalFromHeaders(h http.Header) (shared.Principal, error) {
	org, err := uuid.Parse(strings.TrimSpace(h.Get(HeaderOrgID)))
	if err != nil || org == uuid.Nil {
		return shared.Principal{}, shared.NewError(shared.ErrUnauthorized, "rbac: invalid org id")
	}
	user, err := uuid.Parse(strings.TrimSpace(h.Get(HeaderUserID)))
	if err != nil {
		return shared.Principal{}, shared.NewError(shared.ErrUnauthorized, "rbac: invalid user id")
	}
	level, err := shared.ParseLevel(strings.TrimSpace(h.Get(HeaderLevel)))
	if err != nil {
		return shared.Principal{}, shared.NewError(shared.ErrUnauthorized, "rbac: invalid level")
	}
	return shared.Principal{OrgID: org, UserID: user, Level: level}, nil
}
