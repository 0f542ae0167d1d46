package rbac

import "github.com/odyssey-erp/stockledger/internal/shared"

// Headers set by the upstream gateway once it has authenticated the caller.
const (
	HeaderOrgID  = "X-Org-ID"
	HeaderUserID = "X-User-ID"
	HeaderLevel  = "X-User-Level"
)

// Permission is one row of the authorization policy table.
type Permission struct {
	Name    string `json:"name"`
	Level   string `json:"level"`
	Granted bool   `json:"granted"`
}

// PermissionsFor lists the policy table marking what p may do.
func PermissionsFor(p shared.Principal) []Permission {
	names := shared.Permissions()
	out := make([]Permission, 0, len(names))
	for _, name := range names {
		out = append(out, Permission{
			Name:    name,
			Level:   shared.RequiredLevel(name).String(),
			Granted: shared.HasLevel(p, name),
		})
	}
	return out
}
