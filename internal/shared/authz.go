package shared

import (
	"fmt"
	"sort"
	"strconv"
)

// Level is a privilege tier, L1 lowest.
type Level int

const (
	L1 Level = iota + 1
	L2
	L3
	L4
	L5
)

// String renders the level as L<n>.
func (l Level) String() string {
	return "L" + strconv.Itoa(int(l))
}

// ParseLevel accepts "3" or "L3".
func ParseLevel(raw string) (Level, error) {
	if len(raw) > 1 && (raw[0] == 'L' || raw[0] == 'l') {
		raw = raw[1:]
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < int(L1) || n > int(L5) {
		return 0, fmt.Errorf("shared: invalid privilege level %q", raw)
	}
	return Level(n), nil
}

// Inventory permissions, one per (resource, action).
const (
	PermCatalogView   = "catalog.view"
	PermCatalogManage = "catalog.manage"

	PermLedgerView   = "ledger.view"
	PermLedgerAdjust = "ledger.adjust"
	PermLedgerCount  = "ledger.count"
	PermLedgerInit   = "ledger.initial"

	PermLotsView       = "lots.view"
	PermLotsQuarantine = "lots.quarantine"
	PermLotsRelease    = "lots.release"

	PermPOView    = "purchase_orders.view"
	PermPOCreate  = "purchase_orders.create"
	PermPOSubmit  = "purchase_orders.submit"
	PermPOApprove = "purchase_orders.approve"
	PermPOCancel  = "purchase_orders.cancel"

	PermReceiptView   = "receipts.view"
	PermReceiptCreate = "receipts.create"
	PermReceiptPost   = "receipts.post"

	PermTransferView    = "transfers.view"
	PermTransferCreate  = "transfers.create"
	PermTransferShip    = "transfers.ship"
	PermTransferReceive = "transfers.receive"
	PermTransferVoid    = "transfers.void"

	PermWasteView   = "waste.view"
	PermWasteCreate = "waste.create"
	PermWastePost   = "waste.post"
	PermWasteVoid   = "waste.void"

	PermProductionView   = "production.view"
	PermProductionCreate = "production.create"
	PermProductionPost   = "production.post"
	PermProductionVoid   = "production.void"

	PermDepletionView   = "depletions.view"
	PermDepletionIngest = "depletions.ingest"
	PermDepletionRetry  = "depletions.retry"
	PermDepletionSkip   = "depletions.skip"

	PermPeriodView      = "periods.view"
	PermPeriodCreate    = "periods.create"
	PermPeriodClose     = "periods.close"
	PermPeriodOverride  = "periods.override"
	PermPeriodReopen    = "periods.reopen"
	PermPeriodReconcile = "periods.reconcile"
	PermPeriodPack      = "periods.pack"

	PermReorderView     = "reorder.view"
	PermReorderPolicy   = "reorder.policy"
	PermReorderRun      = "reorder.run"
	PermReorderDraftPOs = "reorder.draft_pos"

	PermExport = "exports.download"
)

// policy maps every permission to the minimum level that may exercise it.
var policy = map[string]Level{
	PermCatalogView:   L2,
	PermCatalogManage: L4,

	PermLedgerView:   L2,
	PermLedgerAdjust: L4,
	PermLedgerCount:  L3,
	PermLedgerInit:   L5,

	PermLotsView:       L2,
	PermLotsQuarantine: L4,
	PermLotsRelease:    L4,

	PermPOView:    L2,
	PermPOCreate:  L3,
	PermPOSubmit:  L3,
	PermPOApprove: L4,
	PermPOCancel:  L4,

	PermReceiptView:   L2,
	PermReceiptCreate: L3,
	PermReceiptPost:   L3,

	PermTransferView:    L2,
	PermTransferCreate:  L3,
	PermTransferShip:    L3,
	PermTransferReceive: L3,
	PermTransferVoid:    L4,

	PermWasteView:   L2,
	PermWasteCreate: L3,
	PermWastePost:   L3,
	PermWasteVoid:   L4,

	PermProductionView:   L2,
	PermProductionCreate: L3,
	PermProductionPost:   L3,
	PermProductionVoid:   L4,

	PermDepletionView:   L2,
	PermDepletionIngest: L3,
	PermDepletionRetry:  L4,
	PermDepletionSkip:   L5,

	PermPeriodView:      L2,
	PermPeriodCreate:    L4,
	PermPeriodClose:     L4,
	PermPeriodOverride:  L5,
	PermPeriodReopen:    L5,
	PermPeriodReconcile: L4,
	PermPeriodPack:      L4,

	PermReorderView:     L2,
	PermReorderPolicy:   L4,
	PermReorderRun:      L3,
	PermReorderDraftPOs: L4,

	PermExport: L3,
}

// RequiredLevel returns the minimum level for perm. Unknown permissions require L5.
func RequiredLevel(perm string) Level {
	if lvl, ok := policy[perm]; ok {
		return lvl
	}
	return L5
}

// HasLevel reports whether p may exercise perm.
func HasLevel(p Principal, perm string) bool {
	return p.Level >= RequiredLevel(perm)
}

// Permissions lists every permission in the policy table, sorted.
func Permissions() []string {
	out := make([]string, 0, len(policy))
	for perm := range policy {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}
