package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// LedgerRepo implements ledger.RepositoryPort.
type LedgerRepo struct{ s *Store }

// Ledger returns the ledger repository view.
func (s *Store) Ledger() *LedgerRepo { return &LedgerRepo{s: s} }

func (r *LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, tx *memTx) error { return fn(ctx, tx) })
}

func balanceKey(orgID uuid.UUID, k ledger.Key) string {
	return compositeKey(orgID, k.ItemID, k.LocationID)
}

func (r *LedgerRepo) SumEntries(ctx context.Context, orgID uuid.UUID, key ledger.Key, before time.Time) (decimal.Decimal, int64, error) {
	total := decimal.Zero
	var n int64
	r.s.read(func(st *state) {
		for _, e := range st.entries {
			if e.OrgID != orgID || e.ItemID != key.ItemID || e.LocationID != key.LocationID {
				continue
			}
			if !before.IsZero() && !e.CreatedAt.Before(before) {
				continue
			}
			total = total.Add(e.QtyDelta)
			n++
		}
	})
	return total, n, nil
}

func lessKey(a, b ledger.Key) bool {
	if a.ItemID != b.ItemID {
		return a.ItemID.String() < b.ItemID.String()
	}
	return a.LocationID.String() < b.LocationID.String()
}

func (r *LedgerRepo) SumByBranch(ctx context.Context, orgID, branchID, itemID uuid.UUID, before time.Time) ([]ledger.Position, error) {
	sums := map[ledger.Key]*ledger.Position{}
	r.s.read(func(st *state) {
		for _, e := range st.entries {
			if e.OrgID != orgID || e.BranchID != branchID || (itemID != uuid.Nil && e.ItemID != itemID) {
				continue
			}
			if !before.IsZero() && !e.CreatedAt.Before(before) {
				continue
			}
			k := ledger.Key{ItemID: e.ItemID, LocationID: e.LocationID}
			p, ok := sums[k]
			if !ok {
				p = &ledger.Position{BranchID: e.BranchID, ItemID: e.ItemID, LocationID: e.LocationID, Qty: decimal.Zero}
				sums[k] = p
			}
			p.Qty = p.Qty.Add(e.QtyDelta)
		}
	})
	out := make([]ledger.Position, 0, len(sums))
	for _, p := range sums {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return lessKey(ledger.Key{ItemID: out[i].ItemID, LocationID: out[i].LocationID}, ledger.Key{ItemID: out[j].ItemID, LocationID: out[j].LocationID})
	})
	return out, nil
}

func (r *LedgerRepo) ListEntries(ctx context.Context, orgID uuid.UUID, filter ledger.Filter) ([]ledger.Entry, error) {
	out := []ledger.Entry{}
	r.s.read(func(st *state) {
		for _, e := range st.entries {
			if e.OrgID == orgID && filter.Matches(e) {
				out = append(out, e)
			}
		}
	})
	ledger.SortEntries(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *LedgerRepo) SumByReason(ctx context.Context, orgID, branchID uuid.UUID, from, to time.Time) ([]ledger.ReasonTotal, error) {
	type key struct {
		k      ledger.Key
		reason ledger.Reason
	}
	sums := map[key]*ledger.ReasonTotal{}
	r.s.read(func(st *state) {
		for _, e := range st.entries {
			if e.OrgID != orgID || e.BranchID != branchID || e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
				continue
			}
			k := key{k: ledger.Key{ItemID: e.ItemID, LocationID: e.LocationID}, reason: e.Reason}
			t, ok := sums[k]
			if !ok {
				t = &ledger.ReasonTotal{ItemID: e.ItemID, LocationID: e.LocationID, Reason: e.Reason, Qty: decimal.Zero, Value: decimal.Zero}
				sums[k] = t
			}
			t.Qty = t.Qty.Add(e.QtyDelta)
			t.Value = t.Value.Add(e.QtyDelta.Mul(e.UnitCost))
		}
	})
	out := make([]ledger.ReasonTotal, 0, len(sums))
	for _, t := range sums {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		a := ledger.Key{ItemID: out[i].ItemID, LocationID: out[i].LocationID}
		b := ledger.Key{ItemID: out[j].ItemID, LocationID: out[j].LocationID}
		if a != b {
			return lessKey(a, b)
		}
		return out[i].Reason < out[j].Reason
	})
	return out, nil
}

func (r *LedgerRepo) SumByDay(ctx context.Context, orgID, branchID uuid.UUID, reasons []ledger.Reason, from, to time.Time, loc *time.Location) ([]ledger.DayTotal, error) {
	type key struct {
		item uuid.UUID
		day  time.Time
	}
	filter := ledger.Filter{BranchID: branchID, Reasons: reasons, From: from, To: to}
	sums := map[key]decimal.Decimal{}
	r.s.read(func(st *state) {
		for _, e := range st.entries {
			if e.OrgID != orgID || !filter.Matches(e) {
				continue
			}
			local := e.CreatedAt.In(loc)
			k := key{item: e.ItemID, day: time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)}
			sums[k] = sums[k].Add(e.QtyDelta)
		}
	})
	out := make([]ledger.DayTotal, 0, len(sums))
	for k, qty := range sums {
		out = append(out, ledger.DayTotal{ItemID: k.item, Day: k.day, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID.String() < out[j].ItemID.String()
		}
		return out[i].Day.Before(out[j].Day)
	})
	return out, nil
}

func (r *LedgerRepo) GetBalance(ctx context.Context, orgID uuid.UUID, key ledger.Key) (ledger.Balance, error) {
	var (
		b  ledger.Balance
		ok bool
	)
	r.s.read(func(st *state) { b, ok = st.balances[balanceKey(orgID, key)] })
	if !ok {
		return ledger.Balance{}, shared.ErrNotFound
	}
	return b, nil
}

func (r *LedgerRepo) LatestUnitCost(ctx context.Context, orgID, itemID uuid.UUID, reasons []ledger.Reason, before time.Time) (decimal.Decimal, bool, error) {
	var entries []ledger.Entry
	filter := ledger.Filter{ItemID: itemID, Reasons: reasons, To: before}
	r.s.read(func(st *state) {
		for _, e := range st.entries {
			if e.OrgID == orgID && filter.Matches(e) {
				entries = append(entries, e)
			}
		}
	})
	if len(entries) == 0 {
		return decimal.Zero, false, nil
	}
	ledger.SortEntries(entries)
	return entries[len(entries)-1].UnitCost, true, nil
}

func (tx *memTx) LockBalance(ctx context.Context, orgID, branchID uuid.UUID, key ledger.Key) (ledger.Balance, error) {
	b, ok := tx.st.balances[balanceKey(orgID, key)]
	if !ok {
		return ledger.Balance{OrgID: orgID, BranchID: branchID, ItemID: key.ItemID, LocationID: key.LocationID, Qty: decimal.Zero}, nil
	}
	return b, nil
}

func (tx *memTx) InsertEntries(ctx context.Context, entries []ledger.Entry) error {
	tx.st.entries = append(tx.st.entries, entries...)
	return nil
}

func (tx *memTx) SaveBalance(ctx context.Context, b ledger.Balance) error {
	tx.st.balances[balanceKey(b.OrgID, b.Key())] = b
	return nil
}
