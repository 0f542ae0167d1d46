package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	entries  []Entry
	balances map[string]Balance
}

type memoryTx struct {
	entries  []Entry
	balances map[string]Balance
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{balances: map[string]Balance{}}
}

func balanceKey(orgID uuid.UUID, k Key) string {
	return orgID.String() + "/" + k.String()
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{entries: append([]Entry(nil), r.entries...), balances: map[string]Balance{}}
	for k, v := range r.balances {
		tx.balances[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.entries = tx.entries
	r.balances = tx.balances
	return nil
}

func (r *memoryRepo) SumEntries(ctx context.Context, orgID uuid.UUID, key Key, before time.Time) (decimal.Decimal, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	var n int64
	for _, e := range r.entries {
		if e.OrgID != orgID || e.ItemID != key.ItemID || e.LocationID != key.LocationID {
			continue
		}
		if !before.IsZero() && !e.CreatedAt.Before(before) {
			continue
		}
		total = total.Add(e.QtyDelta)
		n++
	}
	return total, n, nil
}

func (r *memoryRepo) SumByBranch(ctx context.Context, orgID, branchID, itemID uuid.UUID, before time.Time) ([]Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sums := map[Key]*Position{}
	var order []Key
	for _, e := range r.entries {
		if e.OrgID != orgID || e.BranchID != branchID || (itemID != uuid.Nil && e.ItemID != itemID) {
			continue
		}
		k := Key{ItemID: e.ItemID, LocationID: e.LocationID}
		p, ok := sums[k]
		if !ok {
			p = &Position{BranchID: e.BranchID, ItemID: e.ItemID, LocationID: e.LocationID, Qty: decimal.Zero}
			sums[k] = p
			order = append(order, k)
		}
		p.Qty = p.Qty.Add(e.QtyDelta)
	}
	out := make([]Position, 0, len(order))
	for _, k := range order {
		out = append(out, *sums[k])
	}
	return out, nil
}

func (r *memoryRepo) ListEntries(ctx context.Context, orgID uuid.UUID, filter Filter) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Entry{}
	for _, e := range r.entries {
		if e.OrgID == orgID && filter.Matches(e) {
			out = append(out, e)
		}
	}
	SortEntries(out)
	return out, nil
}

func (r *memoryRepo) SumByReason(ctx context.Context, orgID, branchID uuid.UUID, from, to time.Time) ([]ReasonTotal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	type key struct {
		k      Key
		reason Reason
	}
	sums := map[key]*ReasonTotal{}
	var order []key
	for _, e := range r.entries {
		if e.OrgID != orgID || e.BranchID != branchID || e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		k := key{k: Key{ItemID: e.ItemID, LocationID: e.LocationID}, reason: e.Reason}
		t, ok := sums[k]
		if !ok {
			t = &ReasonTotal{ItemID: e.ItemID, LocationID: e.LocationID, Reason: e.Reason, Qty: decimal.Zero, Value: decimal.Zero}
			sums[k] = t
			order = append(order, k)
		}
		t.Qty = t.Qty.Add(e.QtyDelta)
		t.Value = t.Value.Add(e.QtyDelta.Mul(e.UnitCost))
	}
	out := make([]ReasonTotal, 0, len(order))
	for _, k := range order {
		out = append(out, *sums[k])
	}
	return out, nil
}

func (r *memoryRepo) SumByDay(ctx context.Context, orgID, branchID uuid.UUID, reasons []Reason, from, to time.Time, loc *time.Location) ([]DayTotal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	filter := Filter{BranchID: branchID, Reasons: reasons, From: from, To: to}
	var out []DayTotal
	for _, e := range r.entries {
		if e.OrgID != orgID || !filter.Matches(e) {
			continue
		}
		local := e.CreatedAt.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		merged := false
		for i := range out {
			if out[i].ItemID == e.ItemID && out[i].Day.Equal(day) {
				out[i].Qty = out[i].Qty.Add(e.QtyDelta)
				merged = true
			}
		}
		if !merged {
			out = append(out, DayTotal{ItemID: e.ItemID, Day: day, Qty: e.QtyDelta})
		}
	}
	return out, nil
}

func (r *memoryRepo) GetBalance(ctx context.Context, orgID uuid.UUID, key Key) (Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.balances[balanceKey(orgID, key)]
	if !ok {
		return Balance{}, shared.ErrNotFound
	}
	return b, nil
}

func (r *memoryRepo) LatestUnitCost(ctx context.Context, orgID, itemID uuid.UUID, reasons []Reason, before time.Time) (decimal.Decimal, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := append([]Entry(nil), r.entries...)
	SortEntries(entries)
	filter := Filter{ItemID: itemID, Reasons: reasons, To: before}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].OrgID == orgID && filter.Matches(entries[i]) {
			return entries[i].UnitCost, true, nil
		}
	}
	return decimal.Zero, false, nil
}

func (tx *memoryTx) LockBalance(ctx context.Context, orgID, branchID uuid.UUID, key Key) (Balance, error) {
	b, ok := tx.balances[balanceKey(orgID, key)]
	if !ok {
		return Balance{OrgID: orgID, BranchID: branchID, ItemID: key.ItemID, LocationID: key.LocationID, Qty: decimal.Zero}, nil
	}
	return b, nil
}

func (tx *memoryTx) InsertEntries(ctx context.Context, entries []Entry) error {
	tx.entries = append(tx.entries, entries...)
	return nil
}

func (tx *memoryTx) SaveBalance(ctx context.Context, b Balance) error {
	tx.balances[balanceKey(b.OrgID, b.Key())] = b
	return nil
}

type countingMetrics map[string]int

func (m countingMetrics) EntriesAppended(reason string, n int) { m[reason] += n }

type fixture struct {
	repo     *memoryRepo
	svc      *Service
	org      uuid.UUID
	branch   uuid.UUID
	location uuid.UUID
	item     uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{repo: newMemoryRepo(), org: uuid.New(), branch: uuid.New(), location: uuid.New(), item: uuid.New()}
	f.svc = NewService(f.repo, nil)
	clock := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	f.svc.WithNow(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	return f
}

func (f fixture) move(reason Reason, qty int64) Movement {
	return Movement{BranchID: f.branch, ItemID: f.item, LocationID: f.location, QtyDelta: decimal.NewFromInt(qty), Reason: reason, SourceType: "TEST", SourceID: uuid.New()}
}

func TestPostConservesQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Post(ctx, f.org, []Movement{f.move(ReasonPurchase, 100)})
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, f.org, []Movement{f.move(ReasonSale, -30), f.move(ReasonWastage, -5)})
	require.NoError(t, err)

	onHand, err := f.svc.OnHand(ctx, f.org, f.item, f.location)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(65).Equal(onHand), onHand.String())

	v, err := f.svc.Verify(ctx, f.org, f.item, f.location)
	require.NoError(t, err)
	require.False(t, v.Drift)
	require.EqualValues(t, 3, v.Count)
}

func TestPostRejectsRemovalBeyondOnHand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Post(ctx, f.org, []Movement{f.move(ReasonPurchase, 10)})
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, f.org, []Movement{f.move(ReasonWastage, -5), f.move(ReasonSale, -6)})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrConflict)
	var detail *InsufficientStockError
	require.True(t, errors.As(err, &detail))
	require.True(t, decimal.NewFromInt(11).Equal(detail.Requested))
	require.True(t, decimal.NewFromInt(10).Equal(detail.Available))

	entries, err := f.svc.ListEntries(ctx, f.org, Filter{ItemID: f.item})
	require.NoError(t, err)
	require.Len(t, entries, 1, "failed post must not write")
}

func TestPostValidatesSigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Post(ctx, f.org, []Movement{f.move(ReasonSale, 3)})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = f.svc.Post(ctx, f.org, []Movement{f.move(ReasonPurchase, -3)})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = f.svc.Post(ctx, f.org, []Movement{f.move(ReasonPurchase, 0)})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = f.svc.Post(ctx, f.org, []Movement{f.move(Reason("GIFT"), 1)})
	require.ErrorIs(t, err, ErrInvalidReason)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Post(ctx, f.org, []Movement{f.move(ReasonPurchase, 5)})
	require.NoError(t, err)

	other := uuid.New()
	onHand, err := f.svc.OnHand(ctx, other, f.item, f.location)
	require.NoError(t, err)
	require.True(t, onHand.IsZero())

	entries, err := f.svc.ListEntries(ctx, other, Filter{ItemID: f.item})
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestListEntriesOrderAndFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	metrics := countingMetrics{}
	f.svc.WithMetrics(metrics)

	_, err := f.svc.Post(ctx, f.org, []Movement{f.move(ReasonPurchase, 10), f.move(ReasonSale, -2), f.move(ReasonSale, -1)})
	require.NoError(t, err)

	entries, err := f.svc.ListEntries(ctx, f.org, Filter{Reasons: []Reason{ReasonSale}})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, decimal.NewFromInt(-2).Equal(entries[0].QtyDelta))
	require.Equal(t, 2, metrics[string(ReasonSale)])
	require.Equal(t, 1, metrics[string(ReasonPurchase)])

	_, err = f.svc.ListEntries(ctx, f.org, Filter{Reasons: []Reason{"NOPE"}})
	require.ErrorIs(t, err, ErrInvalidReason)
}

func TestOnHandByBranchSkipsZeroPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Post(ctx, f.org, []Movement{f.move(ReasonPurchase, 4), f.move(ReasonSale, -4)})
	require.NoError(t, err)
	positions, err := f.svc.OnHandByBranch(ctx, f.org, f.branch, uuid.Nil)
	require.NoError(t, err)
	require.Empty(t, positions)
}

func TestLatestUnitCostIgnoresNonCostReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buy := f.move(ReasonPurchase, 10)
	buy.UnitCost = decimal.NewFromInt(4)
	_, err := f.svc.Post(ctx, f.org, []Movement{buy})
	require.NoError(t, err)
	adj := f.move(ReasonAdjustment, 1)
	adj.UnitCost = decimal.NewFromInt(99)
	_, err = f.svc.Post(ctx, f.org, []Movement{adj})
	require.NoError(t, err)

	cost, ok, err := f.svc.LatestUnitCost(ctx, f.org, f.item, time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, decimal.NewFromInt(4).Equal(cost))

	_, ok, err = f.svc.LatestUnitCost(ctx, f.org, uuid.New(), time.Time{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSortKeysDeterministic(t *testing.T) {
	a := Key{ItemID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), LocationID: uuid.New()}
	b := Key{ItemID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), LocationID: uuid.New()}
	keys := []Key{a, b}
	SortKeys(keys)
	require.Equal(t, []Key{b, a}, keys)
}

func TestReasonTotalsWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	buy := f.move(ReasonPurchase, 10)
	buy.UnitCost = decimal.NewFromInt(2)
	_, err := f.svc.Post(ctx, f.org, []Movement{buy})
	require.NoError(t, err)
	sale := f.move(ReasonSale, -4)
	sale.UnitCost = decimal.NewFromInt(2)
	_, err = f.svc.Post(ctx, f.org, []Movement{sale})
	require.NoError(t, err)

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	totals, err := f.svc.ReasonTotals(ctx, f.org, f.branch, from, from.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, totals, 2)
	byReason := map[Reason]ReasonTotal{}
	for _, tt := range totals {
		byReason[tt.Reason] = tt
	}
	require.True(t, decimal.NewFromInt(20).Equal(byReason[ReasonPurchase].Value))
	require.True(t, decimal.NewFromInt(-8).Equal(byReason[ReasonSale].Value))

	_, err = f.svc.ReasonTotals(ctx, f.org, f.branch, from, from)
	require.ErrorIs(t, err, shared.ErrValidation)

	positions, err := f.svc.PositionsAt(ctx, f.org, f.branch, from)
	require.NoError(t, err)
	require.Empty(t, positions)
}
