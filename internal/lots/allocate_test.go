package lots

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	lots        map[uuid.UUID]Lot
	allocations []Allocation
}

type memoryTx struct {
	lots        map[uuid.UUID]Lot
	allocations []Allocation
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{lots: map[uuid.UUID]Lot{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{lots: map[uuid.UUID]Lot{}, allocations: append([]Allocation(nil), r.allocations...)}
	for k, v := range r.lots {
		tx.lots[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.lots, r.allocations = tx.lots, tx.allocations
	return nil
}

func (r *memoryRepo) GetLot(ctx context.Context, orgID, id uuid.UUID) (Lot, error) {
	l, ok := r.lots[id]
	if !ok || l.OrgID != orgID {
		return Lot{}, shared.ErrNotFound
	}
	return l, nil
}

func (r *memoryRepo) ListLots(ctx context.Context, orgID uuid.UUID, filter Filter) ([]Lot, error) {
	out := []Lot{}
	for _, l := range r.lots {
		if l.OrgID == orgID && filter.Matches(l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListAllocationsByLot(ctx context.Context, orgID, lotID uuid.UUID) ([]Allocation, error) {
	out := []Allocation{}
	for _, a := range r.allocations {
		if a.OrgID == orgID && a.LotID == lotID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryRepo) ExpireDue(ctx context.Context, now time.Time) ([]Lot, error) {
	var out []Lot
	for id, l := range r.lots {
		if l.Status == StatusActive && l.ExpiryDate != nil && !l.ExpiryDate.After(now) {
			l.Status = StatusExpired
			r.lots[id] = l
			out = append(out, l)
		}
	}
	return out, nil
}

func (tx *memoryTx) LockCandidateLots(ctx context.Context, orgID, itemID, locationID uuid.UUID, now time.Time) ([]Lot, error) {
	out := []Lot{}
	for _, l := range tx.lots {
		if l.OrgID == orgID && l.ItemID == itemID && l.LocationID == locationID && l.Allocatable(now) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (tx *memoryTx) LockLot(ctx context.Context, orgID, id uuid.UUID) (Lot, error) {
	l, ok := tx.lots[id]
	if !ok || l.OrgID != orgID {
		return Lot{}, shared.ErrNotFound
	}
	return l, nil
}

func (tx *memoryTx) InsertLot(ctx context.Context, l Lot) error {
	tx.lots[l.ID] = l
	return nil
}

func (tx *memoryTx) UpdateLot(ctx context.Context, l Lot) error {
	tx.lots[l.ID] = l
	return nil
}

func (tx *memoryTx) InsertAllocations(ctx context.Context, allocations []Allocation) error {
	tx.allocations = append(tx.allocations, allocations...)
	return nil
}

func (tx *memoryTx) ListAllocationsBySource(ctx context.Context, orgID uuid.UUID, sourceType string, sourceID uuid.UUID) ([]Allocation, error) {
	var out []Allocation
	for _, a := range tx.allocations {
		if a.OrgID == orgID && a.SourceType == sourceType && a.SourceID == sourceID {
			out = append(out, a)
		}
	}
	return out, nil
}

var now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func days(n int) *time.Time {
	d := now.AddDate(0, 0, n)
	return &d
}

type lotFixture struct {
	repo     *memoryRepo
	org      uuid.UUID
	item     uuid.UUID
	location uuid.UUID
}

func newLotFixture() lotFixture {
	return lotFixture{repo: newMemoryRepo(), org: uuid.New(), item: uuid.New(), location: uuid.New()}
}

func (f lotFixture) receive(t *testing.T, qty int64, expiry *time.Time, at time.Time) Lot {
	t.Helper()
	var lot Lot
	err := f.repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		lot, err = Receive(ctx, tx, ReceiveInput{OrgID: f.org, BranchID: uuid.New(), ItemID: f.item, LocationID: f.location, Qty: decimal.NewFromInt(qty), ExpiryDate: expiry, SourceType: "RECEIPT", SourceID: uuid.New()}, at)
		return err
	})
	require.NoError(t, err)
	return lot
}

func (f lotFixture) allocate(qty int64) (Result, error) {
	var res Result
	err := f.repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = Allocate(ctx, tx, Request{OrgID: f.org, ItemID: f.item, LocationID: f.location, Qty: decimal.NewFromInt(qty), SourceType: "WASTE", SourceID: uuid.New()}, now)
		return err
	})
	return res, err
}

func TestAllocateEarliestExpiryFirst(t *testing.T) {
	f := newLotFixture()
	lotB := f.receive(t, 100, days(30), now.Add(-2*time.Hour))
	lotA := f.receive(t, 20, days(5), now.Add(-time.Hour))

	res, err := f.allocate(50)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 2)
	require.Equal(t, lotA.ID, res.Allocations[0].LotID)
	require.True(t, decimal.NewFromInt(20).Equal(res.Allocations[0].AllocatedQty))
	require.Equal(t, 1, res.Allocations[0].AllocationOrder)
	require.Equal(t, lotB.ID, res.Allocations[1].LotID)
	require.True(t, decimal.NewFromInt(30).Equal(res.Allocations[1].AllocatedQty))

	require.Equal(t, StatusDepleted, f.repo.lots[lotA.ID].Status)
	require.True(t, decimal.NewFromInt(70).Equal(f.repo.lots[lotB.ID].RemainingQty))
}

func TestAllocateAllOrNothing(t *testing.T) {
	f := newLotFixture()
	lot := f.receive(t, 10, days(3), now.Add(-time.Hour))
	f.receive(t, 5, days(-1), now.Add(-48*time.Hour))

	_, err := f.allocate(11)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	var detail *ledger.InsufficientStockError
	require.True(t, errors.As(err, &detail))
	require.True(t, decimal.NewFromInt(10).Equal(detail.Available), "expired lot is not available")

	require.True(t, decimal.NewFromInt(10).Equal(f.repo.lots[lot.ID].RemainingQty))
	require.Empty(t, f.repo.allocations)
}

func TestAllocateTieBreakAndUndatedLast(t *testing.T) {
	f := newLotFixture()
	undated := f.receive(t, 50, nil, now.Add(-3*time.Hour))
	older := f.receive(t, 5, days(10), now.Add(-2*time.Hour))
	newer := f.receive(t, 5, days(10), now.Add(-time.Hour))

	res, err := f.allocate(12)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 3)
	require.Equal(t, []uuid.UUID{older.ID, newer.ID, undated.ID},
		[]uuid.UUID{res.Allocations[0].LotID, res.Allocations[1].LotID, res.Allocations[2].LotID})
}

func TestQuarantineBlocksAllocation(t *testing.T) {
	f := newLotFixture()
	lot := f.receive(t, 10, days(3), now.Add(-time.Hour))
	svc := NewService(f.repo, nil, nil)
	svc.WithNow(func() time.Time { return now })
	ctx := context.Background()

	_, err := svc.Quarantine(ctx, uuid.New(), f.org, lot.ID, "supplier recall")
	require.NoError(t, err)
	_, err = f.allocate(1)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	_, err = svc.Quarantine(ctx, uuid.New(), f.org, lot.ID, "again")
	require.ErrorIs(t, err, ErrInvalidLotTransition)

	released, err := svc.Release(ctx, uuid.New(), f.org, lot.ID, "cleared")
	require.NoError(t, err)
	require.Equal(t, StatusActive, released.Status)

	_, err = svc.Release(ctx, uuid.New(), uuid.New(), lot.ID, "other org")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestTraceabilityTotals(t *testing.T) {
	f := newLotFixture()
	lot := f.receive(t, 30, days(9), now.Add(-time.Hour))
	_, err := f.allocate(4)
	require.NoError(t, err)
	_, err = f.allocate(6)
	require.NoError(t, err)

	svc := NewService(f.repo, nil, nil)
	trace, err := svc.Traceability(context.Background(), f.org, lot.ID)
	require.NoError(t, err)
	require.Len(t, trace.Allocations, 2)
	require.True(t, decimal.NewFromInt(10).Equal(trace.Allocated))
	require.Len(t, trace.BySource, 1)
	require.Equal(t, "WASTE", trace.BySource[0].SourceType)
	require.True(t, trace.Allocated.LessThanOrEqual(trace.Lot.ReceivedQty))
}

func TestExpireDue(t *testing.T) {
	f := newLotFixture()
	f.receive(t, 3, days(-2), now.Add(-72*time.Hour))
	f.receive(t, 3, days(2), now.Add(-time.Hour))
	svc := NewService(f.repo, nil, nil)
	svc.WithNow(func() time.Time { return now })

	n, err := svc.ExpireDue(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDefaultLotNumber(t *testing.T) {
	id := uuid.MustParse("abcdef12-0000-0000-0000-000000000000")
	require.Equal(t, "RECEIPT-20240501-ABCDEF12", DefaultLotNumber("receipt", id, now))
}
