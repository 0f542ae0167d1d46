package documents_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
)

func TestWasteBeyondOnHandStaysDraft(t *testing.T) {
	f := newFixture(t)
	f.seed(f.tomato, f.main, 5, 2)

	w, err := f.svc.CreateWaste(f.ctx, f.manager, documents.CreateWasteInput{
		BranchID: f.branch.ID, LocationID: f.main.ID, Reason: "spoiled",
		Lines: []documents.LineInput{{ItemID: f.tomato.ID, UOM: "EA", Qty: dec(8)}},
	})
	require.NoError(t, err)

	_, err = f.svc.PostWaste(f.ctx, f.manager, w.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	var short *ledger.InsufficientStockError
	require.ErrorAs(t, err, &short)

	stored, err := f.svc.GetWaste(f.ctx, f.org, w.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusDraft, stored.Status)
	require.Empty(t, f.entriesFor(w.ID))
	requireDecimal(t, 5, f.onHand(f.tomato, f.main))

	_, err = f.svc.UpdateWasteLines(f.ctx, f.manager, w.ID, []documents.LineInput{{ItemID: f.tomato.ID, UOM: "EA", Qty: dec(3)}})
	require.NoError(t, err)
	res, err := f.svc.PostWaste(f.ctx, f.manager, w.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusPosted, res.Status)
	require.Equal(t, ledger.ReasonWastage, res.Entries[0].Reason)
	requireDecimal(t, -3, res.Entries[0].QtyDelta)
	requireDecimal(t, 2, f.onHand(f.tomato, f.main))

	_, err = f.svc.VoidWaste(f.ctx, f.manager, w.ID)
	require.ErrorIs(t, err, documents.ErrInvalidStateTransition)
}

func TestWasteRequiresReason(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateWaste(f.ctx, f.manager, documents.CreateWasteInput{
		BranchID: f.branch.ID, LocationID: f.main.ID, Reason: "  ",
		Lines: []documents.LineInput{{ItemID: f.tomato.ID, UOM: "EA", Qty: dec(1)}},
	})
	require.Error(t, err)
}

func (f *fixture) receiveMilk(loc catalog.Location, lotNumber string, qty int64, expiry time.Time) {
	f.t.Helper()
	r, err := f.svc.CreateReceipt(f.ctx, f.manager, documents.CreateReceiptInput{
		BranchID: loc.BranchID, LocationID: loc.ID, VendorID: f.vendor,
		Lines: []documents.ReceiptLineInput{{
			LineInput:  documents.LineInput{ItemID: f.milk.ID, UOM: "EA", Qty: dec(qty)},
			UnitCost:   dec(1),
			LotNumber:  lotNumber,
			ExpiryDate: &expiry,
		}},
	})
	require.NoError(f.t, err)
	res, err := f.svc.PostReceipt(f.ctx, f.manager, r.ID)
	require.NoError(f.t, err)
	require.Len(f.t, res.Lots, 1)
}

func TestTransferCarriesLotsAcrossBranches(t *testing.T) {
	f := newFixture(t)
	soon := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	later := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)
	f.receiveMilk(f.main, "L-LATE", 10, later)
	f.receiveMilk(f.main, "L-SOON", 3, soon)

	other, err := f.catalog.CreateBranch(f.ctx, f.manager.UserID, catalog.CreateBranchInput{OrgID: f.org, Code: "bdg", Name: "Bandung"})
	require.NoError(t, err)
	dest, err := f.catalog.CreateLocation(f.ctx, f.manager.UserID, catalog.CreateLocationInput{OrgID: f.org, BranchID: other.ID, Code: "main", Name: "Main"})
	require.NoError(t, err)

	tr, err := f.svc.CreateTransfer(f.ctx, f.manager, documents.CreateTransferInput{
		SourceLocationID: f.main.ID, DestLocationID: dest.ID,
		Lines: []documents.LineInput{{ItemID: f.milk.ID, UOM: "EA", Qty: dec(5)}},
	})
	require.NoError(t, err)
	require.Equal(t, f.branch.ID, tr.SourceBranchID)
	require.Equal(t, other.ID, tr.DestBranchID)

	shipped, err := f.svc.ShipTransfer(f.ctx, f.manager, tr.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusInTransit, shipped.Status)
	require.Len(t, shipped.Allocations, 2)
	requireDecimal(t, 3, shipped.Allocations[0].AllocatedQty)
	requireDecimal(t, 2, shipped.Allocations[1].AllocatedQty)
	requireDecimal(t, 8, f.onHand(f.milk, f.main))
	requireDecimal(t, 0, f.onHand(f.milk, dest))

	open, err := f.svc.OpenDocuments(f.ctx, f.org, other.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, documents.KindTransfer, open[0].Kind)

	received, err := f.svc.ReceiveTransfer(f.ctx, f.manager, tr.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusReceived, received.Status)
	require.Equal(t, ledger.ReasonTransferIn, received.Entries[0].Reason)
	requireDecimal(t, 1, received.Entries[0].UnitCost)
	requireDecimal(t, 5, f.onHand(f.milk, dest))

	arrived, err := f.store.Lots().ListLots(f.ctx, f.org, lots.Filter{LocationID: dest.ID})
	require.NoError(t, err)
	require.Len(t, arrived, 2)
	require.Equal(t, "L-SOON", arrived[0].LotNumber)
	require.True(t, arrived[0].ExpiryDate.Equal(soon))
	requireDecimal(t, 3, arrived[0].RemainingQty)
	require.Equal(t, "L-LATE", arrived[1].LotNumber)
	requireDecimal(t, 2, arrived[1].RemainingQty)

	again, err := f.svc.ReceiveTransfer(f.ctx, f.manager, tr.ID)
	require.NoError(t, err)
	require.True(t, again.AlreadyPosted)
	requireDecimal(t, 5, f.onHand(f.milk, dest))
}

func TestTransferToSameLocationRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTransfer(f.ctx, f.manager, documents.CreateTransferInput{
		SourceLocationID: f.main.ID, DestLocationID: f.main.ID,
		Lines: []documents.LineInput{{ItemID: f.tomato.ID, UOM: "EA", Qty: dec(1)}},
	})
	require.Error(t, err)
}

func TestShipTransferShortfallLeavesDraft(t *testing.T) {
	f := newFixture(t)
	f.seed(f.tomato, f.main, 2, 2)
	tr, err := f.svc.CreateTransfer(f.ctx, f.manager, documents.CreateTransferInput{
		SourceLocationID: f.main.ID, DestLocationID: f.kitchen.ID,
		Lines: []documents.LineInput{{ItemID: f.tomato.ID, UOM: "EA", Qty: dec(4)}},
	})
	require.NoError(t, err)

	_, err = f.svc.ShipTransfer(f.ctx, f.manager, tr.ID)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	stored, err := f.svc.GetTransfer(f.ctx, f.org, tr.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusDraft, stored.Status)

	voided, err := f.svc.VoidTransfer(f.ctx, f.manager, tr.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusVoid, voided.Status)
}

func TestProductionValuesOutputAtConsumedCost(t *testing.T) {
	f := newFixture(t)
	r, err := f.svc.CreateReceipt(f.ctx, f.manager, documents.CreateReceiptInput{
		BranchID: f.branch.ID, LocationID: f.kitchen.ID, VendorID: f.vendor,
		Lines: []documents.ReceiptLineInput{{LineInput: documents.LineInput{ItemID: f.tomato.ID, UOM: "CASE", Qty: dec(2)}, UnitCost: dec(36)}},
	})
	require.NoError(t, err)
	_, err = f.svc.PostReceipt(f.ctx, f.manager, r.ID)
	require.NoError(t, err)

	batch, err := f.svc.CreateProduction(f.ctx, f.manager, documents.CreateProductionInput{
		BranchID: f.branch.ID, LocationID: f.kitchen.ID, OutputItemID: f.burger.ID, OutputQty: dec(5),
	})
	require.NoError(t, err)
	require.Len(t, batch.Consumed, 1)
	requireDecimal(t, 10, batch.Consumed[0].QtyBase)

	res, err := f.svc.PostProduction(f.ctx, f.manager, batch.ID)
	require.NoError(t, err)
	require.Equal(t, 2, res.EntriesCreated)
	requireDecimal(t, 14, f.onHand(f.tomato, f.kitchen))
	requireDecimal(t, 5, f.onHand(f.burger, f.kitchen))

	stored, err := f.svc.GetProduction(f.ctx, f.org, batch.ID)
	require.NoError(t, err)
	requireDecimal(t, 6, stored.OutputUnitCost)

	cost, ok, err := f.ledger.LatestUnitCost(f.ctx, f.org, f.burger.ID, time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	requireDecimal(t, 6, cost)
}

func TestProductionWithoutRecipeRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateProduction(f.ctx, f.manager, documents.CreateProductionInput{
		BranchID: f.branch.ID, LocationID: f.kitchen.ID, OutputItemID: f.milk.ID, OutputQty: dec(1),
	})
	require.Error(t, err)
}

type recordingQueue struct {
	ids []uuid.UUID
}

func (q *recordingQueue) EnqueueDepletion(ctx context.Context, orgID, depletionID uuid.UUID, orderID string) error {
	q.ids = append(q.ids, depletionID)
	return nil
}

func (f *fixture) closeOrder(orderID string, item catalog.Item, qty int64) (documents.Depletion, bool) {
	f.t.Helper()
	d, created, err := f.svc.IngestOrderClose(f.ctx, f.manager, documents.OrderCloseEvent{
		OrgID: f.org, OrderID: orderID, BranchID: f.branch.ID,
		Lines: []documents.SoldLine{{ItemID: item.ID, Qty: dec(qty)}},
	})
	require.NoError(f.t, err)
	return d, created
}

func TestDepletionUsesProductionLocationAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(f.tomato, f.kitchen, 10, 2)

	d, created := f.closeOrder("POS-1001", f.burger, 3)
	require.True(t, created)
	require.Equal(t, documents.StatusPosted, d.Status)
	require.Len(t, d.Consumed, 1)
	require.Equal(t, f.kitchen.ID, d.Consumed[0].LocationID)
	requireDecimal(t, 6, d.Consumed[0].QtyBase)
	requireDecimal(t, 4, f.onHand(f.tomato, f.kitchen))

	again, created := f.closeOrder("POS-1001", f.burger, 3)
	require.False(t, created)
	require.Equal(t, d.ID, again.ID)
	requireDecimal(t, 4, f.onHand(f.tomato, f.kitchen))
	require.Len(t, f.entriesFor(d.ID), 1)
}

func TestDepletionMappingOverridesProductionLocation(t *testing.T) {
	f := newFixture(t)
	f.seed(f.tomato, f.main, 10, 2)
	require.NoError(t, f.catalog.SetDepletionMapping(f.ctx, f.manager.UserID, catalog.DepletionMapping{
		OrgID: f.org, BranchID: f.branch.ID, ItemID: f.burger.ID, LocationID: f.main.ID,
	}))

	d, _ := f.closeOrder("POS-2001", f.burger, 1)
	require.Equal(t, documents.StatusPosted, d.Status)
	require.Equal(t, f.main.ID, d.Consumed[0].LocationID)
	requireDecimal(t, 8, f.onHand(f.tomato, f.main))
}

func TestDepletionShortfallFailsThenRetries(t *testing.T) {
	f := newFixture(t)
	f.seed(f.tomato, f.kitchen, 1, 2)

	d, _ := f.closeOrder("POS-3001", f.burger, 2)
	require.Equal(t, documents.StatusFailed, d.Status)
	require.Equal(t, documents.ErrorCodeInsufficientStock, d.ErrorCode)
	require.Equal(t, 1, d.Attempts)
	require.Empty(t, f.entriesFor(d.ID))

	_, err := f.svc.RetryDepletion(f.ctx, f.staff, d.ID)
	require.Error(t, err)

	f.seed(f.tomato, f.kitchen, 10, 2)
	retried, err := f.svc.RetryDepletion(f.ctx, f.manager, d.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusPosted, retried.Status)
	require.Empty(t, retried.ErrorCode)
	require.Equal(t, 2, retried.Attempts)
	requireDecimal(t, 7, f.onHand(f.tomato, f.kitchen))
}

func TestDepletionWithoutRecipeCanBeSkipped(t *testing.T) {
	f := newFixture(t)
	d, _ := f.closeOrder("POS-4001", f.milk, 1)
	require.Equal(t, documents.StatusFailed, d.Status)
	require.Equal(t, documents.ErrorCodeRecipeNotFound, d.ErrorCode)

	_, err := f.svc.SkipDepletion(f.ctx, f.manager, d.ID, "")
	require.Error(t, err)
	skipped, err := f.svc.SkipDepletion(f.ctx, f.manager, d.ID, "menu item retired")
	require.NoError(t, err)
	require.Equal(t, documents.StatusSkipped, skipped.Status)
	require.Equal(t, "menu item retired", skipped.SkipReason)

	_, err = f.svc.RetryDepletion(f.ctx, f.manager, d.ID)
	require.ErrorIs(t, err, documents.ErrInvalidStateTransition)
}

func TestDepletionQueuedUntilProcessed(t *testing.T) {
	f := newFixture(t)
	q := &recordingQueue{}
	f.svc.WithQueue(q)
	f.seed(f.tomato, f.kitchen, 10, 2)

	d, created := f.closeOrder("POS-5001", f.burger, 1)
	require.True(t, created)
	require.Equal(t, documents.StatusPending, d.Status)
	require.Equal(t, []uuid.UUID{d.ID}, q.ids)

	open, err := f.svc.OpenDocuments(f.ctx, f.org, f.branch.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "POS-5001", open[0].Number)

	processed, err := f.svc.ProcessDepletion(f.ctx, f.org, d.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusPosted, processed.Status)
	requireDecimal(t, 8, f.onHand(f.tomato, f.kitchen))
}

func TestDepletionIngestNeedsLevel(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.IngestOrderClose(f.ctx, f.staff, documents.OrderCloseEvent{
		OrgID: f.org, OrderID: "POS-6001", BranchID: f.branch.ID,
		Lines: []documents.SoldLine{{ItemID: f.burger.ID, Qty: dec(1)}},
	})
	require.Error(t, err)
}

func TestDepletionEntriesStampedAtOrderClose(t *testing.T) {
	f := newFixture(t)
	q := &recordingQueue{}
	f.svc.WithQueue(q)
	f.seed(f.tomato, f.kitchen, 10, 2)

	closedAt := f.clock.Add(-2 * time.Hour)
	d, _, err := f.svc.IngestOrderClose(f.ctx, f.manager, documents.OrderCloseEvent{
		OrgID: f.org, OrderID: "POS-7001", BranchID: f.branch.ID, ClosedAt: closedAt,
		Lines: []documents.SoldLine{{ItemID: f.burger.ID, Qty: dec(1)}},
	})
	require.NoError(t, err)
	require.Equal(t, documents.StatusPending, d.Status)

	f.clock = f.clock.Add(6 * time.Hour)
	_, err = f.svc.ProcessDepletion(f.ctx, f.org, d.ID)
	require.NoError(t, err)
	entries := f.entriesFor(d.ID)
	require.Len(t, entries, 1)
	require.True(t, entries[0].CreatedAt.Equal(closedAt), "entry at %s, order closed %s", entries[0].CreatedAt, closedAt)
}

func TestConcurrentWasteNeverOversells(t *testing.T) {
	f := newFixture(t)
	f.seed(f.tomato, f.main, 10, 2)

	const writers = 8
	drafts := make([]documents.WasteDocument, writers)
	for i := range drafts {
		w, err := f.svc.CreateWaste(f.ctx, f.manager, documents.CreateWasteInput{
			BranchID: f.branch.ID, LocationID: f.main.ID, Reason: "dropped",
			Lines: []documents.LineInput{{ItemID: f.tomato.ID, UOM: "EA", Qty: dec(3)}},
		})
		require.NoError(t, err)
		drafts[i] = w
	}
	fixed := f.clock
	f.svc.WithNow(func() time.Time { return fixed })

	var (
		wg        sync.WaitGroup
		posted    atomic.Int32
		shortfall atomic.Int32
	)
	for _, w := range drafts {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := f.svc.PostWaste(f.ctx, f.manager, id)
			switch {
			case err == nil:
				posted.Add(1)
			case errors.Is(err, ledger.ErrInsufficientStock):
				shortfall.Add(1)
			}
		}(w.ID)
	}
	wg.Wait()

	require.EqualValues(t, 3, posted.Load())
	require.EqualValues(t, writers-3, shortfall.Load())
	onHand := f.onHand(f.tomato, f.main)
	require.False(t, onHand.IsNegative())
	requireDecimal(t, 1, onHand)
}
