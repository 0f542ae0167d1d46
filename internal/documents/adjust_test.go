package documents_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/uom"
)

func (f *fixture) lotTotal(item catalog.Item, loc catalog.Location) decimal.Decimal {
	f.t.Helper()
	found, err := f.store.Lots().ListLots(f.ctx, f.org, lots.Filter{ItemID: item.ID, LocationID: loc.ID})
	require.NoError(f.t, err)
	total := decimal.Zero
	for _, l := range found {
		total = total.Add(l.RemainingQty)
	}
	return total
}

func (f *fixture) adjust(item catalog.Item, loc catalog.Location, delta int64, key string) (ledger.ManualResult, error) {
	return f.svc.PostAdjustment(f.ctx, f.manager, ledger.AdjustmentInput{
		ItemID: item.ID, LocationID: loc.ID, QtyDelta: dec(delta), Note: "shelf check", IdempotencyKey: key,
	})
}

func TestAdjustmentChecksSufficiency(t *testing.T) {
	f := newFixture(t)

	_, err := f.adjust(f.tomato, f.main, -1, "")
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	res, err := f.adjust(f.tomato, f.main, 4, "")
	require.NoError(t, err)
	require.Equal(t, ledger.ReasonAdjustment, res.Entry.Reason)
	require.Equal(t, f.branch.ID, res.Entry.BranchID)
	requireDecimal(t, 2, res.Entry.UnitCost)

	_, err = f.svc.PostAdjustment(f.ctx, f.manager, ledger.AdjustmentInput{ItemID: f.tomato.ID, LocationID: f.main.ID, QtyDelta: dec(1)})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = f.adjust(f.tomato, f.main, 0, "")
	require.ErrorIs(t, err, ledger.ErrInvalidQuantity)
	_, err = f.svc.PostAdjustment(f.ctx, f.manager, ledger.AdjustmentInput{
		ItemID: f.tomato.ID, LocationID: f.main.ID, QtyDelta: dec(1), Note: "x", Lot: ledger.LotDetails{LotNumber: "L1"},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordCountWritesVarianceOnlyWhenDifferent(t *testing.T) {
	f := newFixture(t)
	f.seed(f.tomato, f.main, 20, 3)

	res, err := f.svc.RecordCount(f.ctx, f.manager, ledger.CountInput{ItemID: f.tomato.ID, LocationID: f.main.ID, CountedQty: dec(20)})
	require.NoError(t, err)
	require.Nil(t, res.Entry)
	require.True(t, res.Variance.IsZero())

	res, err = f.svc.RecordCount(f.ctx, f.manager, ledger.CountInput{ItemID: f.tomato.ID, LocationID: f.main.ID, CountedQty: dec(17)})
	require.NoError(t, err)
	require.NotNil(t, res.Entry)
	require.Equal(t, ledger.ReasonCountVariance, res.Entry.Reason)
	requireDecimal(t, -3, res.Variance)
	requireDecimal(t, 17, f.onHand(f.tomato, f.main))

	_, err = f.svc.RecordCount(f.ctx, f.manager, ledger.CountInput{ItemID: f.tomato.ID, LocationID: f.main.ID, CountedQty: dec(-1)})
	require.ErrorIs(t, err, ledger.ErrInvalidQuantity)
}

func TestManualMovementsKeepLotsInStep(t *testing.T) {
	f := newFixture(t)
	expiry := f.clock.AddDate(0, 0, 10)

	opening, err := f.svc.PostInitial(f.ctx, f.manager, ledger.InitialInput{
		ItemID: f.milk.ID, LocationID: f.main.ID, Qty: dec(10), UnitCost: dec(1),
		Lot: ledger.LotDetails{LotNumber: "OPEN-1", ExpiryDate: &expiry},
	})
	require.NoError(t, err)
	require.Len(t, opening.LotIDs, 1)
	requireDecimal(t, 10, f.lotTotal(f.milk, f.main))

	_, err = f.adjust(f.milk, f.main, -3, "")
	require.NoError(t, err)
	requireDecimal(t, 7, f.onHand(f.milk, f.main))
	requireDecimal(t, 7, f.lotTotal(f.milk, f.main))

	found, err := f.svc.PostAdjustment(f.ctx, f.manager, ledger.AdjustmentInput{
		ItemID: f.milk.ID, LocationID: f.main.ID, QtyDelta: dec(2), Note: "found crate", Lot: ledger.LotDetails{LotNumber: "FOUND-1"},
	})
	require.NoError(t, err)
	require.Len(t, found.LotIDs, 1)
	requireDecimal(t, 9, f.lotTotal(f.milk, f.main))

	count, err := f.svc.RecordCount(f.ctx, f.manager, ledger.CountInput{ItemID: f.milk.ID, LocationID: f.main.ID, CountedQty: dec(4)})
	require.NoError(t, err)
	requireDecimal(t, -5, count.Variance)
	requireDecimal(t, 4, f.onHand(f.milk, f.main))
	requireDecimal(t, 4, f.lotTotal(f.milk, f.main))

	count, err = f.svc.RecordCount(f.ctx, f.manager, ledger.CountInput{ItemID: f.milk.ID, LocationID: f.main.ID, CountedQty: dec(6)})
	require.NoError(t, err)
	requireDecimal(t, 2, count.Variance)
	requireDecimal(t, 6, f.onHand(f.milk, f.main))
	requireDecimal(t, 6, f.lotTotal(f.milk, f.main))
}

func TestInitialLotStockCanBeWasted(t *testing.T) {
	f := newFixture(t)
	f.seed(f.milk, f.main, 5, 1)

	w, err := f.svc.CreateWaste(f.ctx, f.manager, documents.CreateWasteInput{
		BranchID: f.branch.ID, LocationID: f.main.ID, Reason: "soured",
		Lines: []documents.LineInput{{ItemID: f.milk.ID, UOM: "EA", Qty: dec(5)}},
	})
	require.NoError(t, err)
	res, err := f.svc.PostWaste(f.ctx, f.manager, w.ID)
	require.NoError(t, err)
	require.Len(t, res.Allocations, 1)
	requireDecimal(t, 0, f.onHand(f.milk, f.main))
	requireDecimal(t, 0, f.lotTotal(f.milk, f.main))
}

func TestAdjustmentRetryReturnsFirstEntry(t *testing.T) {
	f := newFixture(t)
	f.seed(f.tomato, f.main, 10, 2)

	first, err := f.adjust(f.tomato, f.main, -3, "adj-1")
	require.NoError(t, err)
	require.False(t, first.AlreadyPosted)

	again, err := f.adjust(f.tomato, f.main, -3, "adj-1")
	require.NoError(t, err)
	require.True(t, again.AlreadyPosted)
	require.Equal(t, first.Entry.ID, again.Entry.ID)
	requireDecimal(t, 7, f.onHand(f.tomato, f.main))
	require.Len(t, f.entriesFor(first.Entry.SourceID), 1)

	_, err = f.adjust(f.tomato, f.main, -4, "adj-1")
	require.ErrorIs(t, err, shared.ErrConflict)
	requireDecimal(t, 7, f.onHand(f.tomato, f.main))
}

func TestFailedAdjustmentReleasesKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.adjust(f.tomato, f.main, -5, "adj-2")
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	f.seed(f.tomato, f.main, 10, 2)
	res, err := f.adjust(f.tomato, f.main, -5, "adj-2")
	require.NoError(t, err)
	require.False(t, res.AlreadyPosted)
	requireDecimal(t, 5, f.onHand(f.tomato, f.main))
}

func TestAdjustmentKeysAreScopedToOrg(t *testing.T) {
	f := newFixture(t)
	f.seed(f.tomato, f.main, 10, 2)
	_, err := f.adjust(f.tomato, f.main, -1, "shared-key")
	require.NoError(t, err)

	other := shared.Principal{OrgID: uuid.New(), UserID: uuid.New(), Level: shared.L5}
	branch, err := f.catalog.CreateBranch(f.ctx, other.UserID, catalog.CreateBranchInput{OrgID: other.OrgID, Code: "sby", Name: "Surabaya", Timezone: "Asia/Jakarta"})
	require.NoError(t, err)
	loc, err := f.catalog.CreateLocation(f.ctx, other.UserID, catalog.CreateLocationInput{OrgID: other.OrgID, BranchID: branch.ID, Code: "main", Name: "Main", Default: true})
	require.NoError(t, err)
	item, err := f.catalog.CreateItem(f.ctx, other.UserID, catalog.CreateItemInput{OrgID: other.OrgID, SKU: "TOMATO", Name: "Tomato", BaseUOM: "EA"})
	require.NoError(t, err)

	res, err := f.svc.PostAdjustment(f.ctx, other, ledger.AdjustmentInput{
		ItemID: item.ID, LocationID: loc.ID, QtyDelta: dec(4), Note: "opening", IdempotencyKey: "shared-key",
	})
	require.NoError(t, err)
	require.False(t, res.AlreadyPosted)
	require.Equal(t, other.OrgID, res.Entry.OrgID)

	_, err = f.svc.PostAdjustment(f.ctx, other, ledger.AdjustmentInput{
		ItemID: f.tomato.ID, LocationID: f.main.ID, QtyDelta: dec(1), Note: "x",
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

type unreleasableKeys struct {
	shared.IdempotencyPort
}

func (unreleasableKeys) CheckAndInsert(ctx context.Context, orgID uuid.UUID, key, module string) error {
	return nil
}

func (unreleasableKeys) Delete(ctx context.Context, orgID uuid.UUID, key, module string) error {
	return errors.New("connection reset")
}

func TestKeyReleaseFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	svc := documents.NewService(f.store.Documents(), f.catalog, uom.NewResolver(f.catalog), f.ledger, f.store, documents.ServiceConfig{}, logger)
	svc.WithNow(func() time.Time { return f.clock })
	svc.WithIdempotency(unreleasableKeys{})

	_, err := svc.PostAdjustment(f.ctx, f.manager, ledger.AdjustmentInput{
		ItemID: f.tomato.ID, LocationID: f.main.ID, QtyDelta: dec(-2), Note: "broken jar", IdempotencyKey: "adj-3",
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	require.Contains(t, buf.String(), "idempotency key release failed")
	require.Contains(t, buf.String(), "connection reset")
}
