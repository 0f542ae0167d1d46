package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// LotsRepo implements lots.RepositoryPort.
type LotsRepo struct{ s *Store }

// Lots returns the lot repository view.
func (s *Store) Lots() *LotsRepo { return &LotsRepo{s: s} }

func (r *LotsRepo) WithTx(ctx context.Context, fn func(context.Context, lots.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, tx *memTx) error { return fn(ctx, tx) })
}

func (r *LotsRepo) GetLot(ctx context.Context, orgID, id uuid.UUID) (lots.Lot, error) {
	var (
		l  lots.Lot
		ok bool
	)
	r.s.read(func(st *state) { l, ok = st.lots[id] })
	if !ok || l.OrgID != orgID {
		return lots.Lot{}, shared.ErrNotFound
	}
	return l, nil
}

func (r *LotsRepo) ListLots(ctx context.Context, orgID uuid.UUID, filter lots.Filter) ([]lots.Lot, error) {
	out := []lots.Lot{}
	r.s.read(func(st *state) {
		for _, l := range st.lots {
			if l.OrgID == orgID && filter.Matches(l) {
				out = append(out, l)
			}
		}
	})
	lots.SortFEFO(out)
	return out, nil
}

func sortAllocations(out []lots.Allocation) {
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].AllocationOrder < out[j].AllocationOrder
	})
}

func (r *LotsRepo) ListAllocationsByLot(ctx context.Context, orgID, lotID uuid.UUID) ([]lots.Allocation, error) {
	out := []lots.Allocation{}
	r.s.read(func(st *state) {
		for _, a := range st.allocations {
			if a.OrgID == orgID && a.LotID == lotID {
				out = append(out, a)
			}
		}
	})
	sortAllocations(out)
	return out, nil
}

func (r *LotsRepo) ExpireDue(ctx context.Context, now time.Time) ([]lots.Lot, error) {
	var expired []lots.Lot
	err := r.s.withTx(ctx, func(ctx context.Context, tx *memTx) error {
		for id, l := range tx.st.lots {
			if l.Status != lots.StatusActive || l.ExpiryDate == nil || l.ExpiryDate.After(now) {
				continue
			}
			l.Status = lots.StatusExpired
			l.UpdatedAt = now
			tx.st.lots[id] = l
			expired = append(expired, l)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	lots.SortFEFO(expired)
	return expired, nil
}

func (tx *memTx) LockCandidateLots(ctx context.Context, orgID, itemID, locationID uuid.UUID, now time.Time) ([]lots.Lot, error) {
	out := []lots.Lot{}
	for _, l := range tx.st.lots {
		if l.OrgID == orgID && l.ItemID == itemID && l.LocationID == locationID && l.Allocatable(now) {
			out = append(out, l)
		}
	}
	lots.SortFEFO(out)
	return out, nil
}

func (tx *memTx) LockLot(ctx context.Context, orgID, id uuid.UUID) (lots.Lot, error) {
	l, ok := tx.st.lots[id]
	if !ok || l.OrgID != orgID {
		return lots.Lot{}, shared.ErrNotFound
	}
	return l, nil
}

func (tx *memTx) InsertLot(ctx context.Context, lot lots.Lot) error {
	tx.st.lots[lot.ID] = lot
	return nil
}

func (tx *memTx) UpdateLot(ctx context.Context, lot lots.Lot) error {
	cur, ok := tx.st.lots[lot.ID]
	if !ok || cur.OrgID != lot.OrgID {
		return shared.ErrNotFound
	}
	cur.RemainingQty, cur.Status, cur.UpdatedAt = lot.RemainingQty, lot.Status, lot.UpdatedAt
	tx.st.lots[lot.ID] = cur
	return nil
}

func (tx *memTx) InsertAllocations(ctx context.Context, allocations []lots.Allocation) error {
	tx.st.allocations = append(tx.st.allocations, allocations...)
	return nil
}

func (tx *memTx) ListAllocationsBySource(ctx context.Context, orgID uuid.UUID, sourceType string, sourceID uuid.UUID) ([]lots.Allocation, error) {
	out := []lots.Allocation{}
	for _, a := range tx.st.allocations {
		if a.OrgID == orgID && a.SourceType == sourceType && a.SourceID == sourceID {
			out = append(out, a)
		}
	}
	sortAllocations(out)
	return out, nil
}
