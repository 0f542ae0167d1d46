package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/reorder"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type reorderState struct {
	policies  map[uuid.UUID]reorder.Policy
	forecasts map[string]reorder.ForecastSnapshot
	runs      map[uuid.UUID]reorder.OptimizationRun
	runHashes map[string]uuid.UUID
}

func newReorderState() reorderState {
	return reorderState{
		policies:  map[uuid.UUID]reorder.Policy{},
		forecasts: map[string]reorder.ForecastSnapshot{},
		runs:      map[uuid.UUID]reorder.OptimizationRun{},
		runHashes: map[string]uuid.UUID{},
	}
}

func (r reorderState) clone() reorderState {
	return reorderState{
		policies:  copyMap(r.policies),
		forecasts: copyMap(r.forecasts),
		runs:      copyMap(r.runs),
		runHashes: copyMap(r.runHashes),
	}
}

func hashKey(orgID uuid.UUID, hash string) string { return orgID.String() + "/" + hash }

func copyRun(run reorder.OptimizationRun) reorder.OptimizationRun {
	lines := make([]reorder.SuggestionLine, len(run.Lines))
	for i, l := range run.Lines {
		l.ReasonCodes = cloneSlice(l.ReasonCodes)
		lines[i] = l
	}
	run.Lines = lines
	run.PurchaseOrderIDs = cloneSlice(run.PurchaseOrderIDs)
	return run
}

// ReorderRepo implements reorder.RepositoryPort.
type ReorderRepo struct{ s *Store }

// Reorder returns the reorder repository view.
func (s *Store) Reorder() *ReorderRepo { return &ReorderRepo{s: s} }

func (r *ReorderRepo) WithTx(ctx context.Context, fn func(context.Context, reorder.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, tx *memTx) error { return fn(ctx, tx) })
}

func (r *ReorderRepo) GetPolicy(ctx context.Context, orgID, id uuid.UUID) (reorder.Policy, error) {
	var (
		p  reorder.Policy
		ok bool
	)
	r.s.read(func(st *state) { p, ok = st.reorder.policies[id] })
	if !ok || p.OrgID != orgID {
		return reorder.Policy{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *ReorderRepo) ListPolicies(ctx context.Context, orgID uuid.UUID, filter reorder.PolicyFilter) ([]reorder.Policy, error) {
	out := []reorder.Policy{}
	r.s.read(func(st *state) {
		for _, p := range st.reorder.policies {
			if p.OrgID != orgID {
				continue
			}
			if filter.BranchID != uuid.Nil && p.BranchID != filter.BranchID {
				continue
			}
			if filter.ItemID != uuid.Nil && p.ItemID != filter.ItemID {
				continue
			}
			if filter.ActiveOnly && !p.Active {
				continue
			}
			out = append(out, p)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID.String() < out[j].ItemID.String()
		}
		if out[i].BranchID != out[j].BranchID {
			return out[i].BranchID.String() < out[j].BranchID.String()
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return shared.Slice(out, filter.Page), nil
}

func (r *ReorderRepo) GetForecastByHash(ctx context.Context, orgID uuid.UUID, hash string) (reorder.ForecastSnapshot, error) {
	var (
		snap reorder.ForecastSnapshot
		ok   bool
	)
	r.s.read(func(st *state) { snap, ok = st.reorder.forecasts[hashKey(orgID, hash)] })
	if !ok {
		return reorder.ForecastSnapshot{}, shared.ErrNotFound
	}
	return snap, nil
}

func (r *ReorderRepo) ListForecasts(ctx context.Context, orgID, branchID uuid.UUID, asOf time.Time) ([]reorder.ForecastSnapshot, error) {
	out := []reorder.ForecastSnapshot{}
	r.s.read(func(st *state) {
		for _, snap := range st.reorder.forecasts {
			if snap.OrgID == orgID && snap.BranchID == branchID && snap.AsOf.Equal(asOf) {
				out = append(out, snap)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID.String() < out[j].ItemID.String()
		}
		if out[i].WindowDays != out[j].WindowDays {
			return out[i].WindowDays < out[j].WindowDays
		}
		return out[i].HorizonDays < out[j].HorizonDays
	})
	return out, nil
}

func (r *ReorderRepo) GetRun(ctx context.Context, orgID, id uuid.UUID) (reorder.OptimizationRun, error) {
	var (
		run reorder.OptimizationRun
		ok  bool
	)
	r.s.read(func(st *state) { run, ok = st.reorder.runs[id] })
	if !ok || run.OrgID != orgID {
		return reorder.OptimizationRun{}, shared.ErrNotFound
	}
	return copyRun(run), nil
}

func (r *ReorderRepo) GetRunByHash(ctx context.Context, orgID uuid.UUID, hash string) (reorder.OptimizationRun, error) {
	var (
		run reorder.OptimizationRun
		ok  bool
	)
	r.s.read(func(st *state) {
		id, found := st.reorder.runHashes[hashKey(orgID, hash)]
		if found {
			run, ok = st.reorder.runs[id]
		}
	})
	if !ok {
		return reorder.OptimizationRun{}, shared.ErrNotFound
	}
	return copyRun(run), nil
}

func (r *ReorderRepo) ListRuns(ctx context.Context, orgID uuid.UUID, filter reorder.RunFilter) ([]reorder.OptimizationRun, error) {
	out := []reorder.OptimizationRun{}
	r.s.read(func(st *state) {
		for _, run := range st.reorder.runs {
			if run.OrgID != orgID {
				continue
			}
			if filter.BranchID != uuid.Nil && run.BranchID != filter.BranchID {
				continue
			}
			out = append(out, copyRun(run))
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return shared.Slice(out, filter.Page), nil
}

func (tx *memTx) LockActivePolicy(ctx context.Context, orgID, itemID, branchID uuid.UUID) (reorder.Policy, bool, error) {
	for _, p := range tx.st.reorder.policies {
		if p.OrgID == orgID && p.ItemID == itemID && p.BranchID == branchID && p.Active {
			return p, true, nil
		}
	}
	return reorder.Policy{}, false, nil
}

func (tx *memTx) LockPolicy(ctx context.Context, orgID, id uuid.UUID) (reorder.Policy, error) {
	p, ok := tx.st.reorder.policies[id]
	if !ok || p.OrgID != orgID {
		return reorder.Policy{}, shared.ErrNotFound
	}
	return p, nil
}

func (tx *memTx) InsertPolicy(ctx context.Context, p reorder.Policy) error {
	if p.Active {
		if _, ok, _ := tx.LockActivePolicy(ctx, p.OrgID, p.ItemID, p.BranchID); ok {
			return shared.NewError(shared.ErrConflict, "reorder: active policy exists")
		}
	}
	tx.st.reorder.policies[p.ID] = p
	return nil
}

func (tx *memTx) UpdatePolicy(ctx context.Context, p reorder.Policy) error {
	existing, ok := tx.st.reorder.policies[p.ID]
	if !ok || existing.OrgID != p.OrgID {
		return shared.ErrNotFound
	}
	tx.st.reorder.policies[p.ID] = p
	return nil
}

func (tx *memTx) InsertForecast(ctx context.Context, snap reorder.ForecastSnapshot) (bool, error) {
	key := hashKey(snap.OrgID, snap.InputHash)
	if _, ok := tx.st.reorder.forecasts[key]; ok {
		return false, nil
	}
	tx.st.reorder.forecasts[key] = snap
	return true, nil
}

func (tx *memTx) InsertRun(ctx context.Context, run reorder.OptimizationRun) (bool, error) {
	key := hashKey(run.OrgID, run.InputHash)
	if _, ok := tx.st.reorder.runHashes[key]; ok {
		return false, nil
	}
	tx.st.reorder.runs[run.ID] = copyRun(run)
	tx.st.reorder.runHashes[key] = run.ID
	return true, nil
}

func (tx *memTx) LockRun(ctx context.Context, orgID, id uuid.UUID) (reorder.OptimizationRun, error) {
	run, ok := tx.st.reorder.runs[id]
	if !ok || run.OrgID != orgID {
		return reorder.OptimizationRun{}, shared.ErrNotFound
	}
	return copyRun(run), nil
}

func (tx *memTx) SetRunPurchaseOrders(ctx context.Context, orgID, runID uuid.UUID, poIDs []uuid.UUID) error {
	run, ok := tx.st.reorder.runs[runID]
	if !ok || run.OrgID != orgID {
		return shared.ErrNotFound
	}
	run = copyRun(run)
	run.PurchaseOrderIDs = cloneSlice(poIDs)
	tx.st.reorder.runs[runID] = run
	return nil
}
