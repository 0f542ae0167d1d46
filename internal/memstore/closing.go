package memstore

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/closing"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type closingState struct {
	periods         map[uuid.UUID]closing.Period
	snapshots       []closing.ValuationSnapshot
	summaries       []closing.MovementSummary
	reconciliations map[string]closing.ReconciliationReport
	events          []closing.PeriodEvent
}

func newClosingState() closingState {
	return closingState{
		periods:         map[uuid.UUID]closing.Period{},
		reconciliations: map[string]closing.ReconciliationReport{},
	}
}

func (c closingState) clone() closingState {
	return closingState{
		periods:         copyMap(c.periods),
		snapshots:       cloneSlice(c.snapshots),
		summaries:       cloneSlice(c.summaries),
		reconciliations: copyMap(c.reconciliations),
		events:          cloneSlice(c.events),
	}
}

func reconKey(orgID, periodID uuid.UUID, revision int) string {
	return compositeKey(orgID, periodID) + "/" + strconv.Itoa(revision)
}

func copyReport(r closing.ReconciliationReport) closing.ReconciliationReport {
	r.Lines = cloneSlice(r.Lines)
	return r
}

func copyEvent(ev closing.PeriodEvent) closing.PeriodEvent {
	if ev.Meta != nil {
		ev.Meta = copyMap(ev.Meta)
	}
	return ev
}

// ClosingRepo implements closing.RepositoryPort.
type ClosingRepo struct{ s *Store }

// Closing returns the period repository view.
func (s *Store) Closing() *ClosingRepo { return &ClosingRepo{s: s} }

func (r *ClosingRepo) WithTx(ctx context.Context, fn func(context.Context, closing.TxRepository) error) error {
	return r.s.withTx(ctx, func(ctx context.Context, tx *memTx) error { return fn(ctx, tx) })
}

func (r *ClosingRepo) GetPeriod(ctx context.Context, orgID, id uuid.UUID) (closing.Period, error) {
	var (
		p  closing.Period
		ok bool
	)
	r.s.read(func(st *state) { p, ok = st.closing.periods[id] })
	if !ok || p.OrgID != orgID {
		return closing.Period{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *ClosingRepo) ListPeriods(ctx context.Context, orgID uuid.UUID, filter closing.PeriodFilter) ([]closing.Period, error) {
	out := []closing.Period{}
	r.s.read(func(st *state) {
		for _, p := range st.closing.periods {
			if p.OrgID != orgID {
				continue
			}
			if filter.BranchID != uuid.Nil && p.BranchID != filter.BranchID {
				continue
			}
			if filter.Status != "" && p.Status != filter.Status {
				continue
			}
			out = append(out, p)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.After(out[j].StartDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return shared.Slice(out, filter.Page), nil
}

func (r *ClosingRepo) PeriodOverlaps(ctx context.Context, orgID, branchID uuid.UUID, start, end time.Time) (bool, error) {
	overlap := false
	r.s.read(func(st *state) {
		for _, p := range st.closing.periods {
			if p.OrgID == orgID && p.BranchID == branchID && !p.StartDate.After(end) && !p.EndDate.Before(start) {
				overlap = true
				return
			}
		}
	})
	return overlap, nil
}

func (r *ClosingRepo) ListSnapshots(ctx context.Context, orgID, periodID uuid.UUID, revision int) ([]closing.ValuationSnapshot, error) {
	out := []closing.ValuationSnapshot{}
	r.s.read(func(st *state) {
		for _, sn := range st.closing.snapshots {
			if sn.OrgID == orgID && sn.PeriodID == periodID && sn.Revision == revision {
				out = append(out, sn)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID.String() < out[j].ItemID.String()
		}
		return out[i].LocationID.String() < out[j].LocationID.String()
	})
	return out, nil
}

func (r *ClosingRepo) ListSummaries(ctx context.Context, orgID, periodID uuid.UUID, revision int) ([]closing.MovementSummary, error) {
	out := []closing.MovementSummary{}
	r.s.read(func(st *state) {
		for _, m := range st.closing.summaries {
			if m.OrgID == orgID && m.PeriodID == periodID && m.Revision == revision {
				out = append(out, m)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID.String() < out[j].ItemID.String() })
	return out, nil
}

func (r *ClosingRepo) GetReconciliation(ctx context.Context, orgID, periodID uuid.UUID, revision int) (closing.ReconciliationReport, error) {
	var (
		rep closing.ReconciliationReport
		ok  bool
	)
	r.s.read(func(st *state) { rep, ok = st.closing.reconciliations[reconKey(orgID, periodID, revision)] })
	if !ok {
		return closing.ReconciliationReport{}, shared.ErrNotFound
	}
	return copyReport(rep), nil
}

func (r *ClosingRepo) ListEvents(ctx context.Context, orgID, periodID uuid.UUID) ([]closing.PeriodEvent, error) {
	out := []closing.PeriodEvent{}
	r.s.read(func(st *state) {
		for _, ev := range st.closing.events {
			if ev.OrgID == orgID && ev.PeriodID == periodID {
				out = append(out, copyEvent(ev))
			}
		}
	})
	return out, nil
}

func (tx *memTx) LockPeriod(ctx context.Context, orgID, id uuid.UUID) (closing.Period, error) {
	p, ok := tx.st.closing.periods[id]
	if !ok || p.OrgID != orgID {
		return closing.Period{}, shared.ErrNotFound
	}
	return p, nil
}

func (tx *memTx) InsertPeriod(ctx context.Context, p closing.Period) error {
	for _, existing := range tx.st.closing.periods {
		if existing.OrgID == p.OrgID && existing.BranchID == p.BranchID &&
			!existing.StartDate.After(p.EndDate) && !existing.EndDate.Before(p.StartDate) {
			return closing.ErrPeriodOverlap
		}
	}
	tx.st.closing.periods[p.ID] = p
	return nil
}

func (tx *memTx) UpdatePeriod(ctx context.Context, p closing.Period) error {
	existing, ok := tx.st.closing.periods[p.ID]
	if !ok || existing.OrgID != p.OrgID {
		return shared.ErrNotFound
	}
	tx.st.closing.periods[p.ID] = p
	return nil
}

func (tx *memTx) InsertSnapshots(ctx context.Context, snapshots []closing.ValuationSnapshot) error {
	tx.st.closing.snapshots = append(tx.st.closing.snapshots, snapshots...)
	return nil
}

func (tx *memTx) InsertSummaries(ctx context.Context, summaries []closing.MovementSummary) error {
	tx.st.closing.summaries = append(tx.st.closing.summaries, summaries...)
	return nil
}

func (tx *memTx) SaveReconciliation(ctx context.Context, rep closing.ReconciliationReport) error {
	tx.st.closing.reconciliations[reconKey(rep.OrgID, rep.PeriodID, rep.Revision)] = copyReport(rep)
	return nil
}

func (tx *memTx) InsertPeriodEvent(ctx context.Context, ev closing.PeriodEvent) error {
	tx.st.closing.events = append(tx.st.closing.events, copyEvent(ev))
	return nil
}
