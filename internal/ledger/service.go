package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Position is an aggregated quantity for one item at one location.
type Position struct {
	BranchID   uuid.UUID       `json:"branchId"`
	ItemID     uuid.UUID       `json:"itemId"`
	LocationID uuid.UUID       `json:"locationId"`
	Qty        decimal.Decimal `json:"qty"`
}

// ReasonTotal aggregates one reason's entries for a key over a window.
// Value is the sum of qty_delta × unit_cost, so removals carry a negative value.
type ReasonTotal struct {
	ItemID     uuid.UUID       `json:"itemId"`
	LocationID uuid.UUID       `json:"locationId"`
	Reason     Reason          `json:"reason"`
	Qty        decimal.Decimal `json:"qty"`
	Value      decimal.Decimal `json:"value"`
}

// DayTotal is an item's net quantity over one branch-local day. Day is that date at UTC midnight.
type DayTotal struct {
	ItemID uuid.UUID       `json:"itemId"`
	Day    time.Time       `json:"day"`
	Qty    decimal.Decimal `json:"qty"`
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// SumEntries totals the log for a key; a non-zero before excludes entries at or after it.
	SumEntries(ctx context.Context, orgID uuid.UUID, key Key, before time.Time) (decimal.Decimal, int64, error)
	// SumByBranch totals the log per key for a branch; itemID uuid.Nil means every item.
	SumByBranch(ctx context.Context, orgID, branchID, itemID uuid.UUID, before time.Time) ([]Position, error)
	ListEntries(ctx context.Context, orgID uuid.UUID, filter Filter) ([]Entry, error)
	// SumByReason totals a branch's entries in [from, to) per key and reason.
	SumByReason(ctx context.Context, orgID, branchID uuid.UUID, from, to time.Time) ([]ReasonTotal, error)
	// SumByDay totals a branch's entries with one of reasons in [from, to) per item and local day of loc.
	SumByDay(ctx context.Context, orgID, branchID uuid.UUID, reasons []Reason, from, to time.Time, loc *time.Location) ([]DayTotal, error)
	GetBalance(ctx context.Context, orgID uuid.UUID, key Key) (Balance, error)
	// LatestUnitCost returns the cost of the newest entry of an item with one of reasons before the boundary.
	LatestUnitCost(ctx context.Context, orgID, itemID uuid.UUID, reasons []Reason, before time.Time) (decimal.Decimal, bool, error)
}

// MetricsPort counts appended entries.
type MetricsPort interface {
	EntriesAppended(reason string, n int)
}

// Service exposes the quantity ledger.
type Service struct {
	repo    RepositoryPort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics attaches a metrics recorder.
func (s *Service) WithMetrics(m MetricsPort) {
	s.metrics = m
}

// Observe reports entries appended by another package's transaction.
func (s *Service) Observe(entries []Entry) {
	if s == nil || s.metrics == nil {
		return
	}
	counts := map[Reason]int{}
	for _, e := range entries {
		counts[e.Reason]++
	}
	for reason, n := range counts {
		s.metrics.EntriesAppended(string(reason), n)
	}
}

// Append inserts a single entry and refreshes the running total. No business rules apply.
func (s *Service) Append(ctx context.Context, entry Entry) (Entry, error) {
	if entry.OrgID == uuid.Nil || entry.ItemID == uuid.Nil || entry.LocationID == uuid.Nil {
		return Entry{}, shared.NewError(shared.ErrValidation, "ledger: org, item and location required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = newEntryID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		k := Key{ItemID: entry.ItemID, LocationID: entry.LocationID}
		bal, err := tx.LockBalance(ctx, entry.OrgID, entry.BranchID, k)
		if err != nil {
			return err
		}
		if err := tx.InsertEntries(ctx, []Entry{entry}); err != nil {
			return err
		}
		bal.OrgID, bal.BranchID, bal.ItemID, bal.LocationID = entry.OrgID, entry.BranchID, entry.ItemID, entry.LocationID
		bal.Qty = bal.Qty.Add(entry.QtyDelta)
		bal.EntryCount++
		bal.UpdatedAt = entry.CreatedAt
		return tx.SaveBalance(ctx, bal)
	})
	if err != nil {
		return Entry{}, err
	}
	s.Observe([]Entry{entry})
	return entry, nil
}

// Post applies movements in one transaction.
func (s *Service) Post(ctx context.Context, orgID uuid.UUID, movements []Movement) ([]Entry, error) {
	var entries []Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = Post(ctx, tx, orgID, movements, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Observe(entries)
	return entries, nil
}

// OnHand sums the log for an item at a location.
func (s *Service) OnHand(ctx context.Context, orgID, itemID, locationID uuid.UUID) (decimal.Decimal, error) {
	qty, _, err := s.repo.SumEntries(ctx, orgID, Key{ItemID: itemID, LocationID: locationID}, time.Time{})
	return qty, err
}

// OnHandAt sums the log for a key strictly before at.
func (s *Service) OnHandAt(ctx context.Context, orgID, itemID, locationID uuid.UUID, at time.Time) (decimal.Decimal, error) {
	qty, _, err := s.repo.SumEntries(ctx, orgID, Key{ItemID: itemID, LocationID: locationID}, at)
	return qty, err
}

// OnHandByBranch lists non-zero positions of a branch, optionally for one item.
func (s *Service) OnHandByBranch(ctx context.Context, orgID, branchID, itemID uuid.UUID) ([]Position, error) {
	positions, err := s.repo.SumByBranch(ctx, orgID, branchID, itemID, time.Time{})
	if err != nil {
		return nil, err
	}
	out := positions[:0]
	for _, p := range positions {
		if !p.Qty.IsZero() {
			out = append(out, p)
		}
	}
	return out, nil
}

// PositionsAt lists every key of a branch with entries before at, zero quantities included.
func (s *Service) PositionsAt(ctx context.Context, orgID, branchID uuid.UUID, at time.Time) ([]Position, error) {
	return s.repo.SumByBranch(ctx, orgID, branchID, uuid.Nil, at)
}

// ReasonTotals aggregates a branch's activity in [from, to) per key and reason.
func (s *Service) ReasonTotals(ctx context.Context, orgID, branchID uuid.UUID, from, to time.Time) ([]ReasonTotal, error) {
	if !to.After(from) {
		return nil, shared.NewError(shared.ErrValidation, "ledger: window end must be after start")
	}
	return s.repo.SumByReason(ctx, orgID, branchID, from, to)
}

// DailyTotals aggregates a branch's entries of the given reasons per item and local day.
func (s *Service) DailyTotals(ctx context.Context, orgID, branchID uuid.UUID, reasons []Reason, from, to time.Time, loc *time.Location) ([]DayTotal, error) {
	if !to.After(from) {
		return nil, shared.NewError(shared.ErrValidation, "ledger: window end must be after start")
	}
	if len(reasons) == 0 {
		return nil, shared.NewError(shared.ErrValidation, "ledger: reasons required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return s.repo.SumByDay(ctx, orgID, branchID, reasons, from, to, loc)
}

// CostReasons are the entries that establish an item's unit cost.
var CostReasons = []Reason{ReasonPurchase, ReasonProductionProduce}

// LatestUnitCost returns the most recent purchase or production cost of an item before at.
// A zero at means now. ok is false when the item was never received.
func (s *Service) LatestUnitCost(ctx context.Context, orgID, itemID uuid.UUID, at time.Time) (cost decimal.Decimal, ok bool, err error) {
	return s.repo.LatestUnitCost(ctx, orgID, itemID, CostReasons, at)
}

// ListEntries returns entries ordered by creation time then id.
func (s *Service) ListEntries(ctx context.Context, orgID uuid.UUID, filter Filter) ([]Entry, error) {
	for _, r := range filter.Reasons {
		if !r.Valid() {
			return nil, ErrInvalidReason
		}
	}
	if filter.Limit <= 0 || filter.Limit > 5000 {
		filter.Limit = 5000
	}
	return s.repo.ListEntries(ctx, orgID, filter)
}

// Verification compares the log with the running total.
type Verification struct {
	Key        Key             `json:"key"`
	LogQty     decimal.Decimal `json:"logQty"`
	LogCount   int64           `json:"logCount"`
	BalanceQty decimal.Decimal `json:"balanceQty"`
	Count      int64           `json:"count"`
	Drift      bool            `json:"drift"`
}

// Verify re-sums the log for a key and reports drift from the running total.
func (s *Service) Verify(ctx context.Context, orgID, itemID, locationID uuid.UUID) (Verification, error) {
	k := Key{ItemID: itemID, LocationID: locationID}
	qty, n, err := s.repo.SumEntries(ctx, orgID, k, time.Time{})
	if err != nil {
		return Verification{}, err
	}
	v := Verification{Key: k, LogQty: qty, LogCount: n, BalanceQty: decimal.Zero}
	bal, err := s.repo.GetBalance(ctx, orgID, k)
	switch {
	case err == nil:
		v.BalanceQty = bal.Qty
		v.Count = bal.EntryCount
	case !errors.Is(err, shared.ErrNotFound):
		return Verification{}, err
	}
	v.Drift = !v.LogQty.Equal(v.BalanceQty) || v.LogCount != v.Count
	if v.Drift {
		s.logger.Warn("ledger balance drift", slog.String("org_id", orgID.String()), slog.String("key", k.String()),
			slog.String("log_qty", qty.String()), slog.String("balance_qty", v.BalanceQty.String()))
	}
	return v, nil
}
