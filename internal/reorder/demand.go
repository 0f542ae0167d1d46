package reorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/ledger"
)

// DemandReasons are the ledger reasons that count as consumption.
var DemandReasons = []ledger.Reason{ledger.ReasonSale, ledger.ReasonProductionConsume}

// localDate keeps the calendar date of t in loc, as midnight UTC.
func localDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// bounds converts a local-date window into the instants [from, to).
func bounds(asOf time.Time, window int, loc *time.Location) (from, to time.Time) {
	start := asOf.AddDate(0, 0, -(window - 1))
	from = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	end := asOf.AddDate(0, 0, 1)
	to = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	return from, to
}

// resolveAsOf returns the demand end date, defaulting to yesterday in the branch timezone.
func (s *Service) resolveAsOf(asOf time.Time, loc *time.Location) time.Time {
	if asOf.IsZero() {
		return localDate(s.now(), loc).AddDate(0, 0, -1)
	}
	y, m, d := asOf.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func demandCacheKey(orgID, branchID uuid.UUID, window int, asOf time.Time) string {
	return strings.Join([]string{"demand", orgID.String(), branchID.String(), strconv.Itoa(window), asOf.Format("2006-01-02")}, ":")
}

// Demand returns the zero-filled consumption of a branch over window days ending at asOf.
func (s *Service) Demand(ctx context.Context, orgID, branchID uuid.UUID, window int, asOf time.Time) (DemandSeries, error) {
	if !demandWindows[window] {
		return DemandSeries{}, ErrInvalidWindow
	}
	branch, err := s.catalog.GetBranch(ctx, orgID, branchID)
	if err != nil {
		return DemandSeries{}, err
	}
	loc := branch.Location()
	asOf = s.resolveAsOf(asOf, loc)
	return s.demand(ctx, orgID, branch, window, asOf)
}

func (s *Service) demand(ctx context.Context, orgID uuid.UUID, branch catalog.Branch, window int, asOf time.Time) (DemandSeries, error) {
	loc := branch.Location()
	from, to := bounds(asOf, window, loc)
	// Only windows that have fully ended are stable enough to cache.
	cacheable := s.cache != nil && !to.After(s.now())
	key := demandCacheKey(orgID, branch.ID, window, asOf)
	if cacheable {
		raw, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("demand cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		if ok {
			var series DemandSeries
			if err := json.Unmarshal(raw, &series); err == nil {
				series.Cached = true
				return series, nil
			}
			s.logger.Warn("demand cache entry unreadable", slog.String("key", key))
		}
	}

	totals, err := s.ledger.DailyTotals(ctx, orgID, branch.ID, DemandReasons, from, to, loc)
	if err != nil {
		return DemandSeries{}, err
	}
	series := buildSeries(branch.ID, window, asOf, totals)

	if cacheable {
		raw, err := json.Marshal(series)
		if err == nil {
			err = s.cache.Set(ctx, key, raw, s.cfg.DemandCacheTTL)
		}
		if err != nil {
			s.logger.Warn("demand cache write failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return series, nil
}

// buildSeries turns ledger day totals (negative for consumption) into positive demand.
func buildSeries(branchID uuid.UUID, window int, asOf time.Time, totals []ledger.DayTotal) DemandSeries {
	start := asOf.AddDate(0, 0, -(window - 1))
	byItem := map[uuid.UUID][]decimal.Decimal{}
	for _, t := range totals {
		idx := int(t.Day.Sub(start).Hours() / 24)
		if idx < 0 || idx >= window {
			continue
		}
		qtys, ok := byItem[t.ItemID]
		if !ok {
			qtys = make([]decimal.Decimal, window)
			for i := range qtys {
				qtys[i] = decimal.Zero
			}
			byItem[t.ItemID] = qtys
		}
		qtys[idx] = qtys[idx].Add(t.Qty.Neg())
	}

	series := DemandSeries{BranchID: branchID, WindowDays: window, AsOf: asOf, Items: make([]ItemDemand, 0, len(byItem))}
	for itemID, qtys := range byItem {
		it := ItemDemand{ItemID: itemID, Points: make([]DemandPoint, window), Total: decimal.Zero}
		for i, q := range qtys {
			it.Points[i] = DemandPoint{Day: start.AddDate(0, 0, i), Qty: q}
			it.Total = it.Total.Add(q)
		}
		series.Items = append(series.Items, it)
	}
	sort.Slice(series.Items, func(i, j int) bool { return series.Items[i].ItemID.String() < series.Items[j].ItemID.String() })
	return series
}
