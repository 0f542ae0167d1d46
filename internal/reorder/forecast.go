package reorder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// bandZ is the two-sided 80% normal quantile used for the forecast band.
const bandZ = 1.2816

// qtyScale is the precision of computed forecast quantities.
const qtyScale = 6

// artifactNS derives stable ids of hash-keyed artifacts.
var artifactNS = uuid.MustParse("6f1c7a52-3a4e-4c2b-9d1e-5b8f0c2e7a41")

func inputHash(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func forecastHash(orgID, branchID, itemID uuid.UUID, window, horizon int, asOf time.Time) string {
	return inputHash("forecast", orgID.String(), branchID.String(), itemID.String(),
		fmt.Sprint(window), fmt.Sprint(horizon), asOf.Format("2006-01-02"))
}

// forecastStats is the moving-average model over one item's demand.
type forecastStats struct {
	avg, stdDev, projected, lower, upper decimal.Decimal
}

func computeForecast(demand ItemDemand, window, horizon int) forecastStats {
	n := decimal.NewFromInt(int64(window))
	avg := demand.Total.DivRound(n, qtyScale)
	variance := decimal.Zero
	for _, p := range demand.Points {
		d := p.Qty.Sub(avg)
		variance = variance.Add(d.Mul(d))
	}
	variance = variance.DivRound(n, 12)
	vf, _ := variance.Float64()
	stdDev := decimal.NewFromFloat(math.Sqrt(vf)).Round(qtyScale)

	h := decimal.NewFromInt(int64(horizon))
	projected := avg.Mul(h).Round(qtyScale)
	band := decimal.NewFromFloat(bandZ * math.Sqrt(float64(horizon))).Mul(stdDev).Round(qtyScale)
	lower := projected.Sub(band)
	if lower.IsNegative() {
		lower = decimal.Zero
	}
	return forecastStats{avg: avg, stdDev: stdDev, projected: projected, lower: lower, upper: projected.Add(band)}
}

func validateHorizon(h int) error {
	if h < 1 || h > maxHorizonDays {
		return ErrInvalidHorizon
	}
	return nil
}

// flight collapses concurrent identical calls onto one execution.
func (s *Service) flight(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func sortedIDs(ids map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
