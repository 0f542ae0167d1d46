package shared

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Locker obtains short-lived distributed locks. Release must be called by the holder.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// ErrLockNotObtained indicates another worker holds the lock.
var ErrLockNotObtained = NewError(ErrConflict, "lock not obtained")

// DepletionLockKey guards processing of a single closed order.
func DepletionLockKey(orgID uuid.UUID, orderID string) string {
	return fmt.Sprintf("stockledger:depletion:%s:%s:lock", orgID, orderID)
}

// ReorderRunLockKey guards draft PO generation for one optimization run.
func ReorderRunLockKey(orgID, runID uuid.UUID) string {
	return fmt.Sprintf("stockledger:reorder:%s:%s:lock", orgID, runID)
}

// PeriodLockKey guards close/reopen of one period.
func PeriodLockKey(orgID, periodID uuid.UUID) string {
	return fmt.Sprintf("stockledger:period:%s:%s:lock", orgID, periodID)
}
