package shared

// Period statuses reused outside the closing module.
const (
	PeriodStatusOpen   = "OPEN"
	PeriodStatusClosed = "CLOSED"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = NewError(ErrConflict, "period transition invalid")

// ValidatePeriodTransition checks transitions according to policy.
// Reopening a closed period requires the reopen flag.
func ValidatePeriodTransition(current, target string, reopen bool) error {
	switch current {
	case PeriodStatusOpen:
		if target == PeriodStatusClosed {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusOpen && reopen {
			return nil
		}
	}
	return ErrInvalidPeriodTransition
}
