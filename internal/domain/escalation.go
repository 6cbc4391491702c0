/**
 * @description
 * This file implements the escalation policy: pure functions that map an
 * attempt number to the date of the next permissible retry, and a due date to
 * the end of its grace period. The policy is stateless; the decision engine
 * owns all persistence.
 */

package domain

import "time"

// Global dunning defaults, overridable per subscription and via configuration.
const (
	DefaultMaxAttempts     = 5
	DefaultGracePeriodDays = 7
)

// DefaultEscalationDays is the default delay schedule in days, indexed by
// attempt number. Delays are measured from the original failure date, not
// chained from the prior attempt.
func DefaultEscalationDays() []int {
	return []int{1, 3, 7, 14, 30}
}

// NextAttemptDate returns the earliest permissible time for the given attempt
// number. The delay index is min(attemptNumber-1, len(escalationDays)-1);
// attempt numbers past the end of the schedule reuse the last delay.
// escalationDays must be non-empty; config loading guarantees this.
func NextAttemptDate(attemptNumber int, originalFailure time.Time, escalationDays []int) time.Time {
	idx := attemptNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(escalationDays) {
		idx = len(escalationDays) - 1
	}
	return originalFailure.AddDate(0, 0, escalationDays[idx])
}

// GracePeriodEnd returns the end of the soft-notice window for a failed payment.
func GracePeriodEnd(dueDate time.Time, gracePeriodDays int) time.Time {
	return dueDate.AddDate(0, 0, gracePeriodDays)
}
