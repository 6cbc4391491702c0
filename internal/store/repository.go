/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the dunning-service. By defining an
 * interface, we decouple the decision engine and reporting logic from the
 * specific database implementation (e.g., PostgreSQL), making the code more
 * modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/dunning-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
// Each dunning transition writes a single row so partial-failure windows stay
// as small as possible.
type Repository interface {
	// Payment methods
	FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
	FindFailedPayments(ctx context.Context, filter FailedPaymentFilter) ([]domain.Payment, error)
	MarkPaymentCompleted(ctx context.Context, paymentID uuid.UUID, gatewayResponse map[string]interface{}, paidAt time.Time) error

	// Subscription dunning state methods
	FindSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error)
	MarkDunningAttemptStarted(ctx context.Context, subscriptionID uuid.UUID, at time.Time, nextRetryAt time.Time) error
	RecordDunningAttempt(ctx context.Context, subscriptionID uuid.UUID, attempts int, nextRetryAt time.Time) error
	ResetSubscriptionDunning(ctx context.Context, subscriptionID uuid.UUID, recoveredAt time.Time) error
	SuspendSubscription(ctx context.Context, subscriptionID uuid.UUID, attempts int) error
	UpdateDunningOverrides(ctx context.Context, subscriptionID uuid.UUID, update domain.DunningConfigUpdate) (*domain.Subscription, error)
	ListDunningSubscriptions(ctx context.Context, opts domain.StatusListOptions) ([]domain.Subscription, error)

	// Audit trail methods
	AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error
	AttemptOutcomesByLevel(ctx context.Context, opts domain.AnalyticsOptions) ([]LevelOutcome, error)

	// Analytics aggregate methods
	DunningSubscriptionCounts(ctx context.Context, opts domain.AnalyticsOptions) (*DunningCounts, error)
	CurrentAttemptHistogram(ctx context.Context, opts domain.AnalyticsOptions) (map[int]int, error)
}

// FailedPaymentFilter selects failed payments for a batch run. Results are
// ordered oldest-first so the longest-overdue recoveries come out first.
type FailedPaymentFilter struct {
	PaymentID      *uuid.UUID
	SubscriptionID *uuid.UUID
	Limit          int
}

// LevelOutcome aggregates retry attempt outcomes at one escalation level,
// derived from the audit trail.
type LevelOutcome struct {
	AttemptLevel int
	Attempts     int
	Successes    int
}

// DunningCounts holds the subscription-level aggregates behind the analytics
// summary. AvgRecoverySeconds is zero when no subscription has recovered.
type DunningCounts struct {
	TotalFailures      int
	ActiveProcesses    int
	Suspended          int
	Recovered          int
	AvgRecoverySeconds float64
}
