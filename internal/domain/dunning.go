/**
 * @description
 * This file defines the core domain models for the dunning-service.
 * These structs represent the entities and data transfer objects used by the
 * decision engine, the batch processor, and the reporting layer.
 *
 * @notes
 * - Amounts are stored as `int64` in the smallest currency unit (kobo), which
 *   avoids floating-point inaccuracies with financial data.
 * - The subscription carries an explicit `next_retry_at` column so the timing
 *   check is a plain comparison instead of being inferred from `updated_at`.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment status values. Only payments in `failed` state are eligible for dunning.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusDisputed  = "disputed"
	PaymentStatusRefunded  = "refunded"
)

// Subscription status values.
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusSuspended = "suspended"
	SubscriptionStatusCancelled = "cancelled"
)

// Payment represents one payment attempt that did not succeed. `created_at`
// doubles as the original due date for dunning purposes.
type Payment struct {
	ID              uuid.UUID              `json:"id"`
	SubscriptionID  *uuid.UUID             `json:"subscription_id,omitempty"`
	OrderID         *uuid.UUID             `json:"order_id,omitempty"`
	Amount          int64                  `json:"amount"` // in kobo
	Currency        string                 `json:"currency"`
	Status          string                 `json:"status"`
	GatewayResponse map[string]interface{} `json:"gateway_response,omitempty"`
	PaidAt          *time.Time             `json:"paid_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// Subscription is the recurring billing entity under dunning management.
type Subscription struct {
	ID                  uuid.UUID  `json:"id"`
	UserID              uuid.UUID  `json:"user_id"`
	Status              string     `json:"status"`
	DunningAttempts     int        `json:"dunning_attempts"`
	NextRetryAt         *time.Time `json:"next_retry_at,omitempty"`
	LastDunningAt       *time.Time `json:"last_dunning_at,omitempty"`
	DunningStartedAt    *time.Time `json:"dunning_started_at,omitempty"`
	LastRecoveredAt     *time.Time `json:"last_recovered_at,omitempty"`
	GracePeriodDaysOver *int       `json:"grace_period_days_override,omitempty"`
	MaxAttemptsOverride *int       `json:"max_attempts_override,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// DunningConfig is the per-subscription view of the dunning policy: overrides
// from the subscription row merged with global defaults. Derived, not persisted.
type DunningConfig struct {
	SubscriptionID  uuid.UUID `json:"subscription_id"`
	GracePeriodDays int       `json:"grace_period_days"`
	MaxAttempts     int       `json:"max_attempts"`
	EscalationDays  []int     `json:"escalation_days"`
}

// DunningConfigUpdate carries the per-subscription override fields that
// operators may change. Nil fields are left untouched.
type DunningConfigUpdate struct {
	GracePeriodDays *int `json:"grace_period_days,omitempty"`
	MaxAttempts     *int `json:"max_attempts,omitempty"`
}

// DunningResult is the outcome of running the decision engine for one payment.
// A correctly deferred payment (grace period, not yet due) is a success.
type DunningResult struct {
	Success   bool   `json:"success"`
	Suspended bool   `json:"suspended"`
	Error     string `json:"error,omitempty"`
}

// ProcessOptions controls a batch dunning run.
type ProcessOptions struct {
	PaymentID      *uuid.UUID `json:"payment_id,omitempty"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	DryRun         bool       `json:"dry_run"`
	ForceProcess   bool       `json:"force_process"`
	MaxBatchSize   int        `json:"max_batch_size"`
}

// BatchError records a per-payment failure inside a batch run.
type BatchError struct {
	PaymentID uuid.UUID `json:"payment_id"`
	Error     string    `json:"error"`
}

// BatchResult aggregates the outcomes of one batch dunning run. `Processed`
// counts every payment the engine touched regardless of outcome; the other
// counters partition it, so Successful + Failed + Suspended = Processed.
// A cleanly applied suspension counts only as Suspended, never as Successful.
type BatchResult struct {
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Suspended  int          `json:"suspended"`
	DryRun     bool         `json:"dry_run"`
	Errors     []BatchError `json:"errors"`
}

// NotificationType identifies a dunning notification directive. The engine
// decides what and when to notify; delivery is the sink's problem.
type NotificationType string

const (
	NotificationGracePeriod   NotificationType = "grace_period"
	NotificationDunningNotice NotificationType = "dunning_notice"
	NotificationRecovered     NotificationType = "payment_recovered"
	NotificationSuspended     NotificationType = "subscription_suspended"
)

// DunningNotification is the payload published to the notification sink.
type DunningNotification struct {
	Type           NotificationType `json:"type"`
	SubscriptionID uuid.UUID        `json:"subscription_id"`
	PaymentID      uuid.UUID        `json:"payment_id"`
	UserID         uuid.UUID        `json:"user_id"`
	Amount         int64            `json:"amount"`
	Currency       string           `json:"currency"`
	AttemptNumber  int              `json:"attempt_number,omitempty"`
	MaxAttempts    int              `json:"max_attempts,omitempty"`
	GraceEndsAt    *time.Time       `json:"grace_ends_at,omitempty"`
	NextAttemptAt  *time.Time       `json:"next_attempt_at,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// RoutingKey maps a notification type to its topic routing key.
func (n DunningNotification) RoutingKey() string {
	return "dunning." + string(n.Type)
}

// Audit event types, one per meaningful state transition.
const (
	AuditEventGraceNotice  = "grace_notice"
	AuditEventRetryAttempt = "retry_attempt"
	AuditEventRecovered    = "recovered"
	AuditEventScheduled    = "retry_scheduled"
	AuditEventSuspended    = "suspended"
)

// AuditEntry is one append-only record of a dunning state change.
type AuditEntry struct {
	ID             uuid.UUID  `json:"id"`
	SubscriptionID uuid.UUID  `json:"subscription_id"`
	PaymentID      *uuid.UUID `json:"payment_id,omitempty"`
	EventType      string     `json:"event_type"`
	AttemptNumber  int        `json:"attempt_number"`
	Success        bool       `json:"success"`
	Detail         string     `json:"detail,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// StatusListOptions controls pagination and filtering for the dunning status query.
type StatusListOptions struct {
	SubscriptionID *uuid.UUID
	Status         string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// AnalyticsOptions filters the analytics summary.
type AnalyticsOptions struct {
	SubscriptionID *uuid.UUID
	From           *time.Time
	To             *time.Time
}

// EscalationLevelStats is one bucket of the escalation breakdown histogram.
type EscalationLevelStats struct {
	AttemptLevel  int     `json:"attempt_level"`
	Subscriptions int     `json:"subscriptions"`
	Attempts      int     `json:"attempts"`
	Successes     int     `json:"successes"`
	SuccessRate   float64 `json:"success_rate_pct"`
}

// DunningAnalytics summarizes dunning state across subscriptions. All rates
// are percentages; empty sets yield 0, never an error.
type DunningAnalytics struct {
	TotalFailures          int                    `json:"total_failures"`
	ActiveProcesses        int                    `json:"active_processes"`
	SuspendedSubscriptions int                    `json:"suspended_subscriptions"`
	RecoveredSubscriptions int                    `json:"recovered_subscriptions"`
	RecoveryRate           float64                `json:"recovery_rate_pct"`
	AverageRecoveryDays    float64                `json:"average_recovery_days"`
	EscalationBreakdown    []EscalationLevelStats `json:"escalation_breakdown"`
}
