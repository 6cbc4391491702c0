/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to payments, subscriptions, and the dunning audit trail.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/dunning-service/internal/domain"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPaymentNotFailed     = errors.New("payment is not in failed status")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const paymentColumns = `id, subscription_id, order_id, amount, currency, status, gateway_response, paid_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var payment domain.Payment
	var gatewayResponse []byte
	err := row.Scan(
		&payment.ID,
		&payment.SubscriptionID,
		&payment.OrderID,
		&payment.Amount,
		&payment.Currency,
		&payment.Status,
		&gatewayResponse,
		&payment.PaidAt,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(gatewayResponse) > 0 {
		if err := json.Unmarshal(gatewayResponse, &payment.GatewayResponse); err != nil {
			// A corrupt blob should not make the payment unreadable; the raw
			// gateway payload is informational only.
			payment.GatewayResponse = map[string]interface{}{"raw": string(gatewayResponse)}
		}
	}
	return &payment, nil
}

// FindPaymentByID retrieves a payment from the database by its ID.
func (r *PostgresRepository) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, paymentColumns)
	payment, err := scanPayment(r.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// FindFailedPayments selects failed payments matching the filter, oldest-first,
// capped at the filter's limit.
func (r *PostgresRepository) FindFailedPayments(ctx context.Context, filter FailedPaymentFilter) ([]domain.Payment, error) {
	var conditions []string
	var args []interface{}

	conditions = append(conditions, "status = 'failed'")
	if filter.PaymentID != nil {
		args = append(args, *filter.PaymentID)
		conditions = append(conditions, fmt.Sprintf("id = $%d", len(args)))
	}
	if filter.SubscriptionID != nil {
		args = append(args, *filter.SubscriptionID)
		conditions = append(conditions, fmt.Sprintf("subscription_id = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT %s FROM payments WHERE %s ORDER BY created_at ASC LIMIT $%d`,
		paymentColumns, strings.Join(conditions, " AND "), len(args),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, rows.Err()
}

// MarkPaymentCompleted transitions a recovered payment to `completed`, attaching
// the gateway response from the successful retry.
func (r *PostgresRepository) MarkPaymentCompleted(ctx context.Context, paymentID uuid.UUID, gatewayResponse map[string]interface{}, paidAt time.Time) error {
	responseJSON, err := json.Marshal(gatewayResponse)
	if err != nil {
		return fmt.Errorf("marshaling gateway response: %w", err)
	}

	query := `
		UPDATE payments
		SET status = 'completed', gateway_response = $2, paid_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'failed'
	`
	tag, err := r.db.Exec(ctx, query, paymentID, responseJSON, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFailed
	}
	return nil
}

const subscriptionColumns = `id, user_id, status, dunning_attempts, next_retry_at, last_dunning_at,
		dunning_started_at, last_recovered_at, grace_period_days_override, max_attempts_override,
		created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.Status,
		&sub.DunningAttempts,
		&sub.NextRetryAt,
		&sub.LastDunningAt,
		&sub.DunningStartedAt,
		&sub.LastRecoveredAt,
		&sub.GracePeriodDaysOver,
		&sub.MaxAttemptsOverride,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindSubscriptionByID retrieves a subscription with its dunning state.
func (r *PostgresRepository) FindSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE id = $1`, subscriptionColumns)
	sub, err := scanSubscription(r.db.QueryRow(ctx, query, subscriptionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// MarkDunningAttemptStarted stamps `last_dunning_at` and provisionally advances
// `next_retry_at` to the following attempt's window before the gateway is
// invoked. A crash mid-retry then leaves the subscription waiting for that
// window instead of eligible for an immediate duplicate charge; a successful
// retry clears the provisional value, a failed one confirms it alongside the
// attempt counter. It also pins `dunning_started_at` on the first attempt of a
// dunning cycle, which feeds the average-recovery-days metric.
func (r *PostgresRepository) MarkDunningAttemptStarted(ctx context.Context, subscriptionID uuid.UUID, at time.Time, nextRetryAt time.Time) error {
	query := `
		UPDATE subscriptions
		SET last_dunning_at = $2,
		    next_retry_at = $3,
		    dunning_started_at = CASE WHEN dunning_attempts = 0 THEN $2 ELSE COALESCE(dunning_started_at, $2) END,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, subscriptionID, at, nextRetryAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// RecordDunningAttempt persists a failed retry: the attempt counter and the
// explicit next-eligible-retry timestamp, in one row update.
func (r *PostgresRepository) RecordDunningAttempt(ctx context.Context, subscriptionID uuid.UUID, attempts int, nextRetryAt time.Time) error {
	query := `
		UPDATE subscriptions
		SET dunning_attempts = $2, next_retry_at = $3, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, subscriptionID, attempts, nextRetryAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ResetSubscriptionDunning clears the dunning state after a successful retry:
// the escalation clock restarts from scratch on any later failure.
func (r *PostgresRepository) ResetSubscriptionDunning(ctx context.Context, subscriptionID uuid.UUID, recoveredAt time.Time) error {
	// dunning_started_at is left in place; the next cycle's first attempt
	// re-stamps it. The pair (dunning_started_at, last_recovered_at) is what
	// the average-recovery-days metric reads.
	query := `
		UPDATE subscriptions
		SET dunning_attempts = 0,
		    next_retry_at = NULL,
		    last_recovered_at = $2,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, subscriptionID, recoveredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// SuspendSubscription transitions a subscription to `suspended` after its
// retry budget is exhausted. Re-applying suspension to an already-suspended
// subscription is a no-op update, not an error.
func (r *PostgresRepository) SuspendSubscription(ctx context.Context, subscriptionID uuid.UUID, attempts int) error {
	query := `
		UPDATE subscriptions
		SET status = 'suspended', dunning_attempts = $2, next_retry_at = NULL, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, subscriptionID, attempts)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// UpdateDunningOverrides writes the per-subscription policy overrides and
// returns the updated row. Nil fields leave the current value untouched.
func (r *PostgresRepository) UpdateDunningOverrides(ctx context.Context, subscriptionID uuid.UUID, update domain.DunningConfigUpdate) (*domain.Subscription, error) {
	query := fmt.Sprintf(`
		UPDATE subscriptions
		SET grace_period_days_override = COALESCE($2, grace_period_days_override),
		    max_attempts_override = COALESCE($3, max_attempts_override),
		    updated_at = now()
		WHERE id = $1
		RETURNING %s
	`, subscriptionColumns)

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, subscriptionID, update.GracePeriodDays, update.MaxAttempts))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return sub, nil
}

// ListDunningSubscriptions returns subscriptions with dunning activity,
// filtered and paginated for the status query surface.
func (r *PostgresRepository) ListDunningSubscriptions(ctx context.Context, opts domain.StatusListOptions) ([]domain.Subscription, error) {
	var conditions []string
	var args []interface{}

	// Dunning activity means an attempt counter above zero or a suspension.
	conditions = append(conditions, "(dunning_attempts > 0 OR status = 'suspended')")
	if opts.SubscriptionID != nil {
		args = append(args, *opts.SubscriptionID)
		conditions = append(conditions, fmt.Sprintf("id = $%d", len(args)))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		conditions = append(conditions, fmt.Sprintf("updated_at <= $%d", len(args)))
	}

	limit := opts.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(
		`SELECT %s FROM subscriptions WHERE %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`,
		subscriptionColumns, strings.Join(conditions, " AND "), len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// AppendAuditEntry inserts one append-only audit record for a dunning transition.
func (r *PostgresRepository) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	query := `
		INSERT INTO dunning_audit (id, subscription_id, payment_id, event_type, attempt_number, success, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.SubscriptionID, entry.PaymentID, entry.EventType,
		entry.AttemptNumber, entry.Success, entry.Detail, entry.CreatedAt,
	)
	return err
}

// AttemptOutcomesByLevel aggregates retry attempt outcomes per escalation level
// from the audit trail, feeding the per-level success rates in the analytics.
func (r *PostgresRepository) AttemptOutcomesByLevel(ctx context.Context, opts domain.AnalyticsOptions) ([]LevelOutcome, error) {
	var conditions []string
	var args []interface{}

	conditions = append(conditions, "event_type = 'retry_attempt'")
	if opts.SubscriptionID != nil {
		args = append(args, *opts.SubscriptionID)
		conditions = append(conditions, fmt.Sprintf("subscription_id = $%d", len(args)))
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT attempt_number,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE success)
		FROM dunning_audit
		WHERE %s
		GROUP BY attempt_number
		ORDER BY attempt_number ASC
	`, strings.Join(conditions, " AND "))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []LevelOutcome
	for rows.Next() {
		var outcome LevelOutcome
		if err := rows.Scan(&outcome.AttemptLevel, &outcome.Attempts, &outcome.Successes); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, rows.Err()
}

// DunningSubscriptionCounts computes the subscription-level aggregates in a
// single query so the numbers are mutually consistent.
func (r *PostgresRepository) DunningSubscriptionCounts(ctx context.Context, opts domain.AnalyticsOptions) (*DunningCounts, error) {
	var conditions []string
	var args []interface{}

	conditions = append(conditions, "TRUE")
	if opts.SubscriptionID != nil {
		args = append(args, *opts.SubscriptionID)
		conditions = append(conditions, fmt.Sprintf("id = $%d", len(args)))
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		conditions = append(conditions, fmt.Sprintf("updated_at <= $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE dunning_attempts > 0),
			COUNT(*) FILTER (WHERE dunning_attempts > 0 AND status = 'active'),
			COUNT(*) FILTER (WHERE status = 'suspended'),
			COUNT(*) FILTER (WHERE last_recovered_at IS NOT NULL),
			COALESCE(AVG(EXTRACT(EPOCH FROM last_recovered_at - dunning_started_at))
				FILTER (WHERE last_recovered_at IS NOT NULL AND dunning_started_at IS NOT NULL
					AND last_recovered_at >= dunning_started_at), 0)
		FROM subscriptions
		WHERE %s
	`, strings.Join(conditions, " AND "))

	var counts DunningCounts
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&counts.TotalFailures,
		&counts.ActiveProcesses,
		&counts.Suspended,
		&counts.Recovered,
		&counts.AvgRecoverySeconds,
	)
	if err != nil {
		return nil, err
	}
	return &counts, nil
}

// CurrentAttemptHistogram counts subscriptions at each escalation level that
// are still mid-dunning.
func (r *PostgresRepository) CurrentAttemptHistogram(ctx context.Context, opts domain.AnalyticsOptions) (map[int]int, error) {
	var conditions []string
	var args []interface{}

	conditions = append(conditions, "dunning_attempts > 0")
	if opts.SubscriptionID != nil {
		args = append(args, *opts.SubscriptionID)
		conditions = append(conditions, fmt.Sprintf("id = $%d", len(args)))
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		conditions = append(conditions, fmt.Sprintf("updated_at >= $%d", len(args)))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		conditions = append(conditions, fmt.Sprintf("updated_at <= $%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT dunning_attempts, COUNT(*)
		FROM subscriptions
		WHERE %s
		GROUP BY dunning_attempts
	`, strings.Join(conditions, " AND "))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	histogram := make(map[int]int)
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		histogram[level] = count
	}
	return histogram, rows.Err()
}
