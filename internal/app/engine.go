/**
 * @description
 * This file contains the dunning decision engine: the state machine that turns
 * one failed payment plus its subscription's dunning state into a transition.
 * Per payment the engine decides one of: wait (grace period), skip (not yet
 * due), retry (attempt collection), or suspend (budget exhausted), and emits
 * the matching notification directive and audit entry.
 *
 * Consistency rules:
 * - Every persistence write is a single row update; there is no cross-row
 *   transaction to roll back.
 * - The attempt stamp written before the gateway call also advances
 *   next_retry_at, so a crash mid-retry costs a missed window rather than a
 *   double charge.
 * - Re-running the engine on a payment before its next_retry_at is a no-op,
 *   which makes overlapping scheduler fires safe.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/transfa/dunning-service/internal/domain"
)

// processPayment runs the decision state machine for one failed payment.
// All repository and gateway errors are converted into the result; nothing
// escapes to abort the surrounding batch.
func (s *Service) processPayment(ctx context.Context, payment *domain.Payment, opts domain.ProcessOptions) domain.DunningResult {
	// Payments without a subscription (one-time orders) are not this engine's
	// problem; report success so the batch moves on.
	if payment.SubscriptionID == nil {
		return domain.DunningResult{Success: true}
	}

	sub, err := s.repo.FindSubscriptionByID(ctx, *payment.SubscriptionID)
	if err != nil {
		return domain.DunningResult{Success: false, Error: fmt.Sprintf("loading subscription %s: %v", *payment.SubscriptionID, err)}
	}
	cfg := s.configFor(sub)
	now := time.Now().UTC()

	// Grace period: a soft notice only, no attempt counted, no state touched.
	if sub.DunningAttempts == 0 && !opts.ForceProcess {
		graceEnd := domain.GracePeriodEnd(payment.CreatedAt, cfg.GracePeriodDays)
		if now.Before(graceEnd) {
			s.notify(ctx, domain.DunningNotification{
				Type:           domain.NotificationGracePeriod,
				SubscriptionID: sub.ID,
				PaymentID:      payment.ID,
				UserID:         sub.UserID,
				Amount:         payment.Amount,
				Currency:       payment.Currency,
				MaxAttempts:    cfg.MaxAttempts,
				GraceEndsAt:    &graceEnd,
			}, opts.DryRun)
			s.audit(ctx, sub, payment.ID, domain.AuditEventGraceNotice, 0, true, "grace period notice", opts.DryRun)
			return domain.DunningResult{Success: true}
		}
	}

	// Exhaustion: the budget was already spent on a previous run.
	if sub.DunningAttempts >= cfg.MaxAttempts {
		return s.suspend(ctx, payment, sub, cfg, sub.DunningAttempts, opts.DryRun)
	}

	// Timing: not yet due for the next attempt. Deliberately a no-op success.
	if !opts.ForceProcess && sub.NextRetryAt != nil && now.Before(*sub.NextRetryAt) {
		return domain.DunningResult{Success: true}
	}

	return s.retryAttempt(ctx, payment, sub, cfg, opts, now)
}

// suspend transitions the subscription to `suspended`. Suspension failures are
// surfaced, not swallowed: a subscription that should be suspended but is not
// needs operator follow-up.
func (s *Service) suspend(ctx context.Context, payment *domain.Payment, sub *domain.Subscription, cfg domain.DunningConfig, attemptNumber int, dryRun bool) domain.DunningResult {
	if !dryRun {
		if err := s.repo.SuspendSubscription(ctx, sub.ID, attemptNumber); err != nil {
			log.Printf("level=error component=dunning_engine msg=\"suspension failed\" subscription_id=%s payment_id=%s err=%v",
				sub.ID, payment.ID, err)
			return domain.DunningResult{Success: false, Error: fmt.Sprintf("suspending subscription %s: %v", sub.ID, err)}
		}
	}

	log.Printf("level=info component=dunning_engine msg=\"subscription suspended\" subscription_id=%s payment_id=%s attempts=%d dry_run=%t",
		sub.ID, payment.ID, attemptNumber, dryRun)

	s.notify(ctx, domain.DunningNotification{
		Type:           domain.NotificationSuspended,
		SubscriptionID: sub.ID,
		PaymentID:      payment.ID,
		UserID:         sub.UserID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		AttemptNumber:  attemptNumber,
		MaxAttempts:    cfg.MaxAttempts,
	}, dryRun)
	s.audit(ctx, sub, payment.ID, domain.AuditEventSuspended, attemptNumber, true, "retry budget exhausted", dryRun)

	return domain.DunningResult{Success: true, Suspended: true}
}

// retryAttempt performs one numbered collection attempt against the gateway.
func (s *Service) retryAttempt(ctx context.Context, payment *domain.Payment, sub *domain.Subscription, cfg domain.DunningConfig, opts domain.ProcessOptions, now time.Time) domain.DunningResult {
	attemptNumber := sub.DunningAttempts + 1

	// Delay is measured from the original failure date, not the prior attempt.
	nextAttemptAt := domain.NextAttemptDate(attemptNumber+1, payment.CreatedAt, cfg.EscalationDays)

	// Stamp the attempt and provisionally advance next_retry_at before invoking
	// the gateway: fail-safe bias, a crash here leaves the subscription waiting
	// for the stamped window, never eligible for an immediate duplicate charge.
	if !opts.DryRun {
		if err := s.repo.MarkDunningAttemptStarted(ctx, sub.ID, now, nextAttemptAt); err != nil {
			return domain.DunningResult{Success: false, Error: fmt.Sprintf("marking attempt started for %s: %v", sub.ID, err)}
		}
	}

	gateway := s.gateway
	if opts.DryRun {
		gateway = s.simulator
	}
	outcome := gateway.AttemptRetry(ctx, payment, attemptNumber)

	log.Printf("level=info component=dunning_engine msg=\"retry attempt executed\" subscription_id=%s payment_id=%s attempt=%d success=%t dry_run=%t",
		sub.ID, payment.ID, attemptNumber, outcome.Success, opts.DryRun)

	s.audit(ctx, sub, payment.ID, domain.AuditEventRetryAttempt, attemptNumber, outcome.Success, outcome.Message, opts.DryRun)

	if outcome.Success {
		return s.recover(ctx, payment, sub, attemptNumber, outcome, opts.DryRun, now)
	}

	// The attempt about to be recorded has reached the budget: suspend instead
	// of scheduling a retry that would never be allowed to run.
	if attemptNumber >= cfg.MaxAttempts {
		return s.suspend(ctx, payment, sub, cfg, attemptNumber, opts.DryRun)
	}

	if !opts.DryRun {
		if err := s.repo.RecordDunningAttempt(ctx, sub.ID, attemptNumber, nextAttemptAt); err != nil {
			return domain.DunningResult{Success: false, Error: fmt.Sprintf("recording attempt %d for %s: %v", attemptNumber, sub.ID, err)}
		}
	}

	s.notify(ctx, domain.DunningNotification{
		Type:           domain.NotificationDunningNotice,
		SubscriptionID: sub.ID,
		PaymentID:      payment.ID,
		UserID:         sub.UserID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		AttemptNumber:  attemptNumber,
		MaxAttempts:    cfg.MaxAttempts,
		NextAttemptAt:  &nextAttemptAt,
	}, opts.DryRun)
	s.audit(ctx, sub, payment.ID, domain.AuditEventScheduled, attemptNumber, true,
		fmt.Sprintf("next attempt at %s", nextAttemptAt.Format(time.RFC3339)), opts.DryRun)

	// A scheduled future retry is not itself an error.
	return domain.DunningResult{Success: true}
}

// recover completes the payment and resets the subscription's dunning state.
func (s *Service) recover(ctx context.Context, payment *domain.Payment, sub *domain.Subscription, attemptNumber int, outcome RetryOutcome, dryRun bool, now time.Time) domain.DunningResult {
	if !dryRun {
		gatewayResponse := map[string]interface{}{
			"gateway_reference": outcome.GatewayReference,
			"status":            outcome.ResponseCode,
			"attempt_number":    attemptNumber,
			"message":           outcome.Message,
		}
		if err := s.repo.MarkPaymentCompleted(ctx, payment.ID, gatewayResponse, now); err != nil {
			return domain.DunningResult{Success: false, Error: fmt.Sprintf("completing payment %s: %v", payment.ID, err)}
		}
		if err := s.repo.ResetSubscriptionDunning(ctx, sub.ID, now); err != nil {
			return domain.DunningResult{Success: false, Error: fmt.Sprintf("resetting dunning for %s: %v", sub.ID, err)}
		}
	}

	log.Printf("level=info component=dunning_engine msg=\"payment recovered\" subscription_id=%s payment_id=%s attempt=%d dry_run=%t",
		sub.ID, payment.ID, attemptNumber, dryRun)

	s.notify(ctx, domain.DunningNotification{
		Type:           domain.NotificationRecovered,
		SubscriptionID: sub.ID,
		PaymentID:      payment.ID,
		UserID:         sub.UserID,
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		AttemptNumber:  attemptNumber,
	}, dryRun)
	s.audit(ctx, sub, payment.ID, domain.AuditEventRecovered, attemptNumber, true, outcome.Message, dryRun)

	return domain.DunningResult{Success: true}
}
