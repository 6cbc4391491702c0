/**
 * @description
 * This file contains the batch processor for dunning runs. It selects the
 * failed payments to work on (oldest first), runs the decision engine on each
 * one with per-payment isolation, and aggregates the outcomes into a
 * BatchResult. A Redis-backed run lock, when configured, prevents two batch
 * runs from overlapping across instances.
 *
 * Isolation: one payment blowing up (repository error, even a panic) records a
 * batch error and the run continues. The batch itself only aborts on context
 * cancellation, and then only between payments.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"

	"github.com/transfa/dunning-service/internal/domain"
	"github.com/transfa/dunning-service/internal/store"
)

const (
	// DefaultBatchSize is the number of failed payments a run picks up when the
	// caller does not say otherwise.
	DefaultBatchSize = 50
	// MaxBatchSize caps a single run regardless of what the caller asks for.
	MaxBatchSize = 100
)

// ErrRunInProgress is returned when another batch run holds the run lock.
var ErrRunInProgress = errors.New("a dunning batch run is already in progress")

// ProcessDunning executes one batch dunning run and returns its aggregate
// result. Per-payment failures are collected in the result; the returned error
// covers run-level failures only (lock contention, payment selection).
func (s *Service) ProcessDunning(ctx context.Context, opts domain.ProcessOptions) (*domain.BatchResult, error) {
	// Dry runs write nothing, so they may overlap a live run freely.
	if s.runLock != nil && !opts.DryRun {
		acquired, release, err := s.runLock.Acquire(ctx)
		if err != nil {
			// A broken lock backend degrades to an unlocked run; the engine's
			// timing checks keep an overlap harmless.
			log.Printf("level=warn component=dunning_processor msg=\"run lock unavailable; proceeding unlocked\" err=%v", err)
		} else if !acquired {
			return nil, ErrRunInProgress
		} else {
			defer release()
		}
	}

	payments, err := s.selectPayments(ctx, opts)
	if err != nil {
		return nil, err
	}

	result := &domain.BatchResult{DryRun: opts.DryRun, Errors: []domain.BatchError{}}

	log.Printf("level=info component=dunning_processor msg=\"batch run started\" candidates=%d dry_run=%t force=%t",
		len(payments), opts.DryRun, opts.ForceProcess)

	for i := range payments {
		if ctx.Err() != nil {
			log.Printf("level=warn component=dunning_processor msg=\"batch run cancelled\" processed=%d remaining=%d",
				result.Processed, len(payments)-result.Processed)
			break
		}

		payment := &payments[i]
		outcome := s.processPaymentSafe(ctx, payment, opts)
		result.Processed++
		switch {
		case outcome.Suspended:
			result.Suspended++
		case outcome.Success:
			result.Successful++
		default:
			result.Failed++
			result.Errors = append(result.Errors, domain.BatchError{PaymentID: payment.ID, Error: outcome.Error})
		}
	}

	log.Printf("level=info component=dunning_processor msg=\"batch run finished\" processed=%d successful=%d failed=%d suspended=%d dry_run=%t",
		result.Processed, result.Successful, result.Failed, result.Suspended, result.DryRun)

	return result, nil
}

// selectPayments resolves the working set for a run: a single payment when a
// payment ID is given, otherwise the oldest failed payments up to the batch cap.
func (s *Service) selectPayments(ctx context.Context, opts domain.ProcessOptions) ([]domain.Payment, error) {
	if opts.PaymentID != nil {
		payment, err := s.repo.FindPaymentByID(ctx, *opts.PaymentID)
		if err != nil {
			return nil, fmt.Errorf("loading payment %s: %w", *opts.PaymentID, err)
		}
		if payment.Status != domain.PaymentStatusFailed {
			return nil, fmt.Errorf("payment %s is %s, not %s: %w",
				payment.ID, payment.Status, domain.PaymentStatusFailed, store.ErrPaymentNotFailed)
		}
		return []domain.Payment{*payment}, nil
	}

	limit := opts.MaxBatchSize
	if limit <= 0 {
		limit = s.batchSize
	}
	if limit > MaxBatchSize {
		limit = MaxBatchSize
	}

	payments, err := s.repo.FindFailedPayments(ctx, store.FailedPaymentFilter{
		SubscriptionID: opts.SubscriptionID,
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("selecting failed payments: %w", err)
	}
	return payments, nil
}

// processPaymentSafe runs the engine on one payment with a panic guard, so a
// single poisoned row cannot take down the whole batch.
func (s *Service) processPaymentSafe(ctx context.Context, payment *domain.Payment, opts domain.ProcessOptions) (result domain.DunningResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("level=error component=dunning_processor msg=\"panic while processing payment\" payment_id=%s panic=%v\n%s",
				payment.ID, r, debug.Stack())
			result = domain.DunningResult{Success: false, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return s.processPayment(ctx, payment, opts)
}
