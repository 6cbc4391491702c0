/**
 * @description
 * This file contains the payment retry gateway adapter. It wraps the gateway
 * client's order-creation call behind the `RetryGateway` interface: given a
 * failed payment and an attempt number, it tries to recreate a chargeable
 * order. Gateway failures of any kind are converted into a failure outcome and
 * never escape as errors: a declined or unreachable gateway is an expected
 * state of the world, not an exception.
 *
 * A seeded dry-run simulator implements the same interface for preview runs.
 */

package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/transfa/dunning-service/internal/domain"
	"github.com/transfa/dunning-service/pkg/gatewayclient"
)

// RetryOutcome is the result of one retry attempt against the gateway.
// A failed charge is data, not an error.
type RetryOutcome struct {
	Success          bool
	GatewayReference string
	ResponseCode     string
	Message          string
}

// RetryGateway attempts to collect a failed payment once.
type RetryGateway interface {
	AttemptRetry(ctx context.Context, payment *domain.Payment, attemptNumber int) RetryOutcome
}

// GatewayRetryAdapter is the live RetryGateway backed by the payment gateway API.
type GatewayRetryAdapter struct {
	client *gatewayclient.Client
}

// NewGatewayRetryAdapter creates a live retry adapter.
func NewGatewayRetryAdapter(client *gatewayclient.Client) *GatewayRetryAdapter {
	return &GatewayRetryAdapter{client: client}
}

// AttemptRetry creates a new chargeable order tagged with metadata linking back
// to the original payment, subscription, and attempt number, so the gateway's
// webhook can be reconciled idempotently.
func (a *GatewayRetryAdapter) AttemptRetry(ctx context.Context, payment *domain.Payment, attemptNumber int) RetryOutcome {
	metadata := gatewayclient.OrderMetadata{
		PaymentID:     payment.ID.String(),
		AttemptNumber: attemptNumber,
		Source:        "dunning",
	}
	if payment.SubscriptionID != nil {
		metadata.SubscriptionID = payment.SubscriptionID.String()
	}

	reason := fmt.Sprintf("Dunning retry %d for payment %s", attemptNumber, payment.ID)
	order, err := a.client.CreateOrder(ctx, payment.Amount, payment.Currency, reason, metadata)
	if err != nil {
		return RetryOutcome{
			Success:      false,
			ResponseCode: "GATEWAY_ERROR",
			Message:      err.Error(),
		}
	}

	return RetryOutcome{
		Success:          true,
		GatewayReference: order.Data.ID,
		ResponseCode:     order.Data.Attributes.Status,
		Message:          fmt.Sprintf("gateway order %s created on attempt %d", order.Data.ID, attemptNumber),
	}
}

// Per-attempt success rates for simulated retries. Later attempts recover less
// often, which mirrors observed dunning behavior closely enough for previews.
var simulatedAttemptRates = []float64{0.35, 0.25, 0.18, 0.12, 0.08}

// DryRunSimulator is a RetryGateway that never touches the real gateway. The
// outcome source is a seeded generator so preview runs can be reproduced.
type DryRunSimulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewDryRunSimulator creates a simulator with a fixed seed.
func NewDryRunSimulator(seed int64) *DryRunSimulator {
	return &DryRunSimulator{rng: rand.New(rand.NewSource(seed))}
}

// AttemptRetry simulates a retry outcome without side effects.
func (s *DryRunSimulator) AttemptRetry(ctx context.Context, payment *domain.Payment, attemptNumber int) RetryOutcome {
	idx := attemptNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(simulatedAttemptRates) {
		idx = len(simulatedAttemptRates) - 1
	}

	s.mu.Lock()
	roll := s.rng.Float64()
	s.mu.Unlock()

	if roll < simulatedAttemptRates[idx] {
		return RetryOutcome{
			Success:          true,
			GatewayReference: fmt.Sprintf("sim_%s_%d", payment.ID, attemptNumber),
			ResponseCode:     "SIMULATED_APPROVED",
			Message:          fmt.Sprintf("simulated approval on attempt %d", attemptNumber),
		}
	}
	return RetryOutcome{
		Success:      false,
		ResponseCode: "SIMULATED_DECLINE",
		Message:      fmt.Sprintf("simulated decline on attempt %d", attemptNumber),
	}
}
