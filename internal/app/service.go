/**
 * @description
 * This file defines the core application service for the dunning-service and its
 * configuration surface. The `Service` struct wires the decision engine, the
 * batch processor, and the reporting layer to their collaborators: the database
 * repository, the payment gateway retry adapter, and the RabbitMQ notification
 * sink.
 *
 * @dependencies
 * - context, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For publishing notification directives.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/dunning-service/internal/domain"
	"github.com/transfa/dunning-service/internal/store"
	"github.com/transfa/dunning-service/pkg/rabbitmq"
)

var (
	ErrInvalidGracePeriod = errors.New("grace period days must not be negative")
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")
)

// Defaults carries the global dunning policy; subscriptions may override the
// grace period and the attempt budget, never the escalation schedule.
type Defaults struct {
	MaxAttempts     int
	GracePeriodDays int
	EscalationDays  []int
}

// Service provides the core dunning business logic.
type Service struct {
	repo      store.Repository
	gateway   RetryGateway
	simulator RetryGateway
	producer  rabbitmq.Publisher
	runLock   RunLock
	defaults  Defaults
	batchSize int
}

// NewService creates a new dunning service instance. `gateway` performs live
// retries; `simulator` stands in for it on dry runs and must never reach the
// real gateway.
func NewService(repo store.Repository, gateway RetryGateway, simulator RetryGateway, producer rabbitmq.Publisher, defaults Defaults, batchSize int) *Service {
	if defaults.MaxAttempts <= 0 {
		defaults.MaxAttempts = domain.DefaultMaxAttempts
	}
	if defaults.GracePeriodDays < 0 {
		defaults.GracePeriodDays = domain.DefaultGracePeriodDays
	}
	if len(defaults.EscalationDays) == 0 {
		defaults.EscalationDays = domain.DefaultEscalationDays()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Service{
		repo:      repo,
		gateway:   gateway,
		simulator: simulator,
		producer:  producer,
		defaults:  defaults,
		batchSize: batchSize,
	}
}

// SetRunLock installs an optional distributed lock guarding against
// overlapping batch runs. Without one the processor runs unlocked; overlap is
// still safe thanks to the engine's timing checks.
func (s *Service) SetRunLock(lock RunLock) {
	s.runLock = lock
}

// configFor merges a subscription's overrides with the global defaults.
func (s *Service) configFor(sub *domain.Subscription) domain.DunningConfig {
	cfg := domain.DunningConfig{
		SubscriptionID:  sub.ID,
		GracePeriodDays: s.defaults.GracePeriodDays,
		MaxAttempts:     s.defaults.MaxAttempts,
		EscalationDays:  s.defaults.EscalationDays,
	}
	if sub.GracePeriodDaysOver != nil {
		cfg.GracePeriodDays = *sub.GracePeriodDaysOver
	}
	if sub.MaxAttemptsOverride != nil {
		cfg.MaxAttempts = *sub.MaxAttemptsOverride
	}
	return cfg
}

// GetDunningConfig returns the effective dunning policy for a subscription.
func (s *Service) GetDunningConfig(ctx context.Context, subscriptionID uuid.UUID) (*domain.DunningConfig, error) {
	sub, err := s.repo.FindSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	cfg := s.configFor(sub)
	return &cfg, nil
}

// UpdateDunningConfig writes per-subscription overrides and returns the new
// effective policy.
func (s *Service) UpdateDunningConfig(ctx context.Context, subscriptionID uuid.UUID, update domain.DunningConfigUpdate) (*domain.DunningConfig, error) {
	if update.GracePeriodDays != nil && *update.GracePeriodDays < 0 {
		return nil, ErrInvalidGracePeriod
	}
	if update.MaxAttempts != nil && *update.MaxAttempts < 1 {
		return nil, ErrInvalidMaxAttempts
	}

	sub, err := s.repo.UpdateDunningOverrides(ctx, subscriptionID, update)
	if err != nil {
		return nil, err
	}
	cfg := s.configFor(sub)
	return &cfg, nil
}

// notify publishes a notification directive to the sink. Delivery is
// fire-and-forget: failures are logged, never propagated, and dry runs only log.
func (s *Service) notify(ctx context.Context, notification domain.DunningNotification, dryRun bool) {
	notification.Timestamp = time.Now().UTC()

	if dryRun {
		log.Printf("level=info component=dunning_engine mode=dry_run msg=\"notification suppressed\" type=%s subscription_id=%s payment_id=%s",
			notification.Type, notification.SubscriptionID, notification.PaymentID)
		return
	}
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, rabbitmq.DunningEventsExchange, notification.RoutingKey(), notification); err != nil {
		log.Printf("level=warn component=dunning_engine msg=\"notification publish failed\" type=%s subscription_id=%s err=%v",
			notification.Type, notification.SubscriptionID, err)
	}
}

// audit appends one trail entry for a dunning transition. The trail is an
// external sink as far as the state machine is concerned: append failures are
// logged and swallowed, and dry runs write nothing.
func (s *Service) audit(ctx context.Context, sub *domain.Subscription, paymentID uuid.UUID, eventType string, attemptNumber int, success bool, detail string, dryRun bool) {
	if dryRun {
		return
	}
	entry := domain.AuditEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		PaymentID:      &paymentID,
		EventType:      eventType,
		AttemptNumber:  attemptNumber,
		Success:        success,
		Detail:         detail,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.AppendAuditEntry(ctx, entry); err != nil {
		log.Printf("level=warn component=dunning_engine msg=\"audit append failed\" event=%s subscription_id=%s err=%v",
			eventType, sub.ID, err)
	}
}
