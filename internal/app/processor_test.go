package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/dunning-service/internal/domain"
	"github.com/transfa/dunning-service/internal/store"
)

type processorRepoStub struct {
	store.Repository

	payments    []domain.Payment
	paymentByID map[uuid.UUID]*domain.Payment
	subs        map[uuid.UUID]*domain.Subscription
	subErrs     map[uuid.UUID]error
	panicOnSub  map[uuid.UUID]bool

	lastFilter store.FailedPaymentFilter
	findCalls  int
}

func (s *processorRepoStub) FindFailedPayments(ctx context.Context, filter store.FailedPaymentFilter) ([]domain.Payment, error) {
	s.findCalls++
	s.lastFilter = filter
	return s.payments, nil
}

func (s *processorRepoStub) FindPaymentByID(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, ok := s.paymentByID[paymentID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *processorRepoStub) FindSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	if s.panicOnSub[subscriptionID] {
		panic("poisoned subscription row")
	}
	if err, ok := s.subErrs[subscriptionID]; ok {
		return nil, err
	}
	sub, ok := s.subs[subscriptionID]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *processorRepoStub) MarkDunningAttemptStarted(ctx context.Context, subscriptionID uuid.UUID, at time.Time, nextRetryAt time.Time) error {
	return nil
}

func (s *processorRepoStub) RecordDunningAttempt(ctx context.Context, subscriptionID uuid.UUID, attempts int, nextRetryAt time.Time) error {
	return nil
}

func (s *processorRepoStub) ResetSubscriptionDunning(ctx context.Context, subscriptionID uuid.UUID, recoveredAt time.Time) error {
	return nil
}

func (s *processorRepoStub) SuspendSubscription(ctx context.Context, subscriptionID uuid.UUID, attempts int) error {
	return nil
}

func (s *processorRepoStub) MarkPaymentCompleted(ctx context.Context, paymentID uuid.UUID, gatewayResponse map[string]interface{}, paidAt time.Time) error {
	return nil
}

func (s *processorRepoStub) AppendAuditEntry(ctx context.Context, entry domain.AuditEntry) error {
	return nil
}

type runLockStub struct {
	acquired     bool
	err          error
	acquireCalls int
	released     bool
}

func (l *runLockStub) Acquire(ctx context.Context) (bool, func(), error) {
	l.acquireCalls++
	if l.err != nil {
		return false, func() {}, l.err
	}
	if !l.acquired {
		return false, func() {}, nil
	}
	return true, func() { l.released = true }, nil
}

func newProcessorTestService(repo *processorRepoStub, gateway RetryGateway) *Service {
	return NewService(repo, gateway, &scriptedGateway{}, &capturingPublisher{}, Defaults{}, 0)
}

func subscriptionPayment(sub *domain.Subscription) domain.Payment {
	payment := domain.Payment{
		ID:        uuid.New(),
		Amount:    100000,
		Currency:  "NGN",
		Status:    domain.PaymentStatusFailed,
		CreatedAt: time.Now().UTC().AddDate(0, 0, -60),
	}
	if sub != nil {
		id := sub.ID
		payment.SubscriptionID = &id
	}
	return payment
}

func TestProcessDunning_AggregatesOutcomes(t *testing.T) {
	brokenSub := activeSubscription(1)
	exhaustedSub := activeSubscription(5)

	p1 := subscriptionPayment(nil) // one-time payment, success no-op
	p2 := subscriptionPayment(brokenSub)
	p3 := subscriptionPayment(exhaustedSub)

	repo := &processorRepoStub{
		payments: []domain.Payment{p1, p2, p3},
		subs:     map[uuid.UUID]*domain.Subscription{exhaustedSub.ID: exhaustedSub},
		subErrs:  map[uuid.UUID]error{brokenSub.ID: errors.New("connection reset")},
	}
	service := newProcessorTestService(repo, &scriptedGateway{})

	result, err := service.ProcessDunning(context.Background(), domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 3 {
		t.Fatalf("expected 3 processed, got %d", result.Processed)
	}
	if result.Successful != 1 || result.Failed != 1 || result.Suspended != 1 {
		t.Fatalf("expected 1/1/1 successful/failed/suspended, got %d/%d/%d",
			result.Successful, result.Failed, result.Suspended)
	}
	if result.Successful+result.Failed+result.Suspended != result.Processed {
		t.Fatalf("expected the counters to partition processed, got %+v", result)
	}
	if len(result.Errors) != 1 || result.Errors[0].PaymentID != p2.ID {
		t.Fatalf("expected one batch error for %s, got %+v", p2.ID, result.Errors)
	}
}

func TestProcessDunning_PanicIsolation(t *testing.T) {
	poisonedSub := activeSubscription(1)

	p1 := subscriptionPayment(nil)
	p2 := subscriptionPayment(poisonedSub)
	p3 := subscriptionPayment(nil)

	repo := &processorRepoStub{
		payments:   []domain.Payment{p1, p2, p3},
		panicOnSub: map[uuid.UUID]bool{poisonedSub.ID: true},
	}
	service := newProcessorTestService(repo, &scriptedGateway{})

	result, err := service.ProcessDunning(context.Background(), domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 3 || result.Successful != 2 || result.Failed != 1 {
		t.Fatalf("expected the batch to survive the panic, got %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0].Error, "panic") {
		t.Fatalf("expected a panic batch error, got %+v", result.Errors)
	}
}

func TestProcessDunning_RunLockContention(t *testing.T) {
	repo := &processorRepoStub{}
	service := newProcessorTestService(repo, &scriptedGateway{})
	lock := &runLockStub{acquired: false}
	service.SetRunLock(lock)

	_, err := service.ProcessDunning(context.Background(), domain.ProcessOptions{})
	if !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if repo.findCalls != 0 {
		t.Fatal("expected no payment selection while the lock is held elsewhere")
	}
}

func TestProcessDunning_LockReleasedAfterRun(t *testing.T) {
	repo := &processorRepoStub{}
	service := newProcessorTestService(repo, &scriptedGateway{})
	lock := &runLockStub{acquired: true}
	service.SetRunLock(lock)

	if _, err := service.ProcessDunning(context.Background(), domain.ProcessOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lock.released {
		t.Fatal("expected the run lock to be released")
	}
}

func TestProcessDunning_DryRunSkipsLock(t *testing.T) {
	repo := &processorRepoStub{}
	service := newProcessorTestService(repo, &scriptedGateway{})
	lock := &runLockStub{acquired: false}
	service.SetRunLock(lock)

	if _, err := service.ProcessDunning(context.Background(), domain.ProcessOptions{DryRun: true}); err != nil {
		t.Fatalf("expected dry run to bypass the lock, got %v", err)
	}
	if lock.acquireCalls != 0 {
		t.Fatal("expected dry runs to never touch the lock")
	}
}

func TestProcessDunning_BrokenLockDegradesToUnlockedRun(t *testing.T) {
	repo := &processorRepoStub{}
	service := newProcessorTestService(repo, &scriptedGateway{})
	service.SetRunLock(&runLockStub{err: errors.New("redis unreachable")})

	if _, err := service.ProcessDunning(context.Background(), domain.ProcessOptions{}); err != nil {
		t.Fatalf("expected a broken lock backend to degrade gracefully, got %v", err)
	}
	if repo.findCalls != 1 {
		t.Fatal("expected the run to proceed unlocked")
	}
}

func TestProcessDunning_BatchSizeCapped(t *testing.T) {
	repo := &processorRepoStub{}
	service := newProcessorTestService(repo, &scriptedGateway{})

	if _, err := service.ProcessDunning(context.Background(), domain.ProcessOptions{MaxBatchSize: 500}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastFilter.Limit != MaxBatchSize {
		t.Fatalf("expected the batch capped at %d, got %d", MaxBatchSize, repo.lastFilter.Limit)
	}

	if _, err := service.ProcessDunning(context.Background(), domain.ProcessOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.lastFilter.Limit != DefaultBatchSize {
		t.Fatalf("expected the default batch size %d, got %d", DefaultBatchSize, repo.lastFilter.Limit)
	}
}

func TestProcessDunning_ExplicitPaymentMustBeFailed(t *testing.T) {
	completed := subscriptionPayment(nil)
	completed.Status = domain.PaymentStatusCompleted

	repo := &processorRepoStub{
		paymentByID: map[uuid.UUID]*domain.Payment{completed.ID: &completed},
	}
	service := newProcessorTestService(repo, &scriptedGateway{})

	_, err := service.ProcessDunning(context.Background(), domain.ProcessOptions{PaymentID: &completed.ID})
	if !errors.Is(err, store.ErrPaymentNotFailed) {
		t.Fatalf("expected ErrPaymentNotFailed, got %v", err)
	}

	missing := uuid.New()
	_, err = service.ProcessDunning(context.Background(), domain.ProcessOptions{PaymentID: &missing})
	if !errors.Is(err, store.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestProcessDunning_CancelledContextStopsBetweenPayments(t *testing.T) {
	repo := &processorRepoStub{
		payments: []domain.Payment{subscriptionPayment(nil), subscriptionPayment(nil)},
	}
	service := newProcessorTestService(repo, &scriptedGateway{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := service.ProcessDunning(ctx, domain.ProcessOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 0 {
		t.Fatalf("expected no payments processed after cancellation, got %d", result.Processed)
	}
}
