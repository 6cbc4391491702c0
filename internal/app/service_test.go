package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/dunning-service/internal/domain"
	"github.com/transfa/dunning-service/internal/store"
)

type configRepoStub struct {
	store.Repository

	sub           *domain.Subscription
	updateCalled  bool
	updateApplied domain.DunningConfigUpdate
}

func (s *configRepoStub) FindSubscriptionByID(ctx context.Context, subscriptionID uuid.UUID) (*domain.Subscription, error) {
	if s.sub == nil {
		return nil, store.ErrSubscriptionNotFound
	}
	return s.sub, nil
}

func (s *configRepoStub) UpdateDunningOverrides(ctx context.Context, subscriptionID uuid.UUID, update domain.DunningConfigUpdate) (*domain.Subscription, error) {
	s.updateCalled = true
	s.updateApplied = update
	if update.GracePeriodDays != nil {
		s.sub.GracePeriodDaysOver = update.GracePeriodDays
	}
	if update.MaxAttempts != nil {
		s.sub.MaxAttemptsOverride = update.MaxAttempts
	}
	return s.sub, nil
}

func TestGetDunningConfig_MergesDefaultsAndOverrides(t *testing.T) {
	grace := 3
	sub := activeSubscription(0)
	sub.GracePeriodDaysOver = &grace
	repo := &configRepoStub{sub: sub}
	service := NewService(repo, &scriptedGateway{}, &scriptedGateway{}, &capturingPublisher{}, Defaults{}, 0)

	cfg, err := service.GetDunningConfig(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GracePeriodDays != 3 {
		t.Fatalf("expected grace override 3, got %d", cfg.GracePeriodDays)
	}
	if cfg.MaxAttempts != domain.DefaultMaxAttempts {
		t.Fatalf("expected default max attempts, got %d", cfg.MaxAttempts)
	}
	if len(cfg.EscalationDays) != len(domain.DefaultEscalationDays()) {
		t.Fatalf("expected the default escalation schedule, got %v", cfg.EscalationDays)
	}
}

func TestUpdateDunningConfig_RejectsInvalidValues(t *testing.T) {
	repo := &configRepoStub{sub: activeSubscription(0)}
	service := NewService(repo, &scriptedGateway{}, &scriptedGateway{}, &capturingPublisher{}, Defaults{}, 0)

	negative := -1
	if _, err := service.UpdateDunningConfig(context.Background(), repo.sub.ID, domain.DunningConfigUpdate{GracePeriodDays: &negative}); !errors.Is(err, ErrInvalidGracePeriod) {
		t.Fatalf("expected ErrInvalidGracePeriod, got %v", err)
	}

	zero := 0
	if _, err := service.UpdateDunningConfig(context.Background(), repo.sub.ID, domain.DunningConfigUpdate{MaxAttempts: &zero}); !errors.Is(err, ErrInvalidMaxAttempts) {
		t.Fatalf("expected ErrInvalidMaxAttempts, got %v", err)
	}
	if repo.updateCalled {
		t.Fatal("expected invalid updates to never reach the repository")
	}
}

func TestUpdateDunningConfig_AppliesOverrides(t *testing.T) {
	repo := &configRepoStub{sub: activeSubscription(0)}
	service := NewService(repo, &scriptedGateway{}, &scriptedGateway{}, &capturingPublisher{}, Defaults{}, 0)

	attempts := 3
	cfg, err := service.UpdateDunningConfig(context.Background(), repo.sub.ID, domain.DunningConfigUpdate{MaxAttempts: &attempts})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.updateCalled {
		t.Fatal("expected the repository update to run")
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("expected the override in the effective config, got %d", cfg.MaxAttempts)
	}
}

func TestDryRunSimulator_DeterministicWithSeed(t *testing.T) {
	payment := failedPayment(nil, time.Now().UTC())

	first := NewDryRunSimulator(42)
	second := NewDryRunSimulator(42)

	for attempt := 1; attempt <= 10; attempt++ {
		a := first.AttemptRetry(context.Background(), payment, attempt)
		b := second.AttemptRetry(context.Background(), payment, attempt)
		if a.Success != b.Success {
			t.Fatalf("attempt %d: expected identical outcomes for the same seed, got %t vs %t", attempt, a.Success, b.Success)
		}
	}
}
