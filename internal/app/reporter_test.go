package app

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/transfa/dunning-service/internal/domain"
	"github.com/transfa/dunning-service/internal/store"
)

type reporterRepoStub struct {
	store.Repository

	subs      []domain.Subscription
	counts    store.DunningCounts
	histogram map[int]int
	outcomes  []store.LevelOutcome
}

func (s *reporterRepoStub) ListDunningSubscriptions(ctx context.Context, opts domain.StatusListOptions) ([]domain.Subscription, error) {
	return s.subs, nil
}

func (s *reporterRepoStub) DunningSubscriptionCounts(ctx context.Context, opts domain.AnalyticsOptions) (*store.DunningCounts, error) {
	counts := s.counts
	return &counts, nil
}

func (s *reporterRepoStub) CurrentAttemptHistogram(ctx context.Context, opts domain.AnalyticsOptions) (map[int]int, error) {
	if s.histogram == nil {
		return map[int]int{}, nil
	}
	return s.histogram, nil
}

func (s *reporterRepoStub) AttemptOutcomesByLevel(ctx context.Context, opts domain.AnalyticsOptions) ([]store.LevelOutcome, error) {
	return s.outcomes, nil
}

func newReporterTestService(repo *reporterRepoStub) *Service {
	return NewService(repo, &scriptedGateway{}, &scriptedGateway{}, &capturingPublisher{}, Defaults{}, 0)
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestGetDunningAnalytics_EmptyDataYieldsZeroes(t *testing.T) {
	service := newReporterTestService(&reporterRepoStub{})

	analytics, err := service.GetDunningAnalytics(context.Background(), domain.AnalyticsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analytics.RecoveryRate != 0 {
		t.Fatalf("expected zero recovery rate on empty data, got %f", analytics.RecoveryRate)
	}
	if analytics.AverageRecoveryDays != 0 {
		t.Fatalf("expected zero average recovery days on empty data, got %f", analytics.AverageRecoveryDays)
	}
	if len(analytics.EscalationBreakdown) != 0 {
		t.Fatalf("expected an empty breakdown, got %+v", analytics.EscalationBreakdown)
	}
}

func TestGetDunningAnalytics_MergesHistogramAndOutcomes(t *testing.T) {
	repo := &reporterRepoStub{
		counts: store.DunningCounts{
			TotalFailures:      20,
			ActiveProcesses:    6,
			Suspended:          2,
			Recovered:          6,
			AvgRecoverySeconds: 2 * 86400,
		},
		histogram: map[int]int{1: 4, 2: 2},
		outcomes: []store.LevelOutcome{
			{AttemptLevel: 1, Attempts: 10, Successes: 3},
			{AttemptLevel: 3, Attempts: 5, Successes: 1},
		},
	}
	service := newReporterTestService(repo)

	analytics, err := service.GetDunningAnalytics(context.Background(), domain.AnalyticsOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 6 recovered out of 8 concluded processes.
	if !approxEqual(analytics.RecoveryRate, 75) {
		t.Fatalf("expected recovery rate 75, got %f", analytics.RecoveryRate)
	}
	if !approxEqual(analytics.AverageRecoveryDays, 2) {
		t.Fatalf("expected 2 average recovery days, got %f", analytics.AverageRecoveryDays)
	}

	if len(analytics.EscalationBreakdown) != 3 {
		t.Fatalf("expected 3 escalation levels, got %+v", analytics.EscalationBreakdown)
	}
	for i, wantLevel := range []int{1, 2, 3} {
		if analytics.EscalationBreakdown[i].AttemptLevel != wantLevel {
			t.Fatalf("expected breakdown sorted by level, got %+v", analytics.EscalationBreakdown)
		}
	}

	level1 := analytics.EscalationBreakdown[0]
	if level1.Subscriptions != 4 || level1.Attempts != 10 || level1.Successes != 3 || !approxEqual(level1.SuccessRate, 30) {
		t.Fatalf("expected level 1 to merge histogram and outcomes, got %+v", level1)
	}

	// Level 2 appears only in the live histogram; no recorded attempts yet.
	level2 := analytics.EscalationBreakdown[1]
	if level2.Subscriptions != 2 || level2.Attempts != 0 || level2.SuccessRate != 0 {
		t.Fatalf("expected level 2 with zero attempt stats, got %+v", level2)
	}

	// Level 3 appears only in the audit trail.
	level3 := analytics.EscalationBreakdown[2]
	if level3.Subscriptions != 0 || level3.Attempts != 5 || !approxEqual(level3.SuccessRate, 20) {
		t.Fatalf("expected level 3 from the audit trail only, got %+v", level3)
	}
}

func TestGetDunningStatus_AttachesEffectiveConfig(t *testing.T) {
	override := 10
	sub := domain.Subscription{
		ID:                  uuid.New(),
		UserID:              uuid.New(),
		Status:              domain.SubscriptionStatusActive,
		DunningAttempts:     2,
		GracePeriodDaysOver: &override,
	}
	repo := &reporterRepoStub{subs: []domain.Subscription{sub}}
	service := newReporterTestService(repo)

	entries, err := service.GetDunningStatus(context.Background(), domain.StatusListOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.SubscriptionID != sub.ID.String() {
		t.Fatalf("expected subscription %s, got %s", sub.ID, entry.SubscriptionID)
	}
	if entry.Config == nil {
		t.Fatal("expected the effective config to be attached")
	}
	if entry.Config.GracePeriodDays != 10 {
		t.Fatalf("expected the grace override to apply, got %d", entry.Config.GracePeriodDays)
	}
	if entry.Config.MaxAttempts != domain.DefaultMaxAttempts {
		t.Fatalf("expected the default max attempts, got %d", entry.Config.MaxAttempts)
	}
}
