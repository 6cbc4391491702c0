/**
 * @description
 * This file contains the dunning status and analytics reporting layer. Status
 * returns the subscriptions currently in dunning (or suspended); analytics
 * summarizes recovery performance: recovery rate, average time to recover, and
 * a per-escalation-level breakdown merging the live attempt histogram with the
 * audit trail's attempt outcomes.
 *
 * Empty data sets produce zeroes, never errors: a brand-new deployment asking
 * for its recovery rate gets 0, not a division failure.
 */

package app

import (
	"context"
	"sort"
	"time"

	"github.com/transfa/dunning-service/internal/domain"
)

// DunningStatusEntry is one subscription's dunning state as reported to operators.
type DunningStatusEntry struct {
	SubscriptionID  string                `json:"subscription_id"`
	UserID          string                `json:"user_id"`
	Status          string                `json:"status"`
	DunningAttempts int                   `json:"dunning_attempts"`
	NextRetryAt     *string               `json:"next_retry_at,omitempty"`
	LastDunningAt   *string               `json:"last_dunning_at,omitempty"`
	Config          *domain.DunningConfig `json:"config"`
}

// GetDunningStatus lists subscriptions currently in dunning, each with its
// effective policy attached.
func (s *Service) GetDunningStatus(ctx context.Context, opts domain.StatusListOptions) ([]DunningStatusEntry, error) {
	subs, err := s.repo.ListDunningSubscriptions(ctx, opts)
	if err != nil {
		return nil, err
	}

	entries := make([]DunningStatusEntry, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		cfg := s.configFor(sub)
		entry := DunningStatusEntry{
			SubscriptionID:  sub.ID.String(),
			UserID:          sub.UserID.String(),
			Status:          sub.Status,
			DunningAttempts: sub.DunningAttempts,
			Config:          &cfg,
		}
		if sub.NextRetryAt != nil {
			v := sub.NextRetryAt.UTC().Format(time.RFC3339)
			entry.NextRetryAt = &v
		}
		if sub.LastDunningAt != nil {
			v := sub.LastDunningAt.UTC().Format(time.RFC3339)
			entry.LastDunningAt = &v
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetDunningAnalytics builds the recovery performance summary.
func (s *Service) GetDunningAnalytics(ctx context.Context, opts domain.AnalyticsOptions) (*domain.DunningAnalytics, error) {
	counts, err := s.repo.DunningSubscriptionCounts(ctx, opts)
	if err != nil {
		return nil, err
	}
	histogram, err := s.repo.CurrentAttemptHistogram(ctx, opts)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.repo.AttemptOutcomesByLevel(ctx, opts)
	if err != nil {
		return nil, err
	}

	analytics := &domain.DunningAnalytics{
		TotalFailures:          counts.TotalFailures,
		ActiveProcesses:        counts.ActiveProcesses,
		SuspendedSubscriptions: counts.Suspended,
		RecoveredSubscriptions: counts.Recovered,
		EscalationBreakdown:    []domain.EscalationLevelStats{},
	}

	// Recovery rate over concluded dunning processes only: still-active ones
	// have not succeeded or failed yet.
	concluded := counts.Recovered + counts.Suspended
	if concluded > 0 {
		analytics.RecoveryRate = float64(counts.Recovered) / float64(concluded) * 100
	}
	if counts.AvgRecoverySeconds > 0 {
		analytics.AverageRecoveryDays = counts.AvgRecoverySeconds / 86400
	}

	// Merge the live histogram (who is at which level now) with the audit
	// trail's attempt outcomes (how each level has performed historically).
	levels := make(map[int]*domain.EscalationLevelStats)
	levelAt := func(level int) *domain.EscalationLevelStats {
		if stats, ok := levels[level]; ok {
			return stats
		}
		stats := &domain.EscalationLevelStats{AttemptLevel: level}
		levels[level] = stats
		return stats
	}
	for level, count := range histogram {
		levelAt(level).Subscriptions = count
	}
	for _, outcome := range outcomes {
		stats := levelAt(outcome.AttemptLevel)
		stats.Attempts = outcome.Attempts
		stats.Successes = outcome.Successes
		if outcome.Attempts > 0 {
			stats.SuccessRate = float64(outcome.Successes) / float64(outcome.Attempts) * 100
		}
	}

	for _, stats := range levels {
		analytics.EscalationBreakdown = append(analytics.EscalationBreakdown, *stats)
	}
	sort.Slice(analytics.EscalationBreakdown, func(i, j int) bool {
		return analytics.EscalationBreakdown[i].AttemptLevel < analytics.EscalationBreakdown[j].AttemptLevel
	})

	return analytics, nil
}
