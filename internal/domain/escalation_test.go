package domain

import (
	"testing"
	"time"
)

func TestNextAttemptDate(t *testing.T) {
	originalFailure := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)
	schedule := DefaultEscalationDays()

	tests := []struct {
		name          string
		attemptNumber int
		wantDays      int
	}{
		{name: "first attempt after one day", attemptNumber: 1, wantDays: 1},
		{name: "second attempt after three days", attemptNumber: 2, wantDays: 3},
		{name: "third attempt after seven days", attemptNumber: 3, wantDays: 7},
		{name: "fourth attempt after fourteen days", attemptNumber: 4, wantDays: 14},
		{name: "fifth attempt after thirty days", attemptNumber: 5, wantDays: 30},
		{name: "attempts past schedule reuse last delay", attemptNumber: 9, wantDays: 30},
		{name: "zero attempt clamps to first delay", attemptNumber: 0, wantDays: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextAttemptDate(tt.attemptNumber, originalFailure, schedule)
			want := originalFailure.AddDate(0, 0, tt.wantDays)
			if !got.Equal(want) {
				t.Fatalf("expected %s, got %s", want, got)
			}
		})
	}
}

func TestNextAttemptDateMeasuresFromOriginalFailure(t *testing.T) {
	// A payment that failed on Jan 1 keeps Jan 1 as the anchor for every
	// attempt, no matter when previous attempts actually ran.
	originalFailure := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	schedule := DefaultEscalationDays()

	wantDates := []time.Time{
		time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 8, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 31, 0, 0, 0, 0, time.UTC),
	}

	for i, want := range wantDates {
		got := NextAttemptDate(i+1, originalFailure, schedule)
		if !got.Equal(want) {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, want, got)
		}
	}
}

func TestNextAttemptDateIsMonotonic(t *testing.T) {
	originalFailure := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	schedule := DefaultEscalationDays()

	for n := 1; n <= 8; n++ {
		current := NextAttemptDate(n, originalFailure, schedule)
		next := NextAttemptDate(n+1, originalFailure, schedule)
		if next.Before(current) {
			t.Fatalf("attempt %d scheduled at %s before attempt %d at %s", n+1, next, n, current)
		}
	}
}

func TestNextAttemptDateWithCustomSchedule(t *testing.T) {
	originalFailure := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	schedule := []int{2, 5}

	if got := NextAttemptDate(1, originalFailure, schedule); !got.Equal(originalFailure.AddDate(0, 0, 2)) {
		t.Fatalf("expected first attempt at +2 days, got %s", got)
	}
	if got := NextAttemptDate(4, originalFailure, schedule); !got.Equal(originalFailure.AddDate(0, 0, 5)) {
		t.Fatalf("expected overflow attempt to reuse +5 days, got %s", got)
	}
}

func TestGracePeriodEnd(t *testing.T) {
	dueDate := time.Date(2025, time.June, 1, 8, 30, 0, 0, time.UTC)

	if got := GracePeriodEnd(dueDate, 7); !got.Equal(dueDate.AddDate(0, 0, 7)) {
		t.Fatalf("expected grace end at +7 days, got %s", got)
	}
	if got := GracePeriodEnd(dueDate, 0); !got.Equal(dueDate) {
		t.Fatalf("expected zero grace days to end immediately, got %s", got)
	}
}
