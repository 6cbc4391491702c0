/**
 * @description
 * This file contains the background scheduler that triggers batch dunning runs
 * on a fixed interval. It is a plain ticker loop owned by main: cancellation of
 * the passed context stops it, and a run already in progress (here or on
 * another instance holding the run lock) just skips the tick.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/transfa/dunning-service/internal/domain"
)

// Scheduler periodically kicks off batch dunning runs.
type Scheduler struct {
	service  *Service
	interval time.Duration
}

// NewScheduler creates a scheduler running batches every interval.
func NewScheduler(service *Service, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{service: service, interval: interval}
}

// Run blocks until ctx is cancelled, triggering one batch run per tick. The
// first run happens after one full interval, giving the service time to settle
// after deploys.
func (sc *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	log.Printf("level=info component=dunning_scheduler msg=\"scheduler started\" interval=%s", sc.interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("level=info component=dunning_scheduler msg=\"scheduler stopped\"")
			return
		case <-ticker.C:
			result, err := sc.service.ProcessDunning(ctx, domain.ProcessOptions{})
			if err != nil {
				if errors.Is(err, ErrRunInProgress) {
					log.Printf("level=info component=dunning_scheduler msg=\"tick skipped; run already in progress\"")
					continue
				}
				log.Printf("level=error component=dunning_scheduler msg=\"scheduled run failed\" err=%v", err)
				continue
			}
			log.Printf("level=info component=dunning_scheduler msg=\"scheduled run complete\" processed=%d successful=%d failed=%d suspended=%d",
				result.Processed, result.Successful, result.Failed, result.Suspended)
		}
	}
}
