package agent

import (
	"context"
	"time"

	"agent-engine/internal/domain"
	"agent-engine/internal/persistence"
	"agent-engine/internal/position"
	"agent-engine/internal/risk"
)

// ResetDaily zeroes the daily counters of every agent whose counters
// belong to an earlier UTC day. It returns the number of agents reset.
func (r *Registry) ResetDaily(now time.Time) int {
	n := 0
	for _, rt := range r.all() {
		_ = rt.With(func(a *domain.Agent, _ *position.Book) error {
			if risk.ResetDaily(a, now) {
				a.UpdatedAt = now.UnixMilli()
				r.record(persistence.AgentUpsert(a))
				n++
			}
			return nil
		})
	}
	return n
}

// RunDailyReset resets daily counters at every UTC midnight until ctx is
// done. Counters are also reset lazily when read, so a missed timer only
// delays the persisted reset.
func (r *Registry) RunDailyReset(ctx context.Context) error {
	for {
		now := r.now()
		timer := time.NewTimer(untilNextUTCMidnight(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			reset := r.ResetDaily(r.now())
			r.log.Info().Int("agents", reset).Msg("daily counters reset")
		}
	}
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	utc := now.UTC()
	next := time.Date(utc.Year(), utc.Month(), utc.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(utc)
}
