package eod

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler triggers the end-of-day run on a fixed interval. Each
// interval corresponds to one simulated trading day. The manual trigger
// endpoint calls the same orchestrator entry point.
type Scheduler struct {
	service  *Service
	interval time.Duration
}

func NewScheduler(service *Service, interval time.Duration) *Scheduler {
	return &Scheduler{service: service, interval: interval}
}

// Start runs the scheduling loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "eod_scheduler").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting end-of-day scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down end-of-day scheduler")
			return
		case <-ticker.C:
			if _, err := s.service.RunEndOfDay(); err != nil {
				logger.Error().Err(err).Msg("scheduled end-of-day run failed")
			}
		}
	}
}
