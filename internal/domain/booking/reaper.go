package booking

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweep is one periodic cleanup job. Run returns how many records it touched.
type Sweep struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Reaper runs sweeps on a fixed interval until its context is cancelled.
type Reaper struct {
	interval time.Duration
	sweeps   []Sweep
	logger   zerolog.Logger
}

func NewReaper(interval time.Duration, logger zerolog.Logger, sweeps ...Sweep) *Reaper {
	return &Reaper{interval: interval, sweeps: sweeps, logger: logger.With().Str("component", "reaper").Logger()}
}

// ExpireStaleSweep adapts Service.ExpireStale for the reaper.
func (s *Service) ExpireStaleSweep() Sweep {
	return Sweep{Name: "booking_reservations", Run: s.ExpireStale}
}

func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce runs every sweep a single time.
func (r *Reaper) RunOnce(ctx context.Context) {
	for _, sw := range r.sweeps {
		n, err := sw.Run(ctx)
		if err != nil {
			r.logger.Error().Err(err).Str("sweep", sw.Name).Msg("sweep failed")
			continue
		}
		if n > 0 {
			r.logger.Info().Str("sweep", sw.Name).Int("count", n).Msg("sweep complete")
		}
	}
}
