package letters

import (
	"context"
	"log"
	"time"
)

// RunSweeper sweeps once immediately, then every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	log.Printf("service=sweeper msg=%q interval=%s", "starting", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("service=sweeper msg=%q", "shutting_down")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	start := time.Now()
	n, err := s.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("service=sweeper msg=%q err=%v", "sweep_failed", err)
		}
		return
	}
	log.Printf("service=sweeper msg=%q deleted=%d duration_ms=%d",
		"sweep_complete", n, time.Since(start).Milliseconds())
}
