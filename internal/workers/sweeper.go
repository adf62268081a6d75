package workers

import (
	"context"
	"log"
	"time"

	"github.com/sirdesai22/event-service/internal/lifecycle"
)

// Sweeper applies due lifecycle transitions in the background. Reads
// evaluate the same windows lazily, so a stopped sweeper only delays
// purges and finalizations nobody has looked at.
type Sweeper struct {
	Lifecycle interface {
		Sweep(ctx context.Context) (lifecycle.SweepResult, error)
	}
	Interval time.Duration
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.once(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.once(ctx)
		}
	}
}

func (s *Sweeper) once(ctx context.Context) {
	res, err := s.Lifecycle.Sweep(ctx)
	if err != nil {
		log.Printf("sweep error: %v", err)
		return
	}
	if res.Purged+res.Finalized+res.Failed > 0 {
		log.Printf("🧹 sweep purged=%d finalized=%d failed=%d", res.Purged, res.Finalized, res.Failed)
	}
}
