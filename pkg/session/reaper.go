package session

import (
	"context"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/logger"
)

// Reaper periodically evicts sessions without inbound activity.  It runs off the request
// path and only ever calls Registry.Sweep.
type Reaper struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
	log       logger.Logger
}

func NewReaper(r *Registry, interval, threshold time.Duration, l logger.Logger) *Reaper {
	if l == nil {
		l = logger.VoidLogger()
	}
	return &Reaper{
		registry:  r,
		interval:  interval,
		threshold: threshold,
		log:       l,
	}
}

// Run blocks until ctx is done, sweeping on every tick.
func (r *Reaper) Run(ctx context.Context) {
	ticker := r.registry.Clock().NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}

func (r *Reaper) Sweep() []*Session {
	reaped := r.registry.Sweep(r.threshold, r.registry.Clock().Now())
	for _, s := range reaped {
		r.log.Info("cleaned up stale session", "session_id", s.ID, "kind", s.Kind.String(), "last_activity", s.LastActivity())
	}
	return reaped
}
