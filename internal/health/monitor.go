// Package health watches provider availability over the process lifetime.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// StatusSource reports the current availability of every provider.
// *aggregator.Aggregator satisfies it through Status.
type StatusSource interface {
	ProviderAvailability(ctx context.Context) map[string]bool
}

// Monitor periodically surveys the providers and logs availability
// transitions. Sources are read-only snapshots, so a provider that goes
// down stays down until restart; the monitor makes that visible in the
// logs instead of only on /api/status.
type Monitor struct {
	src     StatusSource
	log     zerolog.Logger
	healthy atomic.Int32
}

func NewMonitor(src StatusSource, log zerolog.Logger) *Monitor {
	m := &Monitor{src: src, log: log}
	m.healthy.Store(0)
	return m
}

// AllWorking returns the cached result of the last survey.
func (m *Monitor) AllWorking() bool { return m.healthy.Load() == 1 }

// Start surveys availability every interval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := map[string]bool{}
	survey := func() {
		cur := m.src.ProviderAvailability(ctx)
		all := true
		for name, working := range cur {
			if !working {
				all = false
			}
			was, seen := prev[name]
			if seen && was == working {
				continue
			}
			if working {
				m.log.Info().Str("provider", name).Msg("provider availability: UP")
			} else {
				m.log.Warn().Str("provider", name).Msg("provider availability: DOWN")
			}
		}
		prev = cur
		if all {
			m.healthy.Store(1)
		} else {
			m.healthy.Store(0)
		}
	}

	survey()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			survey()
		}
	}
}
