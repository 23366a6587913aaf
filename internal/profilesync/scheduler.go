package profilesync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"controld_bridge/core-go/internal/controld"
	"controld_bridge/core-go/internal/metrics"
	"controld_bridge/core-go/internal/registry"
)

// DefaultRefreshInterval is used when Options.RefreshInterval is unset.
const DefaultRefreshInterval = 60 * time.Second

type Options struct {
	RefreshInterval time.Duration
}

// Scheduler validates the token once, runs the initial discovery and then
// refreshes exposed entity status on a fixed interval.
type Scheduler struct {
	log      zerolog.Logger
	engine   *Engine
	interval time.Duration
	metrics  *metrics.Metrics

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopped  bool
	stopOnce sync.Once
}

func NewScheduler(log zerolog.Logger, engine *Engine, opts Options, m *metrics.Metrics) *Scheduler {
	interval := opts.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Scheduler{
		log:      log.With().Str("component", "scheduler").Logger(),
		engine:   engine,
		interval: interval,
		metrics:  m,
	}
}

// Start runs the scheduler in the background until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.stopped {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.Run(runCtx)
	}()
}

// Stop cancels the background loop and waits for it to exit. It is safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		cancel, done := s.cancel, s.done
		s.mu.Unlock()

		if cancel == nil {
			return
		}
		cancel()
		<-done
		s.log.Debug().Msg("refresh loop stopped")
	})
}

// Run blocks until ctx is done. It returns immediately if the token is
// invalid.
func (s *Scheduler) Run(ctx context.Context) {
	if s == nil || s.engine == nil {
		return
	}
	if !s.activate(ctx) {
		return
	}

	s.engine.Discover(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Scheduler) activate(ctx context.Context) bool {
	gate := s.engine.gate
	switch gate.State() {
	case StateValid:
		return true
	case StateInvalid:
		return false
	}

	if gate.resolve(s.engine.svc.ValidateToken(ctx)) == StateValid {
		s.log.Info().Dur("refresh_interval", s.interval).Msg("authenticated with Control D API")
		return true
	}

	s.log.Error().Msg("failed to authenticate with Control D API; no profiles will be available")
	s.log.Error().Msg("check the API token in the configuration and restart the service")
	s.log.Error().Msg("profile discovery and status refresh are disabled until restart")
	return false
}

// Refresh re-fetches profiles and pushes fresh status into entities from the
// latest discovery. It never adds or removes entities.
func (s *Scheduler) Refresh(ctx context.Context) {
	e := s.engine
	if !e.gate.Valid() {
		s.metrics.IncRefreshTick("skipped")
		s.log.Debug().Str("state", e.gate.State().String()).Msg("skipping profile status update due to invalid API token")
		return
	}

	s.log.Debug().Msg("updating profile statuses")
	profiles := e.svc.ListProfiles(ctx)
	if len(profiles) == 0 {
		s.metrics.IncRefreshTick("empty")
		s.log.Warn().Msg("no profiles found during status update; leaving exposed profiles unchanged")
		return
	}

	byID := make(map[string]controld.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.PK] = p
	}

	refreshed := 0
	for _, id := range e.Discovered() {
		ent, ok := e.reg.Lookup(registry.IdentityFor(id))
		if !ok {
			continue
		}
		p, ok := byID[id]
		if !ok {
			continue
		}
		ent.SetProfile(p)
		e.controllerFor(ent).PushStatus()
		refreshed++
	}

	s.metrics.IncRefreshTick("refreshed")
	s.log.Debug().Int("refreshed", refreshed).Msg("profile statuses updated")
}
