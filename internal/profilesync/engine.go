package profilesync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"controld_bridge/core-go/internal/controld"
	"controld_bridge/core-go/internal/metrics"
	"controld_bridge/core-go/internal/naming"
	"controld_bridge/core-go/internal/registry"
)

// ProfileService is the subset of *controld.Client the sync loop needs.
//
// NOTE: *controld.Client satisfies this.
type ProfileService interface {
	Toggler
	ValidateToken(ctx context.Context) bool
	ListProfiles(ctx context.Context) []controld.Profile
}

// Result summarizes one reconciliation pass.
type Result struct {
	Created int
	Updated int
	Removed int
}

// Engine reconciles the registry against the remote profile set.
type Engine struct {
	log     zerolog.Logger
	svc     ProfileService
	reg     registry.Registry
	gate    *Gate
	metrics *metrics.Metrics

	mu          sync.Mutex
	discovered  []string
	controllers map[string]*Controller
}

func NewEngine(log zerolog.Logger, svc ProfileService, reg registry.Registry, gate *Gate, m *metrics.Metrics) *Engine {
	if gate == nil {
		gate = &Gate{}
	}
	return &Engine{
		log:         log.With().Str("component", "profilesync").Logger(),
		svc:         svc,
		reg:         reg,
		gate:        gate,
		metrics:     m,
		controllers: make(map[string]*Controller),
	}
}

func (e *Engine) Gate() *Gate {
	return e.gate
}

// Discover runs a full pass: fetch all profiles and reconcile.
func (e *Engine) Discover(ctx context.Context) {
	if !e.gate.Valid() {
		e.log.Debug().Str("state", e.gate.State().String()).Msg("skipping profile discovery due to invalid API token")
		return
	}

	profiles := e.svc.ListProfiles(ctx)
	e.log.Info().Int("profiles", len(profiles)).Msg("profiles fetched for discovery")
	e.Reconcile(ctx, profiles)
}

// Reconcile makes the registry match profiles: existing entities are
// refreshed, missing ones created, and entities whose profile is gone are
// unregistered. An empty profiles slice unregisters everything.
func (e *Engine) Reconcile(ctx context.Context, profiles []controld.Profile) Result {
	start := time.Now()
	e.metrics.IncReconcileRun()
	defer func() {
		e.metrics.ObserveReconcileDuration(time.Since(start))
	}()

	var res Result
	discovered := make([]string, 0, len(profiles))
	seen := make(map[string]struct{}, len(profiles))

	if len(profiles) == 0 {
		e.log.Warn().Int("exposed", len(e.reg.All())).Msg("no profiles returned by Control D; removing all exposed profiles")
	}

	for _, p := range profiles {
		identity := registry.IdentityFor(p.PK)
		discovered = append(discovered, p.PK)
		seen[p.PK] = struct{}{}

		if ent, ok := e.reg.Lookup(identity); ok {
			e.log.Info().Str("name", p.Name).Str("identity", identity).Msg("refreshing existing profile")
			ent.SetProfile(p)
			ent.SetName(naming.ForProfile(p.PK, p.Name, ent.Name()))
			if err := e.reg.Update(ctx, ent); err != nil {
				e.log.Error().Err(err).Str("identity", identity).Msg("failed to update exposed profile")
			}
			e.bind(ent)
			res.Updated++
			continue
		}

		e.log.Info().Str("name", p.Name).Str("identity", identity).Msg("adding new profile")
		ent := e.reg.Create(naming.ForProfile(p.PK, p.Name, ""), identity)
		ent.SetProfile(p)
		e.bind(ent)
		if err := e.reg.Register(ctx, ent); err != nil {
			e.log.Error().Err(err).Str("identity", identity).Msg("failed to register profile")
		}
		res.Created++
	}

	for _, ent := range e.reg.All() {
		if _, ok := seen[ent.ProfileID()]; ok {
			continue
		}
		e.log.Info().Str("name", ent.Name()).Str("identity", ent.Identity).Msg("removing profile no longer in account")
		if err := e.reg.Unregister(ctx, ent); err != nil {
			e.log.Error().Err(err).Str("identity", ent.Identity).Msg("failed to unregister profile")
		}
		e.mu.Lock()
		delete(e.controllers, ent.Identity)
		e.mu.Unlock()
		res.Removed++
	}

	e.mu.Lock()
	e.discovered = discovered
	e.mu.Unlock()

	e.metrics.AddReconcileChanges(res.Created, res.Updated, res.Removed)
	e.metrics.SetExposedEntities(len(e.reg.All()))
	e.log.Info().Int("created", res.Created).Int("updated", res.Updated).Int("removed", res.Removed).Msg("reconciliation complete")
	return res
}

// Discovered returns the profile ids seen in the latest reconciliation.
func (e *Engine) Discovered() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.discovered...)
}

// Controller returns the tracked controller for an identity.
func (e *Engine) Controller(identity string) (*Controller, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.controllers[identity]
	return c, ok
}

func (e *Engine) bind(ent *registry.Entity) *Controller {
	c := NewController(e.log, e.svc, ent, e.metrics)
	e.mu.Lock()
	e.controllers[ent.Identity] = c
	e.mu.Unlock()
	return c
}

// controllerFor returns the tracked controller, binding one if the entity
// has none yet.
func (e *Engine) controllerFor(ent *registry.Entity) *Controller {
	if c, ok := e.Controller(ent.Identity); ok {
		return c
	}
	return e.bind(ent)
}
