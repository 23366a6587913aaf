package profilesync

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"controld_bridge/core-go/internal/controld"
	"controld_bridge/core-go/internal/registry"
)

type fakeService struct {
	mu            sync.Mutex
	validateFn    func(ctx context.Context) bool
	listFn        func(ctx context.Context) []controld.Profile
	setFn         func(ctx context.Context, profileID string, enabled bool) bool
	validateCalls int
	listCalls     int
	setCalls      int
}

func (f *fakeService) ValidateToken(ctx context.Context) bool {
	f.mu.Lock()
	f.validateCalls++
	f.mu.Unlock()
	if f.validateFn == nil {
		return true
	}
	return f.validateFn(ctx)
}

func (f *fakeService) ListProfiles(ctx context.Context) []controld.Profile {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	if f.listFn == nil {
		return []controld.Profile{}
	}
	return f.listFn(ctx)
}

func (f *fakeService) SetFilteringEnabled(ctx context.Context, profileID string, enabled bool) bool {
	f.mu.Lock()
	f.setCalls++
	f.mu.Unlock()
	if f.setFn == nil {
		return true
	}
	return f.setFn(ctx, profileID, enabled)
}

func (f *fakeService) counts() (validate, list, set int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateCalls, f.listCalls, f.setCalls
}

// fakeRegistry counts calls and keeps entities in a map.
type fakeRegistry struct {
	mu       sync.Mutex
	factory  *registry.Host
	entities map[string]*registry.Entity

	creates, updates, registers, unregisters int

	updateErr, registerErr, unregisterErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		factory:  registry.NewHost(zerolog.Nop(), nil),
		entities: make(map[string]*registry.Entity),
	}
}

// seed adds an already-registered entity for p without counting.
func (f *fakeRegistry) seed(p controld.Profile) *registry.Entity {
	e := f.factory.Create(p.Name, registry.IdentityFor(p.PK))
	e.SetProfile(p)
	f.entities[e.Identity] = e
	return e
}

func (f *fakeRegistry) Create(name, identity string) *registry.Entity {
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()
	return f.factory.Create(name, identity)
}

func (f *fakeRegistry) Update(ctx context.Context, e *registry.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return f.updateErr
}

func (f *fakeRegistry) Register(ctx context.Context, e *registry.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	f.entities[e.Identity] = e
	return f.registerErr
}

func (f *fakeRegistry) Unregister(ctx context.Context, e *registry.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisters++
	delete(f.entities, e.Identity)
	return f.unregisterErr
}

func (f *fakeRegistry) Lookup(identity string) (*registry.Entity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[identity]
	return e, ok
}

func (f *fakeRegistry) All() []*registry.Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*registry.Entity, 0, len(f.entities))
	for _, e := range f.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

func ttlPtr(v int64) *int64 { return &v }

func validEngine(svc ProfileService, reg registry.Registry) *Engine {
	gate := &Gate{}
	gate.resolve(true)
	return NewEngine(zerolog.Nop(), svc, reg, gate, nil)
}
