package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"controld_bridge/core-go/internal/controld"
	"controld_bridge/core-go/internal/sqlcgen"
)

var ErrNotFound = errors.New("registry: entity not registered")

// Registry is the host-side store of exposed entities.
type Registry interface {
	Create(name, identity string) *Entity
	Update(ctx context.Context, e *Entity) error
	Register(ctx context.Context, e *Entity) error
	Unregister(ctx context.Context, e *Entity) error
	Lookup(identity string) (*Entity, bool)
	All() []*Entity
}

// Store persists the entity cache across restarts.
//
// NOTE: *sqlcgen.Queries satisfies this.
type Store interface {
	ListExposedEntities(ctx context.Context) ([]sqlcgen.ExposedEntity, error)
	UpsertExposedEntity(ctx context.Context, arg sqlcgen.UpsertExposedEntityParams) error
	DeleteExposedEntity(ctx context.Context, identity string) (int64, error)
}

// Observer is notified of entity lifecycle and state changes.
type Observer interface {
	EntityRegistered(e *Entity)
	EntityUpdated(e *Entity)
	EntityUnregistered(e *Entity)
	EntityStateChanged(e *Entity, on bool)
}

// Host is the in-process Registry. The store is optional; without it the
// cache lives only in memory.
type Host struct {
	log   zerolog.Logger
	store Store

	mu        sync.RWMutex
	entities  map[string]*Entity
	observers []Observer
}

var _ Registry = (*Host)(nil)

func NewHost(log zerolog.Logger, store Store) *Host {
	return &Host{
		log:      log.With().Str("component", "registry").Logger(),
		store:    store,
		entities: make(map[string]*Entity),
	}
}

// AddObserver subscribes o to entity events. Call before Restore.
func (h *Host) AddObserver(o Observer) {
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
}

// Restore loads the persisted cache. Restored entities are tracked but have
// no handler until the next reconciliation binds one.
func (h *Host) Restore(ctx context.Context) error {
	if h.store == nil {
		return nil
	}
	rows, err := h.store.ListExposedEntities(ctx)
	if err != nil {
		return fmt.Errorf("loading exposed entities: %w", err)
	}

	for _, row := range rows {
		e := h.Create(row.DisplayName, row.Identity)
		var p controld.Profile
		if len(row.Context) > 0 {
			if err := json.Unmarshal(row.Context, &p); err != nil {
				h.log.Warn().Err(err).Str("identity", row.Identity).Msg("discarding unreadable cached profile")
			}
		}
		if p.PK == "" {
			p.PK = row.ProfileID
		}
		if p.Name == "" {
			p.Name = row.DisplayName
		}
		e.profile = p
		e.on = p.FilteringEnabled
		e.info.SerialNumber = p.PK

		h.mu.Lock()
		h.entities[e.Identity] = e
		h.mu.Unlock()
		h.log.Info().Str("identity", e.Identity).Str("name", row.DisplayName).Msg("loading entity from cache")
	}
	return nil
}

// Create builds a new, not yet registered entity.
func (h *Host) Create(name, identity string) *Entity {
	return &Entity{
		Identity: identity,
		name:     name,
		info: Info{
			Manufacturer: "Control D",
			Model:        "DNS Profile",
		},
		onChange: h.stateChanged,
	}
}

// Register publishes e and starts tracking it.
func (h *Host) Register(ctx context.Context, e *Entity) error {
	h.mu.Lock()
	h.entities[e.Identity] = e
	h.mu.Unlock()

	err := h.persist(ctx, e)
	for _, o := range h.snapshotObservers() {
		o.EntityRegistered(e)
	}
	return err
}

// Update refreshes the metadata of a registered entity.
func (h *Host) Update(ctx context.Context, e *Entity) error {
	if _, ok := h.Lookup(e.Identity); !ok {
		return fmt.Errorf("update %s: %w", e.Identity, ErrNotFound)
	}
	err := h.persist(ctx, e)
	for _, o := range h.snapshotObservers() {
		o.EntityUpdated(e)
	}
	return err
}

// Unregister retracts e and stops tracking it.
func (h *Host) Unregister(ctx context.Context, e *Entity) error {
	h.mu.Lock()
	_, ok := h.entities[e.Identity]
	delete(h.entities, e.Identity)
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("unregister %s: %w", e.Identity, ErrNotFound)
	}

	var err error
	if h.store != nil {
		if _, derr := h.store.DeleteExposedEntity(ctx, e.Identity); derr != nil {
			err = fmt.Errorf("deleting cached entity %s: %w", e.Identity, derr)
		}
	}
	for _, o := range h.snapshotObservers() {
		o.EntityUnregistered(e)
	}
	return err
}

func (h *Host) Lookup(identity string) (*Entity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entities[identity]
	return e, ok
}

// All returns the registered entities ordered by name, then identity.
func (h *Host) All() []*Entity {
	h.mu.RLock()
	out := make([]*Entity, 0, len(h.entities))
	for _, e := range h.entities {
		out = append(out, e)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].Name(), out[j].Name()
		if ni != nj {
			return ni < nj
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

func (h *Host) persist(ctx context.Context, e *Entity) error {
	if h.store == nil {
		return nil
	}
	p := e.Profile()
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding profile for %s: %w", e.Identity, err)
	}
	if err := h.store.UpsertExposedEntity(ctx, sqlcgen.UpsertExposedEntityParams{
		Identity:    e.Identity,
		ProfileID:   p.PK,
		DisplayName: e.Name(),
		Context:     b,
	}); err != nil {
		return fmt.Errorf("persisting entity %s: %w", e.Identity, err)
	}
	return nil
}

// stateChanged only reaches observers for tracked entities; Register
// publishes the current state itself.
func (h *Host) stateChanged(e *Entity, on bool) {
	h.mu.RLock()
	tracked := h.entities[e.Identity] == e
	h.mu.RUnlock()
	if !tracked {
		return
	}
	for _, o := range h.snapshotObservers() {
		o.EntityStateChanged(e, on)
	}
}

func (h *Host) snapshotObservers() []Observer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Observer(nil), h.observers...)
}
