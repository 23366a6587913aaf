package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"controld_bridge/core-go/internal/controld"
	"controld_bridge/core-go/internal/sqlcgen"
)

type fakeStore struct {
	listFn   func(ctx context.Context) ([]sqlcgen.ExposedEntity, error)
	upsertFn func(ctx context.Context, arg sqlcgen.UpsertExposedEntityParams) error
	deleteFn func(ctx context.Context, identity string) (int64, error)
}

func (f *fakeStore) ListExposedEntities(ctx context.Context) ([]sqlcgen.ExposedEntity, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx)
}

func (f *fakeStore) UpsertExposedEntity(ctx context.Context, arg sqlcgen.UpsertExposedEntityParams) error {
	if f.upsertFn == nil {
		return nil
	}
	return f.upsertFn(ctx, arg)
}

func (f *fakeStore) DeleteExposedEntity(ctx context.Context, identity string) (int64, error) {
	if f.deleteFn == nil {
		return 1, nil
	}
	return f.deleteFn(ctx, identity)
}

type recordingObserver struct {
	registered   []string
	updated      []string
	unregistered []string
	states       []bool
}

func (r *recordingObserver) EntityRegistered(e *Entity) {
	r.registered = append(r.registered, e.Identity)
}
func (r *recordingObserver) EntityUpdated(e *Entity) { r.updated = append(r.updated, e.Identity) }
func (r *recordingObserver) EntityUnregistered(e *Entity) {
	r.unregistered = append(r.unregistered, e.Identity)
}
func (r *recordingObserver) EntityStateChanged(_ *Entity, on bool) {
	r.states = append(r.states, on)
}

func TestIdentityFor(t *testing.T) {
	a1 := IdentityFor("abc")
	a2 := IdentityFor("abc")
	b := IdentityFor("abd")

	if a1 != a2 {
		t.Fatalf("identity is not deterministic: %s vs %s", a1, a2)
	}
	if a1 == b {
		t.Fatalf("distinct profile ids produced the same identity")
	}
	u, err := uuid.Parse(a1)
	if err != nil {
		t.Fatalf("identity is not a UUID: %v", err)
	}
	if u.Version() != 5 {
		t.Fatalf("expected a name-based SHA-1 UUID, got version %d", u.Version())
	}
}

func TestHost_Lifecycle(t *testing.T) {
	var upserts []sqlcgen.UpsertExposedEntityParams
	var deletes []string
	store := &fakeStore{
		upsertFn: func(ctx context.Context, arg sqlcgen.UpsertExposedEntityParams) error {
			upserts = append(upserts, arg)
			return nil
		},
		deleteFn: func(ctx context.Context, identity string) (int64, error) {
			deletes = append(deletes, identity)
			return 1, nil
		},
	}
	obs := &recordingObserver{}
	h := NewHost(zerolog.New(io.Discard), store)
	h.AddObserver(obs)
	ctx := context.Background()

	e := h.Create("Kids", IdentityFor("p1"))
	e.SetProfile(controld.Profile{PK: "p1", Name: "Kids", FilteringEnabled: true})
	if _, ok := h.Lookup(e.Identity); ok {
		t.Fatalf("created entity must not be tracked before Register")
	}

	if err := h.Register(ctx, e); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got, ok := h.Lookup(e.Identity); !ok || got != e {
		t.Fatalf("expected entity to be tracked after Register")
	}
	if err := h.Update(ctx, e); err != nil {
		t.Fatalf("Update: %v", err)
	}
	e.SetOn(true)

	if len(upserts) != 2 || upserts[0].ProfileID != "p1" || upserts[0].DisplayName != "Kids" {
		t.Fatalf("unexpected upserts %+v", upserts)
	}
	var cached controld.Profile
	if err := json.Unmarshal(upserts[0].Context, &cached); err != nil || cached.PK != "p1" || !cached.FilteringEnabled {
		t.Fatalf("expected profile snapshot in context, got %s (%v)", upserts[0].Context, err)
	}

	if err := h.Unregister(ctx, e); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if _, ok := h.Lookup(e.Identity); ok {
		t.Fatalf("entity still tracked after Unregister")
	}
	if len(deletes) != 1 || deletes[0] != e.Identity {
		t.Fatalf("unexpected deletes %v", deletes)
	}

	if len(obs.registered) != 1 || len(obs.updated) != 1 || len(obs.unregistered) != 1 {
		t.Fatalf("unexpected observer calls %+v", obs)
	}
	if len(obs.states) != 1 || !obs.states[0] {
		t.Fatalf("expected one state change to on, got %v", obs.states)
	}
}

func TestHost_UpdateAndUnregisterUnknown(t *testing.T) {
	h := NewHost(zerolog.New(io.Discard), nil)
	e := h.Create("ghost", "id-1")

	if err := h.Update(context.Background(), e); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Update, got %v", err)
	}
	if err := h.Unregister(context.Background(), e); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Unregister, got %v", err)
	}
}

func TestHost_PersistErrorIsReturnedButEntityTracked(t *testing.T) {
	store := &fakeStore{
		upsertFn: func(ctx context.Context, arg sqlcgen.UpsertExposedEntityParams) error {
			return errors.New("db down")
		},
	}
	h := NewHost(zerolog.New(io.Discard), store)
	e := h.Create("Kids", "id-1")

	if err := h.Register(context.Background(), e); err == nil {
		t.Fatalf("expected persist error")
	}
	if _, ok := h.Lookup("id-1"); !ok {
		t.Fatalf("entity should still be tracked in memory")
	}
}

func TestHost_Restore(t *testing.T) {
	ttl := int64(4102444800)
	cached, _ := json.Marshal(controld.Profile{PK: "p2", Name: "Work", DisableTTL: &ttl, FilteringEnabled: false})
	store := &fakeStore{
		listFn: func(ctx context.Context) ([]sqlcgen.ExposedEntity, error) {
			return []sqlcgen.ExposedEntity{
				{Identity: IdentityFor("p2"), ProfileID: "p2", DisplayName: "Work", Context: cached},
				{Identity: IdentityFor("p1"), ProfileID: "p1", DisplayName: "Kids", Context: []byte(`not json`)},
			}, nil
		},
	}
	h := NewHost(zerolog.New(io.Discard), store)

	if err := h.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	all := h.All()
	if len(all) != 2 || all[0].Name() != "Kids" || all[1].Name() != "Work" {
		t.Fatalf("unexpected restored entities")
	}
	work := all[1]
	if work.ProfileID() != "p2" || work.On() || work.Handler() != nil {
		t.Fatalf("unexpected restored state: id=%s on=%v", work.ProfileID(), work.On())
	}
	if all[0].ProfileID() != "p1" {
		t.Fatalf("expected profile id to fall back to the stored column")
	}
	if work.Info().SerialNumber != "p2" || work.Info().Manufacturer != "Control D" {
		t.Fatalf("unexpected info %+v", work.Info())
	}
}

func TestHost_RestoreError(t *testing.T) {
	store := &fakeStore{
		listFn: func(ctx context.Context) ([]sqlcgen.ExposedEntity, error) {
			return nil, errors.New("boom")
		},
	}
	h := NewHost(zerolog.New(io.Discard), store)
	if err := h.Restore(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEntity_ProfileIsCopied(t *testing.T) {
	h := NewHost(zerolog.New(io.Discard), nil)
	e := h.Create("Kids", "id")
	ttl := int64(10)
	e.SetProfile(controld.Profile{PK: "p1", DisableTTL: &ttl})

	p := e.Profile()
	*p.DisableTTL = 99
	if got := e.Profile(); *got.DisableTTL != 10 {
		t.Fatalf("snapshot was mutated through a copy")
	}

	e.MutateProfile(func(p *controld.Profile) { p.FilteringEnabled = true })
	if !e.Profile().FilteringEnabled {
		t.Fatalf("MutateProfile did not apply")
	}
}

func TestHost_StateChangesOnlyForTrackedEntities(t *testing.T) {
	obs := &recordingObserver{}
	h := NewHost(zerolog.New(io.Discard), nil)
	h.AddObserver(obs)
	ctx := context.Background()

	e := h.Create("Kids", IdentityFor("p1"))
	e.SetOn(true)
	if len(obs.states) != 0 {
		t.Fatalf("state change before Register must not reach observers, got %v", obs.states)
	}

	if err := h.Register(ctx, e); err != nil {
		t.Fatalf("Register: %v", err)
	}
	e.SetOn(false)
	if err := h.Unregister(ctx, e); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	e.SetOn(true)

	if len(obs.states) != 1 || obs.states[0] {
		t.Fatalf("expected only the tracked change to off, got %v", obs.states)
	}
}
