package profilesync

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"controld_bridge/core-go/internal/controld"
	"controld_bridge/core-go/internal/registry"
)

type stateRecorder struct {
	states []bool
}

func (r *stateRecorder) EntityRegistered(*registry.Entity)   {}
func (r *stateRecorder) EntityUpdated(*registry.Entity)      {}
func (r *stateRecorder) EntityUnregistered(*registry.Entity) {}
func (r *stateRecorder) EntityStateChanged(_ *registry.Entity, on bool) {
	r.states = append(r.states, on)
}

func newBoundEntity(t *testing.T, svc Toggler, p controld.Profile) (*Controller, *registry.Entity, *stateRecorder) {
	t.Helper()
	host := registry.NewHost(zerolog.Nop(), nil)
	rec := &stateRecorder{}
	host.AddObserver(rec)
	ent := host.Create(p.Name, registry.IdentityFor(p.PK))
	ent.SetProfile(p)
	if err := host.Register(context.Background(), ent); err != nil {
		t.Fatalf("register: %v", err)
	}
	return NewController(zerolog.Nop(), svc, ent, nil), ent, rec
}

func TestController_BindPushesStatus(t *testing.T) {
	svc := &fakeService{}
	c, ent, rec := newBoundEntity(t, svc, controld.Profile{PK: "p1", Name: "Kids", FilteringEnabled: true})

	if ent.Handler() != registry.Handler(c) {
		t.Fatalf("controller not bound to entity")
	}
	if len(rec.states) != 1 || !rec.states[0] || !ent.On() {
		t.Fatalf("expected initial status push, got %v", rec.states)
	}
	if info := ent.Info(); info.SerialNumber != "p1" || info.Model != "DNS Profile" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestController_GetUsesCacheOnly(t *testing.T) {
	svc := &fakeService{}
	c, _, _ := newBoundEntity(t, svc, controld.Profile{PK: "p1", FilteringEnabled: false})

	if c.Get() {
		t.Fatalf("expected cached false")
	}
	if v, l, s := svc.counts(); v+l+s != 0 {
		t.Fatalf("Get must not call the service")
	}
}

func TestController_SetSuccess(t *testing.T) {
	var gotID string
	var gotEnabled bool
	svc := &fakeService{
		setFn: func(ctx context.Context, profileID string, enabled bool) bool {
			gotID, gotEnabled = profileID, enabled
			return true
		},
	}
	c, ent, rec := newBoundEntity(t, svc, controld.Profile{
		PK:               "p1",
		DisableTTL:       ttlPtr(4102444800),
		Settings:         &controld.ProfileSettings{DA: &controld.DisableAuto{Status: 0}},
		FilteringEnabled: false,
	})

	if err := c.Set(context.Background(), true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if gotID != "p1" || !gotEnabled {
		t.Fatalf("unexpected toggle call id=%s enabled=%v", gotID, gotEnabled)
	}
	p := ent.Profile()
	if !p.FilteringEnabled || p.Settings.DA.Status != 1 {
		t.Fatalf("cache not updated: %+v", p)
	}
	if !c.Get() || !ent.On() {
		t.Fatalf("expected displayed value on")
	}
	if len(rec.states) != 2 || !rec.states[1] {
		t.Fatalf("expected status push after toggle, got %v", rec.states)
	}

	if err := c.Set(context.Background(), false); err != nil {
		t.Fatalf("Set(false): %v", err)
	}
	if p := ent.Profile(); p.FilteringEnabled || p.Settings.DA.Status != 0 {
		t.Fatalf("cache not updated on disable: %+v", p)
	}
}

func TestController_SetWithoutRawStatus(t *testing.T) {
	c, ent, _ := newBoundEntity(t, &fakeService{}, controld.Profile{PK: "p1"})
	if err := c.Set(context.Background(), true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ent.Profile().Settings != nil {
		t.Fatalf("settings should stay absent")
	}
}

func TestController_SetFailure(t *testing.T) {
	svc := &fakeService{
		setFn: func(ctx context.Context, profileID string, enabled bool) bool { return false },
	}
	c, ent, rec := newBoundEntity(t, svc, controld.Profile{PK: "p1", FilteringEnabled: true})

	err := c.Set(context.Background(), false)
	if !errors.Is(err, ErrCommunicationFailure) {
		t.Fatalf("expected ErrCommunicationFailure, got %v", err)
	}
	if !ent.Profile().FilteringEnabled || !ent.On() {
		t.Fatalf("cache must not change on failure")
	}
	if len(rec.states) != 1 {
		t.Fatalf("no status push expected on failure, got %v", rec.states)
	}
}
