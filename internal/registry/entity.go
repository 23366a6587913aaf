package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"controld_bridge/core-go/internal/controld"
)

// identityNamespace scopes the name-based UUIDs derived from profile ids.
// Changing it would orphan every persisted entity.
var identityNamespace = uuid.MustParse("3f1c7a52-9d84-5b0e-a6c2-7d15e0b94c38")

// IdentityFor derives the stable entity identity for a Control D profile id.
func IdentityFor(profileID string) string {
	return uuid.NewSHA1(identityNamespace, []byte(profileID)).String()
}

// Handler is the on/off control surface bound to an entity.
type Handler interface {
	Get() bool
	Set(ctx context.Context, on bool) error
}

// Info is the descriptive metadata shown for an entity.
type Info struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
}

// Entity is one exposed switch. Its context slot holds the last known
// profile snapshot.
type Entity struct {
	Identity string

	mu      sync.RWMutex
	name    string
	info    Info
	profile controld.Profile
	on      bool
	handler Handler

	onChange func(e *Entity, on bool)
}

func (e *Entity) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

func (e *Entity) SetName(name string) {
	e.mu.Lock()
	e.name = name
	e.mu.Unlock()
}

func (e *Entity) Info() Info {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.info
}

func (e *Entity) SetInfo(info Info) {
	e.mu.Lock()
	e.info = info
	e.mu.Unlock()
}

// Profile returns a copy of the context snapshot.
func (e *Entity) Profile() controld.Profile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile.Clone()
}

// SetProfile overwrites the context snapshot.
func (e *Entity) SetProfile(p controld.Profile) {
	e.mu.Lock()
	e.profile = p.Clone()
	e.mu.Unlock()
}

// MutateProfile edits the context snapshot in place.
func (e *Entity) MutateProfile(fn func(p *controld.Profile)) {
	e.mu.Lock()
	fn(&e.profile)
	e.mu.Unlock()
}

// ProfileID is the Control D id stored in the context snapshot.
func (e *Entity) ProfileID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.profile.PK
}

// On is the value currently displayed by the control surface.
func (e *Entity) On() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.on
}

// SetOn updates the displayed value and notifies registry observers.
func (e *Entity) SetOn(on bool) {
	e.mu.Lock()
	e.on = on
	notify := e.onChange
	e.mu.Unlock()

	if notify != nil {
		notify(e, on)
	}
}

// Bind attaches the control handler, replacing any previous one.
func (e *Entity) Bind(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// Handler returns the bound handler, or nil before the first bind.
func (e *Entity) Handler() Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.handler
}
