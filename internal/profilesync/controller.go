package profilesync

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"controld_bridge/core-go/internal/controld"
	"controld_bridge/core-go/internal/metrics"
	"controld_bridge/core-go/internal/registry"
)

// ErrCommunicationFailure is returned by Controller.Set when Control D did
// not accept the toggle. Control surfaces report it to their caller.
var ErrCommunicationFailure = errors.New("profilesync: service communication failure")

// Toggler is the write side of the Control D client.
type Toggler interface {
	SetFilteringEnabled(ctx context.Context, profileID string, enabled bool) bool
}

// Controller bridges one entity's on/off surface to Control D.
type Controller struct {
	log     zerolog.Logger
	svc     Toggler
	entity  *registry.Entity
	metrics *metrics.Metrics
}

var _ registry.Handler = (*Controller)(nil)

// NewController binds a controller to ent, replacing any previous handler,
// and pushes the cached status to the surface.
func NewController(log zerolog.Logger, svc Toggler, ent *registry.Entity, m *metrics.Metrics) *Controller {
	p := ent.Profile()
	c := &Controller{
		log:     log.With().Str("profile_id", p.PK).Str("identity", ent.Identity).Logger(),
		svc:     svc,
		entity:  ent,
		metrics: m,
	}
	ent.SetInfo(registry.Info{
		Manufacturer: "Control D",
		Model:        "DNS Profile",
		SerialNumber: p.PK,
	})
	ent.Bind(c)
	c.PushStatus()
	return c
}

// Get returns the cached filtering state without any I/O.
func (c *Controller) Get() bool {
	return c.entity.Profile().FilteringEnabled
}

// Set asks Control D to enable or disable filtering for the profile.
func (c *Controller) Set(ctx context.Context, on bool) error {
	p := c.entity.Profile()
	c.log.Debug().Bool("enabled", on).Str("name", p.Name).Msg("setting profile filtering")

	if !c.svc.SetFilteringEnabled(ctx, p.PK, on) {
		c.metrics.IncToggle("failed")
		c.log.Error().Bool("enabled", on).Str("name", p.Name).Msg("failed to change filtering for profile")
		return fmt.Errorf("%w: profile %s", ErrCommunicationFailure, p.PK)
	}

	c.entity.MutateProfile(func(p *controld.Profile) {
		p.FilteringEnabled = on
		if p.Settings != nil && p.Settings.DA != nil {
			p.Settings.DA.Status = 0
			if on {
				p.Settings.DA.Status = 1
			}
		}
	})
	c.metrics.IncToggle("ok")
	c.log.Info().Bool("enabled", on).Str("name", p.Name).Msg("filtering changed for profile")
	c.PushStatus()
	return nil
}

// PushStatus writes the cached filtering state to the displayed value.
func (c *Controller) PushStatus() {
	c.entity.SetOn(c.Get())
}
