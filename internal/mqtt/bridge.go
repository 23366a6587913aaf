package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"controld_bridge/core-go/internal/registry"
)

// Conn is the part of Client used by Bridge.
type Conn interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler MessageHandler) error
}

// EntitySource resolves entities for incoming commands.
type EntitySource interface {
	Lookup(identity string) (*registry.Entity, bool)
	All() []*registry.Entity
}

const (
	stateOn  = "ON"
	stateOff = "OFF"
)

// Bridge mirrors the exposed entities onto MQTT and routes set commands to
// their handlers. It is a registry.Observer.
type Bridge struct {
	log      zerolog.Logger
	conn     Conn
	entities EntitySource
	topics   Topics
	ctx      context.Context
}

var _ registry.Observer = (*Bridge)(nil)

func NewBridge(log zerolog.Logger, conn Conn, entities EntitySource, topics Topics) *Bridge {
	return &Bridge{
		log:      log.With().Str("component", "mqtt_bridge").Logger(),
		conn:     conn,
		entities: entities,
		topics:   topics,
		ctx:      context.Background(),
	}
}

// Start subscribes to the command topics. Commands run with ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx = ctx
	if err := b.conn.Subscribe(b.topics.AllSet(), b.handleCommand); err != nil {
		return fmt.Errorf("subscribing to commands: %w", err)
	}
	return nil
}

// PublishAll republishes config and state for every entity, e.g. after a
// reconnect.
func (b *Bridge) PublishAll() {
	for _, e := range b.entities.All() {
		b.publishConfig(e)
		b.publishState(e, e.On())
	}
}

type entityConfig struct {
	Identity     string `json:"identity"`
	Name         string `json:"name"`
	ProfileID    string `json:"profile_id"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
	StateTopic   string `json:"state_topic"`
	CommandTopic string `json:"command_topic"`
}

func (b *Bridge) configPayload(e *registry.Entity) ([]byte, error) {
	info := e.Info()
	return json.Marshal(entityConfig{
		Identity:     e.Identity,
		Name:         e.Name(),
		ProfileID:    e.ProfileID(),
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		SerialNumber: info.SerialNumber,
		StateTopic:   b.topics.State(e.Identity),
		CommandTopic: b.topics.Set(e.Identity),
	})
}

func (b *Bridge) EntityRegistered(e *registry.Entity) {
	b.publishConfig(e)
	b.publishState(e, e.On())
}

func (b *Bridge) EntityUpdated(e *registry.Entity) {
	b.publishConfig(e)
}

// EntityUnregistered clears the retained config and state.
func (b *Bridge) EntityUnregistered(e *registry.Entity) {
	b.publish(b.topics.Config(e.Identity), nil)
	b.publish(b.topics.State(e.Identity), nil)
}

func (b *Bridge) EntityStateChanged(e *registry.Entity, on bool) {
	b.publishState(e, on)
}

func (b *Bridge) publishConfig(e *registry.Entity) {
	payload, err := b.configPayload(e)
	if err != nil {
		b.log.Error().Err(err).Str("identity", e.Identity).Msg("encoding entity config failed")
		return
	}
	b.publish(b.topics.Config(e.Identity), payload)
}

func (b *Bridge) publishState(e *registry.Entity, on bool) {
	b.publish(b.topics.State(e.Identity), []byte(formatState(on)))
}

func (b *Bridge) publish(topic string, payload []byte) {
	if err := b.conn.Publish(topic, payload, true); err != nil {
		b.log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte) error {
	identity, ok := b.topics.IdentityFromSet(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	on, err := parseState(payload)
	if err != nil {
		return err
	}

	e, ok := b.entities.Lookup(identity)
	if !ok {
		b.log.Debug().Str("identity", identity).Msg("command for unknown entity ignored")
		return nil
	}
	h := e.Handler()
	if h == nil {
		b.log.Warn().Str("identity", identity).Msg("command for entity without controller ignored")
		return nil
	}

	if err := h.Set(b.ctx, on); err != nil {
		// Let subscribers snap back to the unchanged value.
		b.publishState(e, e.On())
		return fmt.Errorf("set %s: %w", identity, err)
	}
	return nil
}

func formatState(on bool) string {
	if on {
		return stateOn
	}
	return stateOff
}

func parseState(payload []byte) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
}
