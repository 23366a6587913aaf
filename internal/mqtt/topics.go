package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when Topics.Prefix is empty.
const DefaultTopicPrefix = "controld"

// Topics builds the bridge topic tree:
//
//	<prefix>/bridge/status       online/offline (retained, LWT)
//	<prefix>/<identity>/config   entity description (retained)
//	<prefix>/<identity>/state    ON or OFF (retained)
//	<prefix>/<identity>/set      commands
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	p := strings.Trim(strings.TrimSpace(t.Prefix), "/")
	if p == "" {
		return DefaultTopicPrefix
	}
	return p
}

func (t Topics) Status() string {
	return t.prefix() + "/bridge/status"
}

func (t Topics) Config(identity string) string {
	return fmt.Sprintf("%s/%s/config", t.prefix(), identity)
}

func (t Topics) State(identity string) string {
	return fmt.Sprintf("%s/%s/state", t.prefix(), identity)
}

func (t Topics) Set(identity string) string {
	return fmt.Sprintf("%s/%s/set", t.prefix(), identity)
}

// AllSet matches the command topic of every entity.
func (t Topics) AllSet() string {
	return t.prefix() + "/+/set"
}

// IdentityFromSet extracts the entity identity from a command topic.
func (t Topics) IdentityFromSet(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	if !ok {
		return "", false
	}
	identity, ok := strings.CutSuffix(rest, "/set")
	if !ok || identity == "" || strings.Contains(identity, "/") {
		return "", false
	}
	return identity, true
}
