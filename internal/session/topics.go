package session

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of the LumiBot topic hierarchy.
const TopicPrefix = "lumibot"

// deviceIDLength is the length of a canonical device id.
const deviceIDLength = 4

// TopicTuple holds the two inbound topics the session subscribes to for
// one device.
type TopicTuple struct {
	// State carries free-form JSON attribute payloads. QoS 0.
	State string

	// Availability carries the broker-retained Last-Will body,
	// "online" or "offline". QoS 1 so retained messages are delivered.
	Availability string
}

// NormalizeDeviceID converts a raw device id to canonical form: strip
// every non-hexadecimal character, uppercase, and require exactly four
// characters. Returns ErrInvalidDeviceID otherwise.
//
// Every outbound topic and every state-cache key is derived from the
// canonical form, never from raw input.
func NormalizeDeviceID(raw string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	id := b.String()
	if len(id) != deviceIDLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidDeviceID, raw)
	}
	return id, nil
}

// TopicsFor returns the inbound topic tuple for a canonical device id.
func TopicsFor(id string) TopicTuple {
	return TopicTuple{
		State:        fmt.Sprintf("%s/%s/state", TopicPrefix, id),
		Availability: fmt.Sprintf("%s/%s/availability", TopicPrefix, id),
	}
}

// SetTopic returns the outbound control topic for a canonical device id.
//
// Example: lumibot/A1B2/set
func SetTopic(id string) string {
	return fmt.Sprintf("%s/%s/set", TopicPrefix, id)
}

// ConfigSetTopic returns the outbound configuration topic for a
// canonical device id.
//
// Example: lumibot/A1B2/config/set
func ConfigSetTopic(id string) string {
	return fmt.Sprintf("%s/%s/config/set", TopicPrefix, id)
}

// DiscoveryWildcard returns the pattern matching all LumiBot topics.
// Subscribed once per session so no device frame is lost while the
// per-device subscribes are still settling.
//
// Pattern: lumibot/#
func DiscoveryWildcard() string {
	return TopicPrefix + "/#"
}

// inboundKind identifies which of the two per-device topics a frame
// arrived on.
type inboundKind int

const (
	kindState inboundKind = iota
	kindAvailability
)

// parseInbound matches a topic against lumibot/<HEX>/(state|availability),
// case-insensitively, and returns the canonical device id. Non-matching
// topics return ok=false and are ignored without error.
func parseInbound(topic string) (id string, kind inboundKind, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 {
		return "", 0, false
	}
	if !strings.EqualFold(parts[0], TopicPrefix) {
		return "", 0, false
	}

	id, err := NormalizeDeviceID(parts[1])
	if err != nil || len(parts[1]) != deviceIDLength {
		return "", 0, false
	}

	switch strings.ToLower(parts[2]) {
	case "state":
		return id, kindState, true
	case "availability":
		return id, kindAvailability, true
	default:
		return "", 0, false
	}
}
