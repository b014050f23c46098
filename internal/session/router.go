package session

import (
	"encoding/json"
	"strings"
	"time"
)

// availabilityOffline is the only payload that marks a device
// unreachable. Anything else on the availability topic, and any state
// frame at all, marks it reachable.
const availabilityOffline = "offline"

// handleInbound routes one inbound frame. It is installed as the
// transport's single message handler so overlapping wildcard and
// per-device subscriptions cannot deliver the same frame twice.
//
// State frames merge their attributes into the cache; a frame that
// fails to parse is logged and skipped but still proves the device is
// transmitting, so reachability is updated regardless. Availability
// frames only ever touch the reachability flag.
func (s *Session) handleInbound(topic string, payload []byte) {
	s.mu.Lock()
	s.lastMessage = time.Now()
	s.mu.Unlock()

	id, kind, ok := parseInbound(topic)
	if !ok {
		s.log.Debug("ignoring frame on unrecognised topic", "topic", topic)
		return
	}

	switch kind {
	case kindState:
		s.handleStateFrame(id, topic, payload)
	case kindAvailability:
		s.handleAvailabilityFrame(id, topic, payload)
	}
}

func (s *Session) handleStateFrame(id, topic string, payload []byte) {
	var attrs map[string]any
	if err := json.Unmarshal(payload, &attrs); err != nil {
		s.log.Warn("undecodable state payload", "device_id", id, "error", err)
		attrs = nil
	}

	s.mu.Lock()
	state, ok := s.cache[id]
	if !ok {
		state = newDeviceState()
		s.cache[id] = state
	}
	for k, v := range attrs {
		state[k] = v
	}
	// A device that transmits is reachable, whatever the payload said.
	state[OnlineKey] = true
	snapshot := state.clone()
	s.mu.Unlock()

	s.events.emitStateUpdate(id, snapshot)
	s.events.emitMessage(topic, payload)
}

func (s *Session) handleAvailabilityFrame(id, topic string, payload []byte) {
	online := !strings.EqualFold(strings.TrimSpace(string(payload)), availabilityOffline)

	s.mu.Lock()
	state, ok := s.cache[id]
	if !ok {
		state = newDeviceState()
		s.cache[id] = state
	}
	changed := state[OnlineKey] != online
	state[OnlineKey] = online
	snapshot := state.clone()
	s.mu.Unlock()

	if changed {
		s.log.Info("device availability changed", "device_id", id, "online", online)
	}
	// Observers hear about every merge, including retained-availability
	// refreshes that leave the reachability flag unchanged.
	s.events.emitStateUpdate(id, snapshot)
	s.events.emitMessage(topic, payload)
}

// DeviceState returns a copy of the merged state for a device, or nil
// when no frame has ever arrived for it.
func (s *Session) DeviceState(deviceID string) DeviceState {
	id, err := NormalizeDeviceID(deviceID)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.cache[id]
	if !ok {
		return nil
	}
	return state.clone()
}

// DeviceStates returns a copy of the full state cache keyed by
// canonical device id.
func (s *Session) DeviceStates() map[string]DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]DeviceState, len(s.cache))
	for id, state := range s.cache {
		out[id] = state.clone()
	}
	return out
}
