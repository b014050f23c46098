package session

import (
	"time"
)

// QoS levels per topic class. State frames are high-volume and
// tolerate loss; availability transitions must not be missed.
const (
	qosState        byte = 0
	qosAvailability byte = 1
)

// replaySpacing staggers per-device subscribe bursts after a connect so
// the broker is not hit with the whole registry at once.
const replaySpacing = 500 * time.Millisecond

// SubscribeDevice registers deviceID in the subscription registry and,
// when connected, subscribes to its state and availability topics. The
// registry entry persists across disconnections; it is replayed on
// every successful connect.
//
// Registration is idempotent: a device already in the registry is not
// added twice, and topics already active in this session are not
// re-subscribed.
func (s *Session) SubscribeDevice(deviceID string) error {
	id, err := NormalizeDeviceID(deviceID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.subTuples[id]; !ok {
		s.subTuples[id] = TopicsFor(id)
		s.subOrder = append(s.subOrder, id)
		s.log.Debug("device registered for subscription", "device_id", id)
	}
	if !s.connectedLocked() {
		s.mu.Unlock()
		return nil
	}
	tuple := s.subTuples[id]
	s.mu.Unlock()

	s.issueSubscribe(tuple.State, qosState)
	s.issueSubscribe(tuple.Availability, qosAvailability)
	return nil
}

// UnsubscribeDevice removes deviceID from the registry, destroys its
// cached state, and, when connected, unsubscribes its topics. Unknown
// devices are a no-op.
func (s *Session) UnsubscribeDevice(deviceID string) error {
	id, err := NormalizeDeviceID(deviceID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	tuple, ok := s.subTuples[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.subTuples, id)
	for i, existing := range s.subOrder {
		if existing == id {
			s.subOrder = append(s.subOrder[:i:i], s.subOrder[i+1:]...)
			break
		}
	}
	delete(s.active, tuple.State)
	delete(s.active, tuple.Availability)
	delete(s.cache, id)
	connected := s.connectedLocked()
	transport := s.transport
	s.mu.Unlock()

	s.log.Debug("device unregistered", "device_id", id)
	if connected && transport != nil {
		if err := transport.Unsubscribe(tuple.State, tuple.Availability); err != nil {
			s.log.Warn("unsubscribe failed", "device_id", id, "error", err)
		}
	}
	return nil
}

// SubscribedDevices returns the registered device ids in registration
// order.
func (s *Session) SubscribedDevices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.subOrder))
	copy(out, s.subOrder)
	return out
}

// replaySubscriptionsLocked schedules the post-connect subscription
// replay: the discovery wildcard immediately, then each registered
// device's topic pair at staggered intervals. Every emission is an
// epoch-bound task so a disconnect mid-replay cancels the remainder.
//
// Caller must hold s.mu.
func (s *Session) replaySubscriptionsLocked() {
	s.scheduleTaskLocked(0, func() {
		s.issueSubscribe(DiscoveryWildcard(), qosState)
	})

	for i, id := range s.subOrder {
		tuple := s.subTuples[id]
		s.scheduleTaskLocked(time.Duration(i)*replaySpacing, func() {
			s.issueSubscribe(tuple.State, qosState)
			s.issueSubscribe(tuple.Availability, qosAvailability)
		})
	}
}

// issueSubscribe subscribes to a single topic exactly once per session.
// The topic is marked active before the broker round-trip and unmarked
// on failure, so concurrent callers cannot double-subscribe.
func (s *Session) issueSubscribe(topic string, qos byte) {
	s.mu.Lock()
	if _, ok := s.active[topic]; ok {
		s.mu.Unlock()
		return
	}
	if !s.connectedLocked() {
		s.mu.Unlock()
		return
	}
	s.active[topic] = struct{}{}
	epoch := s.epoch
	transport := s.transport
	s.mu.Unlock()

	err := transport.Subscribe(topic, qos)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return
	}
	if err != nil {
		delete(s.active, topic)
		s.log.Warn("subscribe failed", "topic", topic, "error", err)
		return
	}
	s.log.Debug("subscribed", "topic", topic, "qos", qos)
}
