package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Pending publish queue limits. The queue absorbs publishes issued
// while disconnected; it is bounded (oldest dropped first) and stale
// entries are discarded at flush time rather than sent late.
const (
	queueCap     = 100
	queueMaxAge  = 60 * time.Second
	flushSpacing = 100 * time.Millisecond
	publishQoS   = byte(0)
)

// pendingMessage is one queued publish awaiting the next connection.
type pendingMessage struct {
	topic    string
	payload  []byte
	queuedAt time.Time
}

// PublishControl sends a control command (for example a light set) to
// the device's command topic. When disconnected the message is queued
// for the next connection.
func (s *Session) PublishControl(deviceID string, payload any) error {
	id, err := NormalizeDeviceID(deviceID)
	if err != nil {
		return err
	}
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	return s.publishOrQueue(SetTopic(id), data)
}

// PublishConfig sends a configuration change to the device's config
// topic. When disconnected the message is queued.
func (s *Session) PublishConfig(deviceID string, payload any) error {
	id, err := NormalizeDeviceID(deviceID)
	if err != nil {
		return err
	}
	data, err := encodePayload(payload)
	if err != nil {
		return err
	}
	return s.publishOrQueue(ConfigSetTopic(id), data)
}

// RequestState asks a device to republish its full state.
func (s *Session) RequestState(deviceID string) error {
	id, err := NormalizeDeviceID(deviceID)
	if err != nil {
		return err
	}
	return s.publishOrQueue(SetTopic(id), []byte(`{"command":"getState"}`))
}

// encodePayload renders a publish payload: raw bytes and strings pass
// through, everything else is JSON-encoded.
func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding publish payload: %w", err)
		}
		return data, nil
	}
}

// publishOrQueue delivers immediately when connected, otherwise queues.
// The queue holds at most queueCap entries; when full the oldest entry
// is dropped to make room.
func (s *Session) publishOrQueue(topic string, payload []byte) error {
	s.mu.Lock()
	if !s.connectedLocked() {
		if len(s.queue) >= queueCap {
			dropped := s.queue[0]
			s.queue = s.queue[1:]
			s.log.Warn("publish queue full, dropping oldest", "topic", dropped.topic)
		}
		s.queue = append(s.queue, pendingMessage{
			topic:    topic,
			payload:  payload,
			queuedAt: time.Now(),
		})
		s.log.Debug("publish queued", "topic", topic, "queue_depth", len(s.queue))
		s.mu.Unlock()
		return nil
	}
	transport := s.transport
	s.mu.Unlock()

	if err := transport.Publish(topic, publishQoS, false, payload); err != nil {
		err = fmt.Errorf("publishing to %s: %w", topic, err)
		s.events.emitError(err)
		return err
	}
	return nil
}

// QueuedPublishes returns the current pending queue depth.
func (s *Session) QueuedPublishes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// flushQueueLocked drains the pending queue after a connect: entries
// older than queueMaxAge are discarded, the rest are emitted in FIFO
// order with flushSpacing between them. An entry leaves the queue only
// when it is actually handed to the transport, so a disconnect
// mid-flush cancels the remaining emission tasks and the unsent tail
// survives for the next session.
//
// Caller must hold s.mu.
func (s *Session) flushQueueLocked() {
	if len(s.queue) == 0 {
		return
	}

	now := time.Now()
	fresh := s.queue[:0]
	for _, msg := range s.queue {
		if now.Sub(msg.queuedAt) > queueMaxAge {
			s.log.Warn("discarding stale queued publish", "topic", msg.topic, "age", now.Sub(msg.queuedAt))
			continue
		}
		fresh = append(fresh, msg)
	}
	s.queue = fresh

	s.log.Info("flushing publish queue", "count", len(fresh))
	for i := range fresh {
		s.scheduleTaskLocked(time.Duration(i)*flushSpacing, s.publishNextQueued)
	}
}

// publishNextQueued pops and sends the head of the pending queue. A
// session that dropped between scheduling and firing leaves the queue
// untouched.
func (s *Session) publishNextQueued() {
	s.mu.Lock()
	if !s.connectedLocked() || len(s.queue) == 0 {
		s.mu.Unlock()
		return
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	transport := s.transport
	s.mu.Unlock()

	if err := transport.Publish(msg.topic, publishQoS, false, msg.payload); err != nil {
		s.log.Warn("queued publish failed", "topic", msg.topic, "error", err)
		s.events.emitError(fmt.Errorf("publishing to %s: %w", msg.topic, err))
	}
}
