package session

// OnConnect registers a callback fired when the session becomes
// established. Recoveries within the disconnect grace window do not
// fire it.
func (s *Session) OnConnect(fn func()) Handle {
	return s.events.on(EventConnect, fn)
}

// OnDisconnect registers a callback fired when an unplanned
// disconnection outlives the grace window. Intentional disconnects do
// not fire it.
func (s *Session) OnDisconnect(fn func()) Handle {
	return s.events.on(EventDisconnect, fn)
}

// OnMessage registers a callback receiving every inbound device frame
// as raw topic and payload, after the state cache has been updated.
func (s *Session) OnMessage(fn func(topic string, payload []byte)) Handle {
	return s.events.on(EventMessage, fn)
}

// OnError registers a callback receiving session-level failures:
// exhausted reconnect runs, failed connects, failed publishes.
func (s *Session) OnError(fn func(err error)) Handle {
	return s.events.on(EventError, fn)
}

// OnStateUpdate registers a callback receiving the merged state of a
// device each time an inbound frame changes it. The state is a copy.
func (s *Session) OnStateUpdate(fn func(deviceID string, state DeviceState)) Handle {
	return s.events.on(EventStateUpdate, fn)
}

// RemoveCallback deregisters one callback by event and handle.
func (s *Session) RemoveCallback(ev Event, h Handle) {
	s.events.off(ev, h)
}

// ClearCallbacks removes every registered callback. Call before
// re-registering a full observer set to avoid duplicates.
func (s *Session) ClearCallbacks() {
	s.events.clear()
}
