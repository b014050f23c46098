package session

import (
	"sync"

	"github.com/google/uuid"
)

// Event names the observable session events.
type Event string

// Fixed event names.
const (
	EventConnect     Event = "connect"
	EventDisconnect  Event = "disconnect"
	EventMessage     Event = "message"
	EventError       Event = "error"
	EventStateUpdate Event = "state_update"
)

// Handle identifies one registered callback so it can be removed later.
type Handle string

// emitter is the session's event bus: callback registration by append,
// removal by handle, invocation in registration order, and per-callback
// error isolation (a panicking callback never prevents the others from
// running).
type emitter struct {
	mu       sync.Mutex
	handlers map[Event][]handlerEntry
	logger   Logger
}

type handlerEntry struct {
	handle Handle
	fn     any
}

func newEmitter(logger Logger) *emitter {
	return &emitter{
		handlers: make(map[Event][]handlerEntry),
		logger:   logger,
	}
}

// on registers a callback and returns its removal handle.
func (e *emitter) on(ev Event, fn any) Handle {
	h := Handle(uuid.NewString())
	e.mu.Lock()
	e.handlers[ev] = append(e.handlers[ev], handlerEntry{handle: h, fn: fn})
	e.mu.Unlock()
	return h
}

// off removes the callback registered under the given handle.
// Unknown handles are a no-op.
func (e *emitter) off(ev Event, h Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.handlers[ev]
	for i, entry := range entries {
		if entry.handle == h {
			e.handlers[ev] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

// clear empties every callback list. Used before reinitialisation to
// prevent duplicate handlers.
func (e *emitter) clear() {
	e.mu.Lock()
	e.handlers = make(map[Event][]handlerEntry)
	e.mu.Unlock()
}

// snapshot returns the registered callbacks for an event in
// registration order. The slice is a copy; invocation happens outside
// the emitter lock so callbacks may re-register freely.
func (e *emitter) snapshot(ev Event) []any {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.handlers[ev]
	fns := make([]any, len(entries))
	for i, entry := range entries {
		fns[i] = entry.fn
	}
	return fns
}

// invoke runs fn inside a panic-isolating envelope.
func (e *emitter) invoke(ev Event, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event callback panic recovered",
				"event", string(ev),
				"panic", r,
			)
		}
	}()
	fn()
}

// emitConnect fires every EventConnect callback.
func (e *emitter) emitConnect() {
	for _, fn := range e.snapshot(EventConnect) {
		if cb, ok := fn.(func()); ok {
			e.invoke(EventConnect, cb)
		}
	}
}

// emitDisconnect fires every EventDisconnect callback.
func (e *emitter) emitDisconnect() {
	for _, fn := range e.snapshot(EventDisconnect) {
		if cb, ok := fn.(func()); ok {
			e.invoke(EventDisconnect, cb)
		}
	}
}

// emitMessage fires every EventMessage callback with the raw frame.
func (e *emitter) emitMessage(topic string, payload []byte) {
	for _, fn := range e.snapshot(EventMessage) {
		if cb, ok := fn.(func(string, []byte)); ok {
			e.invoke(EventMessage, func() { cb(topic, payload) })
		}
	}
}

// emitError fires every EventError callback.
func (e *emitter) emitError(err error) {
	for _, fn := range e.snapshot(EventError) {
		if cb, ok := fn.(func(error)); ok {
			e.invoke(EventError, func() { cb(err) })
		}
	}
}

// emitStateUpdate fires every EventStateUpdate callback. Each callback
// receives its own copy of the state so one observer cannot corrupt
// what the next one sees.
func (e *emitter) emitStateUpdate(deviceID string, state DeviceState) {
	for _, fn := range e.snapshot(EventStateUpdate) {
		if cb, ok := fn.(func(string, DeviceState)); ok {
			cpy := state.clone()
			e.invoke(EventStateUpdate, func() { cb(deviceID, cpy) })
		}
	}
}
