package session

import (
	"errors"
	"testing"
)

// =============================================================================
// Event Bus Tests
// =============================================================================

func TestEmitterInvocationOrder(t *testing.T) {
	e := newEmitter(noopLogger{})

	var order []int
	e.on(EventConnect, func() { order = append(order, 1) })
	e.on(EventConnect, func() { order = append(order, 2) })
	e.on(EventConnect, func() { order = append(order, 3) })

	e.emitConnect()

	if len(order) != 3 {
		t.Fatalf("callbacks fired = %d, want 3", len(order))
	}
	for i, got := range order {
		if got != i+1 {
			t.Errorf("callback %d fired as %d, want %d", i, got, i+1)
		}
	}
}

func TestEmitterRemoveByHandle(t *testing.T) {
	e := newEmitter(noopLogger{})

	var fired []string
	e.on(EventDisconnect, func() { fired = append(fired, "first") })
	h := e.on(EventDisconnect, func() { fired = append(fired, "second") })
	e.on(EventDisconnect, func() { fired = append(fired, "third") })

	e.off(EventDisconnect, h)
	e.emitDisconnect()

	if len(fired) != 2 {
		t.Fatalf("callbacks fired = %d, want 2", len(fired))
	}
	if fired[0] != "first" || fired[1] != "third" {
		t.Errorf("fired = %v, want [first third]", fired)
	}
}

func TestEmitterRemoveUnknownHandle(t *testing.T) {
	e := newEmitter(noopLogger{})

	called := false
	e.on(EventConnect, func() { called = true })

	e.off(EventConnect, Handle("no-such-handle"))
	e.emitConnect()

	if !called {
		t.Error("surviving callback did not fire after removing unknown handle")
	}
}

func TestEmitterClear(t *testing.T) {
	e := newEmitter(noopLogger{})

	called := false
	e.on(EventConnect, func() { called = true })
	e.on(EventError, func(error) { called = true })

	e.clear()
	e.emitConnect()
	e.emitError(errors.New("boom"))

	if called {
		t.Error("callback fired after clear()")
	}
}

func TestEmitterPanicIsolation(t *testing.T) {
	e := newEmitter(noopLogger{})

	var survived bool
	e.on(EventConnect, func() { panic("observer bug") })
	e.on(EventConnect, func() { survived = true })

	e.emitConnect()

	if !survived {
		t.Error("callback after a panicking one did not fire")
	}
}

func TestEmitterStateUpdateCopies(t *testing.T) {
	e := newEmitter(noopLogger{})

	var first, second DeviceState
	e.on(EventStateUpdate, func(_ string, s DeviceState) {
		s["mutated"] = true
		first = s
	})
	e.on(EventStateUpdate, func(_ string, s DeviceState) {
		second = s
	})

	original := DeviceState{OnlineKey: true, "brightness": 80}
	e.emitStateUpdate("A1B2", original)

	if _, ok := second["mutated"]; ok {
		t.Error("mutation by one callback leaked into the next")
	}
	if _, ok := original["mutated"]; ok {
		t.Error("mutation by a callback leaked into the source state")
	}
	if first == nil || second == nil {
		t.Fatal("state update callbacks did not fire")
	}
}
