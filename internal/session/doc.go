// Package session implements the LumiBot MQTT session and device-state
// core: a single managed connection to the broker over WebSockets, with
// everything required to keep it useful on an unreliable network.
//
// The Session owns one transport at a time and runs a five-state
// connection machine (disconnected, connecting, connected,
// reconnecting, failed). Connects are debounced and mutually exclusive;
// each logical connect tries MQTT 3.1.1 first and falls back once to
// 3.1. Unexpected drops trigger an exponential-backoff reconnect loop
// with a per-run attempt cap, and drops that look like a closed socket
// additionally rotate the persisted WebSocket path through a small
// candidate cycle, on the theory that the reverse proxy's route
// configuration changed.
//
// Observers register callbacks on the event bus (connect, disconnect,
// message, error, state update). Disconnect notifications are debounced
// by a grace window: a drop that recovers quickly produces no events at
// all, in either direction.
//
// Device subscriptions live in a registry that survives disconnections
// and is replayed on every successful connect, staggered to avoid a
// thundering herd. Publishes issued while disconnected are queued,
// bounded and age-gated, and drained in order after the next connect.
// Inbound frames merge into a per-device state cache; a device that
// transmits anything at all is considered reachable, and only an
// explicit "offline" availability payload marks it unreachable.
//
// The Supervisor watches for silent half-open connections using wake
// hints and a clock-jump detector, and repairs them with a forced
// reconnect.
package session
