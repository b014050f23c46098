// Package settings provides the persistent key-value store for LumiBot Core.
//
// This package manages:
//   - Live broker parameters (host, port, WebSocket path, TLS flag)
//   - The device-list mirror (key -> JSON blob)
//
// The broker keys are read lazily on every connect attempt, so a value
// written at runtime (by an operator, or by the session's own
// WebSocket-path cycling) takes effect on the next connection without a
// restart.
//
// Persisted keys:
//
//	LumiBot-BrokerIP    broker hostname
//	LumiBot-BrokerPort  broker port (string-encoded integer)
//	LumiBot-BrokerPath  WebSocket path ("/mqtt", "/", or "")
//	LumiBot-BrokerTLS   "true" / "false"
//	LumiBot-Devices     JSON array of device ids
//
// Usage:
//
//	store := settings.NewStore(db.DB, cfg.Broker)
//	broker, err := store.Resolve(ctx) // falls back to config defaults
package settings
