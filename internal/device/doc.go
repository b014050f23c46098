// Package device manages the per-user device registry for LumiBot Core.
//
// A registry entry is a canonical 4-character hexadecimal device id
// plus a display name. The Registry service wraps the persistence layer
// and keeps two collaborators in step with every mutation: the
// device-list mirror in the settings store, and the live MQTT session's
// subscription set.
//
// Usage:
//
//	repo := device.NewSQLiteRepository(db.DB)
//	reg := device.NewRegistry(repo, store, sess, cfg.Registry.UserID)
//	reg.Restore(ctx) // re-register stored devices with the session
package device
