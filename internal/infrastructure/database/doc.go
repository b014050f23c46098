// Package database provides SQLite database connectivity for LumiBot Core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Schema migrations (embedded, forward-only)
//   - Connection lifecycle management
//
// The database backs two things: the persistent settings store
// (internal/settings), which holds the live broker parameters and the
// device-list mirror, and the per-user device registry (internal/device).
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
