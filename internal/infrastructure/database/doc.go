// Package database provides the SQLite store used by the latency bench.
//
// It manages the connection (WAL mode, busy timeout, single writer) and
// applies the embedded schema migrations from the top-level migrations
// package.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql. Migrations
// only move forward; each runs in its own transaction.
package database
