// Package database opens the SQLite store and runs its embedded schema
// migrations.
//
// The connection uses WAL mode with a single pooled connection, since
// SQLite allows one writer. The database file is restricted to 0600.
// Migrations are additive-only and ship as .up.sql/.down.sql pairs so
// the latest one can be rolled back during development.
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
