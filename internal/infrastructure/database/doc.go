// Package database manages the on-device SQLite store that backs the
// publish journal.
//
// It provides:
//   - A verified connection with WAL mode and busy-timeout pragmas
//   - Embedded schema migrations, applied at daemon startup
//   - A health probe for supervision
//
// The file is created with 0600 permissions; it records every request
// the device has sent to the platform. WAL mode lets journal queries run
// while a report cycle is writing.
//
// # Usage
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Migrations
//
// Migration files live in migrations/ and are embedded into the binary.
// They are additive: new columns are nullable or carry defaults, and
// every up file has a matching down file for development rollbacks.
package database
