// Package database opens the SQLite file behind the diagnostics result
// journal and keeps its schema current.
//
// The journal is optional: when database.enabled is false the bridge never
// calls Open. When it is enabled the file is opened through mattn/go-sqlite3
// with WAL mode, a busy timeout and a single connection.
//
// Migrations are plain SQL files embedded by the migrations package and
// passed to Migrate as an fs.FS, which keeps this package free of globals
// and lets tests feed an fstest.MapFS.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
