// Package database opens GORM connections for the SQL run store.
//
// Two drivers are supported: "sqlite" (mattn/go-sqlite3 through
// gorm.io/driver/sqlite) and "postgres" (pgx through gorm.io/driver/postgres).
// Connections are retried with backoff on startup, pooled according to
// Config, and logged through the runflow logger. Schema changes are applied
// by the migration subpackage with golang-migrate.
package database
