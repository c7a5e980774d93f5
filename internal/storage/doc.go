// Package storage keeps the attempt history: one record per publish attempt
// with its outcome and the artifact's terminal location.
//
// Drivers:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "postgres": PostgreSQL via lib/pq
package storage
