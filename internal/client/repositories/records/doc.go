// Package records provides the client-side persistence layer for stamped
// business records.
//
// # Data Model
//
// Each row holds the full JSON of a record including its "_metadata" block.
// The version, sync status, update time and tombstone flag are mirrored into
// columns so that listings and statistics do not need to decode the JSON.
// Deletions performed by the sync engine are tombstones: the row stays, with
// deleted=1, until it is purged.
//
// Key Types
//
//   - type Repository      : interface used by the sync services
//   - type SQLiteRepository: SQLite implementation over dbx.DBTX
package records
