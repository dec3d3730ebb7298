// Package storage is the authoritative slot store over SQLite.
//
// The (title, start_utc) uniqueness invariant lives in the schema as a
// unique index, so concurrent create attempts for the same slot are
// resolved by the engine rather than by application-level locking.
package storage
