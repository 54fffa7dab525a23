// Package store provides SQLite-backed durable storage for timeline journals.
//
// The store is an append-only log of ingestion commands, one sequence per
// room:
//   - Journal: every command a timeline applied, in apply order
//   - Snapshots: content hashes of a room's items at a journal seq
//
// # Critical Patterns
//
// Idempotent appends
//   - id is the content-addressed hash of (room, seq, command)
//   - Re-appending the same entry is a no-op
//   - A different command at an already used (room, seq) is ErrSeqConflict
//
// Logical time
//   - All ordering uses seq, NEVER timestamps
//   - Queries order by seq ASC, id ASC COLLATE BINARY
//
// Integrity
//   - Commands are stored as canonical JSON
//   - Reads recompute the id and reject entries that do not match
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
