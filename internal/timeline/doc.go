// Package timeline implements the roomline reconciliation engine.
//
// A Timeline turns an unordered stream of protocol events (live sync
// events, local echoes, redactions, reactions, edits and late decryption
// results) into an ordered list of renderable items, and publishes every
// change to that list as a minimal sequence of positional diff operations.
//
// ARCHITECTURE:
//
// Single Writer:
// Every ingestion call takes the timeline's write lock for its whole
// mutate-then-publish step. This ensures:
//   - Each subscriber observes batches in commit order
//   - A subscriber attaching mid-stream sees a snapshot consistent with
//     the first batch it receives
//   - Replaying the same commands reproduces the same items and ops
//
// Callers that prefer a queue use Enqueue and drive Run from exactly one
// goroutine; the direct Push* methods and Run may be mixed.
//
// Command Processing Flow:
// 1. normalize: RawEvent becomes an immutable record, or is discarded
// 2. aggregator: relations are attached to their target, pending or not
// 3. build: an item is rendered from a record and its aggregation
// 4. projection: the item is inserted or replaced; ops are recorded
// 5. virtual pass: read marker then day dividers are reconciled
// 6. publish: the recorded batch goes to every subscriber
//
// Decryption is the only step that may block on a collaborator. It runs
// outside the lock and feeds its result back through PushDecryptionResult.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Every normalized record is stamped with the next arrival seq. Seq
// breaks timestamp ties and orders local echoes. NEVER use the wall clock
// for ordering.
//
// Stable Identity:
// An item keeps its UniqueID for its whole life, including the moment a
// local echo is confirmed by the server and re-keyed by event id.
package timeline
