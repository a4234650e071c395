// Package store provides SQLite-backed durable storage for change history.
//
// The store is an append-only log of audit.Change rows with:
//   - Identity scoping: every query filters on (item_type, item_id)
//   - Total order: ORDER BY created_at ASC, id ASC on every read
//   - Retention: pruning deletes the oldest rows of one identity only
//
// # Critical Patterns
//
// Deterministic ordering
//   - created_at is stored as Unix nanoseconds and never decreases in
//     insertion order (the store clamps to its high-water mark)
//   - id (AUTOINCREMENT) breaks ties between equal timestamps
//
// Transaction propagation
//   - A *sql.Tx carried on the context (WithTx, RunInTx) is used by every
//     statement, so change writes commit or roll back with the record
//     mutation that caused them
//   - RunInTx is re-entrant: an inner call joins the outer transaction
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
