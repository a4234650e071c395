// Package audit records every create, update and destroy applied to tracked
// records as an ordered, append-only history and can revert a record to any
// prior state.
//
// The package is organised around five collaborators:
//
//   - Actor: who is performing the current operation, carried on the context
//   - Diff/Snapshot: field resolution, field-level change sets, snapshots
//   - ChangeStore: ordered persistence of Change values (see internal/store)
//   - Tracker: reacts to lifecycle events, applies each type's Policy,
//     persists changes and enforces retention
//   - Reverter: reconstructs a prior state and writes it back through a
//     RecordStore inside one transaction, logging the revert as a new change
//
// # Ordering
//
// For one identity (item type + item id) changes form a strict total order on
// (CreatedAt ASC, ID ASC). ID breaks ties when timestamps collide. Every query
// in every ChangeStore implementation MUST honour that order.
//
// # Scoped state
//
// There is no process-wide "current actor". Actor and the tracking-disabled
// flag travel on context.Context, so concurrent operations never observe each
// other's state. Tracker.Suspend is the single global switch and is counted,
// so nested suspensions restore correctly.
//
// # Revert recursion
//
// A revert ends in exactly one Tracker.CreateChangeEntry call. The new change
// can itself be reverted later, but a revert never re-enters its own frame.
package audit
