// Package harness runs history scenarios: scripted record mutations and
// reverts against CUE-declared types, checked by assertions and by golden
// history transcripts.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: revert_update
//	description: "Reverting an update restores the prior value"
//	declarations:
//	  - ../types
//	max_records: 0
//	steps:
//	  - op: create
//	    ref: n
//	    type: Note
//	    values: { title: "A" }
//	    actor: alice
//	  - op: update
//	    ref: n
//	    values: { title: "B" }
//	  - op: revert
//	    ref: n
//	    version: -1
//	assertions:
//	  - type: history_actions
//	    ref: n
//	    actions: [create, update, update]
//	  - type: live_values
//	    ref: n
//	    expect: { title: "A" }
//
// Steps may set untracked: true to run with tracking disabled, and
// expect_error: <code> when the step must fail with an audit error code.
//
// # Assertion Types
//
//   - history_count: the record has exactly count changes
//   - history_actions: change actions, oldest first
//   - history_actors: change actor ids, oldest first ("" for none)
//   - live_values: the live record matches expect (subset, loose equality)
//   - absent: the live record does not exist
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite database, a
// testutil.DeterministicClock for change timestamps and
// testutil.SequentialKeys for generated uuid keys, so transcripts are
// byte-identical across runs. Transcripts omit timestamps.
package harness
