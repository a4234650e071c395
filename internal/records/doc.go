// Package records is a SQLite-backed live record store for tracked types.
//
// Store implements audit.RecordStore with plain keyed SQL over one table per
// registered type, so the revert path works for struct types and for rows
// declared at runtime alike. Session layers host-style Create, Save and
// Destroy on top of it and reports each mutation to an audit.Listener inside
// the mutation's transaction.
//
// Records and change history usually share one *sql.DB; a transaction
// carried on the context (see store.WithTx) is joined by both.
package records
