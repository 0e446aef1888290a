// Package store persists analysis sessions, queue entries, metric rows, and
// subject aggregates in a single SQLite database.
//
// Open applies the WAL and foreign-key pragmas, creates the schema on first
// use, and refuses to run against a database recorded with a different schema
// version. Three views share the connection: SessionStore for the session
// lifecycle, QueueStore for the priority-ordered work items the dispatcher
// claims, and MetricStore for the append-only measurements written when a
// session completes. Every state change is a conditional UPDATE so concurrent
// workers sharing the database cannot double-claim or regress a session, and
// all writes retry on SQLITE_BUSY with a short exponential delay.
package store
