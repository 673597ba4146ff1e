// Package postgres implements the envelope store using pgx/v5 with raw SQL.
//
// Every envelope table lives in a configurable schema. Node coordination
// uses native advisory locks: a Session pins one pooled connection so
// session-scoped locks (pg_try_advisory_lock) survive between calls and
// vanish with the connection if the process dies. Schema changes ship as
// embedded SQL migrations.
package postgres
