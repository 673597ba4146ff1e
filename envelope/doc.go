// Package envelope defines the message-in-flight record and the persistence
// contracts for the incoming and outgoing tables.
//
// An envelope lives in exactly one of the incoming table, the outgoing
// table, or dead-letter storage. Moving between them is always a single
// transaction in the backing store.
package envelope
