// Package durability keeps a node's work recoverable across crashes.
//
// Every node holds a session advisory lock on its own id for as long as it
// runs. [NodeReassignment] uses that to decide liveness without heartbeats:
// if a transaction lock on another owner's id can be taken, that owner's
// session is gone and its rows are handed to AnyNode. [IncomingRecovery]
// and [OutgoingRecovery] then claim unowned rows and feed them back into
// the local pipelines.
//
// [Agent] runs these actions on fixed schedules with at most one execution
// of each action in flight.
package durability
