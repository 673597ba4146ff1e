// Package sending delivers outgoing envelopes, one Agent per destination.
//
// An Agent serializes and transmits envelopes in enqueue order. The
// DurableCallback ties an agent to the outbox: successful transmissions are
// deleted, failures are retried or dead-lettered per the retry policy, and
// consecutive failures open a circuit breaker that latches the agent. A
// latched agent keeps queueing but transmits nothing; it is probed with
// ping envelopes and unlatched once a probe gets through.
//
// Transports plug in by implementing [Sender] and a [SenderFactory].
package sending
