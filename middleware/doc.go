// Package middleware provides composable middleware around handler
// dispatch of incoming envelopes.
//
// A [Middleware] wraps the call into the handler registry. Middleware are
// composed with [Chain]; the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → deadline → handler
//	chain := middleware.Chain(
//	    middleware.Logging(logger),
//	    middleware.Recover(logger),
//	    middleware.Deadline(),
//	)
//
// # Built-in Middleware
//
//   - [Logging]: logs message type, attempt, duration and outcome
//   - [Recover]: converts handler panics into errors
//   - [Deadline]: bounds the handler context by the envelope's DeliverBy
//   - [Timeout]: bounds every execution by a fixed duration
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-message-type duration and outcome counters
package middleware
