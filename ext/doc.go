// Package ext defines the extension system for courier.
//
// Extensions are notified of envelope lifecycle events and can react to
// them, for example by recording metrics or writing audit logs. Each
// lifecycle hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnEnvelopeSucceeded(ctx context.Context, env *envelope.Envelope, elapsed time.Duration) error {
//	    log.Printf("envelope %s handled in %s", env.ID, elapsed)
//	    return nil
//	}
//
// # Incoming Hooks
//
//   - [EnvelopeReceived]: envelope persisted and accepted
//   - [EnvelopeSucceeded]: handler completed
//   - [EnvelopeRetrying]: failed, requeued immediately
//   - [EnvelopeScheduled]: failed, retried later
//   - [EnvelopeDeadLettered]: moved to dead letter storage
//
// # Outgoing Hooks
//
//   - [EnvelopeSent], [SendFailed]
//   - [CircuitBroken], [CircuitResumed]
//
// # Durability Hooks
//
//   - [NodeReassigned], [EnvelopesRecovered], [ScheduledReleased]
//   - [Shutdown]
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never interrupt delivery.
package ext
