package sending

import (
	"context"

	"github.com/xraph/courier/envelope"
)

// Sender is the wire primitive a transport supplies for one destination.
// The Agent never overlaps Connect and Close. Send must be safe for
// concurrent use because Ping bypasses the queue.
type Sender interface {
	// Destination is the URI this sender transmits to.
	Destination() string

	// Connect opens (or reopens) the underlying connection.
	Connect(ctx context.Context) error

	// Send transmits one serialized envelope.
	Send(ctx context.Context, env *envelope.Envelope, payload []byte) error

	// Close releases the connection. Connect may be called again later.
	Close() error
}

// SenderFactory builds the sender for a destination URI.
type SenderFactory interface {
	NewSender(destination string) (Sender, error)
}

// Callback receives the outcome of every transmission. Errors returned by a
// callback are logged and never stop the agent.
type Callback interface {
	Successful(ctx context.Context, env *envelope.Envelope) error
	ProcessingFailure(ctx context.Context, env *envelope.Envelope, err error) error
}

// Observer is notified when an agent latches or resumes. ext.Registry
// satisfies it.
type Observer interface {
	EmitCircuitBroken(ctx context.Context, destination string)
	EmitCircuitResumed(ctx context.Context, destination string)
}
