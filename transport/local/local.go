// Package local is the in-process loopback transport. Destinations look
// like "local://<queue>"; every envelope sent to one is handed to the
// bound receiver, normally the engine's Receive.
package local

import (
	"context"
	"errors"
	"sync"

	"github.com/xraph/courier/envelope"
	"github.com/xraph/courier/sending"
)

// ErrUnbound is returned by Send before a receiver is bound.
var ErrUnbound = errors.New("courier/local: no receiver bound")

// Receiver accepts envelopes arriving through the loopback.
type Receiver func(ctx context.Context, envs ...*envelope.Envelope) error

// Transport builds loopback senders that share one receiver.
type Transport struct {
	mu      sync.RWMutex
	receive Receiver
}

// New returns a Transport with no receiver bound.
func New() *Transport { return &Transport{} }

// Bind sets the receiver. Senders built earlier pick it up.
func (t *Transport) Bind(r Receiver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receive = r
}

func (t *Transport) receiver() Receiver {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.receive
}

// NewSender returns a sender for destination.
func (t *Transport) NewSender(destination string) (sending.Sender, error) {
	return &sender{transport: t, destination: destination}, nil
}

type sender struct {
	transport   *Transport
	destination string
}

func (s *sender) Destination() string { return s.destination }

func (s *sender) Connect(context.Context) error { return nil }

// Send decodes payload into a fresh envelope so the receiver never shares
// state with the outbox copy. Pings only prove the receiver is bound.
func (s *sender) Send(ctx context.Context, env *envelope.Envelope, payload []byte) error {
	recv := s.transport.receiver()
	if recv == nil {
		return ErrUnbound
	}
	if env.IsPing() {
		return nil
	}

	in, err := envelope.Deserialize(payload)
	if err != nil {
		return err
	}
	in.Destination = ""
	in.OwnerID = envelope.AnyNode
	in.Attempts = 0
	return recv(ctx, in)
}

func (s *sender) Close() error { return nil }
