// Package transport routes destination URIs to the sender factories of
// the wire transports.
//
// A destination's scheme selects its transport:
//
//	mux := transport.NewMux()
//	mux.Register("local", local.New())
//	mux.Register("amqp", rabbitmq.New())
//	mux.Register("redis", redisstream.New(client))
//	mux.Register("nats", nats.New())
package transport

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/xraph/courier"
	"github.com/xraph/courier/sending"
)

var _ sending.SenderFactory = (*Mux)(nil)

// FactoryFunc adapts a function to sending.SenderFactory.
type FactoryFunc func(destination string) (sending.Sender, error)

// NewSender calls f.
func (f FactoryFunc) NewSender(destination string) (sending.Sender, error) { return f(destination) }

// Mux is a sending.SenderFactory that dispatches on URI scheme.
type Mux struct {
	mu        sync.RWMutex
	factories map[string]sending.SenderFactory
}

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{factories: make(map[string]sending.SenderFactory)}
}

// Register binds scheme to factory, replacing any earlier binding.
func (m *Mux) Register(scheme string, factory sending.SenderFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[strings.ToLower(scheme)] = factory
}

// Schemes returns the registered schemes, sorted.
func (m *Mux) Schemes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.factories))
	for s := range m.factories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// NewSender builds the sender for destination through the factory of its
// scheme.
func (m *Mux) NewSender(destination string) (sending.Sender, error) {
	if destination == "" {
		return nil, courier.ErrMissingDestination
	}
	u, err := url.Parse(destination)
	if err != nil {
		return nil, fmt.Errorf("transport: parse destination %q: %w", destination, err)
	}

	m.mu.RLock()
	factory, ok := m.factories[strings.ToLower(u.Scheme)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", courier.ErrNoSender, destination)
	}
	return factory.NewSender(destination)
}
