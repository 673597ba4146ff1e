package sending

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/xraph/courier"
)

// CallbackFunc builds the callback for a new agent.
type CallbackFunc func(agent *Agent) Callback

// Pinger is implemented by callbacks that can bring a latched agent back
// on their own.
type Pinger interface {
	StartPinging()
}

// Registry holds one agent per destination and creates them on first use.
// Connecting happens outside the registry lock, so a slow destination only
// delays callers asking for that destination.
type Registry struct {
	factory     SenderFactory
	newCallback CallbackFunc
	opts        []AgentOption
	logger      *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

type entry struct {
	agent *Agent
	cb    Callback

	once sync.Once
	err  error
}

// NewRegistry creates a registry that builds senders with factory.
func NewRegistry(factory SenderFactory, newCallback CallbackFunc, logger *slog.Logger, opts ...AgentOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		factory:     factory,
		newCallback: newCallback,
		opts:        append([]AgentOption{WithLogger(logger)}, opts...),
		logger:      logger,
		entries:     make(map[string]*entry),
	}
}

// AgentFor returns the started agent for destination, creating it if
// needed. A destination that cannot be reached yet still gets an agent; it
// starts latched and probes until the destination is up.
func (r *Registry) AgentFor(ctx context.Context, destination string) (*Agent, error) {
	if destination == "" {
		return nil, courier.ErrMissingDestination
	}

	e, err := r.lookup(destination)
	if err != nil {
		return nil, err
	}

	e.once.Do(func() { e.err = r.start(ctx, destination, e) })
	if e.err != nil {
		return nil, e.err
	}
	return e.agent, nil
}

// lookup returns the entry for destination, inserting an unstarted one.
func (r *Registry) lookup(destination string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, courier.ErrAgentClosed
	}
	if e, ok := r.entries[destination]; ok {
		return e, nil
	}

	sender, err := r.factory.NewSender(destination)
	if err != nil {
		return nil, err
	}
	agent := NewAgent(sender, r.opts...)
	e := &entry{agent: agent, cb: r.newCallback(agent)}
	r.entries[destination] = e
	return e, nil
}

func (r *Registry) start(ctx context.Context, destination string, e *entry) error {
	err := e.agent.Start(ctx, e.cb)
	if err == nil {
		return nil
	}
	if errors.Is(err, courier.ErrAlreadyStarted) || errors.Is(err, courier.ErrAgentClosed) {
		r.forget(destination, e)
		return err
	}
	r.logger.Warn("destination unreachable, agent starts latched",
		slog.String("destination", destination),
		slog.String("error", err.Error()),
	)
	if p, ok := e.cb.(Pinger); ok {
		p.StartPinging()
	}
	return nil
}

func (r *Registry) forget(destination string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[destination] == e {
		delete(r.entries, destination)
	}
}

// Agents returns the current agents keyed by destination.
func (r *Registry) Agents() map[string]*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Agent, len(r.entries))
	for k, e := range r.entries {
		out[k] = e.agent
	}
	return out
}

// Destinations returns the known destinations, sorted.
func (r *Registry) Destinations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for d := range r.entries {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Remove closes and forgets the agent for destination. Envelopes still
// queued on it stay in the outbox. Removing an unknown destination is a
// no-op.
func (r *Registry) Remove(ctx context.Context, destination string) error {
	r.mu.Lock()
	e, ok := r.entries[destination]
	delete(r.entries, destination)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	var errs []error
	if c, ok := e.cb.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	errs = append(errs, e.agent.Close(ctx))
	return errors.Join(errs...)
}

// Close closes every callback and agent.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if c, ok := e.cb.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	for _, e := range entries {
		errs = append(errs, e.agent.Close(ctx))
	}
	return errors.Join(errs...)
}
